// Package resend implements provider.Provider on top of the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/bulkmail/internal/email"
)

// EmailSender is the subset of the Resend emails service used here.
// resend.Client.Emails satisfies it.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Config holds the Resend credentials and the default sender.
type Config struct {
	APIKey string
	Sender string
}

// Provider sends email through Resend.
type Provider struct {
	emails EmailSender
	sender string
}

// New creates a Provider using a Resend client for cfg.APIKey.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend: API key is required")
	}
	return NewWithClient(resend.NewClient(cfg.APIKey).Emails, cfg.Sender), nil
}

// NewWithClient creates a Provider with a custom emails service, used for testing.
func NewWithClient(emails EmailSender, sender string) *Provider {
	return &Provider{emails: emails, sender: sender}
}

// Send delivers msg in a single API call.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	from := p.sender
	if from == "" {
		from = msg.From
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.TextBody,
		Html:    msg.HtmlBody,
	}
	if msg.MessageID != "" {
		req.Headers = map[string]string{"Message-ID": msg.MessageID}
	}

	resp, err := p.emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	if resp != nil {
		slog.Debug("email accepted by resend", "resend_id", resp.Id, "to", msg.To)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}
