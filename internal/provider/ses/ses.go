// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/bulkmail/internal/email"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// maxBulkEntries is the SendBulkEmail per-call destination limit.
const maxBulkEntries = 50

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender     string
	client     API
	retryDelay time.Duration
}

// API is the subset of the SES v2 client used by the provider.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	SendBulkEmail(ctx context.Context, params *sesv2.SendBulkEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendBulkEmailOutput, error)
}

// New creates a new SESProvider with the given configuration. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client API) *SESProvider {
	return &SESProvider{
		sender:     sender,
		client:     client,
		retryDelay: baseRetryDelay,
	}
}

// Send delivers one message with SendEmail.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	input := buildSimpleInput(s.from(msg.From), msg)

	return s.retry(ctx, "SendEmail", func() error {
		out, err := s.client.SendEmail(ctx, input)
		if err == nil && out != nil && out.MessageId != nil {
			slog.Debug("SES accepted message", "message_id", *out.MessageId, "to", msg.To)
		}
		return err
	})
}

// SendBulk delivers b with SendBulkEmail, one destination per address and
// at most maxBulkEntries per call. Bodies containing "{{" would be read as
// template variables, so they are sent one SendEmail per address instead.
func (s *SESProvider) SendBulk(ctx context.Context, b *email.Batch) []error {
	errs := make([]error, len(b.To))

	if strings.Contains(b.Subject+b.TextBody+b.HtmlBody, "{{") {
		for i, to := range b.To {
			errs[i] = s.Send(ctx, &email.Email{
				From:     b.From,
				To:       []string{to},
				Subject:  b.Subject,
				TextBody: b.TextBody,
				HtmlBody: b.HtmlBody,
			})
		}
		return errs
	}

	for off := 0; off < len(b.To); off += maxBulkEntries {
		end := min(off+maxBulkEntries, len(b.To))
		s.sendChunk(ctx, b, off, end, errs)
	}
	return errs
}

func (s *SESProvider) sendChunk(ctx context.Context, b *email.Batch, off, end int, errs []error) {
	input := buildBulkInput(s.from(b.From), b, b.To[off:end])

	var out *sesv2.SendBulkEmailOutput
	err := s.retry(ctx, "SendBulkEmail", func() error {
		var err error
		out, err = s.client.SendBulkEmail(ctx, input)
		return err
	})
	if err != nil {
		for i := off; i < end; i++ {
			errs[i] = err
		}
		return
	}

	results := out.BulkEmailEntryResults
	for i := off; i < end; i++ {
		if i-off >= len(results) {
			errs[i] = errors.New("SES returned no result for recipient")
			continue
		}
		r := results[i-off]
		if r.Status != types.BulkEmailStatusSuccess {
			errs[i] = fmt.Errorf("SES rejected recipient (%s): %s", r.Status, aws.ToString(r.Error))
			continue
		}
		slog.Debug("SES accepted message", "message_id", aws.ToString(r.MessageId), "to", b.To[i])
	}
}

// retry runs op until it succeeds, cancellation, or maxRetries retries with
// exponential backoff.
func (s *SESProvider) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, backoffDelay(s.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("SES API error", "operation", op, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("SES %s failed after %d retries: %w", op, maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func (s *SESProvider) from(fallback string) string {
	if s.sender != "" {
		return s.sender
	}
	return fallback
}

func utf8Content(v string) *types.Content {
	return &types.Content{Data: aws.String(v), Charset: aws.String("UTF-8")}
}

// buildSimpleInput creates a SES SendEmailInput using simple content.
func buildSimpleInput(from string, msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = utf8Content(msg.HtmlBody)
	}
	if msg.TextBody != "" {
		body.Text = utf8Content(msg.TextBody)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8Content(msg.Subject),
				Body:    body,
			},
		},
	}
}

// buildBulkInput creates a SendBulkEmailInput carrying the content inline as
// a template without variables.
func buildBulkInput(from string, b *email.Batch, to []string) *sesv2.SendBulkEmailInput {
	content := &types.EmailTemplateContent{Subject: aws.String(b.Subject)}
	if b.TextBody != "" {
		content.Text = aws.String(b.TextBody)
	}
	if b.HtmlBody != "" {
		content.Html = aws.String(b.HtmlBody)
	}

	entries := make([]types.BulkEmailEntry, len(to))
	for i, addr := range to {
		entries[i] = types.BulkEmailEntry{
			Destination: &types.Destination{ToAddresses: []string{addr}},
		}
	}

	return &sesv2.SendBulkEmailInput{
		FromEmailAddress: aws.String(from),
		DefaultContent: &types.BulkEmailContent{
			Template: &types.Template{
				TemplateContent: content,
				TemplateData:    aws.String("{}"),
			},
		},
		BulkEmailEntries: entries,
	}
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
