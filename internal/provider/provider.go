// Package provider defines the interface for email delivery backends used by
// the dispatch service.
package provider

import (
	"context"

	"github.com/shineum/bulkmail/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send delivers one message. It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// BulkSender is implemented by providers with a native batch API. SendBulk
// returns one entry per address in b.To, nil when that copy was accepted.
type BulkSender interface {
	SendBulk(ctx context.Context, b *email.Batch) []error
}
