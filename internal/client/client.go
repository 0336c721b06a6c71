// Package client posts composed messages to a mail-dispatch service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/bulkmail/internal/sendemail"
)

// maxReplySize caps how much of a reply body is read.
const maxReplySize = 1 << 20

// Config holds the configuration for creating a Client.
type Config struct {
	// Endpoint is the service base URL, e.g. "http://localhost:5000".
	Endpoint string

	// Timeout bounds a whole request. Zero means no timeout.
	Timeout time.Duration

	// HTTPClient overrides the default client, used for testing.
	HTTPClient *http.Client
}

// Client sends one request per call to the /sendemail endpoint. It never retries.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a Client for the given configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		url:        strings.TrimRight(cfg.Endpoint, "/") + sendemail.Path,
		httpClient: httpClient,
	}
}

// URL returns the full endpoint URL requests are posted to.
func (c *Client) URL() string {
	return c.url
}

// Error is a transport or protocol failure: no response, a non-2xx status
// or an unreadable reply. Status and Message hold whatever diagnostic
// fields the reply body carried.
type Error struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("sendemail request failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if d := e.Diagnostic(); d != "" {
		b.WriteString(": " + d)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Diagnostic returns the most useful human-readable field of the failure
// reply, or "" when the reply carried none.
func (e *Error) Diagnostic() string {
	if s := strings.TrimSpace(e.Status); s != "" {
		return s
	}
	return strings.TrimSpace(e.Message)
}

// Send posts req and returns the decoded reply. Any failure to obtain a 2xx
// reply with a JSON body is returned as *Error.
func (c *Client) Send(ctx context.Context, req sendemail.Request) (*sendemail.Reply, error) {
	if req.Emails == nil {
		req.Emails = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	slog.Debug("posting to dispatch service", "url", c.url, "recipients", len(req.Emails))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read reply: %w", err)}
	}

	var reply sendemail.Reply
	decodeErr := json.Unmarshal(data, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Diagnostic fields are best effort on error replies.
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Status:     reply.Status,
			Message:    reply.Message,
		}
	}

	if decodeErr != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode reply: %w", decodeErr)}
	}

	return &reply, nil
}
