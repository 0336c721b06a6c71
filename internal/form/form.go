// Package form holds the state of one bulk-mail composition: the message,
// the recipient list loaded from a spreadsheet and the progress of the
// submission to the dispatch service.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shineum/bulkmail/internal/client"
	"github.com/shineum/bulkmail/internal/recipients"
	"github.com/shineum/bulkmail/internal/sendemail"
)

// User-visible texts.
const (
	TextSending           = "Sending..."
	TextEmptyMessage      = "Please enter a message before sending."
	TextNoRecipients      = "Please upload a file with at least one email address."
	TextInFlight          = "A submission is already in progress."
	TextUnsupportedType   = "Please upload a valid Excel file (.xlsx or .xls)."
	TextDecodeFailed      = "Could not read the spreadsheet. Make sure it is a valid Excel or CSV file."
	TextNoValidAddresses  = "No valid email addresses found in the file."
	TextSentFallback      = "Emails sent successfully."
	TextFailedFallback    = "Email sending failed."
	TextConnectivityError = "Could not reach the mail server. Check your connection and try again."
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoRecipients = errors.New("recipient list is empty")
	ErrInFlight     = errors.New("submission already in flight")
	ErrNoDispatcher = errors.New("no dispatcher configured")
)

// Dispatcher performs the outbound request. *client.Client implements it.
type Dispatcher interface {
	Send(ctx context.Context, req sendemail.Request) (*sendemail.Reply, error)
}

// unconfigured fails every submission with ErrNoDispatcher.
type unconfigured struct{}

func (unconfigured) Send(context.Context, sendemail.Request) (*sendemail.Reply, error) {
	return nil, ErrNoDispatcher
}

// Config holds the collaborators of a Form.
type Config struct {
	// Dispatcher sends submissions. Nil makes every submission fail hard
	// with ErrNoDispatcher.
	Dispatcher Dispatcher

	// Notifier receives user-visible notices. Nil discards them.
	Notifier Notifier

	// GateDroppedFiles applies the file-type gate to dropped files too.
	GateDroppedFiles bool
}

// Upload is a file handed to the form.
type Upload struct {
	Name      string
	MediaType string
	Origin    recipients.Origin
	Body      io.Reader
}

// LoadResult is the outcome of reading one upload.
type LoadResult struct {
	Name       string
	Recipients []string
	Err        error
}

// Snapshot is a copy of the form state.
type Snapshot struct {
	Message    string
	Recipients []string
	UploadName string
	State      State
	Status     string
	InFlight   bool
}

// Form is the single owner of the composition state. All methods are safe
// for concurrent use.
type Form struct {
	dispatcher Dispatcher
	notifier   Notifier
	gateDrops  bool

	mu         sync.Mutex
	message    string
	recipients []string
	uploadName string
	state      State
	status     string
	inFlight   bool
}

// New creates an idle, empty Form.
func New(cfg Config) *Form {
	n := cfg.Notifier
	if n == nil {
		n = NopNotifier{}
	}
	d := cfg.Dispatcher
	if d == nil {
		d = unconfigured{}
	}
	return &Form{
		dispatcher: d,
		notifier:   n,
		gateDrops:  cfg.GateDroppedFiles,
	}
}

// SetMessage replaces the composed message.
func (f *Form) SetMessage(msg string) {
	f.mu.Lock()
	f.message = msg
	f.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (f *Form) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Snapshot{
		Message:    f.message,
		Recipients: slices.Clone(f.recipients),
		UploadName: f.uploadName,
		State:      f.state,
		Status:     f.status,
		InFlight:   f.inFlight,
	}
}

// Load gates and reads an upload, then replaces the recipient list and
// upload name with its result. The returned list is a copy. Rejected files
// leave the state untouched and are never read. A decode failure clears the
// list. Overlapping loads are not cancelled; whichever finishes last wins.
func (f *Form) Load(ctx context.Context, up Upload) (LoadResult, error) {
	res := LoadResult{Name: up.Name}

	if up.Origin == recipients.OriginChooser || f.gateDrops {
		if err := recipients.Accept(up.Name, up.MediaType); err != nil {
			slog.Warn("upload rejected", "file", up.Name, "media_type", up.MediaType, "origin", up.Origin.String())
			f.notify(ctx, LevelError, TextUnsupportedType)
			return res, err
		}
	}

	emails, err := recipients.Extract(ctx, up.Body)
	if err != nil && ctx.Err() != nil {
		// Abandoned by the caller; the read result is discarded.
		return res, err
	}

	f.mu.Lock()
	f.uploadName = up.Name
	f.recipients = emails
	f.mu.Unlock()

	if err != nil {
		slog.Error("failed to read upload", "file", up.Name, "error", err)
		f.notify(ctx, LevelError, TextDecodeFailed)
		return res, fmt.Errorf("failed to load %q: %w", up.Name, err)
	}

	res.Recipients = slices.Clone(emails)
	slog.Info("recipient list loaded", "file", up.Name, "origin", up.Origin.String(), "recipients", len(emails))

	if len(emails) == 0 {
		f.notify(ctx, LevelWarning, TextNoValidAddresses)
		return res, nil
	}

	f.notify(ctx, LevelInfo, fmt.Sprintf("Loaded %d email addresses from %s.", len(emails), up.Name))
	return res, nil
}

// LoadAsync runs Load in its own goroutine. The channel receives exactly one
// result and is then closed.
func (f *Form) LoadAsync(ctx context.Context, up Upload) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		defer close(ch)
		res, err := f.Load(ctx, up)
		res.Err = err
		ch <- res
	}()
	return ch
}

// Submit checks the preconditions and, when they hold, sends the message to
// every recipient through one Dispatcher call. Precondition failures return
// an error without any network activity. Every dispatched submission ends
// in exactly one terminal Outcome.
func (f *Form) Submit(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		f.notify(ctx, LevelWarning, TextInFlight)
		return Outcome{}, ErrInFlight
	}
	if strings.TrimSpace(f.message) == "" {
		f.mu.Unlock()
		f.notify(ctx, LevelWarning, TextEmptyMessage)
		return Outcome{}, ErrEmptyMessage
	}
	if len(f.recipients) == 0 {
		f.mu.Unlock()
		f.notify(ctx, LevelWarning, TextNoRecipients)
		return Outcome{}, ErrNoRecipients
	}

	req := sendemail.Request{
		Message: f.message,
		Emails:  slices.Clone(f.recipients),
	}
	f.inFlight = true
	f.state = StateSending
	f.status = TextSending
	f.mu.Unlock()

	f.notify(ctx, LevelInfo, TextSending)

	reply, err := f.dispatcher.Send(ctx, req)
	out := resolve(reply, err)

	if err != nil {
		slog.Error("submission failed", "recipients", len(req.Emails), "error", err)
	} else {
		slog.Info("submission answered", "recipients", len(req.Emails), "state", out.State.String(), "status", out.Status)
	}

	// State is updated before the notice is raised.
	f.mu.Lock()
	f.inFlight = false
	f.state = out.State
	f.status = out.Status
	f.mu.Unlock()

	f.notify(ctx, out.Level, out.Status)
	return out, nil
}

// resolve maps a dispatcher result onto a terminal outcome.
func resolve(reply *sendemail.Reply, err error) Outcome {
	if err == nil && reply == nil {
		err = errors.New("dispatcher returned no reply")
	}
	if err != nil {
		status := TextConnectivityError
		var cerr *client.Error
		if errors.As(err, &cerr) && cerr.Diagnostic() != "" {
			status = cerr.Diagnostic()
		}
		return Outcome{State: StateFailed, Level: LevelError, Status: status, Err: err}
	}

	status := strings.TrimSpace(reply.Status)
	if reply.Succeeded() {
		if status == "" {
			status = TextSentFallback
		}
		return Outcome{State: StateSucceeded, Level: LevelSuccess, Status: status}
	}

	if status == "" {
		status = strings.TrimSpace(reply.Message)
	}
	if status == "" {
		status = TextFailedFallback
	}
	return Outcome{State: StateFailed, Level: LevelWarning, Status: status}
}

func (f *Form) notify(ctx context.Context, level Level, text string) {
	f.notifier.Notify(ctx, Notice{Level: level, Text: text})
}
