package form

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// State is the submission state of a Form.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Level is the severity of a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Outcome is the terminal result of a dispatched submission.
type Outcome struct {
	State  State
	Level  Level
	Status string
	// Err is the transport or protocol failure behind a hard failure.
	Err error
}

// Soft reports whether the service answered with a structured negative reply.
func (o Outcome) Soft() bool {
	return o.State == StateFailed && o.Err == nil
}

// Notice is a user-visible message.
type Notice struct {
	Level Level
	Text  string
}

// Notifier displays notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notice)

func (fn NotifierFunc) Notify(ctx context.Context, n Notice) { fn(ctx, n) }

// NopNotifier discards every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) {}

// WriterNotifier prints each notice as one "[level] text" line.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier creates a WriterNotifier writing to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(_ context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "[%s] %s\n", notice.Level, notice.Text)
}
