// Package notify publishes order and payment lifecycle events.
//
// Delivery is fire-and-forget: a Notifier never reports failure to the
// caller and never blocks a state change that already committed.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dshills/audira-commerce/internal/logkey"
)

// Notifier receives lifecycle events after they are persisted
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// LogNotifier writes each event as a structured log line
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier; a nil logger uses slog.Default()
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String(logkey.Event, string(ev.Type)),
		slog.Int64(logkey.OrderID, ev.OrderID),
		slog.Int64(logkey.UserID, ev.UserID),
		slog.String(logkey.Status, ev.To),
	}
	if ev.PaymentID != 0 {
		attrs = append(attrs, slog.Int64(logkey.PaymentID, ev.PaymentID))
	}
	if ev.From != "" {
		attrs = append(attrs, slog.String(logkey.FromStatus, ev.From))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "lifecycle event", attrs...)
}

// Recorder keeps every event in memory; safe for concurrent use
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
