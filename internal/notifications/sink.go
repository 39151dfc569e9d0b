package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"marquee/internal/config"
	"marquee/internal/logging"
)

// Event identifies a notification type.
type Event string

const (
	EventArchiveFailed  Event = "archive_failed"
	EventPayoutFailed   Event = "payout_failed"
	EventCycleCompleted Event = "cycle_completed"
	EventTest           Event = "test"
)

// Payload carries event details. Keys are camelCase.
type Payload map[string]any

// Sink delivers events.
type Sink interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Closer is implemented by sinks holding network resources.
type Closer interface {
	Close() error
}

// NewSink builds the sink described by cfg. Transports that fail to
// initialize are logged and skipped.
func NewSink(cfg *config.Config, logger *slog.Logger) Sink {
	logger = logging.NewComponentLogger(logger, "notifications")
	n := cfg.Notifications

	var sinks []Sink
	if strings.TrimSpace(n.NtfyTopic) != "" {
		sinks = append(sinks, NewNtfySink(n))
	}
	if len(n.KafkaBrokers) > 0 && strings.TrimSpace(n.KafkaTopic) != "" {
		sinks = append(sinks, NewKafkaSink(n))
	}

	var sink Sink
	switch len(sinks) {
	case 0:
		logger.Debug("no notification transports configured")
		return Noop{}
	case 1:
		sink = sinks[0]
	default:
		sink = Fanout(sinks)
	}
	return &filtered{
		next: sink,
		enabled: map[Event]bool{
			EventArchiveFailed:  n.ArchiveFailures,
			EventPayoutFailed:   n.PayoutFailures,
			EventCycleCompleted: n.CycleSummary,
			EventTest:           true,
		},
	}
}

// Noop discards every event.
type Noop struct{}

// Publish implements Sink.
func (Noop) Publish(context.Context, Event, Payload) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		if c, ok := sink.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

type filtered struct {
	next    Sink
	enabled map[Event]bool
}

func (f *filtered) Publish(ctx context.Context, event Event, payload Payload) error {
	if !f.enabled[event] {
		return nil
	}
	return f.next.Publish(ctx, event, payload)
}

func (f *filtered) Close() error {
	if c, ok := f.next.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Close releases sink resources when the sink holds any.
func Close(sink Sink) error {
	if c, ok := sink.(Closer); ok {
		return c.Close()
	}
	return nil
}
