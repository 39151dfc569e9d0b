package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"

	"marquee/internal/config"
	"marquee/internal/notifications"
	"marquee/internal/payments"
	"marquee/internal/scheduler"
	"marquee/internal/store"
)

// Runtime bundles the long-lived dependencies behind one scheduler
// orchestrator. The CLI and the daemon both build cycles through it.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *store.Store
	Sink         notifications.Sink
	Orchestrator *scheduler.Orchestrator
}

// Open connects the store, payment processor client and notification sinks.
func Open(cfg *config.Config, logger *slog.Logger, opts ...scheduler.Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sink := notifications.NewSink(cfg, logger)
	processor := payments.NewHTTPClient(cfg.Payments)
	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Sink:         sink,
		Orchestrator: scheduler.New(cfg, st, processor, sink, logger, opts...),
	}, nil
}

// Close releases the sink and the store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	sinkErr := notifications.Close(r.Sink)
	storeErr := r.Store.Close()
	return errors.Join(sinkErr, storeErr)
}
