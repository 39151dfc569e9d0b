// Package heartbeat keeps store claims alive while a worker blocks on
// external I/O.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marquee/internal/logging"
	"marquee/internal/store"
)

// Touch refreshes one claim.
type Touch func(ctx context.Context) error

// Monitor refreshes claims on a fixed interval.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger
}

// New creates a monitor. A non-positive interval disables refreshing.
func New(interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{interval: interval, logger: logging.NewComponentLogger(logger, "heartbeat")}
}

// Guard starts refreshing a claim and returns a context for the guarded work.
// The context is cancelled if the claim is lost. stop ends the loop and must
// be called once the work returns.
func (m *Monitor) Guard(ctx context.Context, touch Touch) (guarded context.Context, stop func()) {
	guarded, cancel := context.WithCancel(ctx)
	if m == nil || m.interval <= 0 {
		return guarded, cancel
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go m.loop(guarded, &wg, touch, cancel)
	return guarded, func() {
		cancel()
		wg.Wait()
	}
}

func (m *Monitor) loop(ctx context.Context, wg *sync.WaitGroup, touch Touch, cancel context.CancelFunc) {
	defer wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, m.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := touch(ctx)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, store.ErrClaimLost):
				logging.WarnWithContext(logger, "claim lost during heartbeat", "claim_lost",
					logging.String(logging.FieldErrorHint, "another worker reclaimed the item; aborting this attempt"))
				cancel()
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
