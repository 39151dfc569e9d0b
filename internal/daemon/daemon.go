package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"marquee/internal/api"
	"marquee/internal/config"
	"marquee/internal/logging"
	"marquee/internal/scheduler"
)

// Daemon runs cycles on a timer and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	runner   api.CycleRunner
	health   api.HealthChecker
	interval time.Duration

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	cycleMu sync.Mutex
	lastMu  sync.RWMutex
	last    *scheduler.Summary

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	APIAddress   string
	Interval     time.Duration
	LastCycle    *scheduler.Summary
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithInterval overrides the configured cycle interval.
func WithInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// New constructs a daemon around a cycle runner and the store health check.
func New(cfg *config.Config, runner api.CycleRunner, health api.HealthChecker, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || runner == nil || health == nil {
		return nil, errors.New("daemon requires config, cycle runner, and health checker")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		runner:   runner,
		health:   health,
		interval: cfg.CycleInterval(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the lock, starts the HTTP trigger and launches the cycle
// loop. The first cycle runs immediately.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another marquee daemon instance is already running (lock %s)", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	srv := newAPIServer(d.cfg, d, d.health, d.logger)
	if err := srv.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.api = srv
	d.cancel = cancel
	d.running.Store(true)

	d.wg.Add(1)
	go d.loop(runCtx)

	d.logger.Info("marquee daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("interval", d.interval),
	)
	return nil
}

// Stop halts the cycle loop, shuts the HTTP trigger down and releases the lock.
// An in-flight cycle is cancelled and awaited.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()
	d.api = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("marquee daemon stopped")
}

// RunCycle runs one cycle, waiting for any cycle already in progress.
func (d *Daemon) RunCycle(ctx context.Context) scheduler.Summary {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	summary := d.runner.RunCycle(ctx)
	d.lastMu.Lock()
	d.last = &summary
	d.lastMu.Unlock()
	return summary
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.lastMu.RLock()
	last := d.last
	d.lastMu.RUnlock()
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Interval:     d.interval,
		LastCycle:    last,
	}
	if d.api != nil {
		status.APIAddress = d.api.address()
	}
	return status
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		summary := d.RunCycle(ctx)
		if !summary.OK() {
			d.logger.Warn("cycle finished with errors",
				logging.String(logging.FieldCycleID, summary.CycleID),
				logging.Int("errors", len(summary.Errors)),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
