// Package scheduler runs the periodic cycle: archive the assets of expired
// campaigns, aggregate host revenue, batch payouts and dispatch them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marquee/internal/config"
	"marquee/internal/lifecycle"
	"marquee/internal/logging"
	"marquee/internal/notifications"
	"marquee/internal/payments"
	"marquee/internal/payouts"
	"marquee/internal/revenue"
	"marquee/internal/services"
	"marquee/internal/storage"
	"marquee/internal/store"
)

// Orchestrator wires the cycle's components. It holds no state between
// cycles beyond the mover registry.
type Orchestrator struct {
	cfg        *config.Config
	store      *store.Store
	detector   *lifecycle.Detector
	machine    *lifecycle.Machine
	aggregator *revenue.Aggregator
	builder    *payouts.Builder
	dispatcher *payouts.Dispatcher
	sink       notifications.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*options)

type options struct {
	movers lifecycle.MoverSource
	now    func() time.Time
}

// WithMovers replaces the storage mover registry built from configuration.
func WithMovers(movers lifecycle.MoverSource) Option {
	return func(o *options) {
		o.movers = movers
	}
}

// WithClock overrides the cycle clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New builds an orchestrator over st that pays through processor and
// reports to sink.
func New(cfg *config.Config, st *store.Store, processor payments.Processor, sink notifications.Sink, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.movers == nil {
		o.movers = storage.NewRegistry(storage.LookupFromConfig(cfg), nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = notifications.Noop{}
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	loc := cfg.Location()
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		detector:   lifecycle.NewDetector(st),
		machine:    lifecycle.NewMachine(st, o.movers, sink, logger, lifecycle.OptionsFromConfig(cfg)),
		aggregator: revenue.NewAggregator(st, loc, logger),
		builder:    payouts.NewBuilder(st, loc, logger),
		dispatcher: payouts.NewDispatcher(st, processor, sink, logger, payouts.DispatchOptionsFromConfig(cfg)),
		sink:       sink,
		logger:     logger,
		now:        o.now,
	}
}

// Machine exposes the asset lifecycle for operator commands.
func (o *Orchestrator) Machine() *lifecycle.Machine { return o.machine }

// Dispatcher exposes payout dispatch for operator commands.
func (o *Orchestrator) Dispatcher() *payouts.Dispatcher { return o.dispatcher }

// RunCycle runs one full cycle. Per-item failures are recorded in the
// summary and never abort sibling items.
func (o *Orchestrator) RunCycle(ctx context.Context) Summary {
	started := o.now()
	cycleID := uuid.NewString()
	ctx = services.WithCycleID(ctx, cycleID)
	logger := logging.WithContext(ctx, o.logger)
	t := &tally{summary: Summary{CycleID: cycleID, StartedAt: started, Errors: []CycleError{}}}

	logger.Info("cycle started")
	o.reclaim(ctx, t, started)
	campaigns := o.archive(ctx, t, started)
	o.complete(ctx, t, campaigns)

	hosts, err := o.store.ListHosts(ctx)
	if err != nil {
		t.fail("hosts", "", err)
	}
	o.aggregate(ctx, t, hosts, started)
	o.batch(ctx, t, hosts, started)
	o.dispatch(ctx, t, hosts)

	elapsed := o.now().Sub(started)
	t.add(func(s *Summary) { s.Duration = elapsed.Round(time.Millisecond).String() })
	summary := t.snapshot()

	attrs := []logging.Attr{
		logging.Int("campaigns", summary.CampaignsProcessed),
		logging.Int("assets_archived", summary.AssetsArchived),
		logging.Int("assets_failed", summary.AssetsFailed),
		logging.Int("revenue_records", summary.RevenueRecords),
		logging.Int("payouts_created", summary.PayoutsCreated),
		logging.Int("payouts_dispatched", summary.PayoutsDispatched),
		logging.Int("payouts_failed", summary.PayoutsFailed),
		logging.Int("errors", len(summary.Errors)),
		logging.Duration("duration", elapsed),
	}
	if summary.OK() {
		logger.Info("cycle completed", logging.Args(attrs...)...)
	} else {
		logging.WarnWithContext(logger, "cycle completed with errors", "cycle_errors", attrs...)
	}

	if err := o.sink.Publish(ctx, notifications.EventCycleCompleted, notifications.Payload{
		"cycleId":           summary.CycleID,
		"assetsArchived":    summary.AssetsArchived,
		"assetsFailed":      summary.AssetsFailed,
		"payoutsCreated":    summary.PayoutsCreated,
		"payoutsDispatched": summary.PayoutsDispatched,
		"payoutsFailed":     summary.PayoutsFailed,
		"errors":            len(summary.Errors),
		"duration":          summary.Duration,
	}); err != nil {
		logger.Warn("cycle notification failed", logging.Error(err))
	}
	return summary
}

func (o *Orchestrator) reclaim(ctx context.Context, t *tally, now time.Time) {
	cutoff := now.Add(-o.cfg.ClaimTimeout())
	assets, err := o.machine.ReclaimStale(ctx, cutoff)
	if err != nil {
		t.fail("reclaim", "", err)
	}
	payoutClaims, err := o.dispatcher.ReclaimStale(ctx, cutoff)
	if err != nil {
		t.fail("reclaim", "", err)
	}
	t.add(func(s *Summary) { s.StaleClaimsFreed = assets + payoutClaims })
}

// archive prepares every expired campaign and archives their claimable
// assets on a bounded pool. It returns the campaigns that were processed.
func (o *Orchestrator) archive(ctx context.Context, t *tally, now time.Time) []string {
	campaigns, err := o.detector.FindExpiredCampaigns(ctx, now)
	if err != nil {
		t.fail("detect", "", err)
		return nil
	}

	var (
		processed []string
		assets    []string
	)
	for _, campaign := range campaigns {
		current, err := o.store.GetCampaign(ctx, campaign.ID)
		if err != nil {
			t.fail("archive", campaign.ID, err)
			continue
		}
		if current.Status != store.CampaignActive {
			continue
		}
		claimable, err := o.machine.Prepare(ctx, campaign.ID)
		if err != nil {
			t.fail("archive", campaign.ID, err)
			continue
		}
		processed = append(processed, campaign.ID)
		for _, record := range claimable {
			assets = append(assets, record.AssetID)
		}
	}
	t.add(func(s *Summary) { s.CampaignsProcessed = len(processed) })

	o.forEach(services.WithStage(ctx, "archive"), assets, func(ctx context.Context, assetID string) {
		claim, err := o.machine.Claim(ctx, assetID)
		if errors.Is(err, lifecycle.ErrAlreadyClaimed) {
			return
		}
		if err != nil {
			t.fail("archive", assetID, err)
			return
		}
		outcome, err := o.machine.Archive(ctx, claim)
		t.add(func(s *Summary) {
			switch outcome {
			case lifecycle.OutcomeArchived:
				s.AssetsArchived++
			case lifecycle.OutcomeFailed:
				s.AssetsFailed++
			case lifecycle.OutcomeRetrying:
				s.AssetsRetrying++
			}
		})
		if err != nil {
			t.fail("archive", assetID, err)
		}
	})
	return processed
}

func (o *Orchestrator) complete(ctx context.Context, t *tally, campaigns []string) {
	for _, id := range campaigns {
		done, err := o.machine.CompleteCampaign(ctx, id)
		if err != nil {
			t.fail("complete", id, err)
			continue
		}
		if done {
			t.add(func(s *Summary) { s.CampaignsCompleted++ })
		}
	}
}

func (o *Orchestrator) aggregate(ctx context.Context, t *tally, hosts []store.Host, now time.Time) {
	r := revenue.Lookback(now, o.cfg.Revenue.LookbackDays, o.cfg.Location())
	o.forEachHost(services.WithStage(ctx, "aggregate"), hosts, func(ctx context.Context, host store.Host) {
		written, err := o.aggregator.Aggregate(ctx, host.ID, r)
		t.add(func(s *Summary) { s.RevenueRecords += len(written) })
		if err != nil {
			t.fail("aggregate", host.ID, err)
		}
	})
}

func (o *Orchestrator) batch(ctx context.Context, t *tally, hosts []store.Host, now time.Time) {
	o.forEachHost(ctx, hosts, func(ctx context.Context, host store.Host) {
		created, err := o.builder.BuildEligiblePayouts(ctx, host.ID, now)
		t.add(func(s *Summary) { s.PayoutsCreated += len(created) })
		if err != nil {
			t.fail("batch", host.ID, err)
		}
	})
}

// dispatch runs hosts in parallel and each host's payouts in order.
func (o *Orchestrator) dispatch(ctx context.Context, t *tally, hosts []store.Host) {
	o.forEachHost(ctx, hosts, func(ctx context.Context, host store.Host) {
		pending, err := o.dispatcher.Dispatchable(ctx, host.ID)
		if err != nil {
			t.fail("dispatch", host.ID, err)
			return
		}
		for _, payout := range pending {
			if ctx.Err() != nil {
				t.fail("dispatch", payout.ID, ctx.Err())
				return
			}
			result, err := o.dispatcher.Dispatch(ctx, payout.ID)
			if errors.Is(err, payouts.ErrAlreadyClaimed) {
				continue
			}
			t.add(func(s *Summary) {
				switch result.Outcome {
				case payouts.OutcomeCompleted:
					s.PayoutsDispatched++
				case payouts.OutcomeDeferred:
					s.PayoutsDeferred++
				case payouts.OutcomeFailed:
					s.PayoutsFailed++
				}
			})
			if err != nil {
				t.fail("dispatch", payout.ID, err)
			}
		}
	})
}

func (o *Orchestrator) forEachHost(ctx context.Context, hosts []store.Host, fn func(context.Context, store.Host)) {
	ids := make([]string, len(hosts))
	byID := make(map[string]store.Host, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
		byID[h.ID] = h
	}
	o.forEach(ctx, ids, func(ctx context.Context, id string) {
		fn(services.WithEntityID(ctx, id), byID[id])
	})
}

// forEach runs fn for every id on a pool of scheduler.workers goroutines.
// fn records its own failures, so one item never cancels another.
func (o *Orchestrator) forEach(ctx context.Context, ids []string, fn func(context.Context, string)) {
	var g errgroup.Group
	g.SetLimit(max(1, o.cfg.Scheduler.Workers))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
