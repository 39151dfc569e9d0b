package payouts

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"marquee/internal/logging"
	"marquee/internal/revenue"
	"marquee/internal/services"
	"marquee/internal/store"
)

// Builder turns eligible revenue into pending payouts.
type Builder struct {
	store  *store.Store
	loc    *time.Location
	logger *slog.Logger
}

// NewBuilder returns a builder that decides which windows have closed using
// calendar days in loc.
func NewBuilder(st *store.Store, loc *time.Location, logger *slog.Logger) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{store: st, loc: loc, logger: logger}
}

type windowRecords struct {
	window  Window
	records []store.RevenueRecord
}

// BuildEligiblePayouts creates pending payouts from the host's unbatched
// revenue in windows that closed before asOf. Windows whose total is under
// the host's minimum are carried into the next window; the carry is kept
// unbatched if no later closed window lifts it over the minimum.
//
// A concurrent builder that attached any of the same records first wins: the
// losing batch rolls back and ErrConflict is returned with the payouts
// created so far.
func (b *Builder) BuildEligiblePayouts(ctx context.Context, hostID string, asOf time.Time) ([]store.Payout, error) {
	ctx = services.WithStage(services.WithEntityID(ctx, hostID), "batch")
	logger := logging.WithContext(ctx, b.logger)

	host, err := b.store.GetHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	records, err := b.store.ListUnbatchedRevenue(ctx, hostID)
	if err != nil {
		return nil, err
	}
	today := asOf.In(b.loc)

	var (
		created  []store.Payout
		carry    []store.RevenueRecord
		carryAt  time.Time
		total    revenue.Cents
		windows  = groupByWindow(host.PayoutPeriod, records)
		minimum  = revenue.Cents(host.MinimumPayoutCents)
		deferred int
	)
	for _, w := range windows {
		if !w.window.ClosedBefore(today) {
			break
		}
		if len(carry) == 0 {
			carryAt = w.window.Start
		}
		carry = append(carry, w.records...)
		for _, r := range w.records {
			total += revenue.Cents(r.CommissionCents)
		}
		if total <= 0 || total < minimum {
			deferred++
			logger.Debug("payout window below minimum; deferring",
				logging.String("window", w.window.String()),
				logging.Int64("total_cents", int64(total)),
				logging.Int64("minimum_cents", int64(minimum)),
			)
			continue
		}

		batch, err := NewBatch(host, Window{Start: carryAt, End: w.window.End}, carry)
		if err != nil {
			return created, err
		}
		if err := b.store.CreatePayoutBatch(ctx, &batch.Payout, batch.Statements, batch.RecordIDs); err != nil {
			if errors.Is(err, store.ErrConflict) {
				logging.WarnWithContext(logger, "payout batch lost to a concurrent builder", "batch_conflict",
					logging.String("window", w.window.String()),
				)
			}
			return created, err
		}
		logger.Info("payout created",
			logging.String("payout_id", batch.Payout.ID),
			logging.String("period", Window{Start: batch.Payout.PeriodStart, End: batch.Payout.PeriodEnd}.String()),
			logging.String("amount", total.Format(host.Currency)),
			logging.Int("statements", len(batch.Statements)),
		)
		created = append(created, batch.Payout)
		carry, total = nil, 0
	}
	if deferred > 0 && len(carry) > 0 {
		logger.Info("revenue below payout minimum carried forward",
			logging.Int64("carried_cents", int64(total)),
			logging.Int("records", len(carry)),
		)
	}
	return created, nil
}

func groupByWindow(period store.PayoutPeriod, records []store.RevenueRecord) []windowRecords {
	index := make(map[time.Time]int)
	var out []windowRecords
	for _, r := range records {
		w := WindowFor(period, r.Date)
		i, ok := index[w.Start]
		if !ok {
			i = len(out)
			index[w.Start] = i
			out = append(out, windowRecords{window: w})
		}
		out[i].records = append(out[i].records, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].window.Start.Before(out[j].window.Start)
	})
	return out
}
