package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marquee/internal/logging"
	"marquee/internal/services"
	"marquee/internal/store"
)

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Lookback returns the range of the lookbackDays days before asOf plus asOf's
// own day, as calendar days in loc.
func Lookback(asOf time.Time, lookbackDays int, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	to := dayOf(asOf.In(loc))
	return DateRange{From: to.AddDate(0, 0, -lookbackDays), To: to}
}

// Days returns the number of days covered, or zero for an inverted range.
func (r DateRange) Days() int {
	from, to := dayOf(r.From), dayOf(r.To)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

func (r DateRange) String() string {
	return dayOf(r.From).Format(store.DateLayout) + ".." + dayOf(r.To).Format(store.DateLayout)
}

// Aggregator sums play events into per-kiosk daily revenue records.
type Aggregator struct {
	store  *store.Store
	loc    *time.Location
	logger *slog.Logger
}

// NewAggregator returns an aggregator bucketing events into days in loc.
func NewAggregator(st *store.Store, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Aggregator{store: st, loc: loc, logger: logger}
}

type dayTotals struct {
	impressions int64
	clicks      int64
	revenue     Cents
}

// Aggregate recomputes the host's revenue records for every day in r and
// returns the records it wrote. Each kiosk contributes one record per day with
// events on which its assignment to the host was in force; records already
// attached to a payout are left alone.
func (a *Aggregator) Aggregate(ctx context.Context, hostID string, r DateRange) ([]store.RevenueRecord, error) {
	if r.Days() == 0 {
		return nil, services.Wrap(services.ErrValidation, "aggregate", "range", "empty date range "+r.String(), nil)
	}
	from := dayOf(r.From)
	to := dayOf(r.To)
	assignments, err := a.store.ListAssignmentsCovering(ctx, hostID, from, to)
	if err != nil {
		return nil, err
	}

	windowStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, a.loc)
	windowEnd := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, a.loc).AddDate(0, 0, 1)

	rates := NewRateBook(a.store)
	var written []store.RevenueRecord
	for _, assignment := range assignments {
		events, err := a.store.ListPlayEvents(ctx, assignment.KioskID, windowStart, windowEnd)
		if err != nil {
			return written, err
		}
		totals := make(map[time.Time]*dayTotals)
		var days []time.Time
		for _, event := range events {
			day := dayOf(event.OccurredAt.In(a.loc))
			if !assignment.Covers(day) {
				continue
			}
			t, ok := totals[day]
			if !ok {
				t = &dayTotals{}
				totals[day] = t
				days = append(days, day)
			}
			switch event.Kind {
			case store.EventImpression, store.EventPlay:
				t.impressions++
			case store.EventClick:
				t.clicks++
			}
			t.revenue += Cents(event.AmountCents)
		}

		for _, day := range days {
			rate, err := rates.RateAt(ctx, hostID, assignment.KioskID, day)
			if err != nil {
				return written, fmt.Errorf("rate for %s on %s: %w", assignment.KioskID, day.Format(store.DateLayout), err)
			}
			t := totals[day]
			record := store.RevenueRecord{
				HostID:           hostID,
				KioskID:          assignment.KioskID,
				Date:             day,
				Impressions:      t.impressions,
				Clicks:           t.clicks,
				RevenueCents:     int64(t.revenue),
				CommissionRateBP: int64(rate),
				CommissionCents:  int64(Commission(t.revenue, rate)),
			}
			applied, err := a.store.UpsertRevenueRecord(ctx, &record)
			if err != nil {
				return written, err
			}
			if applied {
				written = append(written, record)
			}
		}
	}

	a.logger.Debug("revenue aggregated",
		logging.String(logging.FieldEntityID, hostID),
		logging.String("range", r.String()),
		logging.Int("records", len(written)),
	)
	return written, nil
}
