package payouts

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"marquee/internal/revenue"
	"marquee/internal/services"
	"marquee/internal/store"
)

// ErrLedgerMismatch is returned when a payout amount differs from the sum of
// its statements.
var ErrLedgerMismatch = errors.New("payout amount does not match statements")

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the payout period containing day: the ISO week (Monday
// to Sunday) for weekly hosts, the calendar month for monthly ones.
func WindowFor(period store.PayoutPeriod, day time.Time) Window {
	y, m, d := day.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if period == store.PeriodMonthly {
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, -1)}
	}
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return Window{Start: start, End: start.AddDate(0, 0, 6)}
}

// ClosedBefore reports whether the window ended strictly before day.
func (w Window) ClosedBefore(day time.Time) bool {
	y, m, d := day.Date()
	return w.End.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func (w Window) String() string {
	return w.Start.Format(store.DateLayout) + ".." + w.End.Format(store.DateLayout)
}

// Batch is a pending payout with its statements and the revenue records it covers.
type Batch struct {
	Payout     store.Payout
	Statements []store.PayoutStatement
	RecordIDs  []string
}

// NewBatch builds a pending payout for host covering records over window.
// Records are grouped into one statement per kiosk; the statement rate is
// the rate of the kiosk's latest record in the window.
func NewBatch(host store.Host, window Window, records []store.RevenueRecord) (Batch, error) {
	if len(records) == 0 {
		return Batch{}, services.Wrap(services.ErrValidation, "batch", "new batch", "no revenue records", nil)
	}

	byKiosk := make(map[string]*store.PayoutStatement)
	latest := make(map[string]time.Time)
	var (
		amount revenue.Cents
		ids    = make([]string, 0, len(records))
	)
	for _, r := range records {
		if r.HostID != host.ID {
			return Batch{}, services.Wrap(services.ErrValidation, "batch", "new batch",
				fmt.Sprintf("record %s belongs to host %s", r.ID, r.HostID), nil)
		}
		if r.PayoutID != "" {
			return Batch{}, services.Wrap(services.ErrValidation, "batch", "new batch",
				fmt.Sprintf("record %s already attached to payout %s", r.ID, r.PayoutID), nil)
		}
		st, ok := byKiosk[r.KioskID]
		if !ok {
			st = &store.PayoutStatement{KioskID: r.KioskID}
			byKiosk[r.KioskID] = st
		}
		st.Impressions += r.Impressions
		st.Clicks += r.Clicks
		st.RevenueCents += r.RevenueCents
		st.CommissionCents += r.CommissionCents
		if !r.Date.Before(latest[r.KioskID]) {
			latest[r.KioskID] = r.Date
			st.CommissionRateBP = r.CommissionRateBP
		}
		amount += revenue.Cents(r.CommissionCents)
		ids = append(ids, r.ID)
	}

	kiosks := make([]string, 0, len(byKiosk))
	for kiosk := range byKiosk {
		kiosks = append(kiosks, kiosk)
	}
	sort.Strings(kiosks)
	statements := make([]store.PayoutStatement, 0, len(kiosks))
	for _, kiosk := range kiosks {
		statements = append(statements, *byKiosk[kiosk])
	}

	batch := Batch{
		Payout: store.Payout{
			ID:                 store.NewID(),
			HostID:             host.ID,
			AmountCents:        int64(amount),
			Currency:           host.Currency,
			Status:             store.PayoutPending,
			PeriodStart:        window.Start,
			PeriodEnd:          window.End,
			PayoutMethod:       host.PayoutMethod,
			DestinationAccount: host.DestinationAccount,
		},
		Statements: statements,
		RecordIDs:  ids,
	}
	if err := batch.Verify(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Verify checks that the payout amount equals the sum of its statements.
func (b Batch) Verify() error {
	var sum int64
	for _, st := range b.Statements {
		sum += st.CommissionCents
	}
	if sum != b.Payout.AmountCents {
		return fmt.Errorf("payout %s: amount %d, statements %d: %w", b.Payout.ID, b.Payout.AmountCents, sum, ErrLedgerMismatch)
	}
	return nil
}
