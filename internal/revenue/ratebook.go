package revenue

import (
	"context"
	"sort"
	"sync"
	"time"

	"marquee/internal/store"
)

// RateBook answers rate-as-of-date questions from the commission rate history.
// Histories are cached for the lifetime of the book, so callers build one per
// aggregation pass.
type RateBook struct {
	store *store.Store

	mu      sync.Mutex
	history map[string][]store.RateChange
}

// NewRateBook returns a rate book reading from st.
func NewRateBook(st *store.Store) *RateBook {
	return &RateBook{store: st, history: make(map[string][]store.RateChange)}
}

// RateAt returns the rate in force for host/kiosk on date: the latest change
// effective on or before date. Dates before the first recorded change use the
// earliest known rate; kiosks without history use the assignment's current rate.
func (b *RateBook) RateAt(ctx context.Context, hostID, kioskID string, date time.Time) (Rate, error) {
	changes, err := b.changes(ctx, hostID, kioskID)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		assignment, err := b.store.GetAssignment(ctx, hostID, kioskID)
		if err != nil {
			return 0, err
		}
		return Rate(assignment.CommissionRateBP), nil
	}
	day := dayOf(date)
	// First change effective after day; the one before it is in force.
	idx := sort.Search(len(changes), func(i int) bool {
		return changes[i].EffectiveFrom.After(day)
	})
	if idx == 0 {
		return Rate(changes[0].CommissionRateBP), nil
	}
	return Rate(changes[idx-1].CommissionRateBP), nil
}

func (b *RateBook) changes(ctx context.Context, hostID, kioskID string) ([]store.RateChange, error) {
	key := hostID + "/" + kioskID
	b.mu.Lock()
	cached, ok := b.history[key]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}
	changes, err := b.store.RateHistory(ctx, hostID, kioskID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.history[key] = changes
	b.mu.Unlock()
	return changes, nil
}

// dayOf drops the clock and zone of a calendar date, matching stored dates.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
