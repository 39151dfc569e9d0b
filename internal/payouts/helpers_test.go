package payouts_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marquee/internal/notifications"
	"marquee/internal/payments"
	"marquee/internal/store"
)

func addRevenue(t *testing.T, st *store.Store, hostID, kioskID string, day time.Time, revenueCents, rateBP, commissionCents int64) store.RevenueRecord {
	t.Helper()
	record := store.RevenueRecord{
		HostID:           hostID,
		KioskID:          kioskID,
		Date:             day,
		Impressions:      10,
		Clicks:           1,
		RevenueCents:     revenueCents,
		CommissionRateBP: rateBP,
		CommissionCents:  commissionCents,
	}
	applied, err := st.UpsertRevenueRecord(context.Background(), &record)
	if err != nil || !applied {
		t.Fatalf("UpsertRevenueRecord = %v, %v", applied, err)
	}
	return record
}

type recordingSink struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (r *recordingSink) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeProcessor mimics processor idempotency: a repeated key returns the
// transfer created for it the first time.
type fakeProcessor struct {
	mu        sync.Mutex
	transfers map[string]string
	calls     int
	failures  []error
	disabled  map[string]string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{transfers: make(map[string]string), disabled: make(map[string]string)}
}

func (f *fakeProcessor) CreateTransfer(_ context.Context, req payments.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return "", err
	}
	if id, ok := f.transfers[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := fmt.Sprintf("tr_%d", len(f.transfers)+1)
	f.transfers[req.IdempotencyKey] = id
	return id, nil
}

func (f *fakeProcessor) GetAccountStatus(_ context.Context, accountID string) (payments.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason, ok := f.disabled[accountID]; ok {
		return payments.AccountStatus{ID: accountID, DisabledReason: reason}, nil
	}
	return payments.AccountStatus{ID: accountID, PayoutsEnabled: true}, nil
}

func (f *fakeProcessor) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

func (f *fakeProcessor) fail(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}
