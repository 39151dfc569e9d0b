package payouts_test

import (
	"errors"
	"testing"
	"time"

	"marquee/internal/payouts"
	"marquee/internal/services"
	"marquee/internal/store"
	"marquee/internal/testsupport"
)

func TestWindowFor(t *testing.T) {
	tests := []struct {
		name   string
		period store.PayoutPeriod
		day    int
		month  time.Month
		want   string
	}{
		{name: "weekly midweek", period: store.PeriodWeekly, month: 3, day: 4, want: "2026-03-02..2026-03-08"},
		{name: "weekly sunday", period: store.PeriodWeekly, month: 3, day: 8, want: "2026-03-02..2026-03-08"},
		{name: "weekly monday", period: store.PeriodWeekly, month: 3, day: 9, want: "2026-03-09..2026-03-15"},
		{name: "weekly across months", period: store.PeriodWeekly, month: 3, day: 1, want: "2026-02-23..2026-03-01"},
		{name: "monthly february", period: store.PeriodMonthly, month: 2, day: 14, want: "2026-02-01..2026-02-28"},
		{name: "monthly march", period: store.PeriodMonthly, month: 3, day: 31, want: "2026-03-01..2026-03-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := payouts.WindowFor(tt.period, testsupport.Date(2026, tt.month, tt.day))
			if got.String() != tt.want {
				t.Fatalf("WindowFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewBatchBuildsOneStatementPerKiosk(t *testing.T) {
	host := store.Host{ID: "host-1", Currency: "USD", PayoutMethod: "bank_transfer", DestinationAccount: "acct_1"}
	window := payouts.WindowFor(store.PeriodWeekly, testsupport.Date(2026, 3, 2))
	records := []store.RevenueRecord{
		{ID: "r1", HostID: "host-1", KioskID: "kiosk-b", Date: testsupport.Date(2026, 3, 2), Impressions: 3, RevenueCents: 1000, CommissionRateBP: 7000, CommissionCents: 700},
		{ID: "r2", HostID: "host-1", KioskID: "kiosk-a", Date: testsupport.Date(2026, 3, 2), Impressions: 1, Clicks: 2, RevenueCents: 333, CommissionRateBP: 5000, CommissionCents: 167},
		{ID: "r3", HostID: "host-1", KioskID: "kiosk-b", Date: testsupport.Date(2026, 3, 4), Impressions: 2, RevenueCents: 500, CommissionRateBP: 8000, CommissionCents: 400},
	}

	batch, err := payouts.NewBatch(host, window, records)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	if batch.Payout.AmountCents != 1267 {
		t.Fatalf("amount = %d, want 1267", batch.Payout.AmountCents)
	}
	if batch.Payout.Status != store.PayoutPending || batch.Payout.DestinationAccount != "acct_1" {
		t.Fatalf("unexpected payout: %+v", batch.Payout)
	}
	if len(batch.Statements) != 2 || batch.Statements[0].KioskID != "kiosk-a" {
		t.Fatalf("unexpected statements: %+v", batch.Statements)
	}
	b := batch.Statements[1]
	if b.Impressions != 5 || b.RevenueCents != 1500 || b.CommissionCents != 1100 || b.CommissionRateBP != 8000 {
		t.Fatalf("unexpected kiosk-b statement: %+v", b)
	}
	if len(batch.RecordIDs) != 3 {
		t.Fatalf("record ids = %v", batch.RecordIDs)
	}

	batch.Statements[0].CommissionCents++
	if err := batch.Verify(); !errors.Is(err, payouts.ErrLedgerMismatch) {
		t.Fatalf("expected ErrLedgerMismatch, got %v", err)
	}
}

func TestNewBatchRejectsForeignOrAttachedRecords(t *testing.T) {
	host := store.Host{ID: "host-1", Currency: "USD"}
	window := payouts.WindowFor(store.PeriodWeekly, testsupport.Date(2026, 3, 2))

	if _, err := payouts.NewBatch(host, window, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty batch: %v", err)
	}
	foreign := []store.RevenueRecord{{ID: "r1", HostID: "host-2", KioskID: "k", CommissionCents: 1}}
	if _, err := payouts.NewBatch(host, window, foreign); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("foreign record: %v", err)
	}
	attached := []store.RevenueRecord{{ID: "r1", HostID: "host-1", KioskID: "k", CommissionCents: 1, PayoutID: "p-1"}}
	if _, err := payouts.NewBatch(host, window, attached); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("attached record: %v", err)
	}
}
