package revenue_test

import (
	"testing"

	"marquee/internal/revenue"
)

func TestCommissionRoundsHalfUpToTheCent(t *testing.T) {
	tests := []struct {
		revenue revenue.Cents
		rate    revenue.Rate
		want    revenue.Cents
	}{
		{revenue: 10000, rate: 7000, want: 7000},
		{revenue: 333, rate: 7000, want: 233},
		{revenue: 5, rate: 7000, want: 4},
		{revenue: 1, rate: 5000, want: 1},
		{revenue: 1, rate: 4999, want: 0},
		{revenue: 12345, rate: 1250, want: 1543},
		{revenue: 0, rate: 7000, want: 0},
		{revenue: 999, rate: 0, want: 0},
		{revenue: 999, rate: revenue.MaxRate, want: 999},
		{revenue: -5, rate: 7000, want: -4},
	}
	for _, tt := range tests {
		if got := revenue.Commission(tt.revenue, tt.rate); got != tt.want {
			t.Errorf("Commission(%d, %s) = %d, want %d", tt.revenue, tt.rate, got, tt.want)
		}
	}
}

func TestRateFormattingAndBounds(t *testing.T) {
	if got := revenue.Rate(7000).String(); got != "70.00%" {
		t.Fatalf("Rate(7000) = %q", got)
	}
	if got := revenue.Rate(1255).String(); got != "12.55%" {
		t.Fatalf("Rate(1255) = %q", got)
	}
	if revenue.Rate(10001).Valid() || revenue.Rate(-1).Valid() {
		t.Fatal("expected out-of-range rates to be invalid")
	}
	if !revenue.Rate(0).Valid() || !revenue.MaxRate.Valid() {
		t.Fatal("expected bounds to be valid")
	}
}

func TestCentsFormatUsesCurrencyScale(t *testing.T) {
	if got := revenue.Cents(4250).Format("usd"); got != "USD 42.50" {
		t.Fatalf("USD format = %q", got)
	}
	if got := revenue.Cents(500).Format("JPY"); got != "JPY 500" {
		t.Fatalf("JPY format = %q", got)
	}
}
