package testsupport

import (
	"context"
	"path"
	"testing"
	"time"

	"marquee/internal/config"
	"marquee/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Date returns UTC midnight for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NewHost inserts a host paid in USD with the given cadence and threshold.
func NewHost(t testing.TB, st *store.Store, period store.PayoutPeriod, minimumCents int64) store.Host {
	t.Helper()

	host := store.Host{
		Name:               "Test Host",
		PayoutPeriod:       period,
		MinimumPayoutCents: minimumCents,
		PayoutMethod:       "bank_transfer",
		DestinationAccount: "acct_" + store.NewID()[:8],
		Currency:           "USD",
	}
	if err := st.InsertHost(context.Background(), &host); err != nil {
		t.Fatalf("InsertHost: %v", err)
	}
	return host
}

// AssignKiosk binds a kiosk to a host at rateBP, effective from the given date.
func AssignKiosk(t testing.TB, st *store.Store, hostID, kioskID string, rateBP int64, effectiveFrom time.Time) {
	t.Helper()

	assignment := store.Assignment{HostID: hostID, KioskID: kioskID, CommissionRateBP: rateBP}
	if err := st.UpsertAssignment(context.Background(), &assignment, effectiveFrom); err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}
}

// NewCampaign inserts an active campaign ending at end.
func NewCampaign(t testing.TB, st *store.Store, end time.Time, kiosks ...string) store.Campaign {
	t.Helper()

	campaign := store.Campaign{
		ClientID:  "client-1",
		Name:      "Test Campaign",
		Status:    store.CampaignActive,
		StartDate: end.AddDate(0, -1, 0),
		EndDate:   end,
		KioskIDs:  kiosks,
	}
	if err := st.InsertCampaign(context.Background(), &campaign); err != nil {
		t.Fatalf("InsertCampaign: %v", err)
	}
	return campaign
}

// NewAsset inserts an active media asset stored at path on the named backend.
func NewAsset(t testing.TB, st *store.Store, campaignID, kioskID, kind, storagePath string) store.MediaAsset {
	t.Helper()

	asset := store.MediaAsset{
		CampaignID:  campaignID,
		KioskID:     kioskID,
		FileName:    path.Base(storagePath),
		StorageKind: kind,
		StoragePath: storagePath,
	}
	if err := st.InsertMediaAsset(context.Background(), &asset); err != nil {
		t.Fatalf("InsertMediaAsset: %v", err)
	}
	return asset
}

// AddEvent records one play event.
func AddEvent(t testing.TB, st *store.Store, kioskID string, kind store.EventKind, cents int64, at time.Time) {
	t.Helper()

	event := store.PlayEvent{KioskID: kioskID, Kind: kind, AmountCents: cents, OccurredAt: at}
	if err := st.InsertPlayEvent(context.Background(), &event); err != nil {
		t.Fatalf("InsertPlayEvent: %v", err)
	}
}
