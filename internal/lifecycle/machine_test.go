package lifecycle_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marquee/internal/config"
	"marquee/internal/lifecycle"
	"marquee/internal/logging"
	"marquee/internal/notifications"
	"marquee/internal/services"
	"marquee/internal/storage"
	"marquee/internal/store"
	"marquee/internal/testsupport"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingSink) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type stubMovers struct{ mover storage.Mover }

func (s stubMovers) Mover(context.Context, string) (storage.Mover, string, error) {
	return s.mover, config.StorageLocal, nil
}

type flakyMover struct{ calls int }

func (f *flakyMover) Move(context.Context, storage.Ref, storage.Ref) error {
	f.calls++
	return services.Wrap(services.ErrTransient, "storage", "move", "backend unavailable", nil)
}

func (f *flakyMover) Exists(context.Context, storage.Ref) (bool, error) { return true, nil }

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	machine *lifecycle.Machine
	sink    *recordingSink
}

func newFixture(t *testing.T, movers lifecycle.MoverSource, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	if movers == nil {
		movers = storage.NewRegistry(storage.LookupFromConfig(cfg), nil)
	}
	sink := &recordingSink{}
	machine := lifecycle.NewMachine(st, movers, sink, logging.NewNop(), lifecycle.OptionsFromConfig(cfg))
	return fixture{cfg: cfg, store: st, machine: machine, sink: sink}
}

func (f fixture) asset(t *testing.T, campaignID, name string, onDisk bool) store.MediaAsset {
	t.Helper()
	rel := "incoming/" + name
	if onDisk {
		testsupport.WriteFile(t, filepath.Join(f.cfg.Storage.Local.Root, filepath.FromSlash(rel)), 256)
	}
	return testsupport.NewAsset(t, f.store, campaignID, "kiosk-1", config.StorageLocal, rel)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")
	asset := f.asset(t, campaign.ID, "spot.mp4", true)
	if _, err := f.machine.Prepare(ctx, campaign.ID); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Claim(ctx, asset.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, lifecycle.ErrAlreadyClaimed):
				rejected++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if won != 1 || rejected != workers-1 {
		t.Fatalf("expected exactly one winner, got won=%d rejected=%d", won, rejected)
	}
}

func TestArchiveMovesAssetAndCompletesCampaign(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")
	asset := f.asset(t, campaign.ID, "spot.mp4", true)

	claimable, err := f.machine.Prepare(ctx, campaign.ID)
	if err != nil || len(claimable) != 1 {
		t.Fatalf("Prepare = %d records, %v", len(claimable), err)
	}
	claim, err := f.machine.Claim(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	outcome, err := f.machine.Archive(ctx, claim)
	if err != nil || outcome != lifecycle.OutcomeArchived {
		t.Fatalf("Archive = %s, %v", outcome, err)
	}

	want := filepath.Join(f.cfg.Storage.Local.Root, "archive", "campaigns", campaign.ID, "kiosks", "kiosk-1", asset.ID, "spot.mp4")
	if !testsupport.Exists(t, want) {
		t.Fatalf("expected archived file at %s", want)
	}
	if testsupport.Exists(t, filepath.Join(f.cfg.Storage.Local.Root, "incoming", "spot.mp4")) {
		t.Fatal("expected source removed after archive")
	}
	media, err := f.store.GetMediaAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset: %v", err)
	}
	if media.Status != store.AssetArchived {
		t.Fatalf("expected archived media asset, got %s", media.Status)
	}

	done, err := f.machine.CompleteCampaign(ctx, campaign.ID)
	if err != nil || !done {
		t.Fatalf("CompleteCampaign = %v, %v", done, err)
	}
	again, err := f.machine.CompleteCampaign(ctx, campaign.ID)
	if err != nil || again {
		t.Fatalf("second CompleteCampaign = %v, %v", again, err)
	}
}

func TestArchiveKeepsSameNamedAssetsApart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	root := f.cfg.Storage.Local.Root
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")

	testsupport.WriteContent(t, filepath.Join(root, "incoming", "a", "spot.mp4"), []byte("AAAA"))
	testsupport.WriteContent(t, filepath.Join(root, "incoming", "b", "spot.mp4"), []byte("BBBBBB"))
	first := testsupport.NewAsset(t, f.store, campaign.ID, "kiosk-1", config.StorageLocal, "incoming/a/spot.mp4")
	second := testsupport.NewAsset(t, f.store, campaign.ID, "kiosk-1", config.StorageLocal, "incoming/b/spot.mp4")
	missing := testsupport.NewAsset(t, f.store, campaign.ID, "kiosk-1", config.StorageLocal, "incoming/c/spot.mp4")
	if _, err := f.machine.Prepare(ctx, campaign.ID); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	archive := func(asset store.MediaAsset) (lifecycle.Outcome, error) {
		t.Helper()
		claim, err := f.machine.Claim(ctx, asset.ID)
		if err != nil {
			t.Fatalf("Claim %s: %v", asset.ID, err)
		}
		return f.machine.Archive(ctx, claim)
	}
	for _, asset := range []store.MediaAsset{first, second} {
		if outcome, err := archive(asset); outcome != lifecycle.OutcomeArchived {
			t.Fatalf("Archive %s = %s, %v", asset.StoragePath, outcome, err)
		}
	}
	outcome, err := archive(missing)
	if outcome != lifecycle.OutcomeFailed || !errors.Is(err, storage.ErrSourceMissing) {
		t.Fatalf("expected missing source to fail permanently, got %s, %v", outcome, err)
	}

	paths := make(map[string]bool)
	for _, asset := range []store.MediaAsset{first, second} {
		media, err := f.store.GetMediaAsset(ctx, asset.ID)
		if err != nil {
			t.Fatalf("GetMediaAsset: %v", err)
		}
		if media.Status != store.AssetArchived {
			t.Fatalf("asset %s status = %s, want archived", asset.ID, media.Status)
		}
		if paths[media.StoragePath] {
			t.Fatalf("two assets archived to %s", media.StoragePath)
		}
		paths[media.StoragePath] = true
	}
	media, err := f.store.GetMediaAsset(ctx, missing.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset: %v", err)
	}
	if media.Status != store.AssetFailedArchive || media.StoragePath != "incoming/c/spot.mp4" {
		t.Fatalf("missing asset = %s at %s, want failed_archive at its source", media.Status, media.StoragePath)
	}
	if done, _ := f.machine.CompleteCampaign(ctx, campaign.ID); done {
		t.Fatal("campaign completed with an unacknowledged failed asset")
	}
}

func TestCampaignStaysActiveUntilEveryAssetSettles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")
	first := f.asset(t, campaign.ID, "a.mp4", true)
	second := f.asset(t, campaign.ID, "b.mp4", true)
	third := f.asset(t, campaign.ID, "c.mp4", false)
	if _, err := f.machine.Prepare(ctx, campaign.ID); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	for _, asset := range []store.MediaAsset{first, second} {
		claim, err := f.machine.Claim(ctx, asset.ID)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if outcome, err := f.machine.Archive(ctx, claim); outcome != lifecycle.OutcomeArchived {
			t.Fatalf("Archive %s = %s, %v", asset.ID, outcome, err)
		}
	}
	if done, err := f.machine.CompleteCampaign(ctx, campaign.ID); err != nil || done {
		t.Fatalf("campaign completed with an unsettled asset: %v, %v", done, err)
	}

	claim, err := f.machine.Claim(ctx, third.ID)
	if err != nil {
		t.Fatalf("Claim third: %v", err)
	}
	outcome, err := f.machine.Archive(ctx, claim)
	if outcome != lifecycle.OutcomeFailed || !errors.Is(err, storage.ErrSourceMissing) {
		t.Fatalf("expected permanent failure for missing source, got %s, %v", outcome, err)
	}
	if done, _ := f.machine.CompleteCampaign(ctx, campaign.ID); done {
		t.Fatal("campaign completed before the failure was acknowledged")
	}

	if err := f.machine.Acknowledge(ctx, third.ID, "ops@example.com"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if done, err := f.machine.CompleteCampaign(ctx, campaign.ID); err != nil || !done {
		t.Fatalf("CompleteCampaign after ack = %v, %v", done, err)
	}
	campaignRow, err := f.store.GetCampaign(ctx, campaign.ID)
	if err != nil || campaignRow.Status != store.CampaignCompleted {
		t.Fatalf("expected completed campaign, got %+v (%v)", campaignRow, err)
	}
}

func TestTransientFailuresEndInFailedArchive(t *testing.T) {
	mover := &flakyMover{}
	f := newFixture(t, stubMovers{mover: mover}, testsupport.WithMaxAttempts(3))
	ctx := context.Background()
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")
	asset := f.asset(t, campaign.ID, "spot.mp4", true)
	if _, err := f.machine.Prepare(ctx, campaign.ID); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var outcome lifecycle.Outcome
	for attempt := 1; attempt <= 3; attempt++ {
		claim, err := f.machine.Claim(ctx, asset.ID)
		if err != nil {
			t.Fatalf("Claim attempt %d: %v", attempt, err)
		}
		outcome, err = f.machine.Archive(ctx, claim)
		if !services.IsRetryable(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
		if attempt < 3 && outcome != lifecycle.OutcomeRetrying {
			t.Fatalf("attempt %d: expected retrying, got %s", attempt, outcome)
		}
	}
	if outcome != lifecycle.OutcomeFailed {
		t.Fatalf("expected failed at ceiling, got %s", outcome)
	}
	if f.sink.count() != 1 {
		t.Fatalf("expected one failure notification, got %d", f.sink.count())
	}
	if _, err := f.machine.Claim(ctx, asset.ID); !errors.Is(err, lifecycle.ErrAlreadyClaimed) {
		t.Fatalf("failed archive must not be claimable, got %v", err)
	}
	if !testsupport.Exists(t, filepath.Join(f.cfg.Storage.Local.Root, "incoming", "spot.mp4")) {
		t.Fatal("source data must be kept on failure")
	}

	n, err := f.machine.Retry(ctx, asset.ID)
	if err != nil || n != 1 {
		t.Fatalf("Retry = %d, %v", n, err)
	}
	if _, err := f.machine.Claim(ctx, asset.ID); err != nil {
		t.Fatalf("expected retried asset claimable, got %v", err)
	}
}

func TestReclaimStaleReleasesAbandonedClaims(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	campaign := testsupport.NewCampaign(t, f.store, time.Now().Add(-time.Hour), "kiosk-1")
	asset := f.asset(t, campaign.ID, "spot.mp4", true)
	if _, err := f.machine.Prepare(ctx, campaign.ID); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	f.store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	if _, err := f.machine.Claim(ctx, asset.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	f.store.SetClock(nil)

	n, err := f.machine.ReclaimStale(ctx, time.Now().Add(-f.cfg.ClaimTimeout()))
	if err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	claim, err := f.machine.Claim(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Claim after reclaim: %v", err)
	}
	if outcome, err := f.machine.Archive(ctx, claim); outcome != lifecycle.OutcomeArchived {
		t.Fatalf("Archive = %s, %v", outcome, err)
	}
}

func TestDetectorListsOnlyExpiredActiveCampaigns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	expired := testsupport.NewCampaign(t, f.store, now.Add(-time.Minute), "kiosk-1")
	testsupport.NewCampaign(t, f.store, now.Add(time.Hour), "kiosk-2")
	done := testsupport.NewCampaign(t, f.store, now.Add(-time.Hour), "kiosk-3")
	if err := f.store.SetCampaignStatus(ctx, done.ID, store.CampaignCompleted); err != nil {
		t.Fatalf("SetCampaignStatus: %v", err)
	}

	got, err := lifecycle.NewDetector(f.store).FindExpiredCampaigns(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredCampaigns: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Fatalf("expected only %s, got %+v", expired.ID, got)
	}
}
