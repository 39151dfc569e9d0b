package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marquee/internal/api"
	"marquee/internal/config"
	"marquee/internal/scheduler"
	"marquee/internal/store"
	"marquee/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestCycleRunEmitsSummaryJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"cycle", "run", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("cycle run: %v", err)
	}
	var summary scheduler.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if summary.CycleID == "" {
		t.Fatal("expected cycle id in summary")
	}
	if !summary.OK() {
		t.Fatalf("expected clean cycle, got %+v", summary.Errors)
	}
}

func TestAssetsFailedAckAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.openStore(t)
	ctx := context.Background()

	campaign := testsupport.NewCampaign(t, st, testsupport.Date(2026, 3, 5), "kiosk-1")
	asset := testsupport.NewAsset(t, st, campaign.ID, "kiosk-1", config.StorageLocal, "campaigns/missing.mp4")
	if _, err := st.EnsureLifecycleRecords(ctx, campaign.ID); err != nil {
		t.Fatalf("EnsureLifecycleRecords: %v", err)
	}
	if _, err := st.ClaimAsset(ctx, asset.ID, "token"); err != nil {
		t.Fatalf("ClaimAsset: %v", err)
	}
	if _, err := st.RecordAssetFailure(ctx, asset.ID, "token", "source missing", true, 5); err != nil {
		t.Fatalf("RecordAssetFailure: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, _, err := runCLI(t, []string{"assets", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("assets failed: %v", err)
	}
	var views []failedAssetView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode failed assets %q: %v", out, err)
	}
	if len(views) != 1 || views[0].AssetID != asset.ID || views[0].LastError != "source missing" {
		t.Fatalf("unexpected failed assets: %+v", views)
	}

	out, _, err = runCLI(t, []string{"assets", "ack", asset.ID, "--operator", "dana"}, env.configPath)
	if err != nil {
		t.Fatalf("assets ack: %v", err)
	}
	requireContains(t, out, "as dana")

	if _, _, err := runCLI(t, []string{"assets", "ack", "no-such-asset"}, env.configPath); err == nil {
		t.Fatal("expected ack of unknown asset to fail")
	}

	out, _, err = runCLI(t, []string{"assets", "retry", asset.ID}, env.configPath)
	if err != nil {
		t.Fatalf("assets retry: %v", err)
	}
	requireContains(t, out, "Reset 1 failed archive(s)")
}

func TestPayoutsListFiltersAndValidatesStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"payouts", "list", "--status", "pending"}, env.configPath)
	if err != nil {
		t.Fatalf("payouts list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", out)
	}

	if _, _, err := runCLI(t, []string{"payouts", "list", "--status", "lost"}, env.configPath); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}

	out, _, err = runCLI(t, []string{"payouts", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("payouts retry: %v", err)
	}
	requireContains(t, out, "Reset 0 payout(s)")
}

func TestPayoutViewFormatsAmount(t *testing.T) {
	view := toPayoutView(store.Payout{
		ID:          "p1",
		AmountCents: 14000,
		Currency:    "USD",
		Status:      store.PayoutCompleted,
		PeriodStart: testsupport.Date(2026, 3, 2),
		PeriodEnd:   testsupport.Date(2026, 3, 8),
	})
	if view.Amount != "USD 140.00" {
		t.Fatalf("expected formatted amount, got %q", view.Amount)
	}
	if view.PeriodStart != "2026-03-02" || view.PeriodEnd != "2026-03-08" {
		t.Fatalf("unexpected period %s..%s", view.PeriodStart, view.PeriodEnd)
	}
}

func TestStatusReportsIdleDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	if view.DaemonRunning {
		t.Fatal("expected daemon to be reported as stopped")
	}
	if view.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", view.Driver)
	}
}

func TestAPITokenIsAcceptedByServer(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"api-token", "--subject", "ops", "--ttl", "1h"}, env.configPath)
	if err != nil {
		t.Fatalf("api-token: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode token %q: %v", out, err)
	}
	claims, err := api.ParseToken(env.cfg.API.TokenSecret, payload["token"], time.Now())
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != api.RoleOperator {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]string{"Metric", "Value"}, [][]string{{"Payouts", "12"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "METRIC")
	requireContains(t, out, "VALUE")
	requireContains(t, out, "Payouts")
	requireContains(t, out, "12")
}

func TestLogsShowsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "cycle_id=a started\ncycle_id=b started\ncycle_id=a completed\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "marqueed.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--cycle", "cycle_id=a", "-n", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 2 || strings.Contains(out, "cycle_id=b") {
		t.Fatalf("unexpected log output %q", out)
	}
}
