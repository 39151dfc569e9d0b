package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"marquee/internal/config"
	"marquee/internal/daemonrun"
	"marquee/internal/preflight"
)

type statusView struct {
	DaemonRunning    bool               `json:"daemonRunning"`
	DaemonPID        string             `json:"daemonPid,omitempty"`
	LockPath         string             `json:"lockPath"`
	Driver           string             `json:"driver"`
	ActiveCampaigns  int                `json:"activeCampaigns"`
	UnbatchedRecords int                `json:"unbatchedRecords"`
	Assets           map[string]int     `json:"assets"`
	Payouts          map[string]int     `json:"payouts"`
	Checks           []preflight.Result `json:"checks,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checks bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				health, err := rt.Store.Health(runCtx)
				if err != nil {
					return err
				}
				running, err := daemonHoldsLock(rt.Config)
				if err != nil {
					return err
				}
				view := statusView{
					DaemonRunning:    running,
					LockPath:         rt.Config.LockPath(),
					Driver:           health.Driver,
					ActiveCampaigns:  health.ActiveCampaigns,
					UnbatchedRecords: health.UnbatchedRecords,
					Assets:           make(map[string]int),
					Payouts:          make(map[string]int),
				}
				if running {
					view.DaemonPID = daemonPID(rt.Config)
				}
				for status, n := range health.AssetsByStatus {
					view.Assets[string(status)] = n
				}
				for status, n := range health.PayoutsByStatus {
					view.Payouts[string(status)] = n
				}
				if checks {
					view.Checks = preflight.RunAll(runCtx, rt.Config, rt.Store)
				}
				if ctx.wantJSON(cmd) {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				if view.DaemonPID != "" {
					fmt.Fprintf(out, "Daemon running: yes (pid %s)\n", view.DaemonPID)
				} else {
					fmt.Fprintf(out, "Daemon running: %s\n", yesNo(view.DaemonRunning))
				}
				fmt.Fprintf(out, "Database: %s\n", view.Driver)
				fmt.Fprintf(out, "Active campaigns: %d\n", view.ActiveCampaigns)
				fmt.Fprintf(out, "Unbatched revenue records: %d\n", view.UnbatchedRecords)
				fmt.Fprintln(out, renderCounts("Assets", view.Assets))
				fmt.Fprintln(out, renderCounts("Payouts", view.Payouts))
				if len(view.Checks) > 0 {
					fmt.Fprintln(out, renderChecks(view.Checks))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checks, "check", false, "Also run readiness checks against the database, storage and payment processor")
	return cmd
}

func renderChecks(results []preflight.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "ok"
		if !r.Passed {
			state = "FAIL"
		}
		rows = append(rows, []string{r.Name, state, r.Detail})
	}
	return renderTable([]string{"Check", "State", "Detail"}, rows, nil)
}

func renderCounts(title string, counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"-", "0"})
	}
	return renderTable([]string{title, "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

// daemonHoldsLock tries the daemon lock without keeping it.
func daemonHoldsLock(cfg *config.Config) (bool, error) {
	path := cfg.LockPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// daemonPID reads the pid file written next to the lock by marqueed.
func daemonPID(cfg *config.Config) string {
	data, err := os.ReadFile(strings.TrimSuffix(cfg.LockPath(), ".lock") + ".pid")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
