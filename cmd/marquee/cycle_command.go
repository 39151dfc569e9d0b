package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"marquee/internal/daemonrun"
	"marquee/internal/scheduler"
)

func newCycleCommand(ctx *commandContext) *cobra.Command {
	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run scheduler cycles",
	}
	cycleCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one archive, aggregate, batch and dispatch cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				summary := rt.Orchestrator.RunCycle(runCtx)
				if ctx.wantJSON(cmd) {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderSummary(summary))
				}
				if !summary.OK() {
					return fmt.Errorf("cycle %s finished with %d error(s)", summary.CycleID, len(summary.Errors))
				}
				return nil
			})
		},
	})
	return cycleCmd
}

func renderSummary(s scheduler.Summary) string {
	count := func(n int) string { return strconv.Itoa(n) }
	rows := [][]string{
		{"Cycle", s.CycleID},
		{"Duration", s.Duration},
		{"Stale claims freed", strconv.FormatInt(s.StaleClaimsFreed, 10)},
		{"Campaigns processed", count(s.CampaignsProcessed)},
		{"Campaigns completed", count(s.CampaignsCompleted)},
		{"Assets archived", count(s.AssetsArchived)},
		{"Assets failed", count(s.AssetsFailed)},
		{"Assets retrying", count(s.AssetsRetrying)},
		{"Revenue records", count(s.RevenueRecords)},
		{"Payouts created", count(s.PayoutsCreated)},
		{"Payouts dispatched", count(s.PayoutsDispatched)},
		{"Payouts deferred", count(s.PayoutsDeferred)},
		{"Payouts failed", count(s.PayoutsFailed)},
	}
	out := renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}) + "\n"
	if len(s.Errors) == 0 {
		return out
	}
	errRows := make([][]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		errRows = append(errRows, []string{e.Stage, e.EntityID, truncate(e.Message, 80)})
	}
	return out + renderTable([]string{"Stage", "Entity", "Error"}, errRows, nil) + "\n"
}
