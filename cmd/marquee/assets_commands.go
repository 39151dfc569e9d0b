package main

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"marquee/internal/daemonrun"
	"marquee/internal/store"
)

type failedAssetView struct {
	AssetID        string `json:"assetId"`
	CampaignID     string `json:"campaignId"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError"`
	AcknowledgedBy string `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt string `json:"acknowledgedAt,omitempty"`
}

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect and resolve failed archives",
	}
	assetsCmd.AddCommand(newAssetsFailedCommand(ctx))
	assetsCmd.AddCommand(newAssetsAckCommand(ctx))
	assetsCmd.AddCommand(newAssetsRetryCommand(ctx))
	return assetsCmd
}

func newAssetsFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List assets whose archival failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				records, err := rt.Store.ListLifecyclesByStatus(runCtx, store.AssetFailedArchive)
				if err != nil {
					return err
				}
				views := make([]failedAssetView, 0, len(records))
				for _, r := range records {
					view := failedAssetView{
						AssetID:        r.AssetID,
						CampaignID:     r.CampaignID,
						Attempts:       r.Attempts,
						LastError:      r.LastError,
						AcknowledgedBy: r.AcknowledgedBy,
					}
					if r.AcknowledgedAt != nil {
						view.AcknowledgedAt = r.AcknowledgedAt.UTC().Format("2006-01-02 15:04")
					}
					views = append(views, view)
				}
				if ctx.wantJSON(cmd) {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No failed archives")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					acked := "-"
					if v.AcknowledgedBy != "" {
						acked = v.AcknowledgedBy + " " + v.AcknowledgedAt
					}
					rows = append(rows, []string{v.AssetID, v.CampaignID, strconv.Itoa(v.Attempts), truncate(v.LastError, 60), acked})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Asset", "Campaign", "Attempts", "Last Error", "Acknowledged"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newAssetsAckCommand(ctx *commandContext) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "ack <asset-id>",
		Short: "Acknowledge a failed archive so its campaign can complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who := strings.TrimSpace(operator)
			if who == "" {
				who = currentOperator()
			}
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				if err := rt.Orchestrator.Machine().Acknowledge(runCtx, args[0], who); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("asset %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged failed archive %s as %s\n", args[0], who)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "Name recorded with the acknowledgement (defaults to the current user)")
	return cmd
}

func newAssetsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [asset-id...]",
		Short: "Return failed archives to active; with no ids every failed archive is retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				n, err := rt.Orchestrator.Machine().Retry(runCtx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed archive(s)\n", n)
				return nil
			})
		},
	}
}

func currentOperator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
