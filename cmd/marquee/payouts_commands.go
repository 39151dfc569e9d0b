package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"marquee/internal/daemonrun"
	"marquee/internal/revenue"
	"marquee/internal/store"
)

type payoutView struct {
	ID          string `json:"id"`
	HostID      string `json:"hostId"`
	Status      string `json:"status"`
	FailureKind string `json:"failureKind,omitempty"`
	AmountCents int64  `json:"amountCents"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
	Attempts    int    `json:"attempts"`
	TransferID  string `json:"transferId,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type statementView struct {
	KioskID         string `json:"kioskId"`
	Impressions     int64  `json:"impressions"`
	Clicks          int64  `json:"clicks"`
	RevenueCents    int64  `json:"revenueCents"`
	Rate            string `json:"rate"`
	CommissionCents int64  `json:"commissionCents"`
}

func toPayoutView(p store.Payout) payoutView {
	return payoutView{
		ID:          p.ID,
		HostID:      p.HostID,
		Status:      string(p.Status),
		FailureKind: string(p.FailureKind),
		AmountCents: p.AmountCents,
		Amount:      revenue.Cents(p.AmountCents).Format(p.Currency),
		Currency:    p.Currency,
		PeriodStart: formatDay(p.PeriodStart),
		PeriodEnd:   formatDay(p.PeriodEnd),
		Attempts:    p.Attempts,
		TransferID:  p.TransferID,
		LastError:   p.LastError,
	}
}

func newPayoutsCommand(ctx *commandContext) *cobra.Command {
	payoutsCmd := &cobra.Command{
		Use:   "payouts",
		Short: "Inspect and retry host payouts",
	}
	payoutsCmd.AddCommand(newPayoutsListCommand(ctx))
	payoutsCmd.AddCommand(newPayoutsShowCommand(ctx))
	payoutsCmd.AddCommand(newPayoutsRetryCommand(ctx))
	return payoutsCmd
}

func newPayoutsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var hostID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.PayoutFilter{HostID: strings.TrimSpace(hostID)}
			for _, raw := range statuses {
				status, err := parsePayoutStatus(raw)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				payouts, err := rt.Store.ListPayouts(runCtx, filter)
				if err != nil {
					return err
				}
				views := make([]payoutView, 0, len(payouts))
				for _, p := range payouts {
					views = append(views, toPayoutView(p))
				}
				if ctx.wantJSON(cmd) {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No payouts")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					status := v.Status
					if v.FailureKind != "" {
						status += " (" + v.FailureKind + ")"
					}
					rows = append(rows, []string{
						v.ID, v.HostID, status, v.Amount,
						v.PeriodStart + ".." + v.PeriodEnd,
						strconv.Itoa(v.Attempts), truncate(v.LastError, 50),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Payout", "Host", "Status", "Amount", "Period", "Attempts", "Last Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().StringVar(&hostID, "host", "", "Filter by host id")
	return cmd
}

func newPayoutsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <payout-id>",
		Short: "Show a payout and its per-kiosk statements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				payout, err := rt.Store.GetPayout(runCtx, args[0])
				if err != nil {
					return err
				}
				statements, err := rt.Store.ListStatements(runCtx, payout.ID)
				if err != nil {
					return err
				}
				view := toPayoutView(payout)
				lines := make([]statementView, 0, len(statements))
				for _, s := range statements {
					lines = append(lines, statementView{
						KioskID:         s.KioskID,
						Impressions:     s.Impressions,
						Clicks:          s.Clicks,
						RevenueCents:    s.RevenueCents,
						Rate:            revenue.Rate(s.CommissionRateBP).String(),
						CommissionCents: s.CommissionCents,
					})
				}
				if ctx.wantJSON(cmd) {
					return writeJSON(cmd, struct {
						Payout     payoutView      `json:"payout"`
						Statements []statementView `json:"statements"`
					}{view, lines})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Payout %s for host %s: %s %s (%s..%s)\n",
					view.ID, view.HostID, view.Status, view.Amount, view.PeriodStart, view.PeriodEnd)
				if view.TransferID != "" {
					fmt.Fprintf(out, "Transfer: %s\n", view.TransferID)
				}
				if view.LastError != "" {
					fmt.Fprintf(out, "Last error: %s\n", view.LastError)
				}
				rows := make([][]string, 0, len(lines))
				for _, s := range lines {
					rows = append(rows, []string{
						s.KioskID,
						strconv.FormatInt(s.Impressions, 10),
						strconv.FormatInt(s.Clicks, 10),
						revenue.Cents(s.RevenueCents).Format(payout.Currency),
						s.Rate,
						revenue.Cents(s.CommissionCents).Format(payout.Currency),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Kiosk", "Impressions", "Clicks", "Revenue", "Rate", "Commission"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newPayoutsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [payout-id...]",
		Short: "Return retry-exhausted payouts to pending; with no ids every one is retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				n, err := rt.Orchestrator.Dispatcher().Retry(runCtx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d payout(s) for retry\n", n)
				return nil
			})
		},
	}
}

func parsePayoutStatus(raw string) (store.PayoutStatus, error) {
	status := store.PayoutStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case store.PayoutPending, store.PayoutProcessing, store.PayoutCompleted, store.PayoutFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown payout status %q", raw)
	}
}
