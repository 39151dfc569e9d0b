// Package payouts batches unpaid host revenue into payouts and dispatches
// them through the payment processor.
//
// The builder groups eligible revenue records into closed weekly (ISO
// Monday to Sunday) or monthly windows, defers totals under the host's
// minimum into the next window, and persists each batch with its per-kiosk
// statements in one transaction. A payout's amount always equals the sum of
// its statements.
//
// The dispatcher claims a payout, checks that the destination account can
// receive money, and creates the transfer with the idempotency key
// "payout-<id>", so a retried or reclaimed payout can never pay twice.
package payouts
