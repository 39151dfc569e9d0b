// Package payments talks to the external payment processor that moves money
// to hosts. Only transfer identifiers come back; rail mechanics stay with the
// processor.
package payments

import "context"

// TransferRequest asks the processor to move Amount minor units to Destination.
// IdempotencyKey must be identical across every attempt for the same payout.
type TransferRequest struct {
	Destination    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// AccountStatus reports whether a destination account can receive transfers.
type AccountStatus struct {
	ID             string
	PayoutsEnabled bool
	// DisabledReason is the processor's explanation when payouts are disabled.
	DisabledReason string
}

// Processor is the payment processor contract.
type Processor interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error)
}
