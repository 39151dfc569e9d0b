package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marquee/internal/config"
	"marquee/internal/heartbeat"
	"marquee/internal/logging"
	"marquee/internal/notifications"
	"marquee/internal/payments"
	"marquee/internal/revenue"
	"marquee/internal/services"
	"marquee/internal/store"
)

// ErrAlreadyClaimed is returned when another dispatcher holds the payout.
var ErrAlreadyClaimed = store.ErrAlreadyClaimed

// Outcome is what a dispatch attempt did to a payout.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// DispatchResult reports a single dispatch attempt.
type DispatchResult struct {
	PayoutID    string
	Outcome     Outcome
	TransferID  string
	Attempts    int
	FailureKind store.FailureKind
	Reason      string
}

// DispatchOptions tunes retry and timing behaviour.
type DispatchOptions struct {
	MaxAttempts       int
	CallTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// DispatchOptionsFromConfig reads dispatch options from the scheduler and
// payments sections.
func DispatchOptionsFromConfig(cfg *config.Config) DispatchOptions {
	return DispatchOptions{
		MaxAttempts:       cfg.Scheduler.MaxAttempts,
		CallTimeout:       cfg.PaymentsTimeout(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
	}
}

// Dispatcher sends pending payouts to the payment processor.
type Dispatcher struct {
	store     *store.Store
	processor payments.Processor
	sink      notifications.Sink
	heartbeat *heartbeat.Monitor
	logger    *slog.Logger
	opts      DispatchOptions
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(st *store.Store, processor payments.Processor, sink notifications.Sink, logger *slog.Logger, opts DispatchOptions) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = notifications.Noop{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{
		store:     st,
		processor: processor,
		sink:      sink,
		heartbeat: heartbeat.New(opts.HeartbeatInterval, logger),
		logger:    logger,
		opts:      opts,
	}
}

// Dispatch claims a payout and attempts its transfer. The returned error is
// the attempt's failure cause; the result says what the payout became.
func (d *Dispatcher) Dispatch(ctx context.Context, payoutID string) (DispatchResult, error) {
	ctx = services.WithStage(services.WithEntityID(ctx, payoutID), "dispatch")
	result := DispatchResult{PayoutID: payoutID}

	token := uuid.NewString()
	payout, err := d.store.ClaimPayout(ctx, payoutID, token)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			result.Outcome = OutcomeSkipped
		}
		return result, err
	}
	result.Attempts = payout.Attempts

	guarded, stop := d.heartbeat.Guard(ctx, func(hbCtx context.Context) error {
		return d.store.TouchPayoutHeartbeat(hbCtx, payoutID, token)
	})
	defer stop()

	status, err := d.accountStatus(guarded, payout.DestinationAccount)
	if err != nil {
		return d.fail(ctx, payout, token, err)
	}
	if !status.PayoutsEnabled {
		reason := "destination account cannot receive payouts"
		if status.DisabledReason != "" {
			reason += ": " + status.DisabledReason
		}
		if err := d.store.DeferPayout(ctx, payoutID, token, reason); err != nil {
			return result, err
		}
		logging.WithContext(ctx, d.logger).Info("payout deferred",
			logging.String("account", payout.DestinationAccount),
			logging.String("reason", reason),
		)
		result.Outcome = OutcomeDeferred
		result.Reason = reason
		return result, nil
	}

	transferID, err := d.transfer(guarded, payout)
	if err != nil {
		return d.fail(ctx, payout, token, err)
	}
	logger := logging.WithContext(ctx, d.logger)
	if err := d.store.CompletePayout(ctx, payoutID, token, transferID); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			// The next dispatch resends the same idempotency key and gets this transfer back.
			logging.WarnWithContext(logger, "claim lost after transfer", "payout_claim_lost",
				logging.String("transfer_id", transferID),
			)
		}
		result.Outcome = OutcomeRetrying
		return result, err
	}
	logger.Info("payout completed",
		logging.String("transfer_id", transferID),
		logging.String("amount", revenue.Cents(payout.AmountCents).Format(payout.Currency)),
	)
	result.Outcome = OutcomeCompleted
	result.TransferID = transferID
	return result, nil
}

func (d *Dispatcher) accountStatus(ctx context.Context, account string) (payments.AccountStatus, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	return d.processor.GetAccountStatus(callCtx, account)
}

func (d *Dispatcher) transfer(ctx context.Context, payout store.Payout) (string, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	transferID, err := d.processor.CreateTransfer(callCtx, payments.TransferRequest{
		Destination:    payout.DestinationAccount,
		AmountCents:    payout.AmountCents,
		Currency:       payout.Currency,
		IdempotencyKey: payout.IdempotencyKey(),
		Description:    fmt.Sprintf("Commission %s to %s", payout.PeriodStart.Format(store.DateLayout), payout.PeriodEnd.Format(store.DateLayout)),
		Metadata: map[string]string{
			"payout_id": payout.ID,
			"host_id":   payout.HostID,
		},
	})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		err = services.Wrap(services.ErrTimeout, "dispatch", "create transfer", "transfer timed out", err)
	}
	return transferID, err
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opts.CallTimeout)
}

func (d *Dispatcher) fail(ctx context.Context, payout store.Payout, token string, cause error) (DispatchResult, error) {
	if errors.Is(cause, services.ErrConfiguration) {
		return d.hold(ctx, payout, token, cause)
	}
	logger := logging.WithContext(ctx, d.logger)
	result := DispatchResult{PayoutID: payout.ID, Outcome: OutcomeRetrying, Reason: payments.Reason(cause)}
	permanent := services.Classify(cause) == services.ClassPermanent

	updated, err := d.store.RecordPayoutFailure(ctx, payout.ID, token, cause.Error(), permanent, d.opts.MaxAttempts)
	if err != nil {
		return result, errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	result.Attempts = updated.Attempts
	result.FailureKind = updated.FailureKind
	if updated.Status != store.PayoutFailed {
		logging.WarnWithContext(logger, "transfer attempt failed; will retry", "payout_retry",
			logging.Int("attempts", updated.Attempts),
			logging.Int("max_attempts", d.opts.MaxAttempts),
			logging.Error(cause),
		)
		return result, cause
	}

	result.Outcome = OutcomeFailed
	hint := "fix the destination account; the revenue returns to the next batch"
	if updated.FailureKind == store.FailureRetryExhausted {
		hint = "once the processor recovers run `marquee payouts retry " + payout.ID + "`"
	}
	logging.ErrorWithContext(logger, "payout failed", "payout_failed",
		logging.String("failure_kind", string(updated.FailureKind)),
		logging.Int("attempts", updated.Attempts),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, hint),
		logging.Alert("payout_failed"),
	)
	if err := d.sink.Publish(ctx, notifications.EventPayoutFailed, notifications.Payload{
		"payoutId":    payout.ID,
		"hostId":      payout.HostID,
		"amount":      revenue.Cents(payout.AmountCents).Format(payout.Currency),
		"failureKind": string(updated.FailureKind),
		"attempts":    updated.Attempts,
		"error":       result.Reason,
	}); err != nil {
		logger.Warn("payout failure notification failed", logging.Error(err))
	}
	return result, cause
}

// hold releases a payout back to pending after a failure on our side of the
// processor integration, such as rejected API credentials. No attempt is
// consumed and the revenue stays attached.
func (d *Dispatcher) hold(ctx context.Context, payout store.Payout, token string, cause error) (DispatchResult, error) {
	result := DispatchResult{
		PayoutID: payout.ID,
		Outcome:  OutcomeDeferred,
		Attempts: payout.Attempts,
		Reason:   payments.Reason(cause),
	}
	if err := d.store.DeferPayout(ctx, payout.ID, token, cause.Error()); err != nil {
		result.Outcome = OutcomeRetrying
		return result, errors.Join(cause, fmt.Errorf("hold payout: %w", err))
	}
	logging.ErrorWithContext(logging.WithContext(ctx, d.logger), "payout held on processor configuration error", "payout_config_error",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check payments.api_key and payments.base_url; the payout stays pending"),
		logging.Alert("payments_configuration"),
	)
	return result, cause
}

// Retry returns retry_exhausted payouts to pending. The payout keeps its id
// and so its idempotency key.
func (d *Dispatcher) Retry(ctx context.Context, payoutIDs ...string) (int64, error) {
	return d.store.RetryExhaustedPayouts(ctx, payoutIDs...)
}

// ReclaimStale releases processing claims whose heartbeat is older than cutoff.
func (d *Dispatcher) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := d.store.ReclaimStalePayouts(ctx, cutoff)
	if err == nil && n > 0 {
		logging.WithContext(ctx, d.logger).Info("reclaimed stale payout claims", logging.Int64("count", n))
	}
	return n, err
}

// Dispatchable lists the host's payouts that can be dispatched now.
func (d *Dispatcher) Dispatchable(ctx context.Context, hostID string) ([]store.Payout, error) {
	return d.store.ListDispatchablePayouts(ctx, hostID)
}
