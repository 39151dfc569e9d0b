package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const payoutColumns = "id, host_id, amount_cents, currency, status, period_start, period_end, payout_method, destination_account, transfer_id, attempts, last_error, failure_kind, claim_token, last_heartbeat, completed_at, created_at, updated_at"

const statementColumns = "id, payout_id, kiosk_id, impressions, clicks, revenue_cents, commission_rate_bp, commission_cents, created_at"

func scanPayout(row scanner) (Payout, error) {
	var (
		p                      Payout
		status, failureKind    string
		start, end             string
		transferID, claim      sql.NullString
		heartbeat, completed   sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&p.ID, &p.HostID, &p.AmountCents, &p.Currency, &status, &start, &end, &p.PayoutMethod,
		&p.DestinationAccount, &transferID, &p.Attempts, &p.LastError, &failureKind, &claim, &heartbeat,
		&completed, &createdRaw, &updatedRaw); err != nil {
		return Payout{}, err
	}
	p.Status = PayoutStatus(status)
	p.FailureKind = FailureKind(failureKind)
	p.PeriodStart = parseDate(start)
	p.PeriodEnd = parseDate(end)
	p.TransferID = transferID.String
	p.ClaimToken = claim.String
	p.LastHeartbeat = parseNullTime(heartbeat)
	p.CompletedAt = parseNullTime(completed)
	p.CreatedAt = parseTime(createdRaw)
	p.UpdatedAt = parseTime(updatedRaw)
	return p, nil
}

// CreatePayoutBatch persists a pending payout, its statements, and attaches
// the covered revenue records in one transaction. Attachment is conditional
// on the records still being unbatched; if a concurrent builder took any of
// them the whole batch rolls back with ErrConflict.
func (s *Store) CreatePayoutBatch(ctx context.Context, p *Payout, statements []PayoutStatement, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return errors.New("create payout batch: no revenue records")
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	p.Status = PayoutPending
	now := s.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	stamp := formatTime(now)

	return s.withTx(ctx, func(t tx) error {
		if _, err := t.exec(ctx,
			`INSERT INTO payouts (id, host_id, amount_cents, currency, status, period_start, period_end, payout_method,
			     destination_account, attempts, last_error, failure_kind, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', '', ?, ?)`,
			p.ID, p.HostID, p.AmountCents, p.Currency, string(p.Status), formatDate(p.PeriodStart), formatDate(p.PeriodEnd),
			p.PayoutMethod, p.DestinationAccount, stamp, stamp,
		); err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
		for i := range statements {
			st := &statements[i]
			if st.ID == "" {
				st.ID = NewID()
			}
			st.PayoutID = p.ID
			st.CreatedAt = now
			if _, err := t.exec(ctx,
				`INSERT INTO payout_statements (`+statementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				st.ID, st.PayoutID, st.KioskID, st.Impressions, st.Clicks, st.RevenueCents, st.CommissionRateBP,
				st.CommissionCents, stamp,
			); err != nil {
				return fmt.Errorf("insert payout statement: %w", err)
			}
		}
		res, err := t.exec(ctx,
			`UPDATE revenue_records SET payout_id = ?, updated_at = ? WHERE id IN (`+makePlaceholders(len(recordIDs))+`) AND payout_id IS NULL`,
			append([]any{p.ID, stamp}, stringArgs(recordIDs)...)...,
		)
		if err != nil {
			return fmt.Errorf("attach revenue records: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected != int64(len(recordIDs)) {
			return fmt.Errorf("attach revenue records: %d of %d still unbatched: %w", affected, len(recordIDs), ErrConflict)
		}
		return verifyAttachedCommission(ctx, t, p, statements)
	})
}

// verifyAttachedCommission re-reads the attached records inside the batch
// transaction. A record re-aggregated after the builder read it no longer
// matches its statement, and the batch rolls back with ErrConflict.
func verifyAttachedCommission(ctx context.Context, t tx, p *Payout, statements []PayoutStatement) error {
	rows, err := t.query(ctx,
		`SELECT kiosk_id, SUM(commission_cents) FROM revenue_records WHERE payout_id = ? GROUP BY kiosk_id`,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("verify attached revenue: %w", err)
	}
	defer rows.Close()
	attached := make(map[string]int64)
	var total int64
	for rows.Next() {
		var (
			kiosk string
			sum   int64
		)
		if err := rows.Scan(&kiosk, &sum); err != nil {
			return fmt.Errorf("verify attached revenue: %w", err)
		}
		attached[kiosk] = sum
		total += sum
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verify attached revenue: %w", err)
	}
	if total != p.AmountCents {
		return fmt.Errorf("attached commission %d differs from payout amount %d: %w", total, p.AmountCents, ErrConflict)
	}
	for _, st := range statements {
		if attached[st.KioskID] != st.CommissionCents {
			return fmt.Errorf("kiosk %s: attached commission %d differs from statement %d: %w",
				st.KioskID, attached[st.KioskID], st.CommissionCents, ErrConflict)
		}
	}
	return nil
}

// GetPayout loads a payout by id.
func (s *Store) GetPayout(ctx context.Context, id string) (Payout, error) {
	p, err := scanPayout(s.queryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Payout{}, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Payout{}, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

// PayoutFilter narrows ListPayouts. Zero values match everything.
type PayoutFilter struct {
	HostID   string
	Statuses []PayoutStatus
}

// ListPayouts returns payouts matching the filter, oldest first.
func (s *Store) ListPayouts(ctx context.Context, filter PayoutFilter) ([]Payout, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.HostID != "" {
		clauses = append(clauses, "host_id = ?")
		args = append(args, filter.HostID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	return s.listPayouts(ctx, where+"ORDER BY created_at, id", args...)
}

// ListDispatchablePayouts returns a host's payouts that a dispatcher may
// claim: pending, or processing with a released claim.
func (s *Store) ListDispatchablePayouts(ctx context.Context, hostID string) ([]Payout, error) {
	return s.listPayouts(ctx,
		`WHERE host_id = ? AND (status = ? OR (status = ? AND last_heartbeat IS NULL)) ORDER BY period_start, created_at, id`,
		hostID, string(PayoutPending), string(PayoutProcessing),
	)
}

func (s *Store) listPayouts(ctx context.Context, where string, args ...any) ([]Payout, error) {
	rows, err := s.query(ctx, `SELECT `+payoutColumns+` FROM payouts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStatements returns the per-kiosk statements of a payout.
func (s *Store) ListStatements(ctx context.Context, payoutID string) ([]PayoutStatement, error) {
	rows, err := s.query(ctx, `SELECT `+statementColumns+` FROM payout_statements WHERE payout_id = ? ORDER BY kiosk_id`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()
	var out []PayoutStatement
	for rows.Next() {
		var (
			st         PayoutStatement
			createdRaw string
		)
		if err := rows.Scan(&st.ID, &st.PayoutID, &st.KioskID, &st.Impressions, &st.Clicks, &st.RevenueCents,
			&st.CommissionRateBP, &st.CommissionCents, &createdRaw); err != nil {
			return nil, err
		}
		st.CreatedAt = parseTime(createdRaw)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ClaimPayout moves a payout to processing under the given token.
func (s *Store) ClaimPayout(ctx context.Context, id, token string) (Payout, error) {
	now := formatTime(s.Now())
	res, err := s.exec(ctx,
		`UPDATE payouts SET status = ?, claim_token = ?, last_heartbeat = ?, updated_at = ?
		 WHERE id = ? AND (status = ? OR (status = ? AND last_heartbeat IS NULL))`,
		string(PayoutProcessing), token, now, now, id, string(PayoutPending), string(PayoutProcessing),
	)
	if err != nil {
		return Payout{}, fmt.Errorf("claim payout: %w", err)
	}
	if err := expectOneRow(res, ErrAlreadyClaimed); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			if _, getErr := s.GetPayout(ctx, id); errors.Is(getErr, ErrNotFound) {
				return Payout{}, getErr
			}
		}
		return Payout{}, err
	}
	return s.GetPayout(ctx, id)
}

// TouchPayoutHeartbeat refreshes the heartbeat of a claimed payout.
func (s *Store) TouchPayoutHeartbeat(ctx context.Context, id, token string) error {
	res, err := s.exec(ctx,
		`UPDATE payouts SET last_heartbeat = ? WHERE id = ? AND claim_token = ? AND status = ?`,
		formatTime(s.Now()), id, token, string(PayoutProcessing),
	)
	if err != nil {
		return fmt.Errorf("payout heartbeat: %w", err)
	}
	return expectOneRow(res, ErrClaimLost)
}

// CompletePayout records a successful transfer.
func (s *Store) CompletePayout(ctx context.Context, id, token, transferID string) error {
	now := formatTime(s.Now())
	res, err := s.exec(ctx,
		`UPDATE payouts SET status = ?, transfer_id = ?, completed_at = ?, last_error = '', claim_token = NULL,
		     last_heartbeat = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ? AND status = ?`,
		string(PayoutCompleted), transferID, now, now, id, token, string(PayoutProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete payout: %w", err)
	}
	return expectOneRow(res, ErrClaimLost)
}

// DeferPayout returns a claimed payout to pending without consuming an attempt.
func (s *Store) DeferPayout(ctx context.Context, id, token, reason string) error {
	res, err := s.exec(ctx,
		`UPDATE payouts SET status = ?, last_error = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ? AND status = ?`,
		string(PayoutPending), reason, formatTime(s.Now()), id, token, string(PayoutProcessing),
	)
	if err != nil {
		return fmt.Errorf("defer payout: %w", err)
	}
	return expectOneRow(res, ErrClaimLost)
}

// RecordPayoutFailure counts a failed transfer attempt.
//
// A transient failure below maxAttempts releases the claim and leaves the
// payout processing for the next cycle. A transient failure at the ceiling
// ends in failed/retry_exhausted with revenue still attached. A permanent
// failure ends in failed/rejected and detaches the revenue records so they
// become eligible for a future batch.
func (s *Store) RecordPayoutFailure(ctx context.Context, id, token, message string, permanent bool, maxAttempts int) (Payout, error) {
	now := formatTime(s.Now())
	err := s.withTx(ctx, func(t tx) error {
		var attempts int
		err := t.queryRow(ctx,
			`SELECT attempts FROM payouts WHERE id = ? AND claim_token = ? AND status = ?`,
			id, token, string(PayoutProcessing),
		).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClaimLost
		}
		if err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}
		attempts++

		switch {
		case permanent:
			if _, err := t.exec(ctx,
				`UPDATE payouts SET status = ?, failure_kind = ?, attempts = ?, last_error = ?, claim_token = NULL,
				     last_heartbeat = NULL, updated_at = ?
				 WHERE id = ?`,
				string(PayoutFailed), string(FailureRejected), attempts, message, now, id,
			); err != nil {
				return fmt.Errorf("reject payout: %w", err)
			}
			if _, err := t.exec(ctx,
				`UPDATE revenue_records SET payout_id = NULL, updated_at = ? WHERE payout_id = ?`,
				now, id,
			); err != nil {
				return fmt.Errorf("release revenue records: %w", err)
			}
		case attempts >= maxAttempts:
			if _, err := t.exec(ctx,
				`UPDATE payouts SET status = ?, failure_kind = ?, attempts = ?, last_error = ?, claim_token = NULL,
				     last_heartbeat = NULL, updated_at = ?
				 WHERE id = ?`,
				string(PayoutFailed), string(FailureRetryExhausted), attempts, message, now, id,
			); err != nil {
				return fmt.Errorf("exhaust payout: %w", err)
			}
		default:
			if _, err := t.exec(ctx,
				`UPDATE payouts SET attempts = ?, last_error = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
				 WHERE id = ?`,
				attempts, message, now, id,
			); err != nil {
				return fmt.Errorf("release payout claim: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return s.GetPayout(ctx, id)
}

// RetryExhaustedPayouts returns retry_exhausted payouts to pending with a
// fresh attempt budget. The payout id, and so its idempotency key, is kept.
// With no ids, every retry_exhausted payout is reset.
func (s *Store) RetryExhaustedPayouts(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE payouts SET status = ?, failure_kind = '', attempts = 0, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
		WHERE status = ? AND failure_kind = ?`
	args := []any{string(PayoutPending), formatTime(s.Now()), string(PayoutFailed), string(FailureRetryExhausted)}
	if len(ids) > 0 {
		query += " AND id IN (" + makePlaceholders(len(ids)) + ")"
		args = append(args, stringArgs(ids)...)
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry payouts: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStalePayouts releases processing claims whose heartbeat is older
// than cutoff. The payout stays processing and is re-dispatched with the same
// idempotency key.
func (s *Store) ReclaimStalePayouts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE payouts SET claim_token = NULL, last_heartbeat = NULL, updated_at = ?
		 WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		formatTime(s.Now()), string(PayoutProcessing), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale payouts: %w", err)
	}
	return res.RowsAffected()
}
