package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const revenueColumns = "id, host_id, kiosk_id, record_date, impressions, clicks, revenue_cents, commission_rate_bp, commission_cents, payout_id, created_at, updated_at"

func scanRevenue(row scanner) (RevenueRecord, error) {
	var (
		r                      RevenueRecord
		date                   string
		payoutID               sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&r.ID, &r.HostID, &r.KioskID, &date, &r.Impressions, &r.Clicks, &r.RevenueCents,
		&r.CommissionRateBP, &r.CommissionCents, &payoutID, &createdRaw, &updatedRaw); err != nil {
		return RevenueRecord{}, err
	}
	r.Date = parseDate(date)
	r.PayoutID = payoutID.String
	r.CreatedAt = parseTime(createdRaw)
	r.UpdatedAt = parseTime(updatedRaw)
	return r, nil
}

// UpsertRevenueRecord inserts or refreshes the (host, kiosk, date) aggregate.
// Rows already attached to a payout are left untouched; applied reports
// whether the row was written. On a refresh r.ID is set to the existing row's id.
func (s *Store) UpsertRevenueRecord(ctx context.Context, r *RevenueRecord) (bool, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := formatTime(s.Now())
	var (
		id      string
		skipped bool
	)
	err := retryOnBusy(ctx, func() error {
		scanErr := s.queryRow(ctx,
			`INSERT INTO revenue_records (id, host_id, kiosk_id, record_date, impressions, clicks, revenue_cents,
			     commission_rate_bp, commission_cents, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (host_id, kiosk_id, record_date) DO UPDATE SET
			     impressions = excluded.impressions,
			     clicks = excluded.clicks,
			     revenue_cents = excluded.revenue_cents,
			     commission_rate_bp = excluded.commission_rate_bp,
			     commission_cents = excluded.commission_cents,
			     updated_at = excluded.updated_at
			 WHERE revenue_records.payout_id IS NULL
			 RETURNING id`,
			r.ID, r.HostID, r.KioskID, formatDate(r.Date), r.Impressions, r.Clicks, r.RevenueCents,
			r.CommissionRateBP, r.CommissionCents, now, now,
		).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			skipped = true
			return nil
		}
		return scanErr
	})
	if err != nil {
		return false, fmt.Errorf("upsert revenue record: %w", err)
	}
	if skipped {
		return false, nil
	}
	r.ID = id
	return true, nil
}

// ListRevenue returns a host's records with dates in [from, to] inclusive.
func (s *Store) ListRevenue(ctx context.Context, hostID string, from, to time.Time) ([]RevenueRecord, error) {
	return s.listRevenue(ctx,
		`WHERE host_id = ? AND record_date >= ? AND record_date <= ? ORDER BY record_date, kiosk_id`,
		hostID, formatDate(from), formatDate(to),
	)
}

// ListUnbatchedRevenue returns a host's records not attached to any payout.
func (s *Store) ListUnbatchedRevenue(ctx context.Context, hostID string) ([]RevenueRecord, error) {
	return s.listRevenue(ctx, `WHERE host_id = ? AND payout_id IS NULL ORDER BY record_date, kiosk_id`, hostID)
}

// ListPayoutRevenue returns the records attached to a payout.
func (s *Store) ListPayoutRevenue(ctx context.Context, payoutID string) ([]RevenueRecord, error) {
	return s.listRevenue(ctx, `WHERE payout_id = ? ORDER BY record_date, kiosk_id`, payoutID)
}

func (s *Store) listRevenue(ctx context.Context, where string, args ...any) ([]RevenueRecord, error) {
	rows, err := s.query(ctx, `SELECT `+revenueColumns+` FROM revenue_records `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list revenue: %w", err)
	}
	defer rows.Close()
	var out []RevenueRecord
	for rows.Next() {
		r, err := scanRevenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
