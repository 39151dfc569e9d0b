package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const hostColumns = "id, name, payout_period, minimum_payout_cents, payout_method, destination_account, currency, created_at, updated_at"

const assignmentColumns = "id, host_id, kiosk_id, commission_rate_bp, status, active_from, active_until, created_at, updated_at"

func scanHost(row scanner) (Host, error) {
	var (
		h                      Host
		period                 string
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&h.ID, &h.Name, &period, &h.MinimumPayoutCents, &h.PayoutMethod, &h.DestinationAccount,
		&h.Currency, &createdRaw, &updatedRaw); err != nil {
		return Host{}, err
	}
	h.PayoutPeriod = PayoutPeriod(period)
	h.CreatedAt = parseTime(createdRaw)
	h.UpdatedAt = parseTime(updatedRaw)
	return h, nil
}

func scanAssignment(row scanner) (Assignment, error) {
	var (
		a                      Assignment
		status, from           string
		until                  sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&a.ID, &a.HostID, &a.KioskID, &a.CommissionRateBP, &status, &from, &until,
		&createdRaw, &updatedRaw); err != nil {
		return Assignment{}, err
	}
	a.Status = AssignmentStatus(status)
	a.ActiveFrom = parseDate(from)
	if until.Valid {
		a.ActiveUntil = parseDate(until.String)
	}
	a.CreatedAt = parseTime(createdRaw)
	a.UpdatedAt = parseTime(updatedRaw)
	return a, nil
}

// InsertHost stores a host.
func (s *Store) InsertHost(ctx context.Context, h *Host) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	now := s.Now()
	h.CreatedAt, h.UpdatedAt = now, now
	if _, err := s.exec(ctx,
		`INSERT INTO hosts (`+hostColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, string(h.PayoutPeriod), h.MinimumPayoutCents, h.PayoutMethod, h.DestinationAccount,
		h.Currency, formatTime(now), formatTime(now),
	); err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	return nil
}

// GetHost loads a host by id.
func (s *Store) GetHost(ctx context.Context, id string) (Host, error) {
	h, err := scanHost(s.queryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Host{}, fmt.Errorf("host %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Host{}, fmt.Errorf("get host: %w", err)
	}
	return h, nil
}

// ListHosts returns every host ordered by id.
func (s *Store) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()
	var out []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpsertAssignment creates or updates a host/kiosk assignment. A changed rate
// is appended to the rate history effective from the given date. A new or
// reactivated assignment starts earning on effectiveFrom; an assignment that
// stays active keeps its original start.
func (s *Store) UpsertAssignment(ctx context.Context, a *Assignment, effectiveFrom time.Time) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Status == "" {
		a.Status = AssignmentActive
	}
	now := formatTime(s.Now())
	return s.withTx(ctx, func(t tx) error {
		existing, err := scanAssignment(t.queryRow(ctx,
			`SELECT `+assignmentColumns+` FROM host_kiosk_assignments WHERE host_id = ? AND kiosk_id = ?`,
			a.HostID, a.KioskID,
		))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			a.ActiveFrom, a.ActiveUntil = dayStart(effectiveFrom), time.Time{}
			if _, err := t.exec(ctx,
				`INSERT INTO host_kiosk_assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
				a.ID, a.HostID, a.KioskID, a.CommissionRateBP, string(a.Status), formatDate(a.ActiveFrom), now, now,
			); err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
			return insertRateChange(ctx, t, a.HostID, a.KioskID, a.CommissionRateBP, effectiveFrom, now)
		case err != nil:
			return fmt.Errorf("read assignment: %w", err)
		}

		a.ID = existing.ID
		a.ActiveFrom, a.ActiveUntil = existing.ActiveFrom, existing.ActiveUntil
		if existing.Status != AssignmentActive && a.Status == AssignmentActive {
			a.ActiveFrom, a.ActiveUntil = dayStart(effectiveFrom), time.Time{}
		}
		if _, err := t.exec(ctx,
			`UPDATE host_kiosk_assignments SET commission_rate_bp = ?, status = ?, active_from = ?, active_until = ?, updated_at = ?
			 WHERE id = ?`,
			a.CommissionRateBP, string(a.Status), formatDate(a.ActiveFrom), nullableDate(a.ActiveUntil), now, a.ID,
		); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		if existing.CommissionRateBP == a.CommissionRateBP {
			return nil
		}
		return insertRateChange(ctx, t, a.HostID, a.KioskID, a.CommissionRateBP, effectiveFrom, now)
	})
}

// EndAssignment stops a kiosk earning for a host from until onwards. Days
// before until stay credited to the host, so a kiosk can move to another host
// without either host being paid for the other's days.
func (s *Store) EndAssignment(ctx context.Context, hostID, kioskID string, until time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE host_kiosk_assignments SET status = ?, active_until = ?, updated_at = ?
		 WHERE host_id = ? AND kiosk_id = ? AND status = ?`,
		string(AssignmentInactive), formatDate(until), formatTime(s.Now()), hostID, kioskID, string(AssignmentActive),
	)
	if err != nil {
		return fmt.Errorf("end assignment: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("active assignment %s/%s: %w", hostID, kioskID, ErrNotFound))
}

// SetCommissionRate changes a kiosk's rate from effectiveFrom onwards. Revenue
// already aggregated keeps its snapshot rate.
func (s *Store) SetCommissionRate(ctx context.Context, hostID, kioskID string, rateBP int64, effectiveFrom time.Time) error {
	now := formatTime(s.Now())
	return s.withTx(ctx, func(t tx) error {
		res, err := t.exec(ctx,
			`UPDATE host_kiosk_assignments SET commission_rate_bp = ?, updated_at = ? WHERE host_id = ? AND kiosk_id = ?`,
			rateBP, now, hostID, kioskID,
		)
		if err != nil {
			return fmt.Errorf("update assignment rate: %w", err)
		}
		if err := expectOneRow(res, fmt.Errorf("assignment %s/%s: %w", hostID, kioskID, ErrNotFound)); err != nil {
			return err
		}
		return insertRateChange(ctx, t, hostID, kioskID, rateBP, effectiveFrom, now)
	})
}

func insertRateChange(ctx context.Context, t tx, hostID, kioskID string, rateBP int64, effectiveFrom time.Time, now string) error {
	if _, err := t.exec(ctx,
		`INSERT INTO commission_rates (id, host_id, kiosk_id, commission_rate_bp, effective_from, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (host_id, kiosk_id, effective_from) DO UPDATE SET commission_rate_bp = excluded.commission_rate_bp`,
		NewID(), hostID, kioskID, rateBP, formatDate(effectiveFrom), now,
	); err != nil {
		return fmt.Errorf("record rate change: %w", err)
	}
	return nil
}

// ListActiveAssignments returns a host's active kiosk assignments.
func (s *Store) ListActiveAssignments(ctx context.Context, hostID string) ([]Assignment, error) {
	rows, err := s.query(ctx,
		`SELECT `+assignmentColumns+` FROM host_kiosk_assignments WHERE host_id = ? AND status = ? ORDER BY kiosk_id`,
		hostID, string(AssignmentActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAssignmentsCovering returns the host's assignments that credit any day
// in [from, to]: active ones that started by to, and ended ones whose window
// reaches past from. Suspended assignments earn nothing.
func (s *Store) ListAssignmentsCovering(ctx context.Context, hostID string, from, to time.Time) ([]Assignment, error) {
	rows, err := s.query(ctx,
		`SELECT `+assignmentColumns+` FROM host_kiosk_assignments
		 WHERE host_id = ? AND active_from <= ?
		   AND (status = ? OR (status = ? AND active_until > ?))
		 ORDER BY kiosk_id`,
		hostID, formatDate(to), string(AssignmentActive), string(AssignmentInactive), formatDate(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssignment loads the assignment of a kiosk to a host.
func (s *Store) GetAssignment(ctx context.Context, hostID, kioskID string) (Assignment, error) {
	a, err := scanAssignment(s.queryRow(ctx,
		`SELECT `+assignmentColumns+` FROM host_kiosk_assignments WHERE host_id = ? AND kiosk_id = ?`,
		hostID, kioskID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, fmt.Errorf("assignment %s/%s: %w", hostID, kioskID, ErrNotFound)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// RateHistory returns the rate changes for a host/kiosk ordered by effective date.
func (s *Store) RateHistory(ctx context.Context, hostID, kioskID string) ([]RateChange, error) {
	rows, err := s.query(ctx,
		`SELECT host_id, kiosk_id, commission_rate_bp, effective_from FROM commission_rates
		 WHERE host_id = ? AND kiosk_id = ? ORDER BY effective_from`,
		hostID, kioskID,
	)
	if err != nil {
		return nil, fmt.Errorf("rate history: %w", err)
	}
	defer rows.Close()
	var out []RateChange
	for rows.Next() {
		var (
			rc        RateChange
			effective string
		)
		if err := rows.Scan(&rc.HostID, &rc.KioskID, &rc.CommissionRateBP, &effective); err != nil {
			return nil, err
		}
		rc.EffectiveFrom = parseDate(effective)
		out = append(out, rc)
	}
	return out, rows.Err()
}

// InsertPlayEvent records a billable kiosk event.
func (s *Store) InsertPlayEvent(ctx context.Context, e *PlayEvent) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if _, err := s.exec(ctx,
		`INSERT INTO play_events (id, kiosk_id, campaign_id, kind, amount_cents, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.KioskID, nullableString(e.CampaignID), string(e.Kind), e.AmountCents, formatTime(e.OccurredAt),
	); err != nil {
		return fmt.Errorf("insert play event: %w", err)
	}
	return nil
}

// ListPlayEvents returns a kiosk's events in the half-open interval [from, to).
func (s *Store) ListPlayEvents(ctx context.Context, kioskID string, from, to time.Time) ([]PlayEvent, error) {
	rows, err := s.query(ctx,
		`SELECT id, kiosk_id, campaign_id, kind, amount_cents, occurred_at FROM play_events
		 WHERE kiosk_id = ? AND occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at, id`,
		kioskID, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list play events: %w", err)
	}
	defer rows.Close()
	var out []PlayEvent
	for rows.Next() {
		var (
			e          PlayEvent
			campaignID sql.NullString
			kind       string
			occurred   string
		)
		if err := rows.Scan(&e.ID, &e.KioskID, &campaignID, &kind, &e.AmountCents, &occurred); err != nil {
			return nil, err
		}
		e.CampaignID = campaignID.String
		e.Kind = EventKind(kind)
		e.OccurredAt = parseTime(occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}
