package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const campaignColumns = "id, client_id, name, status, start_date, end_date, completed_at, created_at, updated_at"

func scanCampaign(row scanner) (Campaign, error) {
	var (
		c                      Campaign
		status                 string
		start, end             string
		completed              sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&c.ID, &c.ClientID, &c.Name, &status, &start, &end, &completed, &createdRaw, &updatedRaw); err != nil {
		return Campaign{}, err
	}
	c.Status = CampaignStatus(status)
	c.StartDate = parseTime(start)
	c.EndDate = parseTime(end)
	c.CompletedAt = parseNullTime(completed)
	c.CreatedAt = parseTime(createdRaw)
	c.UpdatedAt = parseTime(updatedRaw)
	return c, nil
}

// InsertCampaign stores a campaign and its kiosk assignments.
func (s *Store) InsertCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	now := s.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	return s.withTx(ctx, func(t tx) error {
		if _, err := t.exec(ctx,
			`INSERT INTO campaigns (`+campaignColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ClientID, c.Name, string(c.Status), formatTime(c.StartDate), formatTime(c.EndDate),
			nullableTime(c.CompletedAt), formatTime(now), formatTime(now),
		); err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		for _, kiosk := range c.KioskIDs {
			if _, err := t.exec(ctx,
				`INSERT INTO campaign_kiosks (campaign_id, kiosk_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				c.ID, kiosk,
			); err != nil {
				return fmt.Errorf("assign kiosk %s: %w", kiosk, err)
			}
		}
		return nil
	})
}

// GetCampaign loads a campaign by id, including its kiosk ids.
func (s *Store) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	c, err := scanCampaign(s.queryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	kiosks, err := s.campaignKiosks(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	c.KioskIDs = kiosks
	return c, nil
}

func (s *Store) campaignKiosks(ctx context.Context, id string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT kiosk_id FROM campaign_kiosks WHERE campaign_id = ? ORDER BY kiosk_id`, id)
	if err != nil {
		return nil, fmt.Errorf("campaign kiosks: %w", err)
	}
	defer rows.Close()
	var kiosks []string
	for rows.Next() {
		var kiosk string
		if err := rows.Scan(&kiosk); err != nil {
			return nil, err
		}
		kiosks = append(kiosks, kiosk)
	}
	return kiosks, rows.Err()
}

// ListExpiredCampaigns returns active campaigns whose end date is at or before now.
func (s *Store) ListExpiredCampaigns(ctx context.Context, now time.Time) ([]Campaign, error) {
	rows, err := s.query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? AND end_date <= ? ORDER BY end_date, id`,
		string(CampaignActive), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired campaigns: %w", err)
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignProgress counts a campaign's assets against the settled ones
// (archived, or failed_archive with an operator acknowledgement).
type CampaignProgress struct {
	Total   int
	Settled int
}

// Done reports whether every asset is settled. Campaigns without assets are done.
func (p CampaignProgress) Done() bool {
	return p.Settled >= p.Total
}

// CampaignAssetProgress reports settlement progress for a campaign.
func (s *Store) CampaignAssetProgress(ctx context.Context, campaignID string) (CampaignProgress, error) {
	var p CampaignProgress
	err := s.queryRow(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(CASE
		           WHEN l.status = ? THEN 1
		           WHEN l.status = ? AND l.acknowledged_at IS NOT NULL THEN 1
		           ELSE 0 END), 0)
		FROM media_assets a
		LEFT JOIN asset_lifecycle l ON l.asset_id = a.id
		WHERE a.campaign_id = ?`,
		string(AssetArchived), string(AssetFailedArchive), campaignID,
	).Scan(&p.Total, &p.Settled)
	if err != nil {
		return CampaignProgress{}, fmt.Errorf("campaign progress: %w", err)
	}
	return p, nil
}

// CompleteCampaign moves an active campaign to completed. It returns false
// when the campaign was no longer active.
func (s *Store) CompleteCampaign(ctx context.Context, campaignID string) (bool, error) {
	now := s.Now()
	res, err := s.exec(ctx,
		`UPDATE campaigns SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(CampaignCompleted), formatTime(now), formatTime(now), campaignID, string(CampaignActive),
	)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	if err := expectOneRow(res, ErrConflict); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetCampaignStatus updates a campaign's status unconditionally.
func (s *Store) SetCampaignStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	res, err := s.exec(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.Now()), campaignID,
	)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound))
}
