package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const assetColumns = "id, campaign_id, kiosk_id, file_name, storage_kind, storage_path, status, archived_at, created_at, updated_at"

const lifecycleColumns = "id, asset_id, campaign_id, status, storage_folder, attempts, last_error, claim_token, last_heartbeat, acknowledged_at, acknowledged_by, created_at, updated_at"

func scanAsset(row scanner) (MediaAsset, error) {
	var (
		a                      MediaAsset
		campaignID, kioskID    sql.NullString
		status                 string
		archivedAt             sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&a.ID, &campaignID, &kioskID, &a.FileName, &a.StorageKind, &a.StoragePath, &status, &archivedAt, &createdRaw, &updatedRaw); err != nil {
		return MediaAsset{}, err
	}
	a.CampaignID = campaignID.String
	a.KioskID = kioskID.String
	a.Status = AssetStatus(status)
	a.ArchivedAt = parseNullTime(archivedAt)
	a.CreatedAt = parseTime(createdRaw)
	a.UpdatedAt = parseTime(updatedRaw)
	return a, nil
}

func scanLifecycle(row scanner) (AssetLifecycle, error) {
	var (
		l                      AssetLifecycle
		campaignID, claim      sql.NullString
		status                 string
		heartbeat, ackAt       sql.NullString
		ackBy                  sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&l.ID, &l.AssetID, &campaignID, &status, &l.StorageFolder, &l.Attempts, &l.LastError,
		&claim, &heartbeat, &ackAt, &ackBy, &createdRaw, &updatedRaw); err != nil {
		return AssetLifecycle{}, err
	}
	l.CampaignID = campaignID.String
	l.Status = AssetStatus(status)
	l.ClaimToken = claim.String
	l.LastHeartbeat = parseNullTime(heartbeat)
	l.AcknowledgedAt = parseNullTime(ackAt)
	l.AcknowledgedBy = ackBy.String
	l.CreatedAt = parseTime(createdRaw)
	l.UpdatedAt = parseTime(updatedRaw)
	return l, nil
}

// InsertMediaAsset stores a media asset.
func (s *Store) InsertMediaAsset(ctx context.Context, a *MediaAsset) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Status == "" {
		a.Status = AssetActive
	}
	now := s.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if _, err := s.exec(ctx,
		`INSERT INTO media_assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullableString(a.CampaignID), nullableString(a.KioskID), a.FileName, a.StorageKind, a.StoragePath,
		string(a.Status), nullableTime(a.ArchivedAt), formatTime(now), formatTime(now),
	); err != nil {
		return fmt.Errorf("insert media asset: %w", err)
	}
	return nil
}

// GetMediaAsset loads a media asset by id.
func (s *Store) GetMediaAsset(ctx context.Context, id string) (MediaAsset, error) {
	a, err := scanAsset(s.queryRow(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return MediaAsset{}, fmt.Errorf("media asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return MediaAsset{}, fmt.Errorf("get media asset: %w", err)
	}
	return a, nil
}

// ListCampaignAssets returns every media asset owned by a campaign.
func (s *Store) ListCampaignAssets(ctx context.Context, campaignID string) ([]MediaAsset, error) {
	rows, err := s.query(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign assets: %w", err)
	}
	defer rows.Close()
	var out []MediaAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnsureLifecycleRecords creates a lifecycle record for each campaign asset
// that lacks one. Existing records are left untouched. It returns the number
// of records created.
func (s *Store) EnsureLifecycleRecords(ctx context.Context, campaignID string) (int, error) {
	assets, err := s.ListCampaignAssets(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	now := formatTime(s.Now())
	created := 0
	for _, asset := range assets {
		status := AssetActive
		if asset.Status == AssetArchived || asset.Status == AssetFailedArchive {
			status = asset.Status
		}
		res, err := s.exec(ctx,
			`INSERT INTO asset_lifecycle (id, asset_id, campaign_id, status, storage_folder, attempts, last_error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, '', 0, '', ?, ?)
			 ON CONFLICT (asset_id) DO NOTHING`,
			NewID(), asset.ID, nullableString(campaignID), string(status), now, now,
		)
		if err != nil {
			return created, fmt.Errorf("ensure lifecycle for %s: %w", asset.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created++
		}
	}
	return created, nil
}

// GetLifecycle loads the lifecycle record for an asset.
func (s *Store) GetLifecycle(ctx context.Context, assetID string) (AssetLifecycle, error) {
	l, err := scanLifecycle(s.queryRow(ctx, `SELECT `+lifecycleColumns+` FROM asset_lifecycle WHERE asset_id = ?`, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return AssetLifecycle{}, fmt.Errorf("lifecycle for asset %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return AssetLifecycle{}, fmt.Errorf("get lifecycle: %w", err)
	}
	return l, nil
}

// ListClaimableAssets returns a campaign's lifecycle records that a worker may claim.
func (s *Store) ListClaimableAssets(ctx context.Context, campaignID string) ([]AssetLifecycle, error) {
	return s.listLifecycles(ctx,
		`WHERE campaign_id = ? AND (status = ? OR (status = ? AND last_heartbeat IS NULL)) ORDER BY asset_id`,
		campaignID, string(AssetActive), string(AssetPendingArchive),
	)
}

// ListLifecyclesByStatus returns every lifecycle record in the given status.
func (s *Store) ListLifecyclesByStatus(ctx context.Context, status AssetStatus) ([]AssetLifecycle, error) {
	return s.listLifecycles(ctx, `WHERE status = ? ORDER BY updated_at, asset_id`, string(status))
}

func (s *Store) listLifecycles(ctx context.Context, where string, args ...any) ([]AssetLifecycle, error) {
	rows, err := s.query(ctx, `SELECT `+lifecycleColumns+` FROM asset_lifecycle `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list lifecycles: %w", err)
	}
	defer rows.Close()
	var out []AssetLifecycle
	for rows.Next() {
		l, err := scanLifecycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ClaimAsset moves a lifecycle record to pending_archive under the given token.
// A record is claimable when active, or pending_archive with no live heartbeat.
func (s *Store) ClaimAsset(ctx context.Context, assetID, token string) (AssetLifecycle, error) {
	now := formatTime(s.Now())
	res, err := s.exec(ctx,
		`UPDATE asset_lifecycle
		 SET status = ?, claim_token = ?, last_heartbeat = ?, updated_at = ?
		 WHERE asset_id = ? AND (status = ? OR (status = ? AND last_heartbeat IS NULL))`,
		string(AssetPendingArchive), token, now, now,
		assetID, string(AssetActive), string(AssetPendingArchive),
	)
	if err != nil {
		return AssetLifecycle{}, fmt.Errorf("claim asset: %w", err)
	}
	if err := expectOneRow(res, ErrAlreadyClaimed); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			if _, getErr := s.GetLifecycle(ctx, assetID); errors.Is(getErr, ErrNotFound) {
				return AssetLifecycle{}, getErr
			}
		}
		return AssetLifecycle{}, err
	}
	return s.GetLifecycle(ctx, assetID)
}

// TouchAssetHeartbeat refreshes the heartbeat of a claimed record.
func (s *Store) TouchAssetHeartbeat(ctx context.Context, assetID, token string) error {
	res, err := s.exec(ctx,
		`UPDATE asset_lifecycle SET last_heartbeat = ? WHERE asset_id = ? AND claim_token = ? AND status = ?`,
		formatTime(s.Now()), assetID, token, string(AssetPendingArchive),
	)
	if err != nil {
		return fmt.Errorf("asset heartbeat: %w", err)
	}
	return expectOneRow(res, ErrClaimLost)
}

// MarkAssetArchived records a successful move. The lifecycle record and the
// media asset are updated in one transaction, guarded by the claim token.
func (s *Store) MarkAssetArchived(ctx context.Context, assetID, token, folder, archivedPath string) error {
	now := formatTime(s.Now())
	return s.withTx(ctx, func(t tx) error {
		res, err := t.exec(ctx,
			`UPDATE asset_lifecycle
			 SET status = ?, storage_folder = ?, last_error = '', claim_token = NULL, last_heartbeat = NULL, updated_at = ?
			 WHERE asset_id = ? AND claim_token = ? AND status = ?`,
			string(AssetArchived), folder, now, assetID, token, string(AssetPendingArchive),
		)
		if err != nil {
			return fmt.Errorf("archive lifecycle: %w", err)
		}
		if err := expectOneRow(res, ErrClaimLost); err != nil {
			return err
		}
		if _, err := t.exec(ctx,
			`UPDATE media_assets SET status = ?, storage_path = ?, archived_at = ?, updated_at = ? WHERE id = ?`,
			string(AssetArchived), archivedPath, now, now, assetID,
		); err != nil {
			return fmt.Errorf("archive media asset: %w", err)
		}
		return nil
	})
}

// RecordAssetFailure counts a failed attempt. Permanent failures and attempts
// reaching maxAttempts end in failed_archive (mirrored onto the media asset);
// otherwise the claim is released so a later cycle retries. The resulting
// lifecycle record is returned.
func (s *Store) RecordAssetFailure(ctx context.Context, assetID, token, message string, permanent bool, maxAttempts int) (AssetLifecycle, error) {
	now := formatTime(s.Now())
	err := s.withTx(ctx, func(t tx) error {
		var attempts int
		err := t.queryRow(ctx,
			`SELECT attempts FROM asset_lifecycle WHERE asset_id = ? AND claim_token = ? AND status = ?`,
			assetID, token, string(AssetPendingArchive),
		).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClaimLost
		}
		if err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}
		attempts++
		if !permanent && attempts < maxAttempts {
			_, err := t.exec(ctx,
				`UPDATE asset_lifecycle
				 SET attempts = ?, last_error = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
				 WHERE asset_id = ?`,
				attempts, message, now, assetID,
			)
			if err != nil {
				return fmt.Errorf("release asset claim: %w", err)
			}
			return nil
		}
		if _, err := t.exec(ctx,
			`UPDATE asset_lifecycle
			 SET status = ?, attempts = ?, last_error = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
			 WHERE asset_id = ?`,
			string(AssetFailedArchive), attempts, message, now, assetID,
		); err != nil {
			return fmt.Errorf("fail lifecycle: %w", err)
		}
		if _, err := t.exec(ctx,
			`UPDATE media_assets SET status = ?, updated_at = ? WHERE id = ?`,
			string(AssetFailedArchive), now, assetID,
		); err != nil {
			return fmt.Errorf("fail media asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return AssetLifecycle{}, err
	}
	return s.GetLifecycle(ctx, assetID)
}

// AcknowledgeFailedAsset records an operator acknowledgement of a failed archive.
func (s *Store) AcknowledgeFailedAsset(ctx context.Context, assetID, operator string) error {
	now := formatTime(s.Now())
	res, err := s.exec(ctx,
		`UPDATE asset_lifecycle SET acknowledged_at = ?, acknowledged_by = ?, updated_at = ? WHERE asset_id = ? AND status = ?`,
		now, operator, now, assetID, string(AssetFailedArchive),
	)
	if err != nil {
		return fmt.Errorf("acknowledge asset: %w", err)
	}
	if err := expectOneRow(res, ErrConflict); err != nil {
		if _, getErr := s.GetLifecycle(ctx, assetID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("asset %s is not in %s: %w", assetID, AssetFailedArchive, err)
	}
	return nil
}

// RetryFailedAssets resets failed archives to active so the next cycle retries
// them. With no ids, every failed archive is reset.
func (s *Store) RetryFailedAssets(ctx context.Context, assetIDs ...string) (int64, error) {
	filter := ""
	args := []any{string(AssetFailedArchive)}
	if len(assetIDs) > 0 {
		filter = " AND asset_id IN (" + makePlaceholders(len(assetIDs)) + ")"
		args = append(args, stringArgs(assetIDs)...)
	}
	now := formatTime(s.Now())
	var updated int64
	err := s.withTx(ctx, func(t tx) error {
		ids, err := collectIDs(ctx, t, `SELECT asset_id FROM asset_lifecycle WHERE status = ?`+filter, args...)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		in := makePlaceholders(len(ids))
		if _, err := t.exec(ctx,
			`UPDATE asset_lifecycle
			 SET status = ?, attempts = 0, last_error = '', acknowledged_at = NULL, acknowledged_by = NULL, updated_at = ?
			 WHERE asset_id IN (`+in+`)`,
			append([]any{string(AssetActive), now}, stringArgs(ids)...)...,
		); err != nil {
			return fmt.Errorf("retry lifecycles: %w", err)
		}
		if _, err := t.exec(ctx,
			`UPDATE media_assets SET status = ?, updated_at = ? WHERE id IN (`+in+`) AND status = ?`,
			append(append([]any{string(AssetActive), now}, stringArgs(ids)...), string(AssetFailedArchive))...,
		); err != nil {
			return fmt.Errorf("retry media assets: %w", err)
		}
		updated = int64(len(ids))
		return nil
	})
	return updated, err
}

// ReclaimStaleAssets returns pending_archive records whose heartbeat is older
// than cutoff to active.
func (s *Store) ReclaimStaleAssets(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE asset_lifecycle
		 SET status = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
		 WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		string(AssetActive), formatTime(s.Now()), string(AssetPendingArchive), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale assets: %w", err)
	}
	return res.RowsAffected()
}

func collectIDs(ctx context.Context, t tx, query string, args ...any) ([]string, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collect ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
