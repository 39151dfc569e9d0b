package store

import (
	"context"
	"fmt"
)

// Health aggregates store state for status output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	summary := HealthSummary{
		Driver:          s.driver,
		AssetsByStatus:  make(map[AssetStatus]int),
		PayoutsByStatus: make(map[PayoutStatus]int),
	}

	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM campaigns WHERE status = ?`, string(CampaignActive)).
		Scan(&summary.ActiveCampaigns); err != nil {
		return summary, fmt.Errorf("count active campaigns: %w", err)
	}
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM revenue_records WHERE payout_id IS NULL`).
		Scan(&summary.UnbatchedRecords); err != nil {
		return summary, fmt.Errorf("count unbatched revenue: %w", err)
	}

	assetCounts, err := s.countBy(ctx, `SELECT status, COUNT(1) FROM asset_lifecycle GROUP BY status`)
	if err != nil {
		return summary, err
	}
	for status, count := range assetCounts {
		summary.AssetsByStatus[AssetStatus(status)] = count
	}
	payoutCounts, err := s.countBy(ctx, `SELECT status, COUNT(1) FROM payouts GROUP BY status`)
	if err != nil {
		return summary, err
	}
	for status, count := range payoutCounts {
		summary.PayoutsByStatus[PayoutStatus(status)] = count
	}
	return summary, nil
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}
