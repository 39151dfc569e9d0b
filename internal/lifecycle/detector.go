package lifecycle

import (
	"context"
	"time"

	"marquee/internal/store"
)

// Detector finds active campaigns whose end date has passed.
type Detector struct {
	store *store.Store
}

// NewDetector returns a detector reading from st.
func NewDetector(st *store.Store) *Detector {
	return &Detector{store: st}
}

// FindExpiredCampaigns lists active campaigns with end_date <= now. Callers re-check the
// campaign status before mutating it.
func (d *Detector) FindExpiredCampaigns(ctx context.Context, now time.Time) ([]store.Campaign, error) {
	return d.store.ListExpiredCampaigns(ctx, now)
}
