package scheduler

import (
	"sync"
	"time"
)

// CycleError is one per-item failure recorded during a cycle.
type CycleError struct {
	Stage    string `json:"stage"`
	EntityID string `json:"entityId,omitempty"`
	Message  string `json:"message"`
}

// Summary reports what one cycle did.
type Summary struct {
	CycleID            string       `json:"cycleId"`
	StartedAt          time.Time    `json:"startedAt"`
	Duration           string       `json:"duration"`
	StaleClaimsFreed   int64        `json:"staleClaimsFreed"`
	CampaignsProcessed int          `json:"campaignsProcessed"`
	CampaignsCompleted int          `json:"campaignsCompleted"`
	AssetsArchived     int          `json:"assetsArchived"`
	AssetsFailed       int          `json:"assetsFailed"`
	AssetsRetrying     int          `json:"assetsRetrying"`
	RevenueRecords     int          `json:"revenueRecords"`
	PayoutsCreated     int          `json:"payoutsCreated"`
	PayoutsDispatched  int          `json:"payoutsDispatched"`
	PayoutsDeferred    int          `json:"payoutsDeferred"`
	PayoutsFailed      int          `json:"payoutsFailed"`
	Errors             []CycleError `json:"errors"`
}

// OK reports whether the cycle recorded no errors.
func (s Summary) OK() bool {
	return len(s.Errors) == 0
}

// tally guards a Summary shared by the cycle's workers.
type tally struct {
	mu      sync.Mutex
	summary Summary
}

func (t *tally) add(fn func(*Summary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.summary)
}

func (t *tally) fail(stage, entityID string, err error) {
	t.add(func(s *Summary) {
		s.Errors = append(s.Errors, CycleError{Stage: stage, EntityID: entityID, Message: err.Error()})
	})
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.summary
	out.Errors = append([]CycleError{}, t.summary.Errors...)
	return out
}
