package store

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignPending   CampaignStatus = "pending"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// AssetStatus is shared by media assets and their lifecycle records.
type AssetStatus string

const (
	AssetActive         AssetStatus = "active"
	AssetPendingArchive AssetStatus = "pending_archive"
	AssetArchived       AssetStatus = "archived"
	AssetFailedArchive  AssetStatus = "failed_archive"
)

// PayoutPeriod is the cadence at which a host is paid.
type PayoutPeriod string

const (
	PeriodWeekly  PayoutPeriod = "weekly"
	PeriodMonthly PayoutPeriod = "monthly"
)

// AssignmentStatus gates whether a kiosk contributes to host revenue.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentInactive  AssignmentStatus = "inactive"
	AssignmentSuspended AssignmentStatus = "suspended"
)

// EventKind distinguishes play event types.
type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
	EventPlay       EventKind = "play"
)

// PayoutStatus is the lifecycle state of a payout.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// FailureKind records why a payout ended in PayoutFailed.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureRejected means the processor refused the transfer; the payout's
	// revenue is released for a future batch.
	FailureRejected FailureKind = "rejected"
	// FailureRetryExhausted means transient errors hit the attempt ceiling.
	// The transfer may exist at the processor, so revenue stays attached and
	// only an operator retry (same idempotency key) continues it.
	FailureRetryExhausted FailureKind = "retry_exhausted"
)

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// Campaign is an advertising run over a date range.
type Campaign struct {
	ID          string
	ClientID    string
	Name        string
	Status      CampaignStatus
	StartDate   time.Time
	EndDate     time.Time
	KioskIDs    []string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MediaAsset is a creative file stored on a pluggable backend.
type MediaAsset struct {
	ID          string
	CampaignID  string
	KioskID     string
	FileName    string
	StorageKind string
	StoragePath string
	Status      AssetStatus
	ArchivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssetLifecycle is the authoritative retry and claim bookkeeping for one asset.
type AssetLifecycle struct {
	ID             string
	AssetID        string
	CampaignID     string
	Status         AssetStatus
	StorageFolder  string
	Attempts       int
	LastError      string
	ClaimToken     string
	LastHeartbeat  *time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Host owns kiosks and receives commission payouts.
type Host struct {
	ID                 string
	Name               string
	PayoutPeriod       PayoutPeriod
	MinimumPayoutCents int64
	PayoutMethod       string
	DestinationAccount string
	Currency           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Assignment binds a kiosk to a host at a commission rate in basis points.
type Assignment struct {
	ID               string
	HostID           string
	KioskID          string
	CommissionRateBP int64
	Status           AssignmentStatus
	// ActiveFrom is the first day the kiosk earns for this host. ActiveUntil,
	// when set, is the first day it no longer does.
	ActiveFrom  time.Time
	ActiveUntil time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Covers reports whether the assignment credits the host for day.
func (a Assignment) Covers(day time.Time) bool {
	if day.Before(a.ActiveFrom) {
		return false
	}
	return a.ActiveUntil.IsZero() || day.Before(a.ActiveUntil)
}

// RateChange is one entry of a kiosk's commission rate history.
type RateChange struct {
	HostID           string
	KioskID          string
	CommissionRateBP int64
	EffectiveFrom    time.Time
}

// PlayEvent is one billable kiosk event.
type PlayEvent struct {
	ID          string
	KioskID     string
	CampaignID  string
	Kind        EventKind
	AmountCents int64
	OccurredAt  time.Time
}

// RevenueRecord is one host/kiosk/day aggregate.
type RevenueRecord struct {
	ID               string
	HostID           string
	KioskID          string
	Date             time.Time
	Impressions      int64
	Clicks           int64
	RevenueCents     int64
	CommissionRateBP int64
	CommissionCents  int64
	PayoutID         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Payout is a single transfer to a host covering one or more closed periods.
type Payout struct {
	ID                 string
	HostID             string
	AmountCents        int64
	Currency           string
	Status             PayoutStatus
	PeriodStart        time.Time
	PeriodEnd          time.Time
	PayoutMethod       string
	DestinationAccount string
	TransferID         string
	Attempts           int
	LastError          string
	FailureKind        FailureKind
	ClaimToken         string
	LastHeartbeat      *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IdempotencyKey is the stable key sent with every transfer attempt for this payout.
func (p Payout) IdempotencyKey() string {
	return "payout-" + p.ID
}

// PayoutStatement is the per-kiosk breakdown of a payout.
type PayoutStatement struct {
	ID               string
	PayoutID         string
	KioskID          string
	Impressions      int64
	Clicks           int64
	RevenueCents     int64
	CommissionRateBP int64
	CommissionCents  int64
	CreatedAt        time.Time
}

// HealthSummary aggregates store counts for status output.
type HealthSummary struct {
	Driver           string
	ActiveCampaigns  int
	AssetsByStatus   map[AssetStatus]int
	PayoutsByStatus  map[PayoutStatus]int
	UnbatchedRecords int
}
