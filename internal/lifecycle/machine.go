package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"marquee/internal/config"
	"marquee/internal/heartbeat"
	"marquee/internal/logging"
	"marquee/internal/notifications"
	"marquee/internal/services"
	"marquee/internal/storage"
	"marquee/internal/store"
)

// ErrAlreadyClaimed is returned by Claim when another worker holds the asset.
var ErrAlreadyClaimed = store.ErrAlreadyClaimed

// Outcome is the result of one archive attempt.
type Outcome string

const (
	OutcomeArchived Outcome = "archived"
	OutcomeRetrying Outcome = "retrying"
	OutcomeFailed   Outcome = "failed"
)

// Claim is a worker's exclusive hold on one asset.
type Claim struct {
	AssetID    string
	CampaignID string
	Token      string
}

// MoverSource resolves the mover for an asset's storage kind.
type MoverSource interface {
	Mover(ctx context.Context, kind string) (storage.Mover, string, error)
}

// Options tunes archive attempts.
type Options struct {
	MaxAttempts       int
	MoveTimeout       time.Duration
	HeartbeatInterval time.Duration
	ArchivePrefix     string
}

// OptionsFromConfig reads archive tuning from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxAttempts:       cfg.Scheduler.MaxAttempts,
		MoveTimeout:       cfg.MoveTimeout(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ArchivePrefix:     cfg.Storage.ArchivePrefix,
	}
}

// Machine drives asset lifecycle transitions.
type Machine struct {
	store     *store.Store
	movers    MoverSource
	sink      notifications.Sink
	heartbeat *heartbeat.Monitor
	logger    *slog.Logger
	opts      Options
}

// NewMachine wires a machine. A nil sink discards notifications.
func NewMachine(st *store.Store, movers MoverSource, sink notifications.Sink, logger *slog.Logger, opts Options) *Machine {
	if sink == nil {
		sink = notifications.Noop{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = "archive"
	}
	logger = logging.NewComponentLogger(logger, "lifecycle")
	return &Machine{
		store:     st,
		movers:    movers,
		sink:      sink,
		heartbeat: heartbeat.New(opts.HeartbeatInterval, logger),
		logger:    logger,
		opts:      opts,
	}
}

// Claim takes exclusive ownership of an asset for archival.
func (m *Machine) Claim(ctx context.Context, assetID string) (Claim, error) {
	token := uuid.NewString()
	record, err := m.store.ClaimAsset(ctx, assetID, token)
	if err != nil {
		return Claim{}, err
	}
	return Claim{AssetID: assetID, CampaignID: record.CampaignID, Token: token}, nil
}

// Archive moves a claimed asset into the archive and records the result. The
// returned error is the attempt's failure cause, if any; the outcome says
// what the lifecycle record became.
func (m *Machine) Archive(ctx context.Context, claim Claim) (Outcome, error) {
	ctx = services.WithEntityID(ctx, claim.AssetID)
	logger := logging.WithContext(ctx, m.logger)

	asset, err := m.store.GetMediaAsset(ctx, claim.AssetID)
	if err != nil {
		return m.fail(ctx, claim, fmt.Errorf("load asset: %w", err))
	}
	mover, kind, err := m.movers.Mover(ctx, asset.StorageKind)
	if err != nil {
		return m.fail(ctx, claim, err)
	}

	src := storage.Ref{Kind: kind, Path: asset.StoragePath}
	dst := storage.Ref{Kind: kind, Path: storage.ArchivePath(m.opts.ArchivePrefix, asset.CampaignID, asset.KioskID, asset.ID, asset.FileName)}

	moveErr := m.move(ctx, claim, mover, src, dst)
	if moveErr != nil {
		return m.fail(ctx, claim, moveErr)
	}

	if err := m.store.MarkAssetArchived(ctx, claim.AssetID, claim.Token, path.Dir(dst.Path), dst.Path); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			// The file is already at dst; whoever holds the claim now finishes
			// with a no-op move.
			logger.Warn("claim lost after move", logging.String("destination", dst.String()))
		}
		return OutcomeRetrying, err
	}
	logger.Info("asset archived",
		logging.String("source", src.String()),
		logging.String("destination", dst.String()),
	)
	return OutcomeArchived, nil
}

func (m *Machine) move(ctx context.Context, claim Claim, mover storage.Mover, src, dst storage.Ref) error {
	guarded, stop := m.heartbeat.Guard(ctx, func(hbCtx context.Context) error {
		return m.store.TouchAssetHeartbeat(hbCtx, claim.AssetID, claim.Token)
	})
	defer stop()

	moveCtx := guarded
	if m.opts.MoveTimeout > 0 {
		var cancel context.CancelFunc
		moveCtx, cancel = context.WithTimeout(guarded, m.opts.MoveTimeout)
		defer cancel()
	}
	err := mover.Move(moveCtx, src, dst)
	if err != nil && errors.Is(moveCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "archive", "move", "move timed out", err)
	}
	return err
}

func (m *Machine) fail(ctx context.Context, claim Claim, cause error) (Outcome, error) {
	logger := logging.WithContext(ctx, m.logger)
	permanent := services.Classify(cause) == services.ClassPermanent

	record, err := m.store.RecordAssetFailure(ctx, claim.AssetID, claim.Token, cause.Error(), permanent, m.opts.MaxAttempts)
	if err != nil {
		return OutcomeRetrying, errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	if record.Status != store.AssetFailedArchive {
		logging.WarnWithContext(logger, "archive attempt failed; will retry", "archive_retry",
			logging.Int("attempts", record.Attempts),
			logging.Int("max_attempts", m.opts.MaxAttempts),
			logging.Error(cause),
		)
		return OutcomeRetrying, cause
	}

	logging.ErrorWithContext(logger, "asset archive failed", "archive_failed",
		logging.Int("attempts", record.Attempts),
		logging.Bool("permanent", permanent),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the backend, then run `marquee assets retry` or acknowledge with `marquee assets ack`"),
		logging.Alert("archive_failed"),
	)
	if err := m.sink.Publish(ctx, notifications.EventArchiveFailed, notifications.Payload{
		"assetId":    claim.AssetID,
		"campaignId": record.CampaignID,
		"attempts":   record.Attempts,
		"error":      cause.Error(),
	}); err != nil {
		logger.Warn("archive failure notification failed", logging.Error(err))
	}
	return OutcomeFailed, cause
}

// Acknowledge records that an operator has seen a failed archive. The
// campaign can then complete.
func (m *Machine) Acknowledge(ctx context.Context, assetID, operator string) error {
	if operator == "" {
		return services.Wrap(services.ErrValidation, "archive", "acknowledge", "operator is required", nil)
	}
	return m.store.AcknowledgeFailedAsset(ctx, assetID, operator)
}

// Retry returns failed archives to active. With no ids every failed archive is reset.
func (m *Machine) Retry(ctx context.Context, assetIDs ...string) (int64, error) {
	return m.store.RetryFailedAssets(ctx, assetIDs...)
}

// ReclaimStale releases claims whose heartbeat is older than cutoff.
func (m *Machine) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.store.ReclaimStaleAssets(ctx, cutoff)
	if err == nil && n > 0 {
		logging.WithContext(ctx, m.logger).Info("reclaimed stale asset claims", logging.Int64("count", n))
	}
	return n, err
}

// Prepare creates lifecycle records for a campaign's assets and returns the
// ones that can be claimed now.
func (m *Machine) Prepare(ctx context.Context, campaignID string) ([]store.AssetLifecycle, error) {
	if _, err := m.store.EnsureLifecycleRecords(ctx, campaignID); err != nil {
		return nil, err
	}
	return m.store.ListClaimableAssets(ctx, campaignID)
}

// CampaignSettled reports whether every asset is archived or acknowledged failed.
func (m *Machine) CampaignSettled(ctx context.Context, campaignID string) (bool, error) {
	progress, err := m.store.CampaignAssetProgress(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return progress.Done(), nil
}

// CompleteCampaign marks a settled, still-active campaign completed. It
// returns false when the campaign is unsettled or no longer active.
func (m *Machine) CompleteCampaign(ctx context.Context, campaignID string) (bool, error) {
	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if campaign.Status != store.CampaignActive {
		return false, nil
	}
	settled, err := m.CampaignSettled(ctx, campaignID)
	if err != nil || !settled {
		return false, err
	}
	done, err := m.store.CompleteCampaign(ctx, campaignID)
	if done {
		logging.WithContext(services.WithEntityID(ctx, campaignID), m.logger).Info("campaign completed")
	}
	return done, err
}
