package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/provider"
	"github.com/hale-app/hale/internal/store"
	"github.com/hale-app/hale/internal/ulid"
)

// Service orchestrates health data synchronization sessions
type Service struct {
	cfg      config.SyncConfig
	provider provider.Provider
	uploader Uploader
	kv       store.Repository
	repo     Repository
	anchors  *AnchorStore
	windows  *WindowTracker
	locks    *provider.LockState
	decoder  health.RecordDecoder
	notifier SessionNotifier
	limiter  *rate.Limiter
	logger   *loggy.Logger
	now      func() time.Time

	mu      stdsync.Mutex
	syncing bool
}

// NewService creates the sync orchestrator
func NewService(
	cfg config.SyncConfig,
	prov provider.Provider,
	uploader Uploader,
	kv store.Repository,
	repo Repository,
	locks *provider.LockState,
	notifier SessionNotifier,
	logger *loggy.Logger,
) *Service {
	if repo == nil {
		repo = NopRepository{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if locks == nil {
		locks = provider.NewLockState()
	}

	limit := rate.Inf
	if cfg.QueriesPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.QueriesPerMinute))
	}

	return &Service{
		cfg:      cfg,
		provider: prov,
		uploader: uploader,
		kv:       kv,
		repo:     repo,
		anchors:  NewAnchorStore(kv, logger),
		windows:  NewWindowTracker(kv, logger),
		locks:    locks,
		decoder:  health.NewFHIRDecoder(),
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, burstFor(cfg.QueriesPerMinute)),
		logger:   logger,
		now:      time.Now,
	}
}

func burstFor(queriesPerMinute int) int {
	if queriesPerMinute <= 0 {
		return 1
	}
	if b := queriesPerMinute / 4; b > 1 {
		return b
	}
	return 1
}

// LockState returns the lock state the service consults before every
// provider query. The platform layer flips it on lock/unlock events.
func (s *Service) LockState() *provider.LockState {
	return s.locks
}

// SetDecoder replaces the clinical record decoder
func (s *Service) SetDecoder(decoder health.RecordDecoder) {
	s.decoder = decoder
}

// IsSyncing reports whether a sync session is currently running
func (s *Service) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// HasCompletedFullSync reports whether a full sync session has ever drained
// every record family.
func (s *Service) HasCompletedFullSync(ctx context.Context) bool {
	return s.getFlag(ctx, keyHasCompletedFullSync)
}

// SyncHealthData runs one orchestrated sync session: profile snapshot,
// daily summary, each record family in priority order, then clinical
// records. A second invocation while one is running returns
// ErrSyncInProgress; concurrent requests are coalesced into the in-flight
// session rather than queued.
//
// Partial failure is isolated per record family: one family failing does
// not stop the others, but the session then finishes incomplete and the
// completion flags stay unset.
func (s *Service) SyncHealthData(ctx context.Context, opts Options) (*Result, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	started := s.now()
	result := &Result{
		SessionID:   ulid.SessionID(),
		FullRefresh: opts.FullRefresh,
	}
	logger := s.logger.With("session", result.SessionID, "background", opts.InBackground)
	logger.Info("Starting health data sync", "full_refresh", opts.FullRefresh, "months_back", opts.MonthsBack)

	end := s.now()
	var windowStart *time.Time
	if opts.MonthsBack > 0 {
		t := end.AddDate(0, -opts.MonthsBack, 0)
		windowStart = &t
	}

	s.setFlag(ctx, keyIsSyncing, true)
	defer s.setFlag(ctx, keyIsSyncing, false)

	if opts.FullRefresh {
		s.setFlag(ctx, keyHasCompletedFullSync, false)
		s.setFlag(ctx, keyServerSyncCompleted, false)
		s.anchors.Reset(ctx, ContextHealthData)
		if err := s.uploader.SetSyncCompleted(ctx, false); err != nil {
			logger.Warn("Failed to clear server sync-completed flag", "error", err)
		}
		s.notifier.OnSyncStarted()
	}

	// The profile snapshot is a prerequisite: without it the server has no
	// subject to attach records to.
	if err := s.syncProfile(ctx); err != nil {
		result.Duration = time.Since(started)
		return result, fmt.Errorf("syncing profile snapshot: %w", err)
	}

	if err := s.syncDailySummary(ctx, windowStart); err != nil {
		logger.Error("Daily summary sync failed", "error", err)
		result.FailedTypes = append(result.FailedTypes, summaryTypeKey)
	}

	for _, rt := range health.SyncOrder() {
		count, err := s.syncRecordType(ctx, rt, ContextHealthData, windowStart, end, s.cfg.BatchSize, opts.FullRefresh)
		result.TotalRecords += count
		if err != nil {
			logger.Error("Record family sync failed", "type", rt, "synced_before_failure", count, "error", err)
			result.FailedTypes = append(result.FailedTypes, string(rt))
			continue
		}
		logger.Info("Record family synced", "type", rt, "records", count)
	}

	count, err := s.syncClinicalRecords(ctx, ContextHealthData, opts.FullRefresh)
	result.TotalRecords += count
	if err != nil {
		logger.Error("Clinical records sync failed", "synced_before_failure", count, "error", err)
		result.FailedTypes = append(result.FailedTypes, string(health.RecordTypeClinical))
	}

	if len(result.FailedTypes) == 0 {
		result.Completed = true
		s.setFlag(ctx, keyHasCompletedFullSync, true)

		if !s.getFlag(ctx, keyServerSyncCompleted) {
			if err := s.uploader.SetSyncCompleted(ctx, true); err != nil {
				logger.Warn("Failed to set server sync-completed flag", "error", err)
			} else {
				s.setFlag(ctx, keyServerSyncCompleted, true)
			}
			s.notifier.OnSyncCompleted()
		}
	}

	result.Duration = time.Since(started)
	logger.Info("Health data sync finished",
		"records", result.TotalRecords,
		"failed_types", result.FailedTypes,
		"completed", result.Completed,
		"duration", result.Duration)
	return result, nil
}

// syncProfile captures the one-shot characteristics snapshot and uploads it
func (s *Service) syncProfile(ctx context.Context) error {
	if s.locks.IsLocked() {
		return fmt.Errorf("querying characteristics: %w", provider.ErrUnavailable)
	}

	characteristics, err := s.provider.Characteristics(ctx)
	if err != nil {
		return fmt.Errorf("querying characteristics: %w", err)
	}

	payload := &health.ProfilePayload{
		Characteristics: characteristics,
		CollectedAt:     s.now().UTC().Format(health.TimeFormat),
	}
	if err := s.uploader.SendProfile(ctx, payload); err != nil {
		return fmt.Errorf("uploading profile: %w", err)
	}
	return nil
}

func (s *Service) getFlag(ctx context.Context, key string) bool {
	value, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read flag", "key", key, "error", err)
		return false
	}
	return string(value) == "true"
}

func (s *Service) setFlag(ctx context.Context, key string, value bool) {
	text := "false"
	if value {
		text = "true"
	}
	if err := s.kv.Set(ctx, key, []byte(text)); err != nil {
		s.logger.Error("Failed to persist flag", "key", key, "error", err)
	}
}
