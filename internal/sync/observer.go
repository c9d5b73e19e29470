package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/provider"
)

// Observer bridges provider change events to incremental background syncs.
// Each observed type identifier gets its own subscription; events for a type
// trigger a bounded sync of that type's record family under a background
// sync context, so the foreground anchors are never disturbed.
type Observer struct {
	service  *Service
	provider provider.Provider
	cfg      config.SyncConfig
	logger   *loggy.Logger

	subs []*provider.Subscription
}

// observedFamilies are the record families the observer registers for.
// Characteristics change rarely and are covered by the profile snapshot.
var observedFamilies = []health.RecordType{
	health.RecordTypeWorkout,
	health.RecordTypeCategoricalSample,
	health.RecordTypeNumericSample,
	health.RecordTypeClinical,
}

// NewObserver creates the background observer bridge
func NewObserver(service *Service, prov provider.Provider, cfg config.SyncConfig, logger *loggy.Logger) *Observer {
	return &Observer{
		service:  service,
		provider: prov,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers a subscription for every observed type identifier and
// consumes change events until ctx is cancelled. It blocks; run it in its
// own goroutine.
func (o *Observer) Start(ctx context.Context) error {
	defer o.Close()

	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range observedFamilies {
		for _, typeID := range rt.TypeIdentifiers() {
			sub, err := o.provider.Subscribe(typeID)
			if err != nil {
				return fmt.Errorf("subscribing to %s: %w", typeID, err)
			}
			o.subs = append(o.subs, sub)

			g.Go(func() error {
				return o.consume(ctx, sub)
			})
		}
	}

	o.logger.Info("Background observers registered", "subscriptions", len(o.subs))
	return g.Wait()
}

// Close unregisters all subscriptions
func (o *Observer) Close() {
	for _, sub := range o.subs {
		sub.Close()
	}
	o.subs = nil
}

func (o *Observer) consume(ctx context.Context, sub *provider.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			o.handleChange(ctx, ev)
		}
	}
}

// handleChange runs one background sync for the family that owns the
// changed type identifier. Completion is always signalled, success or not;
// a failed background sync is simply retried by the next organic change
// event for that type.
func (o *Observer) handleChange(ctx context.Context, ev provider.ChangeEvent) {
	defer func() {
		if ev.Done != nil {
			ev.Done()
		}
	}()

	rt, ok := health.FamilyOf(ev.TypeID)
	if !ok {
		o.logger.Warn("Change event for unknown type identifier", "type_id", ev.TypeID)
		return
	}

	syncContext := ContextBackground
	if rt == health.RecordTypeClinical {
		syncContext = ContextRecordsBackground
	}

	// With a stored background anchor the query is anchor-driven and
	// unbounded; without one, only the recent window is pulled so a first
	// background wake-up does not replay history.
	var start *time.Time
	if rt != health.RecordTypeClinical && o.service.anchors.Get(ctx, syncContext, string(rt)) == nil {
		t := time.Now().Add(-o.cfg.ObserverWindow)
		start = &t
	}

	count, err := o.service.syncRecordType(ctx, rt, syncContext, start, time.Now(), o.cfg.ObserverBatchSize, false)
	if err != nil {
		o.logger.Warn("Background sync failed", "type_id", ev.TypeID, "type", rt, "error", err)
		return
	}
	o.logger.Debug("Background sync finished", "type_id", ev.TypeID, "type", rt, "records", count)

	// New step samples invalidate the trailing daily summary
	if ev.TypeID == health.TypeIDStepCount {
		if err := o.service.syncDailySummary(ctx, nil); err != nil {
			o.logger.Warn("Daily summary recompute failed", "error", err)
		}
	}
}
