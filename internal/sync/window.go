package sync

import (
	"context"
	"time"

	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/store"
)

// WindowTracker remembers, per record type, the earliest window start for
// which a sync attempt failed. A failed window must never be forgotten: the
// next attempt widens its effective start back to the marker, so records
// that appeared in the failed window are still covered.
type WindowTracker struct {
	kv     store.Repository
	logger *loggy.Logger
	now    func() time.Time
}

// NewWindowTracker creates a WindowTracker over the key-value repository
func NewWindowTracker(kv store.Repository, logger *loggy.Logger) *WindowTracker {
	return &WindowTracker{kv: kv, logger: logger, now: time.Now}
}

// Marker returns the stored failure marker for typeKey, or nil
func (t *WindowTracker) Marker(ctx context.Context, typeKey string) *time.Time {
	value, err := t.kv.Get(ctx, windowKey(typeKey))
	if err != nil {
		t.logger.Warn("Failed to read failure window marker", "type", typeKey, "error", err)
		return nil
	}
	if len(value) == 0 {
		return nil
	}

	marker, err := time.Parse(time.RFC3339Nano, string(value))
	if err != nil {
		t.logger.Warn("Discarding unparseable failure window marker",
			"type", typeKey, "value", string(value), "error", err)
		return nil
	}
	return &marker
}

// EffectiveStart returns the window start a sync attempt must actually use:
// the requested start (or now, when absent), widened back to the stored
// marker if one exists and is earlier.
func (t *WindowTracker) EffectiveStart(ctx context.Context, typeKey string, requested *time.Time) time.Time {
	start := t.now()
	if requested != nil {
		start = *requested
	}

	if marker := t.Marker(ctx, typeKey); marker != nil && marker.Before(start) {
		start = *marker
	}
	return start
}

// RecordFailure stores start as the failure marker unless an earlier marker
// already exists. The marker only ever moves backward.
func (t *WindowTracker) RecordFailure(ctx context.Context, typeKey string, start time.Time) {
	if marker := t.Marker(ctx, typeKey); marker != nil && !start.Before(*marker) {
		return
	}

	value := []byte(start.UTC().Format(time.RFC3339Nano))
	if err := t.kv.Set(ctx, windowKey(typeKey), value); err != nil {
		t.logger.Error("Failed to persist failure window marker", "type", typeKey, "error", err)
	}
}

// RecordSuccess clears the marker if the successful attempt started at or
// before it, meaning the failed window has been fully covered.
func (t *WindowTracker) RecordSuccess(ctx context.Context, typeKey string, start time.Time) {
	marker := t.Marker(ctx, typeKey)
	if marker == nil || start.After(*marker) {
		return
	}

	if err := t.kv.Delete(ctx, windowKey(typeKey)); err != nil {
		t.logger.Error("Failed to clear failure window marker", "type", typeKey, "error", err)
	}
}
