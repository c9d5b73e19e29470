package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/store"
)

func newTestWindowTracker() *WindowTracker {
	return NewWindowTracker(store.NewMemoryRepository(), loggy.NewNoopLogger())
}

func TestWindowTrackerNoMarkerByDefault(t *testing.T) {
	tracker := newTestWindowTracker()
	assert.Nil(t, tracker.Marker(context.Background(), "numericSample"))
}

func TestWindowTrackerEffectiveStartUsesRequested(t *testing.T) {
	tracker := newTestWindowTracker()
	requested := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	start := tracker.EffectiveStart(context.Background(), "numericSample", &requested)
	assert.True(t, start.Equal(requested))
}

func TestWindowTrackerEffectiveStartDefaultsToNow(t *testing.T) {
	tracker := newTestWindowTracker()
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }

	start := tracker.EffectiveStart(context.Background(), "numericSample", nil)
	assert.True(t, start.Equal(fixed))
}

func TestWindowTrackerWidensToEarlierMarker(t *testing.T) {
	tracker := newTestWindowTracker()
	ctx := context.Background()

	marker := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.RecordFailure(ctx, "numericSample", marker)

	requested := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start := tracker.EffectiveStart(ctx, "numericSample", &requested)
	assert.True(t, start.Equal(marker))

	// A later marker never narrows the requested window
	earlier := marker.AddDate(-1, 0, 0)
	start = tracker.EffectiveStart(ctx, "numericSample", &earlier)
	assert.True(t, start.Equal(earlier))
}

func TestWindowTrackerFailureOnlyMovesBackward(t *testing.T) {
	tracker := newTestWindowTracker()
	ctx := context.Background()

	first := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.RecordFailure(ctx, "workout", first)

	// A later failure must not overwrite the earlier marker
	tracker.RecordFailure(ctx, "workout", first.AddDate(0, 1, 0))
	marker := tracker.Marker(ctx, "workout")
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(first))

	// An earlier failure does
	earlier := first.AddDate(0, -1, 0)
	tracker.RecordFailure(ctx, "workout", earlier)
	marker = tracker.Marker(ctx, "workout")
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(earlier))
}

func TestWindowTrackerSuccessClearsOnlyCoveringWindows(t *testing.T) {
	tracker := newTestWindowTracker()
	ctx := context.Background()

	marker := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.RecordFailure(ctx, "numericSample", marker)

	// A success over a narrower window leaves the marker in place
	tracker.RecordSuccess(ctx, "numericSample", marker.AddDate(0, 1, 0))
	assert.NotNil(t, tracker.Marker(ctx, "numericSample"))

	// A success covering the failed window clears it
	tracker.RecordSuccess(ctx, "numericSample", marker)
	assert.Nil(t, tracker.Marker(ctx, "numericSample"))
}

func TestWindowTrackerMarkersAreKeyedPerType(t *testing.T) {
	tracker := newTestWindowTracker()
	ctx := context.Background()

	tracker.RecordFailure(ctx, "workout", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.NotNil(t, tracker.Marker(ctx, "workout"))
	assert.Nil(t, tracker.Marker(ctx, "numericSample"))
}

func TestWindowTrackerDiscardsGarbageMarker(t *testing.T) {
	kv := store.NewMemoryRepository()
	tracker := NewWindowTracker(kv, loggy.NewNoopLogger())
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, windowKey("workout"), []byte("not a timestamp")))
	assert.Nil(t, tracker.Marker(ctx, "workout"))
}
