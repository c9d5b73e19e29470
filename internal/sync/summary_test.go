package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/provider"
)

func stepSample(id string, start time.Time, value float64) health.Record {
	return health.Record{
		ID:     id,
		TypeID: health.TypeIDStepCount,
		Type:   health.RecordTypeNumericSample,
		Start:  start,
		Value:  value,
		Unit:   "count",
	}
}

func TestSyncDailySummaryAggregatesPerDay(t *testing.T) {
	day1 := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	prov := newFakeProvider(provider.QueryResult{
		Added: []health.Record{
			stepSample("s1", day1, 1200),
			stepSample("s2", day1.Add(2*time.Hour), 800),
			stepSample("s3", day2, 5000),
		},
		NewAnchor: provider.Anchor("a1"),
	})
	uploader := &fakeUploader{}
	svc := newTestService(t, prov, uploader, newRecordingKV())

	start := day1.AddDate(0, 0, -1)
	require.NoError(t, svc.syncDailySummary(context.Background(), &start))

	require.Len(t, uploader.summaries, 1)
	days := uploader.summaries[0].Days
	require.Len(t, days, 2)
	assert.Equal(t, health.DailySummary{Date: "2024-03-10", Steps: 2000}, days[0])
	assert.Equal(t, health.DailySummary{Date: "2024-03-11", Steps: 5000}, days[1])

	// The whole range is recomputed every time; no anchor is persisted
	assert.Equal(t, 2, prov.queryCount())
	assert.Nil(t, svc.anchors.Get(context.Background(), ContextHealthData, summaryTypeKey))
}

func TestSyncDailySummaryUploadFailureRecordsWindow(t *testing.T) {
	prov := newFakeProvider()
	uploader := &fakeUploader{}
	uploader.summaryErr = assert.AnError
	svc := newTestService(t, prov, uploader, newRecordingKV())

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	err := svc.syncDailySummary(context.Background(), &start)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeUpload, classifyError(err))

	marker := svc.windows.Marker(context.Background(), summaryTypeKey)
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(start))
}

func TestSyncDailySummaryLockedDevice(t *testing.T) {
	prov := newFakeProvider()
	svc := newTestService(t, prov, &fakeUploader{}, newRecordingKV())
	svc.locks.SetLocked(true)

	err := svc.syncDailySummary(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 0, prov.queryCount())

	// Default trailing window is remembered for the retry
	assert.NotNil(t, svc.windows.Marker(context.Background(), summaryTypeKey))
}
