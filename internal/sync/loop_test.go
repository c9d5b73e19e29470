package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/provider"
	"github.com/hale-app/hale/internal/store"
)

// fakeProvider serves a scripted sequence of query results. Once the script
// is exhausted every query returns an empty (drained) batch.
type fakeProvider struct {
	mu       stdsync.Mutex
	results  []provider.QueryResult
	queries  []provider.Query
	queryFn  func(q provider.Query) (provider.QueryResult, error)
	queryErr error
	chars    map[string]string
	charsErr error
	subs     map[string]chan provider.ChangeEvent
}

func newFakeProvider(results ...provider.QueryResult) *fakeProvider {
	return &fakeProvider{
		results: results,
		chars:   map[string]string{health.TypeIDBloodType: "O+"},
		subs:    make(map[string]chan provider.ChangeEvent),
	}
}

func (p *fakeProvider) QueryBatch(ctx context.Context, q provider.Query) (provider.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)

	if p.queryFn != nil {
		return p.queryFn(q)
	}
	if p.queryErr != nil {
		return provider.QueryResult{}, p.queryErr
	}
	if len(p.results) == 0 {
		return provider.QueryResult{NewAnchor: provider.Anchor("drained")}, nil
	}
	res := p.results[0]
	p.results = p.results[1:]
	return res, nil
}

func (p *fakeProvider) Characteristics(ctx context.Context) (map[string]string, error) {
	if p.charsErr != nil {
		return nil, p.charsErr
	}
	return p.chars, nil
}

func (p *fakeProvider) Subscribe(typeID string) (*provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan provider.ChangeEvent, 8)
	p.subs[typeID] = ch
	return provider.NewSubscription(typeID, ch, nil), nil
}

func (p *fakeProvider) IsAvailable() bool { return true }

// notify pushes one change event to the subscriber of typeID and blocks
// until the event's completion is signalled.
func (p *fakeProvider) notify(typeID string) {
	p.mu.Lock()
	ch := p.subs[typeID]
	p.mu.Unlock()

	var wg stdsync.WaitGroup
	wg.Add(1)
	ch <- provider.ChangeEvent{TypeID: typeID, Done: wg.Done}
	wg.Wait()
}

func (p *fakeProvider) queryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queries)
}

func (p *fakeProvider) query(i int) provider.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[i]
}

// fakeUploader records everything it is asked to send
type fakeUploader struct {
	mu         stdsync.Mutex
	batches    []*health.BatchPayload
	profiles   []*health.ProfilePayload
	summaries  []*health.SummaryPayload
	completed  []bool
	batchErr   error
	profileErr error
	summaryErr error
}

func (u *fakeUploader) SendBatch(ctx context.Context, batch *health.BatchPayload) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.batchErr != nil {
		return u.batchErr
	}
	u.batches = append(u.batches, batch)
	return nil
}

func (u *fakeUploader) SendProfile(ctx context.Context, profile *health.ProfilePayload) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.profileErr != nil {
		return u.profileErr
	}
	u.profiles = append(u.profiles, profile)
	return nil
}

func (u *fakeUploader) SendSummary(ctx context.Context, summary *health.SummaryPayload) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.summaryErr != nil {
		return u.summaryErr
	}
	u.summaries = append(u.summaries, summary)
	return nil
}

func (u *fakeUploader) SetSyncCompleted(ctx context.Context, completed bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.completed = append(u.completed, completed)
	return nil
}

func (u *fakeUploader) batchCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.batches)
}

// recordingKV wraps the in-memory repository and records every Set key
type recordingKV struct {
	*store.MemoryRepository
	mu   stdsync.Mutex
	sets []string
}

func newRecordingKV() *recordingKV {
	return &recordingKV{MemoryRepository: store.NewMemoryRepository()}
}

func (r *recordingKV) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	r.sets = append(r.sets, key)
	r.mu.Unlock()
	return r.MemoryRepository.Set(ctx, key, value)
}

func (r *recordingKV) setsFor(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.sets {
		if k == key {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, prov provider.Provider, uploader Uploader, kv store.Repository) *Service {
	t.Helper()
	cfg := config.New().Sync
	cfg.QueriesPerMinute = 0
	return NewService(cfg, prov, uploader, kv, NopRepository{}, provider.NewLockState(), NopNotifier{}, loggy.NewNoopLogger())
}

func makeRecords(typeID string, n int) []health.Record {
	records := make([]health.Record, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = health.Record{
			ID:     fmt.Sprintf("rec-%04d", i),
			TypeID: typeID,
			Type:   health.RecordTypeNumericSample,
			Start:  base.Add(time.Duration(i) * time.Minute),
			Value:  float64(i),
			Unit:   "count",
		}
	}
	return records
}

func TestRunBatchLoopDrainsInBatches(t *testing.T) {
	prov := newFakeProvider(provider.QueryResult{
		Added:     makeRecords(health.TypeIDStepCount, 1000),
		NewAnchor: provider.Anchor("a1"),
	})
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	var added [][]health.Record
	count, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 1000,
		OnAdded: func(ctx context.Context, records []health.Record) error {
			added = append(added, records)
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 1000, count)
	require.Len(t, added, 1)
	assert.Len(t, added[0], 1000)

	// One query delivering the batch, one confirming the drain
	assert.Equal(t, 2, prov.queryCount())

	// The anchor is persisted after the delivered batch and again at drain
	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	assert.Equal(t, 2, kv.setsFor(key))

	// The drain query resumes from the intermediate anchor
	assert.Equal(t, provider.Anchor("a1"), prov.query(1).Anchor)

	stored, err := kv.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("drained"), stored)
}

func TestRunBatchLoopLockedFailsFast(t *testing.T) {
	prov := newFakeProvider()
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)
	svc.locks.SetLocked(true)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeWorkout,
		Context:   ContextHealthData,
		Start:     &start,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return nil },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, ErrorTypeUnavailable, classifyError(err))
	assert.Equal(t, 0, prov.queryCount())

	// The failed window must be remembered for the next attempt
	marker := svc.windows.Marker(context.Background(), string(health.RecordTypeWorkout))
	require.NotNil(t, marker)
	assert.True(t, marker.Equal(start))

	// No anchor movement on failure
	key := anchorKey(ContextHealthData, string(health.RecordTypeWorkout))
	assert.Equal(t, 0, kv.setsFor(key))
}

func TestRunBatchLoopLockMidLoopResumesFromAnchor(t *testing.T) {
	prov := newFakeProvider()
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	firstBatch := makeRecords(health.TypeIDStepCount, 100)
	prov.queryFn = func(q provider.Query) (provider.QueryResult, error) {
		// Device locks while this batch is in flight
		svc.locks.SetLocked(true)
		return provider.QueryResult{Added: firstBatch, NewAnchor: provider.Anchor("a1")}, nil
	}

	var delivered [][]health.Record
	params := loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded: func(ctx context.Context, records []health.Record) error {
			delivered = append(delivered, records)
			return nil
		},
	}

	count, err := svc.runBatchLoop(context.Background(), params)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 100, count)
	require.Len(t, delivered, 1)

	// The fully processed batch's anchor is persisted, nothing past it
	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	stored, err := kv.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), stored)

	// Unlock and re-run: the loop resumes from the persisted anchor and
	// delivers the next batch exactly once
	svc.locks.SetLocked(false)
	prov.queryFn = nil
	secondBatch := makeRecords(health.TypeIDHeartRate, 50)
	prov.results = []provider.QueryResult{{Added: secondBatch, NewAnchor: provider.Anchor("a2")}}

	count, err = svc.runBatchLoop(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 50, count)
	require.Len(t, delivered, 2)
	assert.Len(t, delivered[1], 50)
	assert.Equal(t, provider.Anchor("a1"), prov.query(1).Anchor)
}

func TestRunBatchLoopNilStartStaysUnboundedDespiteMarker(t *testing.T) {
	prov := newFakeProvider()
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	typeKey := string(health.RecordTypeClinical)
	marker := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.windows.RecordFailure(context.Background(), typeKey, marker)

	_, err := svc.syncClinicalRecords(context.Background(), ContextHealthData, false)
	require.NoError(t, err)

	// Clinical records can be amended with nominal dates arbitrarily far in
	// the past; the retry after a failure must query the unbounded past, not
	// a window narrowed to the failure marker.
	require.Equal(t, 1, prov.queryCount())
	assert.Nil(t, prov.query(0).Start)

	// The unbounded run covers the failed window, so the marker clears
	assert.Nil(t, svc.windows.Marker(context.Background(), typeKey))
}

func TestRunBatchLoopUploadFailureHoldsAnchor(t *testing.T) {
	prov := newFakeProvider(provider.QueryResult{
		Added:     makeRecords(health.TypeIDStepCount, 10),
		NewAnchor: provider.Anchor("a1"),
	})
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	uploadErr := errors.New("server down")
	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return uploadErr },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, uploadErr)
	assert.Equal(t, ErrorTypeUpload, classifyError(err))

	// The batch was not handed off, so the anchor must not advance
	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	assert.Equal(t, 0, kv.setsFor(key))
}

func TestRunBatchLoopQueryFailure(t *testing.T) {
	prov := newFakeProvider()
	prov.queryErr = errors.New("store corrupt")
	svc := newTestService(t, prov, &fakeUploader{}, newRecordingKV())

	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return nil },
	})

	require.Error(t, err)
	assert.Equal(t, ErrorTypeQuery, classifyError(err))
}

func TestRunBatchLoopRemovalsPropagateOnDrain(t *testing.T) {
	// A drained batch can still carry removals; they must be propagated
	// before the loop exits.
	prov := newFakeProvider(provider.QueryResult{
		RemovedIDs: []string{"gone-1", "gone-2"},
		NewAnchor:  provider.Anchor("a1"),
	})
	kv := newRecordingKV()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	var removed []string
	count, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return nil },
		OnRemoved: func(ctx context.Context, ids []string) error {
			removed = append(removed, ids...)
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, []string{"gone-1", "gone-2"}, removed)
	assert.Equal(t, 1, prov.queryCount())

	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	assert.Equal(t, 1, kv.setsFor(key))
}

func TestRunBatchLoopFullRefreshIgnoresStoredAnchor(t *testing.T) {
	kv := newRecordingKV()
	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	require.NoError(t, kv.Set(context.Background(), key, []byte("stale")))

	prov := newFakeProvider()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:        health.RecordTypeNumericSample,
		Context:     ContextHealthData,
		End:         time.Now(),
		BatchSize:   100,
		FullRefresh: true,
		OnAdded:     func(context.Context, []health.Record) error { return nil },
	})

	require.NoError(t, err)
	assert.Nil(t, prov.query(0).Anchor)
}

func TestRunBatchLoopResumesFromStoredAnchor(t *testing.T) {
	kv := newRecordingKV()
	key := anchorKey(ContextHealthData, string(health.RecordTypeNumericSample))
	require.NoError(t, kv.Set(context.Background(), key, []byte("resume-here")))

	prov := newFakeProvider()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return nil },
	})

	require.NoError(t, err)
	assert.Equal(t, provider.Anchor("resume-here"), prov.query(0).Anchor)
}

func TestRunBatchLoopWidensToFailureMarker(t *testing.T) {
	kv := newRecordingKV()
	prov := newFakeProvider()
	svc := newTestService(t, prov, &fakeUploader{}, kv)

	typeKey := string(health.RecordTypeNumericSample)
	marker := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.windows.RecordFailure(context.Background(), typeKey, marker)

	requested := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.runBatchLoop(context.Background(), loopParams{
		Type:      health.RecordTypeNumericSample,
		Context:   ContextHealthData,
		Start:     &requested,
		End:       time.Now(),
		BatchSize: 100,
		OnAdded:   func(context.Context, []health.Record) error { return nil },
	})
	require.NoError(t, err)

	// The query must cover the failed window, not just the requested one
	require.NotNil(t, prov.query(0).Start)
	assert.True(t, prov.query(0).Start.Equal(marker))

	// A successful run over the widened window clears the marker
	assert.Nil(t, svc.windows.Marker(context.Background(), typeKey))
}

func TestSyncRecordTypeSkipsUndecodableClinical(t *testing.T) {
	records := []health.Record{
		{ID: "c-1", TypeID: health.TypeIDAllergyRecord, Type: health.RecordTypeClinical,
			Start: time.Now(), Payload: []byte(`{"resourceType":"AllergyIntolerance","id":"c-1"}`)},
		{ID: "c-2", TypeID: health.TypeIDAllergyRecord, Type: health.RecordTypeClinical,
			Start: time.Now(), Payload: []byte(`not json`)},
		{ID: "c-3", TypeID: health.TypeIDConditionRecord, Type: health.RecordTypeClinical,
			Start: time.Now(), Payload: []byte(`{"resourceType":"Condition","id":"c-3","code":{"text":"Asthma"}}`)},
	}
	prov := newFakeProvider(provider.QueryResult{Added: records, NewAnchor: provider.Anchor("a1")})
	uploader := &fakeUploader{}
	svc := newTestService(t, prov, uploader, newRecordingKV())

	count, err := svc.syncClinicalRecords(context.Background(), ContextHealthData, false)
	require.NoError(t, err)

	// The loop counts delivered records; the undecodable one is dropped at
	// upload time, never failing the batch.
	assert.Equal(t, 3, count)
	require.Len(t, uploader.batches, 1)
	require.Len(t, uploader.batches[0].Added, 2)
	assert.Equal(t, "c-1", uploader.batches[0].Added[0].ID)
	assert.Equal(t, "c-3", uploader.batches[0].Added[1].ID)
	assert.Equal(t, "Condition", uploader.batches[0].Added[1].Metadata["resource_type"])
	assert.Equal(t, "Asthma", uploader.batches[0].Added[1].Metadata["display_name"])
}
