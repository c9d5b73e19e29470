// Package sync implements the health data synchronization engine: it pulls
// record batches from the device health-data provider, tracks consumption
// anchors, and uploads the batches to the Hale server, resuming correctly
// across restarts, device locks, and network failures.
package sync

import (
	"errors"
	"time"
)

// Context tags why a sync is happening. Anchors are keyed by
// (Context, record type), so foreground and background triggers never share
// cursors.
type Context string

const (
	// ContextHealthData is the explicit, orchestrated full sync
	ContextHealthData Context = "healthDataSync"
	// ContextBackground is an observer-triggered sync for samples and workouts
	ContextBackground Context = "healthDataBackgroundSync"
	// ContextRecordsBackground is an observer-triggered sync for clinical records
	ContextRecordsBackground Context = "healthRecordsBackgroundSync"
)

// ErrSyncInProgress is returned when a sync session is requested while one
// is already running. Sessions are coalesced, not queued.
var ErrSyncInProgress = errors.New("health data sync already in progress")

// ErrorType classifies a sync failure
type ErrorType string

const (
	// ErrorTypeUnavailable is a lock-related provider failure
	ErrorTypeUnavailable ErrorType = "provider_unavailable"
	// ErrorTypeQuery is a non-lock provider query failure
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeUpload is an upload client failure
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeDecode is a clinical record decode failure
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeUnknown is anything else
	ErrorTypeUnknown ErrorType = "unknown"
)

// Options controls one orchestrated sync session
type Options struct {
	// FullRefresh discards all foreground anchors and replays from the start
	FullRefresh bool
	// MonthsBack bounds the nominal window for time-bounded record types;
	// zero means "since anchor"
	MonthsBack int
	// InBackground marks observer-driven sessions
	InBackground bool
}

// SyncLog is one row per record-type sync attempt
type SyncLog struct {
	ID           string
	Context      Context
	RecordType   string
	Success      bool
	ErrorType    ErrorType
	ErrorMessage string
	ItemsSynced  int
	WindowStart  *time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// NewSyncLog creates a log entry for an attempt that just started
func NewSyncLog(syncContext Context, recordType string, windowStart *time.Time) *SyncLog {
	now := time.Now()
	return &SyncLog{
		Context:     syncContext,
		RecordType:  recordType,
		WindowStart: windowStart,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the attempt as successful
func (l *SyncLog) MarkSuccessful(itemsSynced int) {
	l.Success = true
	l.ItemsSynced = itemsSynced
	l.CompletedAt = time.Now()
}

// MarkFailed marks the attempt as failed
func (l *SyncLog) MarkFailed(errorType ErrorType, errorMessage string) {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = time.Now()
}

// Result summarizes one orchestrated sync session
type Result struct {
	SessionID    string
	FullRefresh  bool
	TotalRecords int
	FailedTypes  []string
	Completed    bool // every record family drained
	Duration     time.Duration
}

// SessionNotifier is the collaborating session component that drives UI
// state. It is notified, never consulted.
type SessionNotifier interface {
	OnSyncStarted()
	OnSyncCompleted()
}

// NopNotifier is a SessionNotifier that does nothing
type NopNotifier struct{}

func (NopNotifier) OnSyncStarted()   {}
func (NopNotifier) OnSyncCompleted() {}

// Persisted key layout. Anchor and failure-window keys are built per
// context/type; the flag keys are fixed.
const (
	keyHasCompletedFullSync = "hasCompletedFullSync"
	keyIsSyncing            = "isSyncingAllHealthData"
	keyServerSyncCompleted  = "serverSyncCompleted"

	anchorKeyPrefix = "anchor:"
	windowKeyPrefix = "failureWindow:"
)

func anchorKey(syncContext Context, typeKey string) string {
	return anchorKeyPrefix + string(syncContext) + ":" + typeKey
}

func windowKey(typeKey string) string {
	return windowKeyPrefix + typeKey
}
