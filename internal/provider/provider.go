// Package provider defines the boundary to the device health-data store.
// The sync engine only depends on the interfaces here; the file-backed
// implementation is used for development and tests.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/hale-app/hale/internal/health"
)

// ErrUnavailable is returned when the health-data store cannot be reached,
// typically because the device is locked.
var ErrUnavailable = errors.New("health data provider unavailable")

// Anchor is an opaque cursor returned by the provider after each batch
// fetch. A nil anchor means "start of time". Anchors advance monotonically:
// re-querying with an old anchor re-delivers at least the records already
// seen, never fewer.
type Anchor []byte

// Query describes one bounded batch fetch
type Query struct {
	TypeIDs []string   // provider type identifiers to include
	Start   *time.Time // window start; nil means unbounded past
	End     time.Time  // window end, exclusive
	Anchor  Anchor     // resume cursor; nil starts from the beginning
	Limit   int        // max added records to return

	// FullWindow selects the overlap predicate (records touching the
	// window) instead of the strict start-date predicate.
	FullWindow bool
}

// QueryResult is one batch of changes since the query's anchor
type QueryResult struct {
	Added      []health.Record
	RemovedIDs []string
	NewAnchor  Anchor
}

// ChangeEvent signals that new data of a type appeared outside an explicit
// sync. Done must be called exactly once when handling finishes, success or
// not, so the platform does not consider the subscription stuck.
type ChangeEvent struct {
	TypeID string
	Done   func()
}

// Subscription is a long-lived registration for change events of one type
type Subscription struct {
	TypeID string
	Events <-chan ChangeEvent

	cancel func()
}

// NewSubscription builds a subscription over an event channel. cancel runs
// when the subscription is closed and may be nil.
func NewSubscription(typeID string, events <-chan ChangeEvent, cancel func()) *Subscription {
	return &Subscription{TypeID: typeID, Events: events, cancel: cancel}
}

// Close unregisters the subscription
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Provider is the device health-data store
type Provider interface {
	// QueryBatch fetches up to q.Limit added records and all removed record
	// identifiers since q.Anchor, constrained to the query window.
	QueryBatch(ctx context.Context, q Query) (QueryResult, error)

	// Characteristics returns the one-time profile values (date of birth,
	// blood type, ...) keyed by type identifier.
	Characteristics(ctx context.Context) (map[string]string, error)

	// Subscribe registers for change events of one type identifier.
	Subscribe(typeID string) (*Subscription, error)

	// IsAvailable reports whether the store is currently reachable.
	IsAvailable() bool
}
