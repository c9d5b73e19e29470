// Package ulid provides prefixed ULID generation for Hale entities.
//
// ULIDs are lexicographically sortable by time, which makes them a good fit
// for sync log and session identifiers that are queried in creation order.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Common prefixes for different parts of the application
const (
	// PrefixSync is used for sync log IDs
	PrefixSync = "sync"

	// PrefixSession is used for sync session IDs
	PrefixSession = "ses"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// GenerateWithPrefix creates a new prefixed ULID string, e.g. "sync-01AN4Z...".
func GenerateWithPrefix(prefix string) string {
	return prefix + PrefixSeparator + NewWithTime(time.Now())
}

// NewWithTime creates a new ULID string with a specific timestamp.
func NewWithTime(t time.Time) string {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return id.String()
}

// SyncID generates an ID for a sync log entry.
func SyncID() string {
	return GenerateWithPrefix(PrefixSync)
}

// SessionID generates an ID for a sync session.
func SessionID() string {
	return GenerateWithPrefix(PrefixSession)
}
