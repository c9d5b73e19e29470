package sync

import (
	"context"

	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/provider"
	"github.com/hale-app/hale/internal/store"
)

// AnchorStore persists, per (context, record type) pair, the opaque cursor
// the provider handed back after the last consumed batch. It never fails
// the caller: a storage error on read is treated as "no anchor", which only
// costs re-delivery, never data loss.
type AnchorStore struct {
	kv     store.Repository
	logger *loggy.Logger
}

// NewAnchorStore creates an AnchorStore over the key-value repository
func NewAnchorStore(kv store.Repository, logger *loggy.Logger) *AnchorStore {
	return &AnchorStore{kv: kv, logger: logger}
}

// Get returns the stored anchor, or nil when absent or unreadable
func (s *AnchorStore) Get(ctx context.Context, syncContext Context, typeKey string) provider.Anchor {
	value, err := s.kv.Get(ctx, anchorKey(syncContext, typeKey))
	if err != nil {
		s.logger.Warn("Failed to read anchor, treating as absent",
			"context", syncContext, "type", typeKey, "error", err)
		return nil
	}
	if len(value) == 0 {
		return nil
	}
	return provider.Anchor(value)
}

// Set stores the anchor. Storage failures are logged, not propagated; the
// next run simply resumes from the previous anchor.
func (s *AnchorStore) Set(ctx context.Context, syncContext Context, typeKey string, anchor provider.Anchor) {
	if err := s.kv.Set(ctx, anchorKey(syncContext, typeKey), anchor); err != nil {
		s.logger.Error("Failed to persist anchor",
			"context", syncContext, "type", typeKey, "error", err)
	}
}

// Reset removes every anchor stored for one context. Used by full refresh.
func (s *AnchorStore) Reset(ctx context.Context, syncContext Context) {
	if err := s.kv.DeletePrefix(ctx, anchorKeyPrefix+string(syncContext)+":"); err != nil {
		s.logger.Error("Failed to reset anchors", "context", syncContext, "error", err)
	}
}
