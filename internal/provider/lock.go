package provider

import "sync"

// LockState tracks whether the device is locked. While locked the
// health-data store is unreachable and sync loops must fail fast instead of
// spinning. Only the platform lock-event handler writes it; everyone else
// reads.
type LockState struct {
	mu     sync.RWMutex
	locked bool
}

// NewLockState creates an unlocked LockState
func NewLockState() *LockState {
	return &LockState{}
}

// SetLocked records a lock or unlock event
func (s *LockState) SetLocked(locked bool) {
	s.mu.Lock()
	s.locked = locked
	s.mu.Unlock()
}

// IsLocked reports whether the device is currently locked
func (s *LockState) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}
