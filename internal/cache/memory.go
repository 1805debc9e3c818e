package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore is a mutex-guarded map of state to expiry.
//
// Expired entries are dropped lazily: every Save sweeps the map once
// sweepEvery writes have accumulated, so memory stays bounded without a
// background goroutine.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
	writes  int
}

const sweepEvery = 64

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore returns a store whose entries live for ttl.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return newMemoryStateStoreWithClock(ttl, time.Now)
}

func newMemoryStateStoreWithClock(ttl time.Duration, now func() time.Time) *MemoryStateStore {
	return &MemoryStateStore{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

func (s *MemoryStateStore) Save(_ context.Context, state string) error {
	if state == "" {
		return ErrEmptyState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[state] = now.Add(s.ttl)

	s.writes++
	if s.writes >= sweepEvery {
		s.writes = 0
		for k, exp := range s.entries {
			if !now.Before(exp) {
				delete(s.entries, k)
			}
		}
	}
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.entries[state]
	if !ok {
		return false, nil
	}
	delete(s.entries, state)
	return s.now().Before(exp), nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
