package cache

import (
	"context"
	"sync"
	"time"

	"guard_server/core/port/out"
)

// MemoryBackoffStore is a process-local backoff store for single-instance
// deployments and the CLI. Expired entries are dropped on write.
type MemoryBackoffStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	expiry    time.Time
	expiresAt time.Time
}

var _ out.BackoffStore = (*MemoryBackoffStore)(nil)

// NewMemoryBackoffStore creates an in-memory store. now defaults to time.Now.
func NewMemoryBackoffStore(now func() time.Time) *MemoryBackoffStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackoffStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryBackoffStore) GetExpiry(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !s.now().Before(e.expiresAt) {
		return time.Time{}, false, nil
	}
	return e.expiry, true, nil
}

func (s *MemoryBackoffStore) SetExpiry(_ context.Context, key string, expiry time.Time, ttl time.Duration) error {
	now := s.now()
	if ttl < minTTL {
		ttl = minTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{expiry: expiry, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of live entries.
func (s *MemoryBackoffStore) Len() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
