package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int
	expiresAt time.Time
}

// MemoryStore keeps counters in process. The two-level map lets
// DeleteIdentifier drop every origin's counter without storing plaintext
// identifiers or addresses.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]counter // idKey -> pairKey -> counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]counter)}
}

func (s *MemoryStore) Increment(ctx context.Context, idKey, pairKey string, now, expiresAt time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, ok := s.entries[idKey]
	if !ok {
		pairs = make(map[string]counter)
		s.entries[idKey] = pairs
	}
	c, ok := pairs[pairKey]
	if !ok || !now.Before(c.expiresAt) {
		// First failure of a fresh window: counter and TTL reset together.
		c = counter{count: 1, expiresAt: expiresAt}
	} else {
		c.count++
	}
	pairs[pairKey] = c
	return c.count, c.expiresAt, nil
}

func (s *MemoryStore) Get(ctx context.Context, idKey, pairKey string, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, ok := s.entries[idKey]
	if !ok {
		return 0, time.Time{}, nil
	}
	c, ok := pairs[pairKey]
	if !ok || !now.Before(c.expiresAt) {
		return 0, time.Time{}, nil
	}
	return c.count, c.expiresAt, nil
}

func (s *MemoryStore) Delete(ctx context.Context, idKey, pairKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pairs, ok := s.entries[idKey]; ok {
		delete(pairs, pairKey)
		if len(pairs) == 0 {
			delete(s.entries, idKey)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteIdentifier(ctx context.Context, idKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, idKey)
	return nil
}

// Sweep drops decayed counters. Intended for periodic background invocation.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for idKey, pairs := range s.entries {
		for pairKey, c := range pairs {
			if !now.Before(c.expiresAt) {
				delete(pairs, pairKey)
				removed++
			}
		}
		if len(pairs) == 0 {
			delete(s.entries, idKey)
		}
	}
	return removed
}
