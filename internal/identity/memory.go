package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore holds one identity collection in process. Used in tests and for
// single-node deployments without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	byKey   map[string]Identity
	byNIP   map[string]string // nip -> key
	byEmail map[string]string // lowercased email -> key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:   make(map[string]Identity),
		byNIP:   make(map[string]string),
		byEmail: make(map[string]string),
	}
}

// Put inserts or replaces an identity record.
func (s *MemoryStore) Put(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byKey[id.Key]; ok {
		delete(s.byNIP, prev.NIP)
		if prev.Email != "" {
			delete(s.byEmail, strings.ToLower(prev.Email))
		}
	}
	s.byKey[id.Key] = id
	s.byNIP[id.NIP] = id.Key
	if id.Email != "" {
		s.byEmail[strings.ToLower(id.Email)] = id.Key
	}
}

func (s *MemoryStore) FindByNIP(ctx context.Context, nip string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byNIP[nip]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return s.byKey[key], nil
}

func (s *MemoryStore) FindByKey(ctx context.Context, key string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return s.byKey[key], nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return ErrNotFound
	}
	id.LastLoginAt = at
	s.byKey[key] = id
	return nil
}
