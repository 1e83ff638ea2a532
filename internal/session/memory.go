package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process. The single mutex makes the
// admission check and the insert one atomic step.
type MemoryStore struct {
	mu      sync.Mutex
	byToken map[string]*Session
	byNIP   map[string]map[string]struct{} // nip -> token set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken: make(map[string]*Session),
		byNIP:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) CreateIfUnderCap(ctx context.Context, sess *Session, max int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countActiveLocked(sess.NIP, now) >= max {
		return ErrMaxSessions
	}
	cp := *sess
	s.byToken[cp.Token] = &cp
	tokens, ok := s.byNIP[cp.NIP]
	if !ok {
		tokens = make(map[string]struct{})
		s.byNIP[cp.NIP] = tokens
	}
	tokens[cp.Token] = struct{}{}
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *MemoryStore) CountActive(ctx context.Context, nip string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(nip, now), nil
}

func (s *MemoryStore) ListActive(ctx context.Context, nip string, now time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for token := range s.byNIP[nip] {
		sess := s.byToken[token]
		if sess.Live(now) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Touch(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivity = at
	return nil
}

func (s *MemoryStore) MarkInactive(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	sess.Active = false
	return nil
}

func (s *MemoryStore) MarkInactiveAllExcept(ctx context.Context, nip, keepToken string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token := range s.byNIP[nip] {
		if token == keepToken {
			continue
		}
		if sess := s.byToken[token]; sess.Active {
			sess.Active = false
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkInactiveAll(ctx context.Context, nip string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token := range s.byNIP[nip] {
		if sess := s.byToken[token]; sess.Active {
			sess.Active = false
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.byToken {
		if sess.Active && !sess.ExpiresAt.After(now) {
			sess.Active = false
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PurgeTerminated(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token, sess := range s.byToken {
		if !sess.Active && sess.ExpiresAt.Before(cutoff) {
			delete(s.byToken, token)
			delete(s.byNIP[sess.NIP], token)
			if len(s.byNIP[sess.NIP]) == 0 {
				delete(s.byNIP, sess.NIP)
			}
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) countActiveLocked(nip string, now time.Time) int {
	count := 0
	for token := range s.byNIP[nip] {
		if s.byToken[token].Live(now) {
			count++
		}
	}
	return count
}
