package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]types.CallSession
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]types.CallSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionStore) Create(_ context.Context, sess types.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.SessionID]; ok {
		return store.ErrAlreadyExists
	}
	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (types.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.CallSession{}, store.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, id string, u types.SessionUpdate) (types.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.CallSession{}, store.ErrNotFound
	}
	sess.Apply(u, s.now())
	s.sessions[id] = sess
	return sess.Clone(), nil
}

func (s *SessionStore) PurgeEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.EndedAt != nil && sess.EndedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) List(_ context.Context, f store.SessionFilter) ([]types.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.CallSession
	for _, sess := range s.sessions {
		if f.TenantID != "" && sess.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
