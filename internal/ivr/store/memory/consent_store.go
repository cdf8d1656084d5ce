package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type ConsentStore struct {
	mu      sync.RWMutex
	current map[types.ConsentKey]types.ConsentRecord
	history []types.ConsentRecord
}

func NewConsentStore() *ConsentStore {
	return &ConsentStore{current: make(map[types.ConsentKey]types.ConsentRecord)}
}

func (s *ConsentStore) Get(_ context.Context, key types.ConsentKey) (types.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.current[key]
	if !ok {
		return types.ConsentRecord{}, store.ErrNotFound
	}
	return cloneConsent(rec), nil
}

func (s *ConsentStore) Save(_ context.Context, rec types.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[rec.Key()] = cloneConsent(rec)
	s.history = append(s.history, cloneConsent(rec))
	return nil
}

func (s *ConsentStore) ListByCustomer(ctx context.Context, tenantID, customerID string) ([]types.ConsentRecord, error) {
	return s.List(ctx, store.ConsentFilter{TenantID: tenantID, CustomerID: customerID})
}

func (s *ConsentStore) History(_ context.Context, tenantID, customerID string) ([]types.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ConsentRecord
	for _, rec := range s.history {
		if rec.TenantID == tenantID && rec.CustomerID == customerID {
			out = append(out, cloneConsent(rec))
		}
	}
	return out, nil
}

func (s *ConsentStore) ListGrantedExpiredBefore(_ context.Context, t time.Time) ([]types.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ConsentRecord
	for _, rec := range s.current {
		if rec.Granted && rec.RevokedAt == nil && rec.ExpiresAt != nil && !rec.ExpiresAt.After(t) {
			out = append(out, cloneConsent(rec))
		}
	}
	sortConsents(out)
	return out, nil
}

func (s *ConsentStore) List(_ context.Context, f store.ConsentFilter) ([]types.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ConsentRecord
	for _, rec := range s.current {
		if f.TenantID != "" && rec.TenantID != f.TenantID {
			continue
		}
		if f.CustomerID != "" && rec.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, cloneConsent(rec))
	}
	sortConsents(out)
	return out, nil
}

// Current records have no natural map order; sort by creation then id so
// "first record of a type" is stable.
func sortConsents(recs []types.ConsentRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ConsentID < recs[j].ConsentID
	})
}

func cloneConsent(rec types.ConsentRecord) types.ConsentRecord {
	rec.Metadata = cloneMap(rec.Metadata)
	rec.GrantedAt = cloneTime(rec.GrantedAt)
	rec.RevokedAt = cloneTime(rec.RevokedAt)
	rec.ExpiresAt = cloneTime(rec.ExpiresAt)
	return rec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
