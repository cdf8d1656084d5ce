package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// AuditStore is an in-memory append-only set of per-tenant chains.
// It is intended for use in tests and dev environments.
type AuditStore struct {
	mu     sync.Mutex
	chains map[string][]types.AuditEvent
}

func NewAuditStore() *AuditStore {
	return &AuditStore{chains: make(map[string][]types.AuditEvent)}
}

func (s *AuditStore) Append(_ context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[ev.TenantID]
	if want := int64(len(chain)) + 1; ev.Seq != want {
		return fmt.Errorf("Append %s seq %d (want %d): %w", ev.TenantID, ev.Seq, want, store.ErrChainConflict)
	}
	s.chains[ev.TenantID] = append(chain, cloneEvent(ev))
	return nil
}

func (s *AuditStore) Last(_ context.Context, tenantID string) (types.AuditEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return types.AuditEvent{}, false, nil
	}
	return cloneEvent(chain[len(chain)-1]), true, nil
}

func (s *AuditStore) Chain(_ context.Context, tenantID string, fn func(types.AuditEvent, error) error) error {
	s.mu.Lock()
	chain := make([]types.AuditEvent, len(s.chains[tenantID]))
	for i, ev := range s.chains[tenantID] {
		chain[i] = cloneEvent(ev)
	}
	s.mu.Unlock()

	for _, ev := range chain {
		if err := fn(ev, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuditStore) Search(_ context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants := make([]string, 0, len(s.chains))
	for t := range s.chains {
		if f.TenantID == "" || f.TenantID == t {
			tenants = append(tenants, t)
		}
	}
	sort.Strings(tenants)

	var out []types.AuditEvent
	for _, t := range tenants {
		for _, ev := range s.chains[t] {
			if !matchAudit(ev, f) {
				continue
			}
			out = append(out, cloneEvent(ev))
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Tamper overwrites a stored event in place. Test-only helper used to prove
// chain verification catches edits made behind the store's back.
func (s *AuditStore) Tamper(tenantID string, seq int64, fn func(*types.AuditEvent)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[tenantID]
	if seq < 1 || seq > int64(len(chain)) {
		return false
	}
	fn(&chain[seq-1])
	return true
}

func matchAudit(ev types.AuditEvent, f types.AuditFilter) bool {
	if f.CallID != "" && ev.CallID != f.CallID {
		return false
	}
	if len(f.EventTypes) > 0 {
		ok := false
		for _, t := range f.EventTypes {
			if ev.EventType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.Timestamp.After(f.To) {
		return false
	}
	return true
}

func cloneEvent(ev types.AuditEvent) types.AuditEvent {
	ev.EventData = cloneMap(ev.EventData)
	ev.Metadata = cloneMap(ev.Metadata)
	return ev
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
