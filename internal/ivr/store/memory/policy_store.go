package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type scriptKey struct {
	id      string
	version int
}

type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]types.CompliancePolicy
	order    []string
	scripts  map[scriptKey]types.DisclosureScript
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]types.CompliancePolicy),
		scripts:  make(map[scriptKey]types.DisclosureScript),
	}
}

// ListPolicies returns policies in insertion order.
func (s *PolicyStore) ListPolicies(_ context.Context) ([]types.CompliancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.CompliancePolicy, 0, len(s.order))
	for _, id := range s.order {
		p := s.policies[id]
		p.EscalationRules = append([]types.EscalationRule(nil), p.EscalationRules...)
		out = append(out, p)
	}
	return out, nil
}

func (s *PolicyStore) PutPolicy(_ context.Context, p types.CompliancePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.PolicyID]; !ok {
		s.order = append(s.order, p.PolicyID)
	}
	p.EscalationRules = append([]types.EscalationRule(nil), p.EscalationRules...)
	s.policies[p.PolicyID] = p
	return nil
}

func (s *PolicyStore) PutScript(_ context.Context, sc types.DisclosureScript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scriptKey{sc.ScriptID, sc.Version}
	if prev, ok := s.scripts[k]; ok {
		if prev.ScriptText != sc.ScriptText || prev.Language != sc.Language {
			return store.ErrScriptVersionExists
		}
		prev.IsActive = sc.IsActive
		s.scripts[k] = prev
		return nil
	}
	s.scripts[k] = sc
	return nil
}

func (s *PolicyStore) ActiveScript(_ context.Context, scriptID string) (types.DisclosureScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  types.DisclosureScript
		found bool
	)
	for k, sc := range s.scripts {
		if k.id != scriptID || !sc.IsActive {
			continue
		}
		if !found || sc.Version > best.Version {
			best, found = sc, true
		}
	}
	if !found {
		return types.DisclosureScript{}, store.ErrNotFound
	}
	return best, nil
}

func (s *PolicyStore) ScriptVersion(_ context.Context, scriptID string, version int) (types.DisclosureScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scripts[scriptKey{scriptID, version}]
	if !ok {
		return types.DisclosureScript{}, store.ErrNotFound
	}
	return sc, nil
}

func (s *PolicyStore) ListScripts(_ context.Context) ([]types.DisclosureScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DisclosureScript, 0, len(s.scripts))
	for _, sc := range s.scripts {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScriptID != out[j].ScriptID {
			return out[i].ScriptID < out[j].ScriptID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
