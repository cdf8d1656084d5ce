package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// FlowStore holds call flows. Flows are static after startup so there is
// no sqlite counterpart.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]types.CallFlow
}

func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]types.CallFlow)}
}

func (s *FlowStore) PutFlow(_ context.Context, f types.CallFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return nil
}

func (s *FlowStore) GetFlow(_ context.Context, id string) (types.CallFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return types.CallFlow{}, store.ErrNotFound
	}
	return f, nil
}

func (s *FlowStore) ListFlows(_ context.Context) ([]types.CallFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.CallFlow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
