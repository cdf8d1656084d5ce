package store

import (
	"context"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type SessionFilter struct {
	TenantID string
	Status   types.SessionStatus
	Limit    int
}

type SessionStore interface {
	// Create fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, s types.CallSession) error
	Get(ctx context.Context, id string) (types.CallSession, error)

	// Update applies u atomically and returns the resulting session.
	Update(ctx context.Context, id string, u types.SessionUpdate) (types.CallSession, error)

	// PurgeEndedBefore deletes sessions whose EndedAt is before cutoff.
	PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	List(ctx context.Context, f SessionFilter) ([]types.CallSession, error)
}
