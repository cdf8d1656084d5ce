package store

import (
	"context"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// AuditStore persists hash-chained audit events. There is deliberately no
// update or delete method.
type AuditStore interface {
	// Append stores ev. ev.Seq must be exactly one past the tenant's last
	// stored seq, otherwise ErrChainConflict is returned.
	Append(ctx context.Context, ev types.AuditEvent) error

	// Last returns the newest event of the tenant chain.
	Last(ctx context.Context, tenantID string) (types.AuditEvent, bool, error)

	// Chain walks the tenant chain in seq order. A row that cannot be decoded
	// is passed with a non-nil decodeErr and whatever fields could be read.
	Chain(ctx context.Context, tenantID string, fn func(ev types.AuditEvent, decodeErr error) error) error

	// Search returns matching events ordered by tenant then seq.
	Search(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error)
}
