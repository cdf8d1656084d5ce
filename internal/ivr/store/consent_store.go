package store

import (
	"context"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type ConsentFilter struct {
	TenantID   string
	CustomerID string
}

// ConsentStore keeps one current record per ConsentKey plus an append-only
// history of every saved version.
type ConsentStore interface {
	Get(ctx context.Context, key types.ConsentKey) (types.ConsentRecord, error)

	// Save upserts the current record and appends a history row.
	Save(ctx context.Context, rec types.ConsentRecord) error

	ListByCustomer(ctx context.Context, tenantID, customerID string) ([]types.ConsentRecord, error)
	History(ctx context.Context, tenantID, customerID string) ([]types.ConsentRecord, error)

	// ListGrantedExpiredBefore returns granted, unrevoked records whose
	// expiry is at or before t.
	ListGrantedExpiredBefore(ctx context.Context, t time.Time) ([]types.ConsentRecord, error)

	List(ctx context.Context, f ConsentFilter) ([]types.ConsentRecord, error)
}
