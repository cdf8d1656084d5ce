package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type ConsentStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewConsentStore(db *sql.DB, writer *dbpkg.Worker) *ConsentStore {
	return &ConsentStore{db: db, writer: writer}
}

const consentColumns = `consent_id, customer_id, tenant_id, channel, consent_type, granted,
  granted_at_ms, revoked_at_ms, expires_at_ms, audit_trail_id, metadata, created_at_ms, updated_at_ms`

func (s *ConsentStore) Get(ctx context.Context, key types.ConsentKey) (types.ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+consentColumns+` FROM consent_records
WHERE customer_id = ? AND tenant_id = ? AND consent_type = ? AND channel = ?;
`, key.CustomerID, key.TenantID, string(key.ConsentType), string(key.Channel))
	rec, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ConsentRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.ConsentRecord{}, fmt.Errorf("Get consent: %w", err)
	}
	return rec, nil
}

func (s *ConsentStore) Save(ctx context.Context, rec types.ConsentRecord) error {
	meta, err := encodeMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("Save encode metadata: %w", err)
	}
	args := []any{
		rec.ConsentID, rec.CustomerID, rec.TenantID, string(rec.Channel), string(rec.ConsentType),
		boolInt(rec.Granted), optMs(rec.GrantedAt), optMs(rec.RevokedAt), optMs(rec.ExpiresAt),
		nullString(rec.AuditTrailID), meta, toMs(rec.CreatedAt), toMs(rec.UpdatedAt),
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO consent_records(`+consentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(customer_id, tenant_id, consent_type, channel) DO UPDATE SET
  granted = excluded.granted,
  granted_at_ms = excluded.granted_at_ms,
  revoked_at_ms = excluded.revoked_at_ms,
  expires_at_ms = excluded.expires_at_ms,
  audit_trail_id = excluded.audit_trail_id,
  metadata = excluded.metadata,
  updated_at_ms = excluded.updated_at_ms;
`, args...); err != nil {
			return fmt.Errorf("Save upsert current: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO consent_history(`+consentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, args...); err != nil {
			return fmt.Errorf("Save append history: %w", err)
		}
		return nil
	})
}

func (s *ConsentStore) ListByCustomer(ctx context.Context, tenantID, customerID string) ([]types.ConsentRecord, error) {
	return s.List(ctx, store.ConsentFilter{TenantID: tenantID, CustomerID: customerID})
}

func (s *ConsentStore) History(ctx context.Context, tenantID, customerID string) ([]types.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+consentColumns+` FROM consent_history
WHERE tenant_id = ? AND customer_id = ?
ORDER BY history_id ASC;
`, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return collectConsents(rows)
}

func (s *ConsentStore) ListGrantedExpiredBefore(ctx context.Context, t time.Time) ([]types.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+consentColumns+` FROM consent_records
WHERE granted = 1 AND revoked_at_ms IS NULL
  AND expires_at_ms IS NOT NULL AND expires_at_ms <= ?
ORDER BY created_at_ms ASC, consent_id ASC;
`, toMs(t))
	if err != nil {
		return nil, fmt.Errorf("ListGrantedExpiredBefore: %w", err)
	}
	return collectConsents(rows)
}

func (s *ConsentStore) List(ctx context.Context, f store.ConsentFilter) ([]types.ConsentRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	q := `SELECT ` + consentColumns + ` FROM consent_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at_ms ASC, consent_id ASC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("List consents: %w", err)
	}
	return collectConsents(rows)
}

func collectConsents(rows *sql.Rows) ([]types.ConsentRecord, error) {
	defer rows.Close()
	var out []types.ConsentRecord
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanConsent(r rowScanner) (types.ConsentRecord, error) {
	var (
		rec                         types.ConsentRecord
		channel, consentType        string
		granted                     int
		grantedAt, revokedAt, expAt sql.NullInt64
		auditTrail, meta            sql.NullString
		createdMs, updatedMs        int64
	)
	if err := r.Scan(
		&rec.ConsentID, &rec.CustomerID, &rec.TenantID, &channel, &consentType, &granted,
		&grantedAt, &revokedAt, &expAt, &auditTrail, &meta, &createdMs, &updatedMs,
	); err != nil {
		return types.ConsentRecord{}, err
	}
	rec.Channel = types.ConsentChannel(channel)
	rec.ConsentType = types.ConsentType(consentType)
	rec.Granted = granted == 1
	rec.GrantedAt = optTime(grantedAt)
	rec.RevokedAt = optTime(revokedAt)
	rec.ExpiresAt = optTime(expAt)
	rec.AuditTrailID = auditTrail.String
	rec.CreatedAt = fromMs(createdMs)
	rec.UpdatedAt = fromMs(updatedMs)

	var err error
	if rec.Metadata, err = decodeMap(meta); err != nil {
		return types.ConsentRecord{}, err
	}
	return rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
