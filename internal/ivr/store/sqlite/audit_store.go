package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	dbpkg "github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

const auditColumns = `log_id, tenant_id, seq, call_id, event_type, ts_ms, event_data, metadata, event_hash, previous_hash`

func (s *AuditStore) Append(ctx context.Context, ev types.AuditEvent) error {
	data, err := encodeJSON(ev.EventData)
	if err != nil {
		return fmt.Errorf("Append encode event_data: %w", err)
	}
	meta, err := encodeMap(ev.Metadata)
	if err != nil {
		return fmt.Errorf("Append encode metadata: %w", err)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Re-check the head inside the write transaction so a stale caller
		// can never fork the chain.
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
SELECT MAX(seq) FROM audit_events WHERE tenant_id = ?;
`, ev.TenantID).Scan(&last); err != nil {
			return fmt.Errorf("Append read head: %w", err)
		}
		if want := last.Int64 + 1; ev.Seq != want {
			return fmt.Errorf("Append %s seq %d (want %d): %w", ev.TenantID, ev.Seq, want, store.ErrChainConflict)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_events(`+auditColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.LogID, ev.TenantID, ev.Seq, ev.CallID, string(ev.EventType),
			toMs(ev.Timestamp), data, meta, ev.EventHash, ev.PreviousHash,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) Last(ctx context.Context, tenantID string) (types.AuditEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+auditColumns+` FROM audit_events
WHERE tenant_id = ?
ORDER BY seq DESC LIMIT 1;
`, tenantID)
	ev, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AuditEvent{}, false, nil
	}
	if err != nil {
		return types.AuditEvent{}, false, fmt.Errorf("Last %s: %w", tenantID, err)
	}
	return ev, true, nil
}

func (s *AuditStore) Chain(ctx context.Context, tenantID string, fn func(types.AuditEvent, error) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+auditColumns+` FROM audit_events
WHERE tenant_id = ?
ORDER BY seq ASC;
`, tenantID)
	if err != nil {
		return fmt.Errorf("Chain %s: %w", tenantID, err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanAudit(rows)
		var decodeErr *decodeError
		if err != nil && !errors.As(err, &decodeErr) {
			return fmt.Errorf("Chain %s scan: %w", tenantID, err)
		}
		if err != nil {
			if ferr := fn(ev, decodeErr); ferr != nil {
				return ferr
			}
			continue
		}
		if ferr := fn(ev, nil); ferr != nil {
			return ferr
		}
	}
	return rows.Err()
}

func (s *AuditStore) Search(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.CallID != "" {
		where = append(where, "call_id = ?")
		args = append(args, f.CallID)
	}
	if len(f.EventTypes) > 0 {
		ph := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(ph, ", ")+")")
	}
	if !f.From.IsZero() {
		where = append(where, "ts_ms >= ?")
		args = append(args, toMs(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts_ms <= ?")
		args = append(args, toMs(f.To))
	}

	q := `SELECT ` + auditColumns + ` FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tenant_id ASC, seq ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("Search scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// decodeError marks a row whose columns were read but whose JSON payload
// could not be decoded.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode audit row: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func scanAudit(r rowScanner) (types.AuditEvent, error) {
	var (
		ev        types.AuditEvent
		eventType string
		tsMs      int64
		data      sql.NullString
		meta      sql.NullString
	)
	if err := r.Scan(
		&ev.LogID, &ev.TenantID, &ev.Seq, &ev.CallID, &eventType,
		&tsMs, &data, &meta, &ev.EventHash, &ev.PreviousHash,
	); err != nil {
		return types.AuditEvent{}, err
	}
	ev.EventType = types.EventType(eventType)
	ev.Timestamp = fromMs(tsMs)

	var err error
	if ev.EventData, err = decodeMap(data); err != nil {
		return ev, &decodeError{err}
	}
	if ev.Metadata, err = decodeMap(meta); err != nil {
		return ev, &decodeError{err}
	}
	return ev, nil
}
