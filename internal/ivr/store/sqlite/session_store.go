package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type SessionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	now    func() time.Time
}

func NewSessionStore(db *sql.DB, writer *dbpkg.Worker) *SessionStore {
	return &SessionStore{
		db:     db,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const sessionColumns = `session_id, call_control_id, tenant_id, from_number, to_number, industry, region,
  language, current_step, flow_id, collected_data, status, authenticated, consent_granted,
  customer_id, previous_steps, failed_verifications, speech_recognition,
  started_at_ms, updated_at_ms, ended_at_ms`

func (s *SessionStore) Create(ctx context.Context, sess types.CallSession) error {
	args, err := sessionArgs(sess)
	if err != nil {
		return fmt.Errorf("Create session: %w", err)
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO call_sessions(`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, args...)
		if err != nil {
			return fmt.Errorf("Create session insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrAlreadyExists
		}
		return nil
	})
}

func (s *SessionStore) Get(ctx context.Context, id string) (types.CallSession, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+` FROM call_sessions WHERE session_id = ?;
`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CallSession{}, store.ErrNotFound
	}
	if err != nil {
		return types.CallSession{}, fmt.Errorf("Get session %s: %w", id, err)
	}
	return sess, nil
}

// Update reads, applies and writes back inside one writer transaction, so
// the monotonic flags and append-only step list hold even under retries.
func (s *SessionStore) Update(ctx context.Context, id string, u types.SessionUpdate) (types.CallSession, error) {
	var out types.CallSession
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT `+sessionColumns+` FROM call_sessions WHERE session_id = ?;
`, id)
		sess, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("Update session %s read: %w", id, err)
		}

		sess.Apply(u, s.now())

		data, err := encodeJSON(nonNilMap(sess.CollectedData))
		if err != nil {
			return err
		}
		steps, err := encodeJSON(nonNilSlice(sess.PreviousSteps))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE call_sessions
SET current_step = ?,
    collected_data = ?,
    status = ?,
    authenticated = ?,
    consent_granted = ?,
    customer_id = ?,
    previous_steps = ?,
    failed_verifications = ?,
    updated_at_ms = ?,
    ended_at_ms = ?
WHERE session_id = ?;
`,
			sess.CurrentStep, data, string(sess.Status), boolInt(sess.Authenticated),
			boolInt(sess.ConsentGranted), sess.CustomerID, steps, sess.FailedVerifications,
			toMs(sess.UpdatedAt), optMs(sess.EndedAt), id,
		); err != nil {
			return fmt.Errorf("Update session %s write: %w", id, err)
		}
		out = sess
		return nil
	})
	return out, err
}

// PurgeEndedBefore deletes ended sessions older than cutoff. Uses the
// partial idx_sessions_ended index.
func (s *SessionStore) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM call_sessions
WHERE ended_at_ms IS NOT NULL AND ended_at_ms < ?;
`, toMs(cutoff))
		if err != nil {
			return fmt.Errorf("PurgeEndedBefore: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *SessionStore) List(ctx context.Context, f store.SessionFilter) ([]types.CallSession, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + sessionColumns + ` FROM call_sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at_ms ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("List sessions: %w", err)
	}
	defer rows.Close()

	var out []types.CallSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("List sessions scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func sessionArgs(sess types.CallSession) ([]any, error) {
	data, err := encodeJSON(nonNilMap(sess.CollectedData))
	if err != nil {
		return nil, err
	}
	steps, err := encodeJSON(nonNilSlice(sess.PreviousSteps))
	if err != nil {
		return nil, err
	}
	return []any{
		sess.SessionID, sess.CallControlID, sess.TenantID, sess.From, sess.To, sess.Industry, sess.Region,
		sess.Language, sess.CurrentStep, sess.FlowID, data, string(sess.Status),
		boolInt(sess.Authenticated), boolInt(sess.ConsentGranted), sess.CustomerID, steps,
		sess.FailedVerifications, boolInt(sess.SpeechRecognition),
		toMs(sess.StartedAt), toMs(sess.UpdatedAt), optMs(sess.EndedAt),
	}, nil
}

func scanSession(r rowScanner) (types.CallSession, error) {
	var (
		sess                    types.CallSession
		data, steps, status     string
		authed, consent, speech int
		startedMs, updatedMs    int64
		endedMs                 sql.NullInt64
	)
	if err := r.Scan(
		&sess.SessionID, &sess.CallControlID, &sess.TenantID, &sess.From, &sess.To, &sess.Industry,
		&sess.Region, &sess.Language, &sess.CurrentStep, &sess.FlowID, &data, &status,
		&authed, &consent, &sess.CustomerID, &steps, &sess.FailedVerifications, &speech,
		&startedMs, &updatedMs, &endedMs,
	); err != nil {
		return types.CallSession{}, err
	}
	sess.Status = types.SessionStatus(status)
	sess.Authenticated = authed == 1
	sess.ConsentGranted = consent == 1
	sess.SpeechRecognition = speech == 1
	sess.StartedAt = fromMs(startedMs)
	sess.UpdatedAt = fromMs(updatedMs)
	sess.EndedAt = optTime(endedMs)

	if err := json.Unmarshal([]byte(data), &sess.CollectedData); err != nil {
		return types.CallSession{}, fmt.Errorf("decode collected_data: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &sess.PreviousSteps); err != nil {
		return types.CallSession{}, fmt.Errorf("decode previous_steps: %w", err)
	}
	return sess, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
