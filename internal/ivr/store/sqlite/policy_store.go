package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type PolicyStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPolicyStore(db *sql.DB, writer *dbpkg.Worker) *PolicyStore {
	return &PolicyStore{db: db, writer: writer}
}

// ListPolicies returns policies in insertion (rowid) order, which the
// engine relies on for deterministic lookup.
func (s *PolicyStore) ListPolicies(ctx context.Context) ([]types.CompliancePolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT policy_id, tenant_id, industry, region,
  requires_identity_verification, requires_disclosure, requires_consent_recording,
  disclosure_script_id, escalation_rules, is_active, updated_at_ms
FROM compliance_policies
ORDER BY rowid ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("ListPolicies: %w", err)
	}
	defer rows.Close()

	var out []types.CompliancePolicy
	for rows.Next() {
		var (
			p                   types.CompliancePolicy
			identity, disc, rec int
			active              int
			rules               string
			updatedMs           int64
		)
		if err := rows.Scan(
			&p.PolicyID, &p.TenantID, &p.Industry, &p.Region,
			&identity, &disc, &rec, &p.DisclosureScriptID, &rules, &active, &updatedMs,
		); err != nil {
			return nil, fmt.Errorf("ListPolicies scan: %w", err)
		}
		p.RequiresIdentityVerification = identity == 1
		p.RequiresDisclosure = disc == 1
		p.RequiresConsentRecording = rec == 1
		p.IsActive = active == 1
		p.UpdatedAt = fromMs(updatedMs)
		if err := json.Unmarshal([]byte(rules), &p.EscalationRules); err != nil {
			return nil, fmt.Errorf("ListPolicies decode rules for %s: %w", p.PolicyID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) PutPolicy(ctx context.Context, p types.CompliancePolicy) error {
	rules := p.EscalationRules
	if rules == nil {
		rules = []types.EscalationRule{}
	}
	rulesJSON, err := encodeJSON(rules)
	if err != nil {
		return fmt.Errorf("PutPolicy %s: %w", p.PolicyID, err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO compliance_policies(
  policy_id, tenant_id, industry, region,
  requires_identity_verification, requires_disclosure, requires_consent_recording,
  disclosure_script_id, escalation_rules, is_active, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(policy_id) DO UPDATE SET
  tenant_id = excluded.tenant_id,
  industry = excluded.industry,
  region = excluded.region,
  requires_identity_verification = excluded.requires_identity_verification,
  requires_disclosure = excluded.requires_disclosure,
  requires_consent_recording = excluded.requires_consent_recording,
  disclosure_script_id = excluded.disclosure_script_id,
  escalation_rules = excluded.escalation_rules,
  is_active = excluded.is_active,
  updated_at_ms = excluded.updated_at_ms;
`,
			p.PolicyID, p.TenantID, p.Industry, p.Region,
			boolInt(p.RequiresIdentityVerification), boolInt(p.RequiresDisclosure),
			boolInt(p.RequiresConsentRecording), p.DisclosureScriptID, rulesJSON,
			boolInt(p.IsActive), toMs(p.UpdatedAt),
		); err != nil {
			return fmt.Errorf("PutPolicy %s: %w", p.PolicyID, err)
		}
		return nil
	})
}

func (s *PolicyStore) PutScript(ctx context.Context, sc types.DisclosureScript) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var text, lang string
		err := tx.QueryRowContext(ctx, `
SELECT script_text, language FROM disclosure_scripts WHERE script_id = ? AND version = ?;
`, sc.ScriptID, sc.Version).Scan(&text, &lang)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
INSERT INTO disclosure_scripts(
  script_id, version, policy_id, language, script_text, is_active, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, sc.ScriptID, sc.Version, sc.PolicyID, sc.Language, sc.ScriptText,
				boolInt(sc.IsActive), toMs(sc.CreatedAt)); err != nil {
				return fmt.Errorf("PutScript %s v%d: %w", sc.ScriptID, sc.Version, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("PutScript %s v%d read: %w", sc.ScriptID, sc.Version, err)
		}

		if text != sc.ScriptText || lang != sc.Language {
			return fmt.Errorf("PutScript %s v%d: %w", sc.ScriptID, sc.Version, store.ErrScriptVersionExists)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE disclosure_scripts SET is_active = ? WHERE script_id = ? AND version = ?;
`, boolInt(sc.IsActive), sc.ScriptID, sc.Version); err != nil {
			return fmt.Errorf("PutScript %s v%d activate: %w", sc.ScriptID, sc.Version, err)
		}
		return nil
	})
}

const scriptColumns = `script_id, version, policy_id, language, script_text, is_active, created_at_ms`

func (s *PolicyStore) ActiveScript(ctx context.Context, scriptID string) (types.DisclosureScript, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+scriptColumns+` FROM disclosure_scripts
WHERE script_id = ? AND is_active = 1
ORDER BY version DESC LIMIT 1;
`, scriptID)
	return oneScript(row)
}

func (s *PolicyStore) ScriptVersion(ctx context.Context, scriptID string, version int) (types.DisclosureScript, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+scriptColumns+` FROM disclosure_scripts
WHERE script_id = ? AND version = ?;
`, scriptID, version)
	return oneScript(row)
}

func (s *PolicyStore) ListScripts(ctx context.Context) ([]types.DisclosureScript, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scriptColumns+` FROM disclosure_scripts
ORDER BY script_id ASC, version ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("ListScripts: %w", err)
	}
	defer rows.Close()

	var out []types.DisclosureScript
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("ListScripts scan: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func oneScript(row *sql.Row) (types.DisclosureScript, error) {
	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DisclosureScript{}, store.ErrNotFound
	}
	if err != nil {
		return types.DisclosureScript{}, fmt.Errorf("read script: %w", err)
	}
	return sc, nil
}

func scanScript(r rowScanner) (types.DisclosureScript, error) {
	var (
		sc        types.DisclosureScript
		active    int
		createdMs int64
	)
	if err := r.Scan(&sc.ScriptID, &sc.Version, &sc.PolicyID, &sc.Language, &sc.ScriptText, &active, &createdMs); err != nil {
		return types.DisclosureScript{}, err
	}
	sc.IsActive = active == 1
	sc.CreatedAt = fromMs(createdMs)
	return sc, nil
}
