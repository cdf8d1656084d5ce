package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// TenantID receives a tenant-specific healthcare policy so the
	// tenant-over-default precedence can be exercised by hand.
	TenantID string
	// CustomerID gets a granted data_processing consent over sms.
	CustomerID string
}

// SeedDev inserts a small, idempotent data set for local development.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	tenant := strings.TrimSpace(opt.TenantID)
	if tenant == "" {
		tenant = "demo_clinic"
	}

	if _, err := db.ExecContext(ctx, `
INSERT INTO compliance_policies(
  policy_id, tenant_id, industry, region,
  requires_identity_verification, requires_disclosure, requires_consent_recording,
  disclosure_script_id, escalation_rules, is_active, updated_at_ms
) VALUES (?, ?, 'healthcare', 'USA', 1, 1, 1, 'hipaa_disclosure_en_us',
  '[{"condition":"user_requested_agent","action":"escalate","priority":"high"}]', 1, ?)
ON CONFLICT(policy_id) DO UPDATE SET
  updated_at_ms = excluded.updated_at_ms;
`, tenant+"_healthcare", tenant, now); err != nil {
		return fmt.Errorf("seed policy %s: %w", tenant, err)
	}

	customer := strings.TrimSpace(opt.CustomerID)
	if customer == "" {
		return nil
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO consent_records(
  consent_id, customer_id, tenant_id, channel, consent_type,
  granted, granted_at_ms, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, 'sms', 'data_processing', 1, ?, ?, ?);
`, "consent_seed_"+customer, customer, tenant, now, now, now); err != nil {
		return fmt.Errorf("seed consent %s: %w", customer, err)
	}

	return nil
}
