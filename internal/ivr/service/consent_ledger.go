package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// ConsentLedger records customer consent per (customer, tenant, type,
// channel). Records are never deleted; every saved version is kept in the
// store history.
type ConsentLedger struct {
	store  store.ConsentStore
	audit  *AuditLog
	logger *slog.Logger
	now    func() time.Time
}

// NewConsentLedger wires the ledger. audit may be nil, in which case ledger
// mutations are not mirrored into the evidence log.
func NewConsentLedger(st store.ConsentStore, audit *AuditLog, logger *slog.Logger) *ConsentLedger {
	return &ConsentLedger{
		store:  st,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func validateConsent(req types.ConsentRequest) error {
	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return fmt.Errorf("%w: customer_id is required", ErrInvalidConsent)
	case strings.TrimSpace(req.TenantID) == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidConsent)
	case !req.Channel.Valid():
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConsent, req.Channel)
	case !req.ConsentType.Valid():
		return fmt.Errorf("%w: unknown consent type %q", ErrInvalidConsent, req.ConsentType)
	}
	return nil
}

// RecordConsent upserts the current record for the request's key. Granting
// stamps GrantedAt and clears RevokedAt; denying sets RevokedAt.
//
// When req.AuditTrailID is empty the ledger writes its own consent.granted
// or consent.revoked event first and links the record to it. Callers that
// already audited the decision pass that event's id instead.
func (l *ConsentLedger) RecordConsent(ctx context.Context, req types.ConsentRequest) (types.ConsentRecord, error) {
	if err := validateConsent(req); err != nil {
		return types.ConsentRecord{}, err
	}
	now := l.now()

	key := types.ConsentKey{
		CustomerID:  req.CustomerID,
		TenantID:    req.TenantID,
		ConsentType: req.ConsentType,
		Channel:     req.Channel,
	}
	rec, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = types.ConsentRecord{
			ConsentID:   types.NewID("consent", now),
			CustomerID:  req.CustomerID,
			TenantID:    req.TenantID,
			Channel:     req.Channel,
			ConsentType: req.ConsentType,
			CreatedAt:   now,
		}
	case err != nil:
		return types.ConsentRecord{}, fmt.Errorf("load consent: %w", err)
	}

	rec.Granted = req.Granted
	if req.Granted {
		rec.GrantedAt = &now
		rec.RevokedAt = nil
		rec.ExpiresAt = req.ExpiresAt
	} else {
		rec.RevokedAt = &now
	}
	if len(req.Metadata) > 0 {
		merged := make(map[string]any, len(rec.Metadata)+len(req.Metadata))
		for k, v := range rec.Metadata {
			merged[k] = v
		}
		for k, v := range req.Metadata {
			merged[k] = v
		}
		rec.Metadata = merged
	}
	rec.AuditTrailID = req.AuditTrailID
	rec.UpdatedAt = now

	if rec.AuditTrailID == "" {
		rec.AuditTrailID = l.auditMutation(ctx, rec)
	}

	if err := l.store.Save(ctx, rec); err != nil {
		return types.ConsentRecord{}, fmt.Errorf("save consent: %w", err)
	}
	return rec, nil
}

// auditMutation mirrors a ledger change into the evidence log and returns
// the event id. Failures are logged, not returned: the consent itself must
// still be persisted.
func (l *ConsentLedger) auditMutation(ctx context.Context, rec types.ConsentRecord) string {
	if l.audit == nil {
		return ""
	}
	et := types.EventConsentRevoked
	if rec.Granted {
		et = types.EventConsentGranted
	}
	callID, _ := rec.Metadata["call_id"].(string)

	ev, err := l.audit.LogEvent(ctx, types.AuditEventInput{
		TenantID:  rec.TenantID,
		CallID:    callID,
		EventType: et,
		EventData: map[string]any{
			"consent_id":   rec.ConsentID,
			"customer_id":  rec.CustomerID,
			"consent_type": string(rec.ConsentType),
			"channel":      string(rec.Channel),
			"granted":      rec.Granted,
		},
		Metadata: map[string]any{"service": "consent_ledger"},
	})
	if err != nil {
		l.logger.Error("consent audit write failed",
			"tenant_id", rec.TenantID,
			"consent_id", rec.ConsentID,
			"event_type", string(et),
			"error", err,
		)
		return ""
	}
	return ev.LogID
}

// RevokeConsent revokes the customer's record of consentType. An empty
// channel selects the first record of that type.
func (l *ConsentLedger) RevokeConsent(ctx context.Context, customerID, tenantID string, consentType types.ConsentType, channel types.ConsentChannel) (types.ConsentRecord, error) {
	current, err := l.store.ListByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return types.ConsentRecord{}, err
	}
	for _, c := range current {
		if c.ConsentType != consentType {
			continue
		}
		if channel != "" && c.Channel != channel {
			continue
		}
		return l.RecordConsent(ctx, types.ConsentRequest{
			CustomerID:  customerID,
			TenantID:    tenantID,
			Channel:     c.Channel,
			ConsentType: consentType,
			Granted:     false,
		})
	}
	return types.ConsentRecord{}, ErrConsentNotFound
}

// HasConsent reports whether an active, unexpired grant exists. Expiry is
// enforced here at read time even if the sweeper has not run yet.
func (l *ConsentLedger) HasConsent(ctx context.Context, customerID, tenantID string, consentType types.ConsentType, channel types.ConsentChannel) (bool, error) {
	current, err := l.store.ListByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return false, err
	}
	now := l.now()
	for _, c := range current {
		if c.ConsentType != consentType || (channel != "" && c.Channel != channel) {
			continue
		}
		if c.Active(now) {
			return true, nil
		}
	}
	return false, nil
}

// GetConsentStatus returns the active consents and the derived overall
// status:
//
//	no active consents                  → denied (expired if any grant lapsed)
//	every tracked consent active        → granted
//	otherwise                           → partial
func (l *ConsentLedger) GetConsentStatus(ctx context.Context, customerID, tenantID string) (types.ConsentStatus, error) {
	current, err := l.store.ListByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return types.ConsentStatus{}, err
	}
	now := l.now()

	active := make([]types.ConsentRecord, 0, len(current))
	anyExpired := false
	for _, c := range current {
		if c.Active(now) {
			active = append(active, c)
		}
		if c.Expired(now) {
			anyExpired = true
		}
	}

	status := types.OverallPartial
	switch {
	case len(active) == 0 && anyExpired:
		status = types.OverallExpired
	case len(active) == 0:
		status = types.OverallDenied
	case len(active) == len(current):
		status = types.OverallGranted
	}

	return types.ConsentStatus{
		CustomerID:    customerID,
		TenantID:      tenantID,
		Consents:      active,
		OverallStatus: status,
	}, nil
}

// GetConsentHistory returns every saved version, oldest first.
func (l *ConsentLedger) GetConsentHistory(ctx context.Context, customerID, tenantID string) ([]types.ConsentRecord, error) {
	return l.store.History(ctx, tenantID, customerID)
}

// CleanupExpiredConsents revokes every grant whose expiry has passed and
// returns how many were revoked.
func (l *ConsentLedger) CleanupExpiredConsents(ctx context.Context) (int, error) {
	now := l.now()
	expired, err := l.store.ListGrantedExpiredBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, c := range expired {
		_, err := l.RecordConsent(ctx, types.ConsentRequest{
			CustomerID:  c.CustomerID,
			TenantID:    c.TenantID,
			Channel:     c.Channel,
			ConsentType: c.ConsentType,
			Granted:     false,
			Metadata:    map[string]any{"revoked_reason": "expired", "expired_at": c.ExpiresAt.UTC().Format(time.RFC3339)},
		})
		if err != nil {
			return cleaned, fmt.Errorf("revoke expired consent %s: %w", c.ConsentID, err)
		}
		cleaned++
	}
	return cleaned, nil
}

// ExportConsents renders a tenant's current records, newest first, as
// indented JSON or CSV.
func (l *ConsentLedger) ExportConsents(ctx context.Context, tenantID, format string) ([]byte, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrInvalidTenant
	}
	recs, err := l.store.List(ctx, store.ConsentFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })

	switch strings.ToLower(format) {
	case "", "json":
		if recs == nil {
			recs = []types.ConsentRecord{}
		}
		return json.MarshalIndent(recs, "", "  ")
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"Consent ID", "Customer ID", "Tenant ID", "Channel", "Consent Type", "Granted", "Granted At", "Revoked At", "Expires At", "Created At"})
		for _, c := range recs {
			_ = w.Write([]string{
				c.ConsentID,
				c.CustomerID,
				c.TenantID,
				string(c.Channel),
				string(c.ConsentType),
				strconv.FormatBool(c.Granted),
				fmtOptTime(c.GrantedAt),
				fmtOptTime(c.RevokedAt),
				fmtOptTime(c.ExpiresAt),
				c.CreatedAt.UTC().Format(exportTimeLayout),
			})
		}
		w.Flush()
		return buf.Bytes(), w.Error()
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
}

func fmtOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(exportTimeLayout)
}
