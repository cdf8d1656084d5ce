package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// Chain break reasons reported by VerifyChain.
const (
	BreakSeqGap       = "seq_gap"
	BreakPreviousHash = "previous_hash_mismatch"
	BreakHash         = "hash_mismatch"
	BreakDecode       = "decode_error"
)

// exportTimeLayout is RFC3339 with millisecond precision, matching the
// precision events are stored and hashed at.
const exportTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// AuditLog is the tamper-evident evidence log. Each tenant has its own hash
// chain; an event's hash covers the previous event's hash, its position in
// the chain and a canonical encoding of its content.
type AuditLog struct {
	store  store.AuditStore
	logger *slog.Logger
	now    func() time.Time

	// mu makes read-last / hash / append atomic within the process.
	mu sync.Mutex
}

func NewAuditLog(st store.AuditStore, logger *slog.Logger) *AuditLog {
	return &AuditLog{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent appends one event to the tenant chain and returns it with its
// hash linkage filled in.
func (a *AuditLog) LogEvent(ctx context.Context, in types.AuditEventInput) (types.AuditEvent, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return types.AuditEvent{}, ErrInvalidTenant
	}
	if !in.EventType.Valid() {
		return types.AuditEvent{}, fmt.Errorf("%w: %q", ErrInvalidEventType, in.EventType)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	last, ok, err := a.store.Last(ctx, tenantID)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("read chain head: %w", err)
	}

	now := a.now().UTC().Truncate(time.Millisecond)
	ev := types.AuditEvent{
		LogID:     types.NewID("log", now),
		Seq:       1,
		Timestamp: now,
		TenantID:  tenantID,
		CallID:    in.CallID,
		EventType: in.EventType,
		EventData: in.EventData,
		Metadata:  in.Metadata,
	}
	if ev.EventData == nil {
		ev.EventData = map[string]any{}
	}
	if ok {
		ev.Seq = last.Seq + 1
		ev.PreviousHash = last.EventHash
	}

	ev.EventHash, err = eventHash(ev)
	if err != nil {
		return types.AuditEvent{}, err
	}
	if err := a.store.Append(ctx, ev); err != nil {
		return types.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}
	return ev, nil
}

// eventHash = sha256(previousHash | "|seq|" | canonical content).
func eventHash(ev types.AuditEvent) (string, error) {
	payload, err := StableJSON(map[string]any{
		"tenantId":  ev.TenantID,
		"callId":    ev.CallID,
		"eventType": string(ev.EventType),
		"timestamp": ev.Timestamp.UTC().Truncate(time.Millisecond).Format(time.RFC3339Nano),
		"eventData": ev.EventData,
		"metadata":  ev.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalise event: %w", err)
	}
	return hashBytes([]byte(ev.PreviousHash), []byte("|"+strconv.FormatInt(ev.Seq, 10)+"|"), payload), nil
}

func (a *AuditLog) SearchEvents(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	return a.store.Search(ctx, f)
}

// GetCallAuditTrail returns every event of one call in chain order.
func (a *AuditLog) GetCallAuditTrail(ctx context.Context, tenantID, callID string) ([]types.AuditEvent, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrInvalidTenant
	}
	return a.store.Search(ctx, types.AuditFilter{TenantID: tenantID, CallID: callID})
}

// VerifyChain walks the tenant chain and reports the first broken link.
// A broken chain is reported, never repaired.
func (a *AuditLog) VerifyChain(ctx context.Context, tenantID string) (types.ChainReport, error) {
	report := types.ChainReport{TenantID: tenantID, OK: true}
	if strings.TrimSpace(tenantID) == "" {
		return report, ErrInvalidTenant
	}

	var (
		expectedSeq  int64 = 1
		expectedPrev string
	)
	markBreak := func(ev types.AuditEvent, reason string) {
		if report.FirstBreak == nil {
			report.OK = false
			report.FirstBreak = &types.ChainBreak{Seq: ev.Seq, LogID: ev.LogID, Reason: reason}
		}
	}

	err := a.store.Chain(ctx, tenantID, func(ev types.AuditEvent, decodeErr error) error {
		report.Total++
		switch {
		case decodeErr != nil:
			markBreak(ev, BreakDecode)
		case ev.Seq != expectedSeq:
			markBreak(ev, BreakSeqGap)
		case ev.PreviousHash != expectedPrev:
			markBreak(ev, BreakPreviousHash)
		default:
			computed, err := eventHash(ev)
			if err != nil || computed != ev.EventHash {
				markBreak(ev, BreakHash)
			}
		}
		expectedSeq = ev.Seq + 1
		expectedPrev = ev.EventHash
		report.LastSeq = ev.Seq
		report.LastHash = ev.EventHash
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk chain: %w", err)
	}

	if !report.OK {
		a.logger.Warn("audit chain broken",
			"tenant_id", tenantID,
			"seq", report.FirstBreak.Seq,
			"reason", report.FirstBreak.Reason,
		)
	}
	return report, nil
}

// ExportJSON renders the matching events as indented JSON.
func (a *AuditLog) ExportJSON(ctx context.Context, f types.AuditFilter) ([]byte, error) {
	events, err := a.store.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []types.AuditEvent{}
	}
	return json.MarshalIndent(events, "", "  ")
}

// ExportCSV renders the hash linkage of the matching events.
func (a *AuditLog) ExportCSV(ctx context.Context, f types.AuditFilter) ([]byte, error) {
	events, err := a.store.Search(ctx, f)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Log ID", "Timestamp", "Event Type", "Tenant ID", "Call ID", "Event Hash", "Previous Hash"})
	for _, ev := range events {
		_ = w.Write([]string{
			ev.LogID,
			ev.Timestamp.UTC().Format(exportTimeLayout),
			string(ev.EventType),
			ev.TenantID,
			ev.CallID,
			ev.EventHash,
			ev.PreviousHash,
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Export dispatches on format ("json" or "csv").
func (a *AuditLog) Export(ctx context.Context, f types.AuditFilter, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return a.ExportJSON(ctx, f)
	case "csv":
		return a.ExportCSV(ctx, f)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
}

type ComplianceReport struct {
	TenantID        string                  `json:"tenant_id"`
	From            time.Time               `json:"from"`
	To              time.Time               `json:"to"`
	TotalEvents     int                     `json:"total_events"`
	EventCounts     map[types.EventType]int `json:"event_counts"`
	Calls           int                     `json:"calls"`
	Escalations     int                     `json:"escalations"`
	ConsentsGranted int                     `json:"consents_granted"`
	ConsentsDenied  int                     `json:"consents_denied"`
	Violations      int                     `json:"violations"`
	Chain           types.ChainReport       `json:"chain"`
}

// ComplianceReport summarises a tenant's activity in [from, to]. Zero
// bounds are open. The chain check always covers the whole chain.
func (a *AuditLog) ComplianceReport(ctx context.Context, tenantID string, from, to time.Time) (ComplianceReport, error) {
	if strings.TrimSpace(tenantID) == "" {
		return ComplianceReport{}, ErrInvalidTenant
	}
	events, err := a.store.Search(ctx, types.AuditFilter{TenantID: tenantID, From: from, To: to})
	if err != nil {
		return ComplianceReport{}, err
	}

	rep := ComplianceReport{
		TenantID:    tenantID,
		From:        from,
		To:          to,
		TotalEvents: len(events),
		EventCounts: make(map[types.EventType]int),
	}
	calls := make(map[string]struct{})
	for _, ev := range events {
		rep.EventCounts[ev.EventType]++
		if ev.CallID != "" {
			calls[ev.CallID] = struct{}{}
		}
		switch ev.EventType {
		case types.EventEscalationTriggered:
			rep.Escalations++
		case types.EventConsentGranted:
			rep.ConsentsGranted++
		case types.EventConsentDenied, types.EventConsentRevoked:
			rep.ConsentsDenied++
		case types.EventComplianceViolation:
			rep.Violations++
		}
	}
	rep.Calls = len(calls)

	rep.Chain, err = a.VerifyChain(ctx, tenantID)
	return rep, err
}
