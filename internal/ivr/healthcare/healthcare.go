// Package healthcare hosts the clinical collaborators the orchestrator calls
// during healthcare calls: symptom triage, clinical workflow triggers, EHR
// documentation, reminders, medication adherence and the tool backend.
//
// State other than the audit trail is held in memory. Every externally
// visible effect is mirrored into the audit log; audit failures are logged
// and never abort the clinical operation.
package healthcare

import (
	"context"
	"log/slog"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// Severity orders clinical urgency.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeverityUrgent Severity = "urgent"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityUrgent:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// recorder writes audit events on behalf of one service. A nil audit log
// turns it into a no-op.
type recorder struct {
	audit   *service.AuditLog
	logger  *slog.Logger
	service string
}

func (r recorder) record(ctx context.Context, tenantID, callID string, et types.EventType, data, meta map[string]any) string {
	if r.audit == nil {
		return ""
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["service"] = r.service
	ev, err := r.audit.LogEvent(ctx, types.AuditEventInput{
		TenantID:  tenantID,
		CallID:    orUnknown(callID),
		EventType: et,
		EventData: data,
		Metadata:  meta,
	})
	if err != nil {
		r.logger.Error("audit write failed",
			"tenant_id", tenantID, "call_id", callID, "event_type", string(et), "error", err)
		return ""
	}
	return ev.LogID
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func utcNow() time.Time { return time.Now().UTC() }
