package types

import "time"

type EventType string

const (
	EventCallInitiated                 EventType = "call.initiated"
	EventCallAnswered                  EventType = "call.answered"
	EventCallEnded                     EventType = "call.ended"
	EventIdentityVerificationStarted   EventType = "identity.verification_started"
	EventIdentityVerificationSucceeded EventType = "identity.verification_succeeded"
	EventIdentityVerificationFailed    EventType = "identity.verification_failed"
	EventConsentDisclosurePlayed       EventType = "consent.disclosure_played"
	EventConsentGranted                EventType = "consent.granted"
	EventConsentDenied                 EventType = "consent.denied"
	EventConsentRevoked                EventType = "consent.revoked"
	EventDisclosureScriptPlayed        EventType = "disclosure.script_played"
	EventPolicyEvaluated               EventType = "policy.evaluated"
	EventPolicyActionTaken             EventType = "policy.action_taken"
	EventEscalationTriggered           EventType = "escalation.triggered"
	EventEscalationCompleted           EventType = "escalation.completed"
	EventRecordingStarted              EventType = "recording.started"
	EventRecordingStopped              EventType = "recording.stopped"
	EventRecordingRedacted             EventType = "recording.redacted"
	EventDataRedacted                  EventType = "data.redacted"
	EventDataAccess                    EventType = "data.access"
	EventErrorOccurred                 EventType = "error.occurred"
	EventComplianceViolation           EventType = "compliance.violation"
)

var knownEventTypes = map[EventType]struct{}{
	EventCallInitiated: {}, EventCallAnswered: {}, EventCallEnded: {},
	EventIdentityVerificationStarted: {}, EventIdentityVerificationSucceeded: {}, EventIdentityVerificationFailed: {},
	EventConsentDisclosurePlayed: {}, EventConsentGranted: {}, EventConsentDenied: {}, EventConsentRevoked: {},
	EventDisclosureScriptPlayed: {},
	EventPolicyEvaluated: {}, EventPolicyActionTaken: {},
	EventEscalationTriggered: {}, EventEscalationCompleted: {},
	EventRecordingStarted: {}, EventRecordingStopped: {}, EventRecordingRedacted: {},
	EventDataRedacted: {}, EventDataAccess: {}, EventErrorOccurred: {}, EventComplianceViolation: {},
}

func (e EventType) Valid() bool {
	_, ok := knownEventTypes[e]
	return ok
}

// AuditEvent is one link of a tenant's hash chain. Events are never updated
// or deleted once appended.
type AuditEvent struct {
	LogID        string         `json:"log_id"`
	Seq          int64          `json:"seq"`
	Timestamp    time.Time      `json:"timestamp"`
	TenantID     string         `json:"tenant_id"`
	CallID       string         `json:"call_id"`
	EventType    EventType      `json:"event_type"`
	EventData    map[string]any `json:"event_data"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	EventHash    string         `json:"event_hash"`
	PreviousHash string         `json:"previous_hash"`
}

// AuditEventInput is what callers hand to the audit log.
type AuditEventInput struct {
	TenantID  string
	CallID    string
	EventType EventType
	EventData map[string]any
	Metadata  map[string]any
}

type AuditFilter struct {
	TenantID   string
	CallID     string
	EventTypes []EventType
	From       time.Time
	To         time.Time
	Limit      int
}

// ChainBreak describes the first link that failed verification.
type ChainBreak struct {
	Seq    int64  `json:"seq"`
	LogID  string `json:"log_id"`
	Reason string `json:"reason"`
}

type ChainReport struct {
	TenantID   string      `json:"tenant_id"`
	OK         bool        `json:"ok"`
	Total      int64       `json:"total"`
	LastSeq    int64       `json:"last_seq"`
	LastHash   string      `json:"last_hash"`
	FirstBreak *ChainBreak `json:"first_break,omitempty"`
}
