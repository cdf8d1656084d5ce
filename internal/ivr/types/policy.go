package types

import "time"

// DefaultTenant marks industry-wide and global default policies.
const DefaultTenant = "default"

// Well-known step names used by the policy engine and the orchestrator.
const (
	StepInitiated            = "initiated"
	StepIdentityVerification = "identity_verification"
	StepConsentCapture       = "consent_capture"
	StepMainMenu             = "main_menu"
	StepTransferAgent        = "transfer_agent"
	StepGreeting             = "greeting"
)

// EscalationCondition names a predicate from a closed set. New conditions
// are added as new constants with a registered predicate, never as free text.
type EscalationCondition string

const (
	ConditionVerificationFailed3Times  EscalationCondition = "verification_failed_3_times"
	ConditionUserRequestedAgent        EscalationCondition = "user_requested_agent"
	ConditionPaymentProcessingRequired EscalationCondition = "payment_processing_required"
)

// EscalationConditions lists every known condition in declaration order.
var EscalationConditions = []EscalationCondition{
	ConditionVerificationFailed3Times,
	ConditionUserRequestedAgent,
	ConditionPaymentProcessingRequired,
}

func (c EscalationCondition) Valid() bool {
	for _, known := range EscalationConditions {
		if c == known {
			return true
		}
	}
	return false
}

type EscalationRule struct {
	Condition   EscalationCondition `json:"condition" yaml:"condition"`
	Action      string              `json:"action" yaml:"action"`
	Destination string              `json:"destination,omitempty" yaml:"destination,omitempty"`
	Priority    string              `json:"priority" yaml:"priority"`
}

type CompliancePolicy struct {
	PolicyID                     string           `json:"policy_id" yaml:"policy_id"`
	TenantID                     string           `json:"tenant_id" yaml:"tenant_id"`
	Industry                     string           `json:"industry" yaml:"industry"`
	Region                       string           `json:"region" yaml:"region"`
	RequiresIdentityVerification bool             `json:"requires_identity_verification" yaml:"requires_identity_verification"`
	RequiresDisclosure           bool             `json:"requires_disclosure" yaml:"requires_disclosure"`
	RequiresConsentRecording     bool             `json:"requires_consent_recording" yaml:"requires_consent_recording"`
	DisclosureScriptID           string           `json:"disclosure_script_id,omitempty" yaml:"disclosure_script_id,omitempty"`
	EscalationRules              []EscalationRule `json:"escalation_rules,omitempty" yaml:"escalation_rules,omitempty"`
	IsActive                     bool             `json:"is_active" yaml:"is_active"`
	UpdatedAt                    time.Time        `json:"updated_at" yaml:"-"`
}

// DisclosureScript is immutable per (ScriptID, Version).
type DisclosureScript struct {
	ScriptID   string    `json:"script_id" yaml:"script_id"`
	PolicyID   string    `json:"policy_id" yaml:"policy_id"`
	Language   string    `json:"language" yaml:"language"`
	ScriptText string    `json:"script_text" yaml:"script_text"`
	Version    int       `json:"version" yaml:"version"`
	IsActive   bool      `json:"is_active" yaml:"is_active"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

type ActionKind string

const (
	ActionAuthenticate   ActionKind = "authenticate"
	ActionPlayDisclosure ActionKind = "play_disclosure"
	ActionCaptureConsent ActionKind = "capture_consent"
	ActionEscalate       ActionKind = "escalate"
	ActionProceed        ActionKind = "proceed"
)

// PolicyAction is the engine's decision for the current step.
type PolicyAction struct {
	Action            ActionKind `json:"action"`
	NextStep          string     `json:"next_step,omitempty"`
	PolicyID          string     `json:"policy_id,omitempty"`
	ScriptID          string     `json:"script_id,omitempty"`
	ScriptVersion     int        `json:"script_version,omitempty"`
	RequiresConsent   bool       `json:"requires_consent,omitempty"`
	RequiresRecording bool       `json:"requires_recording,omitempty"`
	EscalationReason  string     `json:"escalation_reason,omitempty"`
	Destination       string     `json:"destination,omitempty"`
	Priority          string     `json:"priority,omitempty"`

	// capture_consent only
	ConsentType ConsentType `json:"consent_type,omitempty"`
	Granted     bool        `json:"granted,omitempty"`

	// NoPolicy is set when no policy matched and the fallback mode decided.
	NoPolicy bool `json:"no_policy,omitempty"`
}

type PolicyEvaluationRequest struct {
	CallID      string      `json:"call_id"`
	TenantID    string      `json:"tenant_id"`
	CurrentStep string      `json:"current_step"`
	CallContext CallContext `json:"call_context"`
	UserInput   string      `json:"user_input,omitempty"`
}
