package types

import "time"

// CallContext is the per-webhook view of a call. It is rebuilt from the
// session store and the carrier request on every delivery and never stored.
type CallContext struct {
	CallID              string   `json:"call_id"`
	CallControlID       string   `json:"call_control_id,omitempty"`
	TenantID            string   `json:"tenant_id"`
	Industry            string   `json:"industry"`
	Region              string   `json:"region,omitempty"`
	Language            string   `json:"language,omitempty"`
	From                string   `json:"from"`
	To                  string   `json:"to"`
	CustomerID          string   `json:"customer_id,omitempty"`
	Authenticated       bool     `json:"authenticated"`
	ConsentGranted      bool     `json:"consent_granted"`
	PreviousSteps       []string `json:"previous_steps,omitempty"`
	FailedVerifications int      `json:"failed_verifications,omitempty"`
}

// PatientID is the identifier used for clinical collaborators: the resolved
// customer when known, the caller number otherwise.
func (c CallContext) PatientID() string {
	if c.CustomerID != "" {
		return c.CustomerID
	}
	return c.From
}

type SessionStatus string

const (
	StatusInitiated   SessionStatus = "initiated"
	StatusInProgress  SessionStatus = "in_progress"
	StatusCompleted   SessionStatus = "completed"
	StatusFailed      SessionStatus = "failed"
	StatusTransferred SessionStatus = "transferred"
	StatusVoicemail   SessionStatus = "voicemail"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted,
		StatusFailed, StatusTransferred, StatusVoicemail:
		return true
	}
	return false
}

// IsTerminal reports whether no further steps are expected for the call.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTransferred, StatusVoicemail:
		return true
	}
	return false
}

// CallSession is the mutable state of one call across webhook round-trips.
type CallSession struct {
	SessionID           string         `json:"session_id"`
	CallControlID       string         `json:"call_control_id"`
	TenantID            string         `json:"tenant_id"`
	From                string         `json:"from"`
	To                  string         `json:"to"`
	Industry            string         `json:"industry"`
	Region              string         `json:"region,omitempty"`
	Language            string         `json:"language,omitempty"`
	CurrentStep         string         `json:"current_step"`
	FlowID              string         `json:"flow_id"`
	CollectedData       map[string]any `json:"collected_data"`
	Status              SessionStatus  `json:"status"`
	Authenticated       bool           `json:"authenticated"`
	ConsentGranted      bool           `json:"consent_granted"`
	CustomerID          string         `json:"customer_id,omitempty"`
	PreviousSteps       []string       `json:"previous_steps,omitempty"`
	FailedVerifications int            `json:"failed_verifications,omitempty"`
	SpeechRecognition   bool           `json:"speech_recognition,omitempty"`
	StartedAt           time.Time      `json:"started_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	EndedAt             *time.Time     `json:"ended_at,omitempty"`
}

// Context projects the session into a CallContext.
func (s CallSession) Context() CallContext {
	return CallContext{
		CallID:              s.SessionID,
		CallControlID:       s.CallControlID,
		TenantID:            s.TenantID,
		Industry:            s.Industry,
		Region:              s.Region,
		Language:            s.Language,
		From:                s.From,
		To:                  s.To,
		CustomerID:          s.CustomerID,
		Authenticated:       s.Authenticated,
		ConsentGranted:      s.ConsentGranted,
		PreviousSteps:       append([]string(nil), s.PreviousSteps...),
		FailedVerifications: s.FailedVerifications,
	}
}

// Clone returns a deep copy so stores never hand out aliased maps or slices.
func (s CallSession) Clone() CallSession {
	out := s
	if s.CollectedData != nil {
		out.CollectedData = make(map[string]any, len(s.CollectedData))
		for k, v := range s.CollectedData {
			out.CollectedData[k] = v
		}
	}
	out.PreviousSteps = append([]string(nil), s.PreviousSteps...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

// SessionUpdate is a partial mutation. Nil fields are left untouched.
type SessionUpdate struct {
	CurrentStep         *string
	Status              *SessionStatus
	Authenticated       *bool
	ConsentGranted      *bool
	CustomerID          *string
	FailedVerifications *int
	CollectedData       map[string]any
	AppendSteps         []string
	EndedAt             *time.Time
}

// Apply merges u into s field by field (last writer wins per field).
//
// Authenticated and ConsentGranted only ever move from false to true,
// PreviousSteps only grows, and a terminal status never reverts to a live one.
func (s *CallSession) Apply(u SessionUpdate, now time.Time) {
	if u.CurrentStep != nil {
		s.CurrentStep = *u.CurrentStep
	}
	if u.Status != nil && (u.Status.IsTerminal() || !s.Status.IsTerminal()) {
		s.Status = *u.Status
	}
	if u.Authenticated != nil && *u.Authenticated {
		s.Authenticated = true
	}
	if u.ConsentGranted != nil && *u.ConsentGranted {
		s.ConsentGranted = true
	}
	if u.CustomerID != nil {
		s.CustomerID = *u.CustomerID
	}
	if u.FailedVerifications != nil {
		s.FailedVerifications = *u.FailedVerifications
	}
	if len(u.CollectedData) > 0 {
		if s.CollectedData == nil {
			s.CollectedData = make(map[string]any, len(u.CollectedData))
		}
		for k, v := range u.CollectedData {
			s.CollectedData[k] = v
		}
	}
	s.PreviousSteps = append(s.PreviousSteps, u.AppendSteps...)
	if u.EndedAt != nil {
		t := u.EndedAt.UTC()
		s.EndedAt = &t
	}
	s.UpdatedAt = now
}

// Ptr returns a pointer to v. Handy for building SessionUpdate values.
func Ptr[T any](v T) *T { return &v }
