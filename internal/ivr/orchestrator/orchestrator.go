// Package orchestrator drives a call through the compliance gates
// (identity, disclosure, consent, escalation) and then the tenant's call
// flow. It also hosts the healthcare extensions reached during a call.
//
// Every entry point returns a Response whose Markup is always a complete
// document: on error it is the apology that ends the call, and the error is
// returned alongside for logging. The audit trail is written fail-open.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// ErrNotConfigured is returned by extensions whose collaborator is not wired.
var ErrNotConfigured = errors.New("collaborator not configured")

// Reasons recorded by the orchestrator itself.
const (
	ReasonConsentDenied   = "consent_denied"
	ReasonMenuTransfer    = "menu_transfer"
	ReasonNoPolicyFound   = "no_policy_found"
	ReasonFlowUnavailable = "flow_unavailable"
)

const (
	auditService = "compliant_ivr"
	dialTimeout  = 30
)

// Deps are the collaborators of an Orchestrator. Sessions, Policies and
// Audit are required; the healthcare collaborators may be nil when the
// deployment serves no healthcare tenants.
type Deps struct {
	Sessions *service.SessionManager
	Policies *service.PolicyEngine
	Audit    *service.AuditLog
	Consents *service.ConsentLedger
	Verifier IdentityVerifier
	Logger   *slog.Logger

	Triage    *healthcare.Triage
	Workflow  *healthcare.Workflow
	EHR       *healthcare.EHR
	Reminders *healthcare.Reminders
	Adherence *healthcare.Adherence
	Backend   healthcare.Backend
}

type Orchestrator struct {
	Deps
	locks *callLocks
	now   func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Verifier == nil {
		d.Verifier = DigitsVerifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		Deps:  d,
		locks: newCallLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Response is what a webhook hands back to the carrier.
type Response struct {
	Markup            string
	NextStep          string
	RequiresRecording bool
}

// InboundCall is the normalised first-contact webhook.
type InboundCall struct {
	CallID            string
	CallControlID     string
	TenantID          string
	Industry          string
	Region            string
	Language          string
	From              string
	To                string
	SpeechRecognition bool
}

type RecordingInfo struct {
	URL        string
	Duration   int // seconds
	Transcript string
}

// ── Entry points ──

// HandleInbound opens the session for a new call, logs call.initiated and
// runs the first policy evaluation. A retried delivery for a known call id
// reuses the session and logs call.initiated again marked as a retry; when
// that call has already ended the retry only hangs up.
func (o *Orchestrator) HandleInbound(ctx context.Context, in InboundCall) (Response, error) {
	lang := texml.Language(in.Language)
	if strings.TrimSpace(in.TenantID) == "" {
		return o.fail(ctx, types.CallSession{SessionID: in.CallID, Language: lang}, service.ErrInvalidTenant)
	}
	if in.CallID == "" {
		in.CallID = types.NewID("ivr", o.now())
	}
	unlock := o.locks.lock(in.CallID)
	defer unlock()

	sess, err := o.Sessions.GetSession(ctx, in.CallID)
	retry := err == nil
	if err != nil && !errors.Is(err, service.ErrSessionNotFound) {
		return o.fail(ctx, types.CallSession{SessionID: in.CallID, TenantID: in.TenantID, Language: lang}, err)
	}

	meta := map[string]any{}
	if retry {
		meta["retry"] = true
	}
	o.record(ctx, in.TenantID, in.CallID, types.EventCallInitiated, map[string]any{
		"from":            in.From,
		"to":              in.To,
		"industry":        in.Industry,
		"region":          in.Region,
		"call_control_id": in.CallControlID,
	}, meta)

	if retry && sess.Status.IsTerminal() {
		r := texml.New(sess.Language)
		r.Hangup()
		return Response{Markup: r.String()}, nil
	}
	if !retry {
		sess, err = o.Sessions.CreateSessionWithID(ctx, in.CallID, service.SessionConfig{
			TenantID:          in.TenantID,
			Industry:          in.Industry,
			Region:            in.Region,
			Language:          in.Language,
			SpeechRecognition: in.SpeechRecognition,
		}, in.CallControlID, in.From, in.To)
		if err != nil {
			return o.fail(ctx, types.CallSession{SessionID: in.CallID, TenantID: in.TenantID, Language: lang}, err)
		}
	}
	return o.dispatch(ctx, sess, types.StepInitiated, "")
}

// HandleStep serves a redirect to step, re-checking the compliance gates
// before the step is rendered.
func (o *Orchestrator) HandleStep(ctx context.Context, callID, step, input string) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.activeSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	return o.dispatch(ctx, sess, step, input)
}

// VerifyIdentity checks the identifier keyed in after an authenticate
// prompt. Success marks the session authenticated and moves on to the next
// gate; the MaxFailedVerifications-th failure escalates the call.
func (o *Orchestrator) VerifyIdentity(ctx context.Context, callID, digits string) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.activeSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	customerID, ok, err := o.Verifier.Verify(ctx, sess.Context(), digits)
	if err != nil {
		return o.fail(ctx, sess, fmt.Errorf("verify identity: %w", err))
	}

	if ok {
		o.record(ctx, sess.TenantID, sess.SessionID, types.EventIdentityVerificationSucceeded, map[string]any{
			"method":      "dtmf",
			"customer_id": customerID,
			"attempts":    sess.FailedVerifications + 1,
		}, nil)
		updated, err := o.Sessions.UpdateSession(ctx, callID, types.SessionUpdate{
			Authenticated: types.Ptr(true),
			CustomerID:    &customerID,
			CollectedData: map[string]any{"customer_id": customerID},
		})
		if err != nil {
			return o.fail(ctx, sess, err)
		}
		return o.dispatch(ctx, updated, types.StepIdentityVerification, "")
	}

	failed := sess.FailedVerifications + 1
	o.record(ctx, sess.TenantID, sess.SessionID, types.EventIdentityVerificationFailed, map[string]any{
		"method":       "dtmf",
		"attempt":      failed,
		"input_length": len(strings.TrimSpace(digits)),
	}, nil)
	updated, err := o.Sessions.UpdateSession(ctx, callID, types.SessionUpdate{FailedVerifications: &failed})
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if failed >= service.MaxFailedVerifications {
		return o.escalate(ctx, updated, escalation{
			Reason:   string(types.ConditionVerificationFailed3Times),
			Priority: "high",
		})
	}
	return o.dispatch(ctx, updated, types.StepIdentityVerification, "")
}

// CaptureConsent records the caller's answer to the disclosure. A grant
// continues to the main menu; a denial escalates with reason
// consent_denied. An empty consentType means call_recording.
func (o *Orchestrator) CaptureConsent(ctx context.Context, callID string, granted bool, consentType types.ConsentType) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.activeSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	return o.captureConsent(ctx, sess, types.PolicyAction{
		Action:      types.ActionCaptureConsent,
		NextStep:    types.StepMainMenu,
		ConsentType: consentType,
		Granted:     granted,
	})
}

// HandleGather routes menu input. Policy is evaluated with the input first
// so escalation rules (an agent request, a payment) win over menu routing.
func (o *Orchestrator) HandleGather(ctx context.Context, callID, digits, speech string) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.activeSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	input := strings.TrimSpace(digits)
	if input == "" {
		input = strings.TrimSpace(speech)
	}

	action, err := o.evaluate(ctx, sess, sess.CurrentStep, input)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if action.Action != types.ActionProceed {
		return o.act(ctx, sess, action)
	}

	var markup string
	if digits = strings.TrimSpace(digits); digits != "" || speech == "" {
		markup, err = o.Sessions.ProcessDTMF(ctx, callID, digits)
	} else {
		markup, err = o.Sessions.ProcessSpeech(ctx, callID, speech)
	}
	if err != nil {
		return o.fail(ctx, sess, err)
	}

	after, err := o.Sessions.GetSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if after.Status == types.StatusTransferred {
		o.record(ctx, sess.TenantID, callID, types.EventEscalationTriggered, map[string]any{
			"reason":   ReasonMenuTransfer,
			"priority": "medium",
			"step":     sess.CurrentStep,
		}, nil)
	}
	return Response{Markup: markup, NextStep: after.CurrentStep}, nil
}

// HandleRecording handles the carrier's recording callback. The recording
// URL and any transcript are redacted before they reach the audit trail.
// A voicemail step ends the call; otherwise the current step is replayed.
func (o *Orchestrator) HandleRecording(ctx context.Context, callID string, rec RecordingInfo) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.Sessions.GetSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if strings.TrimSpace(rec.URL) == "" {
		return o.fail(ctx, sess, errors.New("recording callback without a recording url"))
	}

	cc := sess.Context()
	url := o.redact(cc, rec.URL)
	o.record(ctx, sess.TenantID, callID, types.EventRecordingStarted, map[string]any{
		"recording_url": url.RedactedContent,
		"duration":      rec.Duration,
		"step":          sess.CurrentStep,
	}, nil)
	if rec.Transcript != "" {
		o.redactTranscript(ctx, cc, rec.Transcript)
	}

	r := texml.New(sess.Language)
	flow, err := o.Sessions.GetFlow(ctx, sess.FlowID)
	if step, ok := flow.Step(sess.CurrentStep); err == nil && ok && step.Type == types.StepRecord {
		if _, err := o.Sessions.EndSession(ctx, callID, types.StatusVoicemail); err != nil {
			o.Logger.Warn("end session failed", "call_id", callID, "error", err)
		}
		r.SayPlain("Thank you for your message. Goodbye.")
		r.Hangup()
		return Response{Markup: r.String()}, nil
	}
	if sess.Status.IsTerminal() {
		return Response{Markup: r.String()}, nil
	}
	r.Redirect(o.Sessions.StepURL(callID, sess.CurrentStep))
	return Response{Markup: r.String(), NextStep: sess.CurrentStep}, nil
}

// EndCall logs call.ended and closes the session with status. A session
// that already reached a terminal status keeps it.
func (o *Orchestrator) EndCall(ctx context.Context, callID string, status types.SessionStatus) error {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.Sessions.GetSession(ctx, callID)
	if err != nil {
		return err
	}
	if status == "" {
		status = types.StatusCompleted
	}
	if sess.Status.IsTerminal() {
		status = sess.Status
	}
	o.record(ctx, sess.TenantID, callID, types.EventCallEnded, map[string]any{
		"status":           string(status),
		"duration_seconds": int(o.now().Sub(sess.StartedAt).Seconds()),
		"steps":            len(sess.PreviousSteps),
	}, nil)
	if sess.EndedAt != nil {
		return nil
	}
	_, err = o.Sessions.EndSession(ctx, callID, status)
	return err
}

// ── Dispatch ──

func (o *Orchestrator) evaluate(ctx context.Context, sess types.CallSession, step, input string) (types.PolicyAction, error) {
	action, err := o.Policies.EvaluatePolicy(ctx, types.PolicyEvaluationRequest{
		CallID:      sess.SessionID,
		TenantID:    sess.TenantID,
		CurrentStep: step,
		CallContext: sess.Context(),
		UserInput:   input,
	})
	if err != nil {
		return action, err
	}
	if action.NoPolicy {
		o.record(ctx, sess.TenantID, sess.SessionID, types.EventComplianceViolation, map[string]any{
			"reason":   ReasonNoPolicyFound,
			"industry": sess.Industry,
			"region":   sess.Region,
			"fallback": string(action.Action),
		}, nil)
	}
	return action, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, sess types.CallSession, step, input string) (Response, error) {
	action, err := o.evaluate(ctx, sess, step, input)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	return o.act(ctx, sess, action)
}

func (o *Orchestrator) act(ctx context.Context, sess types.CallSession, action types.PolicyAction) (Response, error) {
	switch action.Action {
	case types.ActionAuthenticate:
		return o.authenticate(ctx, sess, action)
	case types.ActionPlayDisclosure:
		return o.disclosure(ctx, sess, action)
	case types.ActionCaptureConsent:
		return o.captureConsent(ctx, sess, action)
	case types.ActionEscalate:
		return o.escalate(ctx, sess, escalation{
			Reason:      action.EscalationReason,
			Priority:    action.Priority,
			Destination: action.Destination,
			PolicyID:    action.PolicyID,
		})
	default:
		return o.proceed(ctx, sess, action)
	}
}

func (o *Orchestrator) authenticate(ctx context.Context, sess types.CallSession, action types.PolicyAction) (Response, error) {
	o.record(ctx, sess.TenantID, sess.SessionID, types.EventIdentityVerificationStarted, map[string]any{
		"policy_id": action.PolicyID,
		"attempt":   sess.FailedVerifications + 1,
	}, nil)
	if err := o.moveTo(ctx, sess, types.StepIdentityVerification); err != nil {
		return o.fail(ctx, sess, err)
	}

	r := texml.New(sess.Language)
	r.Say("For your security, please enter your account number or patient ID.")
	r.Gather(texml.Gather{
		Action:         o.Sessions.ActionURL(sess.SessionID, "verify"),
		Timeout:        15,
		NumDigits:      10,
		Prompt:         "Please enter your identification number.",
		PromptLanguage: true,
	})
	r.Say("We didn't receive your input. Please try again later.")
	r.Hangup()
	return Response{Markup: r.String(), NextStep: types.StepIdentityVerification}, nil
}

// disclosure plays the script version the engine selected. A missing
// script is fatal for the call: continuing without the disclosure would be
// a violation.
func (o *Orchestrator) disclosure(ctx context.Context, sess types.CallSession, action types.PolicyAction) (Response, error) {
	script, err := o.Policies.GetScriptVersion(ctx, action.ScriptID, action.ScriptVersion)
	if err != nil {
		return o.fail(ctx, sess, fmt.Errorf("policy %s: %w", action.PolicyID, err))
	}

	lang := sess.Language
	if script.Language != "" {
		lang = texml.Language(script.Language)
	}
	r := texml.New(lang)
	if action.RequiresRecording {
		r.Record(texml.Record{
			Action:     o.Sessions.ActionURL(sess.SessionID, "recording"),
			FromAnswer: true,
		})
	}
	r.Say(script.ScriptText)
	r.Gather(texml.Gather{
		Action:    o.Sessions.ActionURL(sess.SessionID, "consent"),
		Timeout:   10,
		NumDigits: 1,
		Prompt:    "Please make your selection.",
	})
	r.Say("We didn't receive your input. Please try again later.")
	r.Hangup()

	o.record(ctx, sess.TenantID, sess.SessionID, types.EventDisclosureScriptPlayed, map[string]any{
		"script_id":          script.ScriptID,
		"script_version":     script.Version,
		"policy_id":          action.PolicyID,
		"language":           lang,
		"requires_recording": action.RequiresRecording,
	}, nil)
	if err := o.moveTo(ctx, sess, types.StepConsentCapture); err != nil {
		return o.fail(ctx, sess, err)
	}
	return Response{Markup: r.String(), NextStep: types.StepConsentCapture, RequiresRecording: action.RequiresRecording}, nil
}

// captureConsent logs the answer, mirrors it into the consent ledger when
// the caller is identified, then continues or escalates.
func (o *Orchestrator) captureConsent(ctx context.Context, sess types.CallSession, action types.PolicyAction) (Response, error) {
	ct := action.ConsentType
	if ct == "" {
		ct = types.ConsentCallRecording
	}
	et := types.EventConsentDenied
	if action.Granted {
		et = types.EventConsentGranted
	}
	logID := o.record(ctx, sess.TenantID, sess.SessionID, et, map[string]any{
		"consent_type": string(ct),
		"granted":      action.Granted,
		"customer_id":  sess.CustomerID,
		"policy_id":    action.PolicyID,
		"channel":      string(types.ChannelVoice),
	}, nil)

	if o.Consents != nil && sess.CustomerID != "" {
		_, err := o.Consents.RecordConsent(ctx, types.ConsentRequest{
			CustomerID:   sess.CustomerID,
			TenantID:     sess.TenantID,
			Channel:      types.ChannelVoice,
			ConsentType:  ct,
			Granted:      action.Granted,
			AuditTrailID: logID,
			Metadata:     map[string]any{"call_id": sess.SessionID},
		})
		if err != nil {
			o.Logger.Error("consent persist failed",
				"tenant_id", sess.TenantID, "call_id", sess.SessionID, "consent_type", string(ct), "error", err)
		}
	}

	if !action.Granted {
		return o.escalate(ctx, sess, escalation{
			Reason:   ReasonConsentDenied,
			Priority: "high",
			PolicyID: action.PolicyID,
		})
	}

	updated, err := o.Sessions.UpdateSession(ctx, sess.SessionID, types.SessionUpdate{
		ConsentGranted: types.Ptr(true),
		CollectedData:  map[string]any{"consent_" + string(ct): true},
	})
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	next := action.NextStep
	if next == "" {
		next = types.StepMainMenu
	}
	return o.dispatch(ctx, updated, next, "")
}

type escalation struct {
	Reason      string
	Priority    string
	Destination string
	PolicyID    string
}

// escalate transfers the call to a human and closes the session as
// transferred.
func (o *Orchestrator) escalate(ctx context.Context, sess types.CallSession, e escalation) (Response, error) {
	if e.Priority == "" {
		e.Priority = "medium"
	}
	target := o.dialTarget(ctx, sess, e.Destination)
	o.record(ctx, sess.TenantID, sess.SessionID, types.EventEscalationTriggered, map[string]any{
		"reason":      e.Reason,
		"priority":    e.Priority,
		"destination": target,
		"policy_id":   e.PolicyID,
		"step":        sess.CurrentStep,
	}, nil)

	now := o.now()
	u := types.SessionUpdate{
		CurrentStep:   types.Ptr(types.StepTransferAgent),
		Status:        types.Ptr(types.StatusTransferred),
		EndedAt:       &now,
		CollectedData: map[string]any{"escalation_reason": e.Reason},
	}
	if sess.CurrentStep != "" && sess.CurrentStep != types.StepTransferAgent {
		u.AppendSteps = []string{sess.CurrentStep}
	}
	if _, err := o.Sessions.UpdateSession(ctx, sess.SessionID, u); err != nil {
		o.Logger.Warn("mark session transferred failed", "call_id", sess.SessionID, "error", err)
	}

	r := texml.New(sess.Language)
	if target == "" {
		r.Say("We're sorry, but we couldn't connect you to a representative. Please try again later.")
		r.Hangup()
		return Response{Markup: r.String(), NextStep: types.StepTransferAgent}, nil
	}
	r.Say("Please hold while we connect you to a representative.")
	r.Dial(target, dialTimeout)
	r.Say("We're sorry, but we couldn't connect you to a representative. Please try again later.")
	r.Hangup()
	return Response{Markup: r.String(), NextStep: types.StepTransferAgent}, nil
}

// dialTarget resolves where an escalation rings: a phone number named by
// the rule, the number of the named (or transfer_agent) dial step of the
// session's flow, then the configured escalation number.
func (o *Orchestrator) dialTarget(ctx context.Context, sess types.CallSession, destination string) string {
	if isPhoneNumber(destination) {
		return destination
	}
	stepID := destination
	if stepID == "" {
		stepID = types.StepTransferAgent
	}
	if flow, err := o.Sessions.GetFlow(ctx, sess.FlowID); err == nil {
		if step, ok := flow.Step(stepID); ok && step.Type == types.StepDial && step.PhoneNumber != "" {
			return step.PhoneNumber
		}
	}
	return o.Sessions.EscalationNumber()
}

func isPhoneNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 7 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// proceed renders the flow step the engine released. Gate steps resume
// the flow where it stands. An unknown step holds and redirects to the
// menu; a missing flow or menu escalates rather than loop.
func (o *Orchestrator) proceed(ctx context.Context, sess types.CallSession, action types.PolicyAction) (Response, error) {
	next := action.NextStep
	switch next {
	case "", types.StepInitiated, types.StepIdentityVerification, types.StepConsentCapture:
		next = types.StepGreeting
		if sess.CurrentStep != "" && !isGateStep(sess.CurrentStep) {
			next = sess.CurrentStep
		}
	}
	o.record(ctx, sess.TenantID, sess.SessionID, types.EventPolicyActionTaken, map[string]any{
		"action":    string(types.ActionProceed),
		"policy_id": action.PolicyID,
		"next_step": next,
	}, nil)

	markup, err := o.Sessions.AdvanceTo(ctx, sess.SessionID, next)
	switch {
	case err == nil:
		return Response{Markup: markup, NextStep: next}, nil
	case errors.Is(err, service.ErrFlowNotFound), errors.Is(err, service.ErrStepNotFound) && next == types.StepMainMenu:
		o.Logger.Warn("call flow unavailable", "call_id", sess.SessionID, "flow_id", sess.FlowID, "step", next)
		return o.escalate(ctx, sess, escalation{Reason: ReasonFlowUnavailable, Priority: "medium", PolicyID: action.PolicyID})
	case errors.Is(err, service.ErrStepNotFound):
		o.Logger.Warn("step not in flow, holding", "call_id", sess.SessionID, "flow_id", sess.FlowID, "step", next)
		r := texml.New(sess.Language)
		r.Say("Please hold.")
		r.Redirect(o.Sessions.StepURL(sess.SessionID, types.StepMainMenu))
		return Response{Markup: r.String(), NextStep: types.StepMainMenu}, nil
	default:
		return o.fail(ctx, sess, err)
	}
}

func isGateStep(step string) bool {
	switch step {
	case types.StepInitiated, types.StepIdentityVerification, types.StepConsentCapture, types.StepTransferAgent:
		return true
	}
	return false
}

// ── Helpers ──

// activeSession loads a session that still expects webhooks.
func (o *Orchestrator) activeSession(ctx context.Context, callID string) (types.CallSession, error) {
	sess, err := o.Sessions.GetSession(ctx, callID)
	if err != nil {
		return types.CallSession{SessionID: callID}, err
	}
	if sess.Status.IsTerminal() {
		return sess, fmt.Errorf("%w: %s", service.ErrSessionEnded, callID)
	}
	return sess, nil
}

// moveTo records a gate step as the session's current step.
func (o *Orchestrator) moveTo(ctx context.Context, sess types.CallSession, step string) error {
	u := types.SessionUpdate{CurrentStep: &step, Status: types.Ptr(types.StatusInProgress)}
	if sess.CurrentStep != "" && sess.CurrentStep != step {
		u.AppendSteps = []string{sess.CurrentStep}
	}
	_, err := o.Sessions.UpdateSession(ctx, sess.SessionID, u)
	return err
}

// record appends an audit event. Failures are logged at ERROR and
// swallowed; the returned id is empty then.
func (o *Orchestrator) record(ctx context.Context, tenantID, callID string, et types.EventType, data, meta map[string]any) string {
	if o.Audit == nil {
		return ""
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["service"] = auditService
	ev, err := o.Audit.LogEvent(ctx, types.AuditEventInput{
		TenantID:  tenantID,
		CallID:    callID,
		EventType: et,
		EventData: data,
		Metadata:  meta,
	})
	if err != nil {
		o.Logger.Error("audit write failed",
			"tenant_id", tenantID, "call_id", callID, "event_type", string(et), "error", err)
		return ""
	}
	return ev.LogID
}

// fail renders the apology and, when the tenant is known, records
// error.occurred and marks a live session failed.
func (o *Orchestrator) fail(ctx context.Context, sess types.CallSession, err error) (Response, error) {
	o.Logger.Warn("webhook failed", "call_id", sess.SessionID, "tenant_id", sess.TenantID, "step", sess.CurrentStep, "error", err)
	if sess.TenantID != "" {
		o.record(ctx, sess.TenantID, sess.SessionID, types.EventErrorOccurred, map[string]any{
			"error": err.Error(),
			"step":  sess.CurrentStep,
		}, nil)
	}
	if sess.TenantID != "" && !sess.Status.IsTerminal() && !errors.Is(err, service.ErrSessionNotFound) {
		if _, endErr := o.Sessions.EndSession(ctx, sess.SessionID, types.StatusFailed); endErr != nil {
			o.Logger.Debug("mark session failed", "call_id", sess.SessionID, "error", endErr)
		}
	}
	return Response{Markup: texml.Apology(sess.Language)}, err
}
