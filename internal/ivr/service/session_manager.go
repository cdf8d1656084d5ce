package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const (
	defaultGatherTimeout = 10
	defaultRecordTimeout = 30
	defaultRecordLength  = 300
)

// SessionConfig carries the per-call settings chosen at first contact.
type SessionConfig struct {
	TenantID          string
	Industry          string
	Region            string
	Language          string
	SpeechRecognition bool
}

type SessionOptions struct {
	// WebhookBaseURL prefixes every action and redirect URL.
	WebhookBaseURL string
	// EscalationNumber is dialled by dial steps without their own number.
	EscalationNumber string
}

// SessionManager owns call sessions and renders flow steps as markup.
type SessionManager struct {
	sessions store.SessionStore
	flows    store.FlowStore
	opts     SessionOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionManager(sessions store.SessionStore, flows store.FlowStore, opts SessionOptions, logger *slog.Logger) *SessionManager {
	opts.WebhookBaseURL = strings.TrimRight(opts.WebhookBaseURL, "/")
	return &SessionManager{
		sessions: sessions,
		flows:    flows,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ── Flows ──

// RegisterFlow validates f and makes it available to new sessions.
func (m *SessionManager) RegisterFlow(ctx context.Context, f types.CallFlow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return m.flows.PutFlow(ctx, f)
}

func (m *SessionManager) GetFlow(ctx context.Context, id string) (types.CallFlow, error) {
	f, err := m.flows.GetFlow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.CallFlow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return f, err
}

func (m *SessionManager) ListFlows(ctx context.Context) ([]types.CallFlow, error) {
	return m.flows.ListFlows(ctx)
}

// ── Sessions ──

// CreateSession always starts a fresh session with a generated id.
func (m *SessionManager) CreateSession(ctx context.Context, cfg SessionConfig, callControlID, from, to string) (types.CallSession, error) {
	return m.CreateSessionWithID(ctx, types.NewID("ivr", m.now()), cfg, callControlID, from, to)
}

// CreateSessionWithID keys the session by a caller-chosen id, typically the
// carrier's call id, so later webhooks find it again.
func (m *SessionManager) CreateSessionWithID(ctx context.Context, id string, cfg SessionConfig, callControlID, from, to string) (types.CallSession, error) {
	if strings.TrimSpace(cfg.TenantID) == "" {
		return types.CallSession{}, ErrInvalidTenant
	}
	now := m.now()
	sess := types.CallSession{
		SessionID:         id,
		CallControlID:     callControlID,
		TenantID:          cfg.TenantID,
		From:              from,
		To:                to,
		Industry:          cfg.Industry,
		Region:            cfg.Region,
		Language:          texml.Language(cfg.Language),
		CurrentStep:       types.StepGreeting,
		FlowID:            types.FlowIDFor(cfg.Industry),
		CollectedData:     map[string]any{},
		Status:            types.StatusInitiated,
		SpeechRecognition: cfg.SpeechRecognition,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return types.CallSession{}, fmt.Errorf("create session %s: %w", id, err)
	}
	m.logger.Debug("session created", "session_id", id, "tenant_id", cfg.TenantID, "flow_id", sess.FlowID)
	return sess, nil
}

func (m *SessionManager) GetSession(ctx context.Context, id string) (types.CallSession, error) {
	s, err := m.sessions.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.CallSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// UpdateSession applies u field by field; see types.CallSession.Apply.
func (m *SessionManager) UpdateSession(ctx context.Context, id string, u types.SessionUpdate) (types.CallSession, error) {
	if u.Status != nil && !u.Status.Valid() {
		return types.CallSession{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}
	s, err := m.sessions.Update(ctx, id, u)
	if errors.Is(err, store.ErrNotFound) {
		return types.CallSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// EndSession moves the session to a terminal status (completed when empty)
// and stamps EndedAt. The retention pruner purges it later.
func (m *SessionManager) EndSession(ctx context.Context, id string, status types.SessionStatus) (types.CallSession, error) {
	if status == "" {
		status = types.StatusCompleted
	}
	if !status.IsTerminal() {
		return types.CallSession{}, fmt.Errorf("%w: %q is not terminal", ErrInvalidStatus, status)
	}
	now := m.now()
	return m.UpdateSession(ctx, id, types.SessionUpdate{Status: &status, EndedAt: &now})
}

// ── Markup ──

// StepURL is the redirect target that replays step for the session.
func (m *SessionManager) StepURL(sessionID, step string) string {
	return m.opts.WebhookBaseURL + "/api/ivr/" + sessionID + "/step/" + step
}

// ActionURL builds a webhook URL for the session, e.g. ActionURL(id, "gather").
func (m *SessionManager) ActionURL(sessionID, action string) string {
	return m.opts.WebhookBaseURL + "/api/ivr/" + sessionID + "/" + action
}

// URL prefixes path with the webhook base URL.
func (m *SessionManager) URL(path string) string { return m.opts.WebhookBaseURL + path }

// EscalationNumber is the fallback dial target.
func (m *SessionManager) EscalationNumber() string { return m.opts.EscalationNumber }

// CurrentStepMarkup renders the session's current step.
func (m *SessionManager) CurrentStepMarkup(ctx context.Context, id string) (string, error) {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	_, step, err := m.lookupStep(ctx, sess, sess.CurrentStep)
	if err != nil {
		return "", err
	}
	return m.RenderStep(sess, step), nil
}

// AdvanceTo moves the session to stepID (recording the step it leaves) and
// renders the new step.
func (m *SessionManager) AdvanceTo(ctx context.Context, id, stepID string) (string, error) {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	_, step, err := m.lookupStep(ctx, sess, stepID)
	if err != nil {
		return "", err
	}
	u := types.SessionUpdate{CurrentStep: &step.ID, Status: types.Ptr(types.StatusInProgress)}
	if sess.CurrentStep != "" && sess.CurrentStep != step.ID {
		u.AppendSteps = []string{sess.CurrentStep}
	}
	if sess, err = m.UpdateSession(ctx, id, u); err != nil {
		return "", err
	}
	return m.RenderStep(sess, step), nil
}

func (m *SessionManager) lookupStep(ctx context.Context, sess types.CallSession, stepID string) (types.CallFlow, types.Step, error) {
	flow, err := m.GetFlow(ctx, sess.FlowID)
	if err != nil {
		return types.CallFlow{}, types.Step{}, err
	}
	step, ok := flow.Step(stepID)
	if !ok {
		return flow, types.Step{}, fmt.Errorf("%w: %s/%s", ErrStepNotFound, flow.ID, stepID)
	}
	return flow, step, nil
}

// RenderStep produces the markup for one step of the session's flow.
func (m *SessionManager) RenderStep(sess types.CallSession, step types.Step) string {
	r := texml.New(sess.Language)

	switch step.Type {
	case types.StepSay:
		r.Say(step.Message)
		if step.NextStep != "" {
			r.Redirect(m.StepURL(sess.SessionID, step.NextStep))
		} else {
			r.Hangup()
		}

	case types.StepGather:
		if step.Message != "" {
			r.Say(step.Message)
		}
		g := texml.Gather{
			Action:    m.ActionURL(sess.SessionID, "gather"),
			Timeout:   orDefault(step.Timeout, defaultGatherTimeout),
			NumDigits: orDefault(step.MaxDigits, 1),
			Prompt:    "Please make your selection.",
		}
		if sess.SpeechRecognition || step.SpeechRecognition {
			g.Speech = true
			g.Prompt = "Please speak or press a number."
		}
		r.Gather(g)
		r.SayPlain("We didn't receive any input. Please try again.")
		r.Hangup()

	case types.StepDial:
		m.renderDial(r, step.PhoneNumber)

	case types.StepRecord:
		msg := step.Message
		if msg == "" {
			msg = "Please leave your message after the beep."
		}
		r.Say(msg)
		r.Record(texml.Record{
			Action:     m.ActionURL(sess.SessionID, "recording"),
			Timeout:    orDefault(step.Timeout, defaultRecordTimeout),
			MaxLength:  orDefault(step.MaxLength, defaultRecordLength),
			PlayBeep:   true,
			Transcribe: true,
		})
		r.SayPlain("Thank you for your message.")
		r.Hangup()

	case types.StepRedirect:
		if step.NextStep == "" {
			r.Hangup()
			break
		}
		r.Redirect(m.StepURL(sess.SessionID, step.NextStep))

	case types.StepHangup:
		if step.Message != "" {
			r.Say(step.Message)
		}
		r.Hangup()

	default:
		r.SayPlain("Invalid step type.")
		r.Hangup()
	}
	return r.String()
}

// DialMarkup renders a transfer to number, or to the escalation number
// when number is empty.
func (m *SessionManager) DialMarkup(lang, number string) string {
	r := texml.New(lang)
	m.renderDial(r, number)
	return r.String()
}

func (m *SessionManager) renderDial(r *texml.Response, number string) {
	if number == "" {
		number = m.opts.EscalationNumber
	}
	if number == "" {
		r.SayPlain("Unable to connect. Please try again later.")
		r.Hangup()
		return
	}
	r.SayPlain("Please hold while we connect you.")
	r.Dial(number, 30)
	r.SayPlain("Thank you for calling. Goodbye.")
	r.Hangup()
}

// ── Input ──

// ProcessDTMF routes keypad input on the current step. Unknown digits
// replay the step; a transfer option ends the session as transferred.
func (m *SessionManager) ProcessDTMF(ctx context.Context, id, digits string) (string, error) {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if sess.Status.IsTerminal() {
		return "", fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	flow, step, err := m.lookupStep(ctx, sess, sess.CurrentStep)
	if err != nil {
		return "", err
	}

	digits = strings.TrimSpace(digits)
	opt, ok := step.Option(digits)
	if !ok {
		m.logger.Debug("unrecognised input, replaying step", "session_id", id, "step", step.ID, "digits", digits)
		return m.RenderStep(sess, step), nil
	}

	u := types.SessionUpdate{
		CollectedData: map[string]any{step.ID: digits},
		AppendSteps:   []string{step.ID},
	}

	if opt.Action == types.OptionTransfer {
		now := m.now()
		u.Status = types.Ptr(types.StatusTransferred)
		u.EndedAt = &now
		target := types.Step{Type: types.StepDial}
		if next, ok := flow.Step(opt.NextStep); ok && next.Type == types.StepDial {
			target = next
			u.CurrentStep = &next.ID
		}
		if sess, err = m.UpdateSession(ctx, id, u); err != nil {
			return "", err
		}
		return m.RenderStep(sess, target), nil
	}

	next, ok := flow.Step(opt.NextStep)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrStepNotFound, flow.ID, opt.NextStep)
	}
	u.CurrentStep = &next.ID
	u.Status = types.Ptr(types.StatusInProgress)
	if sess, err = m.UpdateSession(ctx, id, u); err != nil {
		return "", err
	}
	return m.RenderStep(sess, next), nil
}

// ProcessSpeech maps a speech transcript onto an option of the current
// step, by spoken digit or by any word of the option label.
func (m *SessionManager) ProcessSpeech(ctx context.Context, id, text string) (string, error) {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	_, step, err := m.lookupStep(ctx, sess, sess.CurrentStep)
	if err != nil {
		return "", err
	}

	if digit, ok := matchSpeech(step, text); ok {
		if _, err := m.UpdateSession(ctx, id, types.SessionUpdate{
			CollectedData: map[string]any{step.ID + "_speech": text},
		}); err != nil {
			return "", err
		}
		return m.ProcessDTMF(ctx, id, digit)
	}
	return m.RenderStep(sess, step), nil
}

var spokenDigits = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

func matchSpeech(step types.Step, text string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	said := make(map[string]struct{}, len(words))
	for _, w := range words {
		said[w] = struct{}{}
		if d, ok := spokenDigits[w]; ok {
			said[d] = struct{}{}
		}
	}
	for _, o := range step.Options {
		if _, ok := said[o.Digit]; ok {
			return o.Digit, true
		}
	}
	for _, o := range step.Options {
		for _, w := range strings.Fields(strings.ToLower(o.Label)) {
			if len(w) < 3 {
				continue
			}
			if _, ok := said[w]; ok {
				return o.Digit, true
			}
		}
	}
	return "", false
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
