package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const goodbye = "Thank you for calling. Goodbye."

// StartTriage opens a symptom assessment for the call and asks its first
// question.
func (o *Orchestrator) StartTriage(ctx context.Context, callID, condition string) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.activeSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if o.Triage == nil {
		return o.fail(ctx, sess, fmt.Errorf("triage: %w", ErrNotConfigured))
	}
	step, err := o.Triage.Start(ctx, sess.TenantID, callID, sess.Context().PatientID(), condition)
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if _, err := o.Sessions.UpdateSession(ctx, callID, types.SessionUpdate{
		CollectedData: map[string]any{"triage_session_id": step.Session.SessionID, "triage_condition": condition},
	}); err != nil {
		o.Logger.Warn("store triage session id failed", "call_id", callID, "error", err)
	}
	return Response{Markup: o.questionMarkup(sess.Language, step.Session.SessionID, *step.Question)}, nil
}

// AnswerTriage records the caller's answer. Unrecognised input repeats the
// question. A final result is rendered by recommendation; the call's
// compliance policy is not consulted here, so nothing can preempt the
// emergency instruction.
func (o *Orchestrator) AnswerTriage(ctx context.Context, triageSessionID, input string) (Response, error) {
	if o.Triage == nil {
		return o.fail(ctx, types.CallSession{}, fmt.Errorf("triage: %w", ErrNotConfigured))
	}
	ts, err := o.Triage.Session(triageSessionID)
	if err != nil {
		return o.fail(ctx, types.CallSession{}, err)
	}
	unlock := o.locks.lock(ts.CallID)
	defer unlock()

	sess, err := o.Sessions.GetSession(ctx, ts.CallID)
	if err != nil {
		sess = types.CallSession{SessionID: ts.CallID, TenantID: ts.TenantID, Status: types.StatusCompleted}
	}

	step, err := o.Triage.Answer(ctx, triageSessionID, input)
	if errors.Is(err, healthcare.ErrInvalidAnswer) {
		q, qerr := o.Triage.CurrentQuestion(triageSessionID)
		if qerr != nil {
			return o.fail(ctx, sess, qerr)
		}
		return Response{Markup: o.questionMarkup(sess.Language, triageSessionID, q)}, nil
	}
	if err != nil {
		return o.fail(ctx, sess, err)
	}
	if step.Question != nil {
		return Response{Markup: o.questionMarkup(sess.Language, triageSessionID, *step.Question)}, nil
	}

	res := *step.Result
	if _, err := o.Sessions.UpdateSession(ctx, ts.CallID, types.SessionUpdate{
		CollectedData: map[string]any{
			"triage_recommendation": string(res.Recommendation),
			"triage_severity":       string(res.Severity),
		},
	}); err != nil {
		o.Logger.Debug("store triage result failed", "call_id", ts.CallID, "error", err)
	}
	if !offersScheduling(res.Recommendation) {
		o.endQuietly(ctx, sess, types.StatusCompleted)
	}
	return Response{Markup: o.resultMarkup(sess.Language, ts.CallID, res)}, nil
}

// ScheduleFromTriage answers the booking offer made after a triage result.
// "1" books through the tool backend; anything else ends the call.
func (o *Orchestrator) ScheduleFromTriage(ctx context.Context, callID, digits string) (Response, error) {
	unlock := o.locks.lock(callID)
	defer unlock()

	sess, err := o.Sessions.GetSession(ctx, callID)
	if err != nil {
		return o.fail(ctx, types.CallSession{SessionID: callID}, err)
	}
	r := texml.New(sess.Language)
	if strings.TrimSpace(digits) != "1" {
		o.endQuietly(ctx, sess, types.StatusCompleted)
		r.Say(goodbye)
		r.Hangup()
		return Response{Markup: r.String()}, nil
	}

	cc := sess.Context()
	params := map[string]string{"patient_id": cc.PatientID()}
	if cond, ok := sess.CollectedData["triage_condition"].(string); ok {
		params["reason"] = cond
	}
	result, err := o.CallTool(ctx, cc, healthcare.ToolBookAppointment, params)
	booking, ok := result.(healthcare.Booking)
	if err != nil || !ok || !booking.Success {
		o.Logger.Warn("triage booking failed", "call_id", callID, "error", err)
		r.Say("We're sorry, we couldn't book your appointment right now. Please call back during business hours.")
		r.Hangup()
		o.endQuietly(ctx, sess, types.StatusCompleted)
		return Response{Markup: r.String()}, nil
	}

	if _, err := o.Sessions.UpdateSession(ctx, callID, types.SessionUpdate{
		CollectedData: map[string]any{"appointment_id": booking.AppointmentID},
	}); err != nil {
		o.Logger.Debug("store appointment id failed", "call_id", callID, "error", err)
	}
	o.endQuietly(ctx, sess, types.StatusCompleted)
	r.Say(fmt.Sprintf("Your appointment is booked for %s at %s. Your confirmation number is %s.",
		booking.Date, booking.Time, booking.ConfirmationNumber))
	r.Say(goodbye)
	r.Hangup()
	return Response{Markup: r.String()}, nil
}

func offersScheduling(rec healthcare.Recommendation) bool {
	return rec == healthcare.RecommendScheduleAppointment || rec == healthcare.RecommendImmediateCare
}

func (o *Orchestrator) questionMarkup(lang, triageSessionID string, q healthcare.Question) string {
	text := q.Text
	timeout, digits := 15, 1
	switch q.Kind {
	case healthcare.KindYesNo:
		text += " Press 1 for yes, or 2 for no."
		timeout = 10
	case healthcare.KindScale:
		text += " Please enter a number from 1 to 10."
		digits = 2
	case healthcare.KindMultipleChoice:
		for i, opt := range q.Options {
			text += " Press " + strconv.Itoa(i+1) + " for " + opt + "."
		}
		if len(q.Options) > 9 {
			digits = 2
		}
	}

	r := texml.New(lang)
	r.Gather(texml.Gather{
		Action:         o.Sessions.URL("/api/triage/" + triageSessionID + "/answer"),
		Timeout:        timeout,
		NumDigits:      digits,
		Prompt:         text,
		PromptLanguage: true,
	})
	r.Say("We didn't receive your response. Please try again.")
	r.Hangup()
	return r.String()
}

// resultMarkup speaks the assessment. The emergency branch always ends the
// call after the 911 instruction.
func (o *Orchestrator) resultMarkup(lang, callID string, res healthcare.TriageResult) string {
	r := texml.New(lang)
	r.Say(res.Message)
	if len(res.NextSteps) > 0 {
		parts := make([]string, len(res.NextSteps))
		for i, s := range res.NextSteps {
			parts[i] = strconv.Itoa(i+1) + ". " + s
		}
		r.Say("Next steps: " + strings.Join(parts, ". "))
	}

	switch {
	case res.IsEmergency():
		r.Say("This is a medical emergency. Please hang up and call 911 immediately, or go to the nearest emergency room.")
		r.Hangup()
	case res.Recommendation == healthcare.RecommendEscalateNurse:
		r.Say("A nurse will call you back within 1 to 2 hours. Please keep your phone nearby.")
		r.Hangup()
	case offersScheduling(res.Recommendation):
		r.Gather(texml.Gather{
			Action:         o.Sessions.ActionURL(callID, "schedule"),
			Timeout:        10,
			NumDigits:      1,
			Prompt:         "Would you like to schedule an appointment now? Press 1 for yes, or 2 to end the call.",
			PromptLanguage: true,
		})
		r.Say(goodbye)
		r.Hangup()
	default:
		r.Say("Thank you for completing the assessment. If your symptoms persist or worsen, please call back or schedule an appointment.")
		r.Hangup()
	}
	return r.String()
}

// endQuietly closes a live session, logging rather than returning errors.
func (o *Orchestrator) endQuietly(ctx context.Context, sess types.CallSession, status types.SessionStatus) {
	if sess.Status.IsTerminal() {
		return
	}
	if _, err := o.Sessions.EndSession(ctx, sess.SessionID, status); err != nil {
		o.Logger.Debug("end session failed", "call_id", sess.SessionID, "error", err)
	}
}
