package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// StartAdherenceCheck opens an automated adherence call for a medication
// schedule and asks whether the last dose was taken.
func (o *Orchestrator) StartAdherenceCheck(ctx context.Context, scheduleID string) (Response, error) {
	if o.Adherence == nil {
		return o.fail(ctx, types.CallSession{}, fmt.Errorf("adherence: %w", ErrNotConfigured))
	}
	check, err := o.Adherence.InitiateCheck(ctx, scheduleID, healthcare.CheckAutomatedCall)
	if err != nil {
		return o.fail(ctx, types.CallSession{}, err)
	}
	return Response{Markup: o.checkMarkup(check)}, nil
}

// AdherenceResponse records the answer to an adherence check: 1 taken,
// 2 not taken. Any other input asks again.
func (o *Orchestrator) AdherenceResponse(ctx context.Context, checkID, digits string, sideEffects []string, severity string) (Response, error) {
	if o.Adherence == nil {
		return o.fail(ctx, types.CallSession{}, fmt.Errorf("adherence: %w", ErrNotConfigured))
	}
	check, err := o.Adherence.Check(checkID)
	if err != nil {
		return o.fail(ctx, types.CallSession{}, err)
	}

	var taken bool
	switch strings.TrimSpace(digits) {
	case "1":
		taken = true
	case "2":
	default:
		return Response{Markup: o.checkMarkup(check)}, nil
	}

	if _, _, err := o.Adherence.CompleteCheck(ctx, checkID, healthcare.CheckResponse{
		Taken:              taken,
		SideEffects:        sideEffects,
		SideEffectSeverity: severity,
	}); err != nil {
		return o.fail(ctx, types.CallSession{TenantID: check.TenantID, SessionID: checkID, Status: types.StatusCompleted}, err)
	}

	msg := "Thank you for letting us know. Please take your medication as soon as possible. If you have concerns, please contact your healthcare provider."
	if taken {
		msg = "Thank you for confirming. If you experience any side effects, please contact your healthcare provider."
	}
	if len(sideEffects) > 0 {
		msg += " We have noted the side effects you reported. A healthcare provider will review this information."
	}
	r := texml.New("")
	r.Say(msg)
	r.Hangup()
	return Response{Markup: r.String()}, nil
}

// RequestRefill submits a refill for the schedule and speaks the outcome.
func (o *Orchestrator) RequestRefill(ctx context.Context, scheduleID, requestedBy string) (Response, error) {
	if o.Adherence == nil {
		return o.fail(ctx, types.CallSession{}, fmt.Errorf("adherence: %w", ErrNotConfigured))
	}
	out, err := o.Adherence.RequestRefill(ctx, scheduleID, requestedBy)
	if err != nil {
		return o.fail(ctx, types.CallSession{}, err)
	}
	r := texml.New("")
	r.Say(out.Message)
	r.Hangup()
	return Response{Markup: r.String()}, nil
}

func (o *Orchestrator) checkMarkup(check healthcare.AdherenceCheck) string {
	r := texml.New("")
	r.Gather(texml.Gather{
		Action:    o.Sessions.URL("/api/healthcare/adherence/" + check.CheckID + "/response"),
		Timeout:   10,
		NumDigits: 1,
		Prompt: "Hello, this is a medication reminder call. Did you take your " + check.MedicationName +
			" at the scheduled time? Press 1 for yes, or 2 for no.",
		PromptLanguage: true,
	})
	r.Say("We didn't receive your response. Please call back if you have any questions about your medication.")
	r.Hangup()
	return r.String()
}
