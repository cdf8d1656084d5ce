package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/redact"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// phiParams are tool parameters masked in the pre-call audit entry.
var phiParams = map[string]struct{}{
	"patient_id":            {},
	"ssn":                   {},
	"date_of_birth":         {},
	"medical_record_number": {},
}

const redactedValue = "[REDACTED]"

// ── Tool calling ──

// CallTool runs a backend tool during a live call. The attempt is audited
// as data.access with PHI parameters masked, and the outcome is audited
// again: success with a short summary, failure before the error returns.
func (o *Orchestrator) CallTool(ctx context.Context, cc types.CallContext, tool string, params map[string]string) (any, error) {
	if o.Backend == nil {
		return nil, fmt.Errorf("tool %s: %w", tool, ErrNotConfigured)
	}
	o.record(ctx, cc.TenantID, cc.CallID, types.EventDataAccess, map[string]any{
		"action":     "real_time_tool_call",
		"tool":       tool,
		"parameters": sanitizeParams(params),
	}, nil)

	result, err := healthcare.Invoke(ctx, o.Backend, tool, params)
	if err != nil {
		o.record(ctx, cc.TenantID, cc.CallID, types.EventDataAccess, map[string]any{
			"action": "real_time_tool_call_failed",
			"tool":   tool,
			"error":  err.Error(),
		}, nil)
		return nil, fmt.Errorf("tool %s: %w", tool, err)
	}

	o.record(ctx, cc.TenantID, cc.CallID, types.EventDataAccess, map[string]any{
		"action":         "real_time_tool_call_success",
		"tool":           tool,
		"result_summary": summarize(result),
	}, nil)
	return result, nil
}

func sanitizeParams(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := phiParams[strings.ToLower(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}

// summarize describes a tool result without echoing its contents.
func summarize(result any) string {
	switch r := result.(type) {
	case healthcare.Availability:
		return fmt.Sprintf("Available: %t, slots: %d", r.Available, len(r.Slots))
	case healthcare.Booking:
		return fmt.Sprintf("Success: %t", r.Success)
	case healthcare.Refill:
		return fmt.Sprintf("Success: %t", r.Success)
	case healthcare.LabResults:
		return fmt.Sprintf("Success: %t, available: %t", r.Success, r.ResultsAvailable)
	case nil:
		return "No result"
	}
	return "Completed"
}

// ── Clinical documentation ──

// DocumentConversation files a note for the caller, keyed by the call as
// encounter.
func (o *Orchestrator) DocumentConversation(ctx context.Context, cc types.CallContext, typ healthcare.NoteType, data healthcare.NoteData) (healthcare.DocumentResult, error) {
	if o.EHR == nil {
		return healthcare.DocumentResult{}, fmt.Errorf("ehr: %w", ErrNotConfigured)
	}
	note := o.EHR.CreateStructuredNote(cc.PatientID(), typ, data, cc.CallID, "")
	return o.EHR.DocumentToEHR(ctx, cc.TenantID, note)
}

// EvaluateClinicalWorkflow runs the trigger registered for condition.
func (o *Orchestrator) EvaluateClinicalWorkflow(ctx context.Context, cc types.CallContext, condition string, severity healthcare.Severity, message string) (healthcare.WorkflowResult, error) {
	if o.Workflow == nil {
		return healthcare.WorkflowResult{}, fmt.Errorf("workflow: %w", ErrNotConfigured)
	}
	meta := map[string]any{"industry": cc.Industry}
	if severity != "" {
		meta["severity"] = string(severity)
	}
	return o.Workflow.Evaluate(ctx, cc.TenantID, cc.PatientID(), condition, healthcare.WorkflowContext{
		CallID:   cc.CallID,
		Message:  message,
		Metadata: meta,
	})
}

// ScheduleReminder schedules a reminder for the caller. PatientID defaults
// to the caller.
func (o *Orchestrator) ScheduleReminder(ctx context.Context, cc types.CallContext, req healthcare.ReminderRequest) (healthcare.Reminder, error) {
	if o.Reminders == nil {
		return healthcare.Reminder{}, fmt.Errorf("reminders: %w", ErrNotConfigured)
	}
	if req.PatientID == "" {
		req.PatientID = cc.PatientID()
	}
	return o.Reminders.Schedule(ctx, cc.TenantID, req)
}

// ── Redaction ──

// RedactTranscript scrubs a call transcript with the categories of the
// call's industry and records data.redacted.
func (o *Orchestrator) RedactTranscript(ctx context.Context, cc types.CallContext, transcript string) redact.Result {
	return o.redactTranscript(ctx, cc, transcript)
}

func (o *Orchestrator) redactTranscript(ctx context.Context, cc types.CallContext, transcript string) redact.Result {
	res := o.redact(cc, transcript)
	found := make([]string, 0, len(res.RedactedItems))
	seen := map[redact.DataType]bool{}
	for _, it := range res.RedactedItems {
		if !seen[it.Type] {
			seen[it.Type] = true
			found = append(found, string(it.Type))
		}
	}
	o.record(ctx, cc.TenantID, cc.CallID, types.EventDataRedacted, map[string]any{
		"original_length": res.OriginalLength,
		"redacted_length": res.RedactedLength,
		"items_redacted":  len(res.RedactedItems),
		"types":           found,
	}, nil)
	return res
}

func (o *Orchestrator) redact(cc types.CallContext, content string) redact.Result {
	return redact.RedactWithContext(content, redact.Context{
		Industry: cc.Industry,
		TenantID: cc.TenantID,
		CallID:   cc.CallID,
	})
}
