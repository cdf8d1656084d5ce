package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type downBackend struct {
	*healthcare.StaticBackend
}

func (downBackend) BookAppointment(context.Context, healthcare.AppointmentQuery) (healthcare.Booking, error) {
	return healthcare.Booking{}, errors.New("scheduling system offline")
}

func callContext(id string) types.CallContext {
	return types.CallContext{CallID: id, TenantID: tenant, Industry: "healthcare", From: "+15550001111", CustomerID: "pat-42"}
}

// toolActions lists the action field of each data.access event.
func toolActions(evs []types.AuditEvent) []string {
	var out []string
	for _, ev := range evs {
		if ev.EventType == types.EventDataAccess {
			a, _ := ev.EventData["action"].(string)
			out = append(out, a)
		}
	}
	return out
}

// ── CallTool ──

func TestCallTool_AuditsMaskedParameters(t *testing.T) {
	f := newFixture(t)
	cc := callContext("call-x1")
	res, err := f.orch.CallTool(context.Background(), cc, healthcare.ToolBookAppointment, map[string]string{
		"patient_id": "pat-42",
		"reason":     "follow up",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := res.(healthcare.Booking); !ok || !b.Success {
		t.Fatalf("result = %#v", res)
	}

	evs := f.trail(t, "call-x1")
	if got := strings.Join(toolActions(evs), ","); got != "real_time_tool_call,real_time_tool_call_success" {
		t.Fatalf("actions = %s", got)
	}
	params, _ := evs[0].EventData["parameters"].(map[string]any)
	if params["patient_id"] != "[REDACTED]" || params["reason"] != "follow up" {
		t.Errorf("parameters = %v", params)
	}
	if evs[1].EventData["result_summary"] != "Success: true" {
		t.Errorf("summary = %v", evs[1].EventData["result_summary"])
	}
}

func TestCallTool_Failures(t *testing.T) {
	cases := []struct {
		name    string
		backend healthcare.Backend
		tool    string
		want    error
		actions string
	}{
		{"unknown tool", nil, "launch_rocket", healthcare.ErrUnknownTool, "real_time_tool_call,real_time_tool_call_failed"},
		{"backend error", downBackend{healthcare.NewStaticBackend()}, healthcare.ToolBookAppointment, nil, "real_time_tool_call,real_time_tool_call_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixtureWith(t, fixtureOptions{backend: tc.backend})
			_, err := f.orch.CallTool(context.Background(), callContext("call-x2"), tc.tool, map[string]string{"patient_id": "pat-42"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if got := strings.Join(toolActions(f.trail(t, "call-x2")), ","); got != tc.actions {
				t.Errorf("actions = %s", got)
			}
		})
	}
}

func TestCallTool_NotConfigured(t *testing.T) {
	o := orchestrator.New(orchestrator.Deps{})
	if _, err := o.CallTool(context.Background(), callContext("c"), healthcare.ToolLabResults, nil); !errors.Is(err, orchestrator.ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
	if _, err := o.StartAdherenceCheck(context.Background(), "sched_1"); !errors.Is(err, orchestrator.ErrNotConfigured) {
		t.Errorf("adherence err = %v", err)
	}
}

// ── Redaction ──

func TestRedactTranscript(t *testing.T) {
	f := newFixture(t)
	res := f.orch.RedactTranscript(context.Background(), callContext("call-x3"),
		"My SSN is 123-45-6789 and you can call me at 555-123-4567.")
	if strings.Contains(res.RedactedContent, "6789") || strings.Contains(res.RedactedContent, "4567") {
		t.Fatalf("redacted = %q", res.RedactedContent)
	}
	ev, ok := find(f.trail(t, "call-x3"), types.EventDataRedacted)
	if !ok {
		t.Fatal("no data.redacted event")
	}
	if ev.EventData["items_redacted"] != len(res.RedactedItems) || len(res.RedactedItems) < 2 || ev.EventData["original_length"] != res.OriginalLength {
		t.Errorf("event = %v", ev.EventData)
	}
	if strings.Contains(fmt.Sprint(ev.EventData), "123-45-6789") {
		t.Error("audit entry carries the original value")
	}
}

// ── Clinical ──

func TestDocumentConversation(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.DocumentConversation(context.Background(), callContext("call-x4"), healthcare.NoteTriage, healthcare.NoteData{
		ChiefComplaint: "Headache",
		Assessment:     "Tension headache",
	})
	if err != nil || !res.Success || res.NoteID == "" || res.EncounterID != "call-x4" {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}

func TestEvaluateClinicalWorkflow(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.EvaluateClinicalWorkflow(context.Background(), callContext("call-x5"),
		healthcare.ConditionChestPain, healthcare.SeverityUrgent, "caller reports chest pain")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Triggered || res.ActionsExecuted != 3 || len(res.AlertIDs) != 1 {
		t.Errorf("res = %+v", res)
	}
	if indexOf(f.trail(t, "call-x5"), types.EventEscalationTriggered) < 0 {
		t.Error("workflow actions were not audited on the call")
	}

	res, err = f.orch.EvaluateClinicalWorkflow(context.Background(), callContext("call-x5"), "unknown_condition", "", "")
	if err != nil || res.Triggered {
		t.Errorf("unknown condition = %+v, %v", res, err)
	}
}

// ── Identity ──

func TestDigitsVerifier(t *testing.T) {
	cases := []struct {
		name  string
		v     orchestrator.DigitsVerifier
		input string
		ok    bool
	}{
		{"default range", orchestrator.DigitsVerifier{}, "12345678", true},
		{"trimmed", orchestrator.DigitsVerifier{}, " 1234 ", true},
		{"too short", orchestrator.DigitsVerifier{}, "123", false},
		{"too long", orchestrator.DigitsVerifier{}, "12345678901", false},
		{"not digits", orchestrator.DigitsVerifier{}, "12a456", false},
		{"custom range", orchestrator.DigitsVerifier{MinDigits: 6, MaxDigits: 6}, "12345", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok, err := tc.v.Verify(context.Background(), types.CallContext{}, tc.input)
			if err != nil || ok != tc.ok {
				t.Fatalf("Verify(%q) = %q, %v, %v", tc.input, id, ok, err)
			}
			if ok && id != strings.TrimSpace(tc.input) {
				t.Errorf("customer id = %q", id)
			}
		})
	}
}
