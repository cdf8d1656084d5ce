package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// ── Compliance gates ──

func TestEndToEnd_AuditOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.HandleInbound(ctx, healthcareCall("call-1"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !strings.Contains(res.Markup, baseURL+"/api/ivr/call-1/verify") || res.NextStep != types.StepIdentityVerification {
		t.Fatalf("authenticate markup = %s", res.Markup)
	}

	res, err = f.orch.VerifyIdentity(ctx, "call-1", "1234567")
	if err != nil {
		t.Fatalf("VerifyIdentity: %v", err)
	}
	if !strings.Contains(res.Markup, "HIPAA") || !strings.Contains(res.Markup, baseURL+"/api/ivr/call-1/consent") {
		t.Fatalf("disclosure markup = %s", res.Markup)
	}
	if !res.RequiresRecording || !strings.Contains(res.Markup, `record="record-from-answer"`) {
		t.Errorf("disclosure should start a recording: %s", res.Markup)
	}

	res, err = f.orch.CaptureConsent(ctx, "call-1", true, "")
	if err != nil {
		t.Fatalf("CaptureConsent: %v", err)
	}
	if res.NextStep != types.StepMainMenu || !strings.Contains(res.Markup, "Press 1 for appointment scheduling") {
		t.Fatalf("main menu markup = %s", res.Markup)
	}

	got := only(f.trail(t, "call-1"),
		types.EventCallInitiated,
		types.EventIdentityVerificationStarted,
		types.EventDisclosureScriptPlayed,
		types.EventConsentGranted,
		types.EventConsentDenied,
		types.EventPolicyActionTaken,
		types.EventEscalationTriggered,
	)
	want := []types.EventType{
		types.EventCallInitiated,
		types.EventIdentityVerificationStarted,
		types.EventDisclosureScriptPlayed,
		types.EventConsentGranted,
		types.EventPolicyActionTaken,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("audit order = %v, want %v", got, want)
	}

	sess := mustSession(t, f, "call-1")
	if !sess.Authenticated || !sess.ConsentGranted || sess.CustomerID != "1234567" || sess.CurrentStep != types.StepMainMenu {
		t.Errorf("session = %+v", sess)
	}
	ok, err := f.consents.HasConsent(ctx, "1234567", tenant, types.ConsentCallRecording, types.ChannelVoice)
	if err != nil || !ok {
		t.Errorf("ledger consent = %v, %v", ok, err)
	}
	rep, err := f.audit.VerifyChain(ctx, tenant)
	if err != nil || !rep.OK {
		t.Errorf("chain = %+v, %v", rep, err)
	}
}

func TestConsentDenied_Escalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-2"))
	f.orch.VerifyIdentity(ctx, "call-2", "1234567")

	res, err := f.orch.CaptureConsent(ctx, "call-2", false, types.ConsentCallRecording)
	if err != nil {
		t.Fatalf("CaptureConsent: %v", err)
	}
	if !strings.Contains(res.Markup, "<Dial") || !strings.Contains(res.Markup, "<Number>"+escalationNumber+"</Number>") {
		t.Fatalf("denial markup = %s", res.Markup)
	}

	evs := f.trail(t, "call-2")
	denied, escalated := indexOf(evs, types.EventConsentDenied), indexOf(evs, types.EventEscalationTriggered)
	if denied < 0 || escalated < 0 || denied > escalated {
		t.Fatalf("events = %v", eventTypes(evs))
	}
	if evs[escalated].EventData["reason"] != orchestrator.ReasonConsentDenied {
		t.Errorf("escalation = %+v", evs[escalated].EventData)
	}
	if s := mustSession(t, f, "call-2"); s.Status != types.StatusTransferred || s.EndedAt == nil {
		t.Errorf("session = %+v", s)
	}

	hist, _ := f.consents.GetConsentHistory(ctx, "1234567", tenant)
	if len(hist) != 1 || hist[0].Granted {
		t.Errorf("ledger history = %+v", hist)
	}
}

func TestDisclosure_EscapesScriptText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.policies.PutScript(ctx, types.DisclosureScript{
		ScriptID: "acme_terms", PolicyID: "acme", Language: "en-US", Version: 1, IsActive: true,
		ScriptText: `Terms & conditions <apply> to "all" calls.`,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.policies.UpsertPolicy(ctx, types.CompliancePolicy{
		PolicyID: "acme", TenantID: tenant, Industry: "healthcare",
		RequiresDisclosure: true, DisclosureScriptID: "acme_terms", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.HandleInbound(ctx, healthcareCall("call-3"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	for _, want := range []string{"Terms &amp; conditions", "&lt;apply&gt;", "&quot;all&quot;"} {
		if !strings.Contains(res.Markup, want) {
			t.Errorf("markup missing %q:\n%s", want, res.Markup)
		}
	}
	if strings.Contains(res.Markup, "<apply>") {
		t.Error("raw script markup leaked")
	}
	if strings.Contains(res.Markup, "<Record") {
		t.Error("policy without recording should not record")
	}
	ev, ok := find(f.trail(t, "call-3"), types.EventDisclosureScriptPlayed)
	if !ok || ev.EventData["script_id"] != "acme_terms" || ev.EventData["policy_id"] != "acme" {
		t.Errorf("disclosure event = %+v", ev)
	}
}

func TestDisclosure_MissingScriptApologises(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.policies.UpsertPolicy(ctx, types.CompliancePolicy{
		PolicyID: "broken", TenantID: tenant, Industry: "healthcare",
		RequiresDisclosure: true, DisclosureScriptID: "ghost", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.HandleInbound(ctx, healthcareCall("call-4"))
	if !errors.Is(err, service.ErrScriptNotFound) {
		t.Fatalf("err = %v, want ErrScriptNotFound", err)
	}
	if res.Markup != texml.Apology("en-US") {
		t.Errorf("markup = %s", res.Markup)
	}
	evs := f.trail(t, "call-4")
	if indexOf(evs, types.EventErrorOccurred) < 0 || indexOf(evs, types.EventDisclosureScriptPlayed) >= 0 {
		t.Errorf("events = %v", eventTypes(evs))
	}
	if s := mustSession(t, f, "call-4"); s.Status != types.StatusFailed {
		t.Errorf("status = %s", s.Status)
	}
}

func TestNoPolicy(t *testing.T) {
	tests := []struct {
		name     string
		mode     service.NoPolicyMode
		wantDial bool
	}{
		{"proceed", service.NoPolicyProceed, false},
		{"escalate", service.NoPolicyEscalate, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixtureWith(t, fixtureOptions{emptyPolicies: true, mode: tc.mode})
			call := healthcareCall("call-np")
			call.Industry = "retail"

			res, err := f.orch.HandleInbound(context.Background(), call)
			if err != nil {
				t.Fatalf("HandleInbound: %v", err)
			}
			if got := strings.Contains(res.Markup, "<Dial"); got != tc.wantDial {
				t.Errorf("dial = %v, markup:\n%s", got, res.Markup)
			}
			if !tc.wantDial && !strings.Contains(res.Markup, "TETRIX Retail") {
				t.Errorf("expected the retail greeting:\n%s", res.Markup)
			}
			ev, ok := find(f.trail(t, "call-np"), types.EventComplianceViolation)
			if !ok || ev.EventData["reason"] != orchestrator.ReasonNoPolicyFound {
				t.Errorf("violation = %+v", ev)
			}
		})
	}
}

func TestVerifyIdentity_EscalatesAfterThreeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-5"))

	for i := 1; i <= service.MaxFailedVerifications; i++ {
		res, err := f.orch.VerifyIdentity(ctx, "call-5", "12")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		last := i == service.MaxFailedVerifications
		if got := strings.Contains(res.Markup, "<Dial"); got != last {
			t.Errorf("attempt %d dial = %v:\n%s", i, got, res.Markup)
		}
		if !last && !strings.Contains(res.Markup, "/api/ivr/call-5/verify") {
			t.Errorf("attempt %d should prompt again:\n%s", i, res.Markup)
		}
	}

	evs := f.trail(t, "call-5")
	if n := len(only(evs, types.EventIdentityVerificationFailed)); n != 3 {
		t.Errorf("failed events = %d", n)
	}
	ev, _ := find(evs, types.EventEscalationTriggered)
	if ev.EventData["reason"] != string(types.ConditionVerificationFailed3Times) || ev.EventData["priority"] != "high" {
		t.Errorf("escalation = %+v", ev.EventData)
	}
	if _, err := f.orch.VerifyIdentity(ctx, "call-5", "1234"); !errors.Is(err, service.ErrSessionEnded) {
		t.Errorf("verify after transfer err = %v", err)
	}
}

func TestHandleInbound_Validation(t *testing.T) {
	f := newFixture(t)
	call := healthcareCall("call-x")
	call.TenantID = ""
	res, err := f.orch.HandleInbound(context.Background(), call)
	if !errors.Is(err, service.ErrInvalidTenant) || !strings.Contains(res.Markup, "<Hangup/>") {
		t.Errorf("res = %q, err = %v", res.Markup, err)
	}
}

func TestHandleInbound_RetryIsMarked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-r"))
	f.orch.HandleInbound(ctx, healthcareCall("call-r"))

	var retries []any
	for _, ev := range f.trail(t, "call-r") {
		if ev.EventType == types.EventCallInitiated {
			retries = append(retries, ev.Metadata["retry"])
		}
	}
	if len(retries) != 2 || retries[0] != nil || retries[1] != true {
		t.Errorf("call.initiated retry flags = %v", retries)
	}
}

func TestHandleInbound_RetryAfterEndHangsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-re"))
	f.orch.VerifyIdentity(ctx, "call-re", "1234567")
	f.orch.CaptureConsent(ctx, "call-re", false, types.ConsentCallRecording)
	if s := mustSession(t, f, "call-re"); s.Status != types.StatusTransferred {
		t.Fatalf("status after denial = %s", s.Status)
	}
	before := len(f.trail(t, "call-re"))

	res, err := f.orch.HandleInbound(ctx, healthcareCall("call-re"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !strings.Contains(res.Markup, "<Hangup") || strings.Contains(res.Markup, "<Say") {
		t.Errorf("retry markup = %s", res.Markup)
	}
	s := mustSession(t, f, "call-re")
	if s.Status != types.StatusTransferred || s.EndedAt == nil {
		t.Errorf("session reopened: status=%s ended=%v", s.Status, s.EndedAt)
	}
	trail := f.trail(t, "call-re")
	if len(trail) != before+1 {
		t.Fatalf("retry logged %d events, want 1", len(trail)-before)
	}
	last := trail[len(trail)-1]
	if last.EventType != types.EventCallInitiated || last.Metadata["retry"] != true {
		t.Errorf("last event = %s %v", last.EventType, last.Metadata)
	}
}

// ── Menu ──

func TestHandleGather(t *testing.T) {
	tests := []struct {
		name       string
		digits     string
		speech     string
		wantMarkup string
		wantReason string
	}{
		{"menu route", "3", "", "lab results are available", ""},
		{"agent digit", "0", "", "<Dial", string(types.ConditionUserRequestedAgent)},
		{"agent speech", "", "I want a human please", "<Dial", string(types.ConditionUserRequestedAgent)},
		{"unknown digit replays", "7", "", "Press 1 for appointment scheduling", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.orch.HandleInbound(ctx, healthcareCall("call-g"))
			f.orch.VerifyIdentity(ctx, "call-g", "1234567")
			f.orch.CaptureConsent(ctx, "call-g", true, "")

			res, err := f.orch.HandleGather(ctx, "call-g", tc.digits, tc.speech)
			if err != nil {
				t.Fatalf("HandleGather: %v", err)
			}
			if !strings.Contains(res.Markup, tc.wantMarkup) {
				t.Errorf("markup missing %q:\n%s", tc.wantMarkup, res.Markup)
			}
			ev, ok := find(f.trail(t, "call-g"), types.EventEscalationTriggered)
			if tc.wantReason == "" && ok {
				t.Errorf("unexpected escalation %+v", ev.EventData)
			}
			if tc.wantReason != "" && ev.EventData["reason"] != tc.wantReason {
				t.Errorf("escalation = %+v", ev.EventData)
			}
		})
	}
}

func TestHandleGather_MenuTransferIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	call := healthcareCall("call-m")
	call.Industry = "retail"
	f.orch.HandleInbound(ctx, call)
	if _, err := f.orch.HandleStep(ctx, "call-m", types.StepMainMenu, ""); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.HandleGather(ctx, "call-m", "0", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markup, "<Dial") {
		t.Errorf("markup = %s", res.Markup)
	}
	ev, ok := find(f.trail(t, "call-m"), types.EventEscalationTriggered)
	if !ok || ev.EventData["reason"] != orchestrator.ReasonMenuTransfer {
		t.Errorf("escalation = %+v", ev)
	}
	if s := mustSession(t, f, "call-m"); s.Status != types.StatusTransferred {
		t.Errorf("status = %s", s.Status)
	}
}

func TestHandleStep_GatesStillApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-s"))

	res, err := f.orch.HandleStep(ctx, "call-s", types.StepMainMenu, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markup, "/verify") || strings.Contains(res.Markup, "appointment scheduling") {
		t.Errorf("unauthenticated caller reached the menu:\n%s", res.Markup)
	}
	if _, err := f.orch.HandleStep(ctx, "missing", types.StepMainMenu, ""); !errors.Is(err, service.ErrSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

// ── Recording and end of call ──

func TestHandleRecording_RedactsURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-rec"))
	f.orch.VerifyIdentity(ctx, "call-rec", "1234567")

	res, err := f.orch.HandleRecording(ctx, "call-rec", orchestrator.RecordingInfo{
		URL:        "https://rec.example.com/555-123-4567/audio.mp3",
		Duration:   42,
		Transcript: "my ssn is 123-45-6789",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markup, "/api/ivr/call-rec/step/"+types.StepConsentCapture) {
		t.Errorf("markup = %s", res.Markup)
	}

	evs := f.trail(t, "call-rec")
	ev, ok := find(evs, types.EventRecordingStarted)
	url, _ := ev.EventData["recording_url"].(string)
	if !ok || strings.Contains(url, "555-123-4567") || !strings.Contains(url, "[PHONE-REDACTED]") {
		t.Errorf("recording event = %+v", ev.EventData)
	}
	red, ok := find(evs, types.EventDataRedacted)
	if !ok || red.EventData["items_redacted"] != 1 {
		t.Errorf("redaction event = %+v", red.EventData)
	}
}

func TestHandleRecording_EmptyURLFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-e"))
	res, err := f.orch.HandleRecording(ctx, "call-e", orchestrator.RecordingInfo{})
	if err == nil || !strings.Contains(res.Markup, "<Hangup/>") {
		t.Errorf("res = %s, err = %v", res.Markup, err)
	}
}

func TestEndCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.HandleInbound(ctx, healthcareCall("call-end"))

	if err := f.orch.EndCall(ctx, "call-end", ""); err != nil {
		t.Fatal(err)
	}
	s := mustSession(t, f, "call-end")
	if s.Status != types.StatusCompleted || s.EndedAt == nil {
		t.Errorf("session = %+v", s)
	}
	ev, ok := find(f.trail(t, "call-end"), types.EventCallEnded)
	if !ok || ev.EventData["status"] != string(types.StatusCompleted) {
		t.Errorf("call.ended = %+v", ev)
	}
	if err := f.orch.EndCall(ctx, "nope", ""); !errors.Is(err, service.ErrSessionNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

// ── Concurrency ──

func TestConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-c%d", i)
			f.orch.HandleInbound(ctx, healthcareCall(id))
			f.orch.VerifyIdentity(ctx, id, "1234567")
			f.orch.CaptureConsent(ctx, id, true, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("call-c%d", i)
		if s := mustSession(t, f, id); s.CurrentStep != types.StepMainMenu {
			t.Errorf("%s at %s", id, s.CurrentStep)
		}
	}
	if rep, err := f.audit.VerifyChain(ctx, tenant); err != nil || !rep.OK || rep.Total == 0 {
		t.Errorf("chain = %+v, %v", rep, err)
	}
}
