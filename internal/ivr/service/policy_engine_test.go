package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/memory"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

func mustUpsert(t *testing.T, e *service.PolicyEngine, p types.CompliancePolicy) {
	t.Helper()
	if err := e.UpsertPolicy(context.Background(), p); err != nil {
		t.Fatalf("UpsertPolicy %s: %v", p.PolicyID, err)
	}
}

// ── Selection ──

func TestSelectPolicy_Precedence(t *testing.T) {
	e, _ := newPolicyEngine(t, service.NoPolicyProceed)
	mustUpsert(t, e, types.CompliancePolicy{
		PolicyID: "acme_healthcare", TenantID: "acme", Industry: "healthcare", Region: "USA", IsActive: true,
	})
	mustUpsert(t, e, types.CompliancePolicy{
		PolicyID: "acme_old", TenantID: "acme", Industry: "insurance", IsActive: false,
	})
	mustUpsert(t, e, types.CompliancePolicy{
		PolicyID: "healthcare_eu_default", TenantID: types.DefaultTenant, Industry: "healthcare", Region: "EU", IsActive: true,
	})

	cases := []struct {
		name, tenant, industry, region string
		want                           string
	}{
		{"tenant policy beats industry default", "acme", "healthcare", "USA", "acme_healthcare"},
		{"tenant policy is not region refined", "acme", "healthcare", "EU", "acme_healthcare"},
		{"inactive tenant policy ignored", "acme", "insurance", "USA", "insurance_pci_default"},
		{"industry default by region", "other", "healthcare", "EU", "healthcare_eu_default"},
		{"industry default in home region", "other", "healthcare", "USA", "healthcare_hipaa_default"},
		{"industry default any region", "other", "insurance", "CA", "insurance_pci_default"},
		{"retail falls back to global", "other", "retail", "USA", "global_default"},
		{"tenant industry mismatch falls through", "acme", "retail", "", "global_default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok, err := e.SelectPolicy(context.Background(), tc.tenant, tc.industry, tc.region)
			if err != nil || !ok {
				t.Fatalf("SelectPolicy: ok=%v err=%v", ok, err)
			}
			if p.PolicyID != tc.want {
				t.Errorf("policy = %s, want %s", p.PolicyID, tc.want)
			}
		})
	}
}

// ── Decision order ──

func TestEvaluatePolicy_DecisionOrder(t *testing.T) {
	e, _ := newPolicyEngine(t, service.NoPolicyProceed)
	mustUpsert(t, e, types.CompliancePolicy{
		PolicyID: "plain", TenantID: "plain_co", Industry: "retail", RequiresConsentRecording: true, IsActive: true,
	})

	hc := types.CallContext{TenantID: "clinic", Industry: "healthcare", Region: "USA"}
	verified := hc
	verified.Authenticated = true
	consented := verified
	consented.ConsentGranted = true
	failed := consented
	failed.FailedVerifications = 3
	unverifiedButFailed := hc
	unverifiedButFailed.FailedVerifications = 5

	ins := types.CallContext{TenantID: "broker", Industry: "insurance", Region: "USA", Authenticated: true, ConsentGranted: true}
	plain := types.CallContext{TenantID: "plain_co", Industry: "retail"}

	cases := []struct {
		name   string
		cc     types.CallContext
		step   string
		input  string
		action types.ActionKind
		next   string
		reason string
	}{
		{"authenticate first", hc, types.StepInitiated, "", types.ActionAuthenticate, types.StepIdentityVerification, ""},
		{"authentication precedes escalation rules", unverifiedButFailed, types.StepInitiated, "", types.ActionAuthenticate, types.StepIdentityVerification, ""},
		{"disclosure after authentication", verified, types.StepIdentityVerification, "", types.ActionPlayDisclosure, types.StepConsentCapture, ""},
		{"failed verifications escalate", failed, types.StepMainMenu, "", types.ActionEscalate, types.StepTransferAgent, "verification_failed_3_times"},
		{"caller asks for a human", consented, types.StepMainMenu, "Can I talk to a HUMAN please", types.ActionEscalate, types.StepTransferAgent, "user_requested_agent"},
		{"payment keyword", ins, types.StepMainMenu, "I need to make a payment", types.ActionEscalate, types.StepTransferAgent, "payment_processing_required"},
		{"consent digit 1", plain, types.StepConsentCapture, "1", types.ActionCaptureConsent, types.StepMainMenu, ""},
		{"consent digit 0", plain, types.StepConsentCapture, "0", types.ActionEscalate, types.StepTransferAgent, "user_requested_agent"},
		{"proceed keeps step", consented, types.StepMainMenu, "2", types.ActionProceed, types.StepMainMenu, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			act, err := e.EvaluatePolicy(context.Background(), types.PolicyEvaluationRequest{
				CallID:      "call-1",
				TenantID:    tc.cc.TenantID,
				CurrentStep: tc.step,
				CallContext: tc.cc,
				UserInput:   tc.input,
			})
			if err != nil {
				t.Fatalf("EvaluatePolicy: %v", err)
			}
			if act.Action != tc.action || act.NextStep != tc.next || act.EscalationReason != tc.reason {
				t.Errorf("got {%s %s %q}, want {%s %s %q}", act.Action, act.NextStep, act.EscalationReason, tc.action, tc.next, tc.reason)
			}
		})
	}
}

func TestEvaluatePolicy_DisclosureDetails(t *testing.T) {
	e, _ := newPolicyEngine(t, service.NoPolicyProceed)
	act, err := e.EvaluatePolicy(context.Background(), types.PolicyEvaluationRequest{
		TenantID:    "clinic",
		CurrentStep: types.StepIdentityVerification,
		CallContext: types.CallContext{TenantID: "clinic", Industry: "healthcare", Region: "USA", Authenticated: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if act.ScriptID != "hipaa_disclosure_en_us" || act.ScriptVersion != 1 || !act.RequiresConsent || !act.RequiresRecording {
		t.Errorf("action = %+v", act)
	}
	if act.PolicyID != "healthcare_hipaa_default" {
		t.Errorf("policy = %s", act.PolicyID)
	}
}

func TestEvaluatePolicy_MissingScriptIsAnError(t *testing.T) {
	e, _ := newPolicyEngine(t, service.NoPolicyProceed)
	mustUpsert(t, e, types.CompliancePolicy{
		PolicyID: "ghostly", TenantID: "ghost_co", RequiresDisclosure: true, DisclosureScriptID: "ghost", IsActive: true,
	})
	_, err := e.EvaluatePolicy(context.Background(), types.PolicyEvaluationRequest{
		TenantID:    "ghost_co",
		CallContext: types.CallContext{TenantID: "ghost_co", Industry: "retail"},
	})
	if !errors.Is(err, service.ErrScriptNotFound) {
		t.Errorf("err = %v, want ErrScriptNotFound", err)
	}
}

// ── No policy ──

func TestEvaluatePolicy_NoPolicyModes(t *testing.T) {
	req := types.PolicyEvaluationRequest{
		TenantID:    "nobody",
		CurrentStep: types.StepGreeting,
		CallContext: types.CallContext{TenantID: "nobody", Industry: "retail"},
	}

	proceed := service.NewPolicyEngine(memory.NewPolicyStore(), service.NoPolicyProceed, silentLogger())
	act, err := proceed.EvaluatePolicy(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != types.ActionProceed || !act.NoPolicy || act.NextStep != types.StepGreeting {
		t.Errorf("proceed mode: %+v", act)
	}

	escalate := service.NewPolicyEngine(memory.NewPolicyStore(), service.NoPolicyEscalate, silentLogger())
	act, err = escalate.EvaluatePolicy(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != types.ActionEscalate || act.EscalationReason != service.ReasonNoPolicy || !act.NoPolicy {
		t.Errorf("escalate mode: %+v", act)
	}
}

func TestUpsertPolicy_Validation(t *testing.T) {
	e, _ := newPolicyEngine(t, service.NoPolicyProceed)
	bad := []types.CompliancePolicy{
		{TenantID: "t"},
		{PolicyID: "p"},
		{PolicyID: "p", TenantID: "t", EscalationRules: []types.EscalationRule{{Condition: "moon_is_full"}}},
		{PolicyID: "p", TenantID: "t", RequiresDisclosure: true},
	}
	for i, p := range bad {
		if err := e.UpsertPolicy(context.Background(), p); !errors.Is(err, service.ErrInvalidPolicy) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}
