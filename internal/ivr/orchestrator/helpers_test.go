package orchestrator_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/catalog"
	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/memory"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const (
	baseURL          = "https://ivr.test"
	escalationNumber = "+18005551234"
	tenant           = "clinic"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	orch      *orchestrator.Orchestrator
	sessions  *service.SessionManager
	policies  *service.PolicyEngine
	audit     *service.AuditLog
	consents  *service.ConsentLedger
	adherence *healthcare.Adherence
}

type fixtureOptions struct {
	// emptyPolicies skips installing the catalog policies and scripts.
	emptyPolicies bool
	mode          service.NoPolicyMode
	backend       healthcare.Backend
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	log := silentLogger()

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	sm := service.NewSessionManager(memory.NewSessionStore(), memory.NewFlowStore(), service.SessionOptions{
		WebhookBaseURL:   baseURL + "/",
		EscalationNumber: escalationNumber,
	}, log)
	ps := memory.NewPolicyStore()
	if opts.emptyPolicies {
		for _, f := range cat.Flows {
			if err := sm.RegisterFlow(ctx, f); err != nil {
				t.Fatalf("RegisterFlow: %v", err)
			}
		}
	} else if err := cat.Install(ctx, ps, sm.RegisterFlow); err != nil {
		t.Fatalf("Install: %v", err)
	}

	mode := opts.mode
	if mode == "" {
		mode = service.NoPolicyProceed
	}
	backend := opts.backend
	if backend == nil {
		backend = healthcare.NewStaticBackend()
	}

	f := &fixture{
		sessions: sm,
		policies: service.NewPolicyEngine(ps, mode, log),
		audit:    service.NewAuditLog(memory.NewAuditStore(), log),
	}
	f.consents = service.NewConsentLedger(memory.NewConsentStore(), f.audit, log)

	trees := healthcare.DefaultTrees()
	conditions := make([]string, len(trees))
	for i, tr := range trees {
		conditions[i] = tr.Condition
	}
	workflow := healthcare.NewWorkflow(nil, f.audit, log, conditions...)
	ehr := healthcare.NewEHR(healthcare.NewMemoryEHR(), f.audit, log)
	reminders := healthcare.NewReminders(healthcare.LogNotifier{Logger: log}, f.audit, log)
	f.adherence = healthcare.NewAdherence(reminders, workflow, ehr, backend, f.audit, log)

	f.orch = orchestrator.New(orchestrator.Deps{
		Sessions:  sm,
		Policies:  f.policies,
		Audit:     f.audit,
		Consents:  f.consents,
		Logger:    log,
		Triage:    healthcare.NewTriage(trees, workflow, ehr, f.audit, log),
		Workflow:  workflow,
		EHR:       ehr,
		Reminders: reminders,
		Adherence: f.adherence,
		Backend:   backend,
	})
	return f
}

func healthcareCall(id string) orchestrator.InboundCall {
	return orchestrator.InboundCall{
		CallID:   id,
		TenantID: tenant,
		Industry: "healthcare",
		Region:   "USA",
		Language: "en-US",
		From:     "+15550001111",
		To:       "+15550002222",
	}
}

// trail returns the call's audit events in chain order.
func (f *fixture) trail(t *testing.T, callID string) []types.AuditEvent {
	t.Helper()
	evs, err := f.audit.GetCallAuditTrail(context.Background(), tenant, callID)
	if err != nil {
		t.Fatalf("GetCallAuditTrail: %v", err)
	}
	return evs
}

func eventTypes(evs []types.AuditEvent) []types.EventType {
	out := make([]types.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType
	}
	return out
}

// only keeps the events whose type is in keep, preserving order.
func only(evs []types.AuditEvent, keep ...types.EventType) []types.EventType {
	want := map[types.EventType]bool{}
	for _, k := range keep {
		want[k] = true
	}
	var out []types.EventType
	for _, ev := range evs {
		if want[ev.EventType] {
			out = append(out, ev.EventType)
		}
	}
	return out
}

func indexOf(evs []types.AuditEvent, et types.EventType) int {
	for i, ev := range evs {
		if ev.EventType == et {
			return i
		}
	}
	return -1
}

func find(evs []types.AuditEvent, et types.EventType) (types.AuditEvent, bool) {
	if i := indexOf(evs, et); i >= 0 {
		return evs[i], true
	}
	return types.AuditEvent{}, false
}

func mustSession(t *testing.T, f *fixture, id string) types.CallSession {
	t.Helper()
	s, err := f.sessions.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession(%s): %v", id, err)
	}
	return s
}
