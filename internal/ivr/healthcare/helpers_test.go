package healthcare_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/memory"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

const tenant = "clinic"

func silentLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	audit     *service.AuditLog
	workflow  *healthcare.Workflow
	ehrStore  *healthcare.MemoryEHR
	ehr       *healthcare.EHR
	triage    *healthcare.Triage
	reminders *healthcare.Reminders
	adherence *healthcare.Adherence

	mu    sync.Mutex
	sent  []healthcare.Notification
	pages []healthcare.Page
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := silentLogger()
	f := &fixture{audit: service.NewAuditLog(memory.NewAuditStore(), log)}

	trees := healthcare.DefaultTrees()
	conditions := make([]string, len(trees))
	for i, tr := range trees {
		conditions[i] = tr.Condition
	}
	pager := healthcare.PagerFunc(func(_ context.Context, p healthcare.Page) error {
		f.mu.Lock()
		f.pages = append(f.pages, p)
		f.mu.Unlock()
		return nil
	})
	notifier := healthcare.NotifierFunc(func(_ context.Context, n healthcare.Notification) error {
		f.mu.Lock()
		f.sent = append(f.sent, n)
		f.mu.Unlock()
		return nil
	})

	f.workflow = healthcare.NewWorkflow(pager, f.audit, log, conditions...)
	f.ehrStore = healthcare.NewMemoryEHR()
	f.ehr = healthcare.NewEHR(f.ehrStore, f.audit, log)
	f.triage = healthcare.NewTriage(trees, f.workflow, f.ehr, f.audit, log)
	f.reminders = healthcare.NewReminders(notifier, f.audit, log)
	f.adherence = healthcare.NewAdherence(f.reminders, f.workflow, f.ehr, healthcare.NewStaticBackend(), f.audit, log)
	return f
}

func (f *fixture) events(t *testing.T) []types.AuditEvent {
	t.Helper()
	evs, err := f.audit.SearchEvents(context.Background(), types.AuditFilter{TenantID: tenant})
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	return evs
}

// actionsOf returns event_data.action of each data.access event in order.
func actionsOf(evs []types.AuditEvent) []string {
	var out []string
	for _, ev := range evs {
		if ev.EventType != types.EventDataAccess {
			continue
		}
		if a, ok := ev.EventData["action"].(string); ok {
			out = append(out, a)
		}
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func countType(evs []types.AuditEvent, et types.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.EventType == et {
			n++
		}
	}
	return n
}
