// Package app builds the IVR engine's dependency graph from a Config. The
// server and the operator CLI share it so both see the same stores.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/tetrixcorps/compliantivr/internal/config"
	"github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/catalog"
	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/memory"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/sqlite"
)

type Options struct {
	// Lock takes the data-dir lock. The server sets it; read-only CLI
	// commands do not.
	Lock bool
}

type App struct {
	Config  config.Config
	Catalog *catalog.Catalog
	Logger  *slog.Logger

	Sessions     *service.SessionManager
	Policies     *service.PolicyEngine
	Audit        *service.AuditLog
	Consents     *service.ConsentLedger
	Reminders    *healthcare.Reminders
	Orchestrator *orchestrator.Orchestrator
	Pruner       *service.RetentionPruner

	db     *sql.DB
	writer *db.Worker
	lock   *flock.Flock
}

type stores struct {
	audit    store.AuditStore
	consents store.ConsentStore
	policies store.PolicyStore
	sessions store.SessionStore
}

// Open loads the catalog, opens the configured store and wires every
// service. Close releases the database and the lock.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Catalog: cat, Logger: logger}
	st, err := a.openStores(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Sessions = service.NewSessionManager(st.sessions, memory.NewFlowStore(), service.SessionOptions{
		WebhookBaseURL:   cfg.WebhookBaseURL,
		EscalationNumber: cfg.EscalationNumber,
	}, logger.With("component", "sessions"))
	if err := cat.Install(ctx, st.policies, a.Sessions.RegisterFlow); err != nil {
		a.Close()
		return nil, fmt.Errorf("install catalog: %w", err)
	}

	a.Policies = service.NewPolicyEngine(st.policies, service.NoPolicyMode(cfg.NoPolicyMode), logger.With("component", "policy"))
	a.Audit = service.NewAuditLog(st.audit, logger.With("component", "audit"))
	a.Consents = service.NewConsentLedger(st.consents, a.Audit, logger.With("component", "consent"))
	a.Pruner = service.NewRetentionPruner(st.sessions, a.Consents, service.PrunerConfig{
		RetentionHours:  cfg.SessionRetentionHours,
		IntervalMinutes: cfg.PruneIntervalMinutes,
	}, logger.With("component", "pruner"))

	hlog := logger.With("component", "healthcare")
	trees := healthcare.DefaultTrees()
	conditions := make([]string, len(trees))
	for i, t := range trees {
		conditions[i] = t.Condition
	}
	// No pager is configured: critical alerts are audited and kept for
	// dashboards but nobody is paged.
	workflow := healthcare.NewWorkflow(nil, a.Audit, hlog, conditions...)
	ehr := healthcare.NewEHR(healthcare.NewMemoryEHR(), a.Audit, hlog)
	a.Reminders = healthcare.NewReminders(healthcare.LogNotifier{Logger: hlog}, a.Audit, hlog)
	backend := healthcare.NewStaticBackend()

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Sessions:  a.Sessions,
		Policies:  a.Policies,
		Audit:     a.Audit,
		Consents:  a.Consents,
		Logger:    logger.With("component", "orchestrator"),
		Triage:    healthcare.NewTriage(trees, workflow, ehr, a.Audit, hlog),
		Workflow:  workflow,
		EHR:       ehr,
		Reminders: a.Reminders,
		Adherence: healthcare.NewAdherence(a.Reminders, workflow, ehr, backend, a.Audit, hlog),
		Backend:   backend,
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context, opts Options) (stores, error) {
	if a.Config.Store == config.StoreMemory {
		a.Logger.Warn("using in-memory store; audit evidence is lost on restart")
		return stores{
			audit:    memory.NewAuditStore(),
			consents: memory.NewConsentStore(),
			policies: memory.NewPolicyStore(),
			sessions: memory.NewSessionStore(),
		}, nil
	}

	if opts.Lock {
		lock, err := db.LockDataDir(a.Config.DBPath)
		if err != nil {
			return stores{}, err
		}
		a.lock = lock
	}
	conn, err := db.Open(ctx, db.Config{Path: a.Config.DBPath, Env: a.Config.Env})
	if err != nil {
		return stores{}, fmt.Errorf("open db: %w", err)
	}
	a.db = conn
	a.writer = db.NewWorker(conn)
	return stores{
		audit:    sqlite.NewAuditStore(conn, a.writer),
		consents: sqlite.NewConsentStore(conn, a.writer),
		policies: sqlite.NewPolicyStore(conn, a.writer),
		sessions: sqlite.NewSessionStore(conn, a.writer),
	}, nil
}

// DB returns the sqlite handle, or nil for the memory store.
func (a *App) DB() *sql.DB { return a.db }

// Ready pings the database. The memory store is always ready.
func (a *App) Ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

// Close stops the pruner and releases the store. Safe on a partially
// opened App.
func (a *App) Close() error {
	if a.Pruner != nil {
		a.Pruner.Stop()
	}
	var errs []error
	if a.writer != nil {
		a.writer.Close()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}
