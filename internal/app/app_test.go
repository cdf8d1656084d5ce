package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/config"
	"github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/logging"
)

func testConfig(t *testing.T, store string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store = store
	cfg.DBPath = filepath.Join(t.TempDir(), "ivr.db")
	cfg.WebhookBaseURL = "https://ivr.test"
	return cfg
}

func inbound(id string) orchestrator.InboundCall {
	return orchestrator.InboundCall{CallID: id, TenantID: "clinic", Industry: "healthcare", Region: "USA", Language: "en-US"}
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, testConfig(t, config.StoreMemory), logging.Discard(), app.Options{Lock: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if a.DB() != nil {
		t.Error("memory store has a db handle")
	}
	if err := a.Ready(ctx); err != nil {
		t.Errorf("Ready: %v", err)
	}
	res, err := a.Orchestrator.HandleInbound(ctx, inbound("call-1"))
	if err != nil || !strings.Contains(res.Markup, "https://ivr.test/api/ivr/call-1/verify") {
		t.Fatalf("HandleInbound = %q, %v", res.Markup, err)
	}
}

func TestOpenSQLitePersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.StoreSQLite)

	a, err := app.Open(ctx, cfg, logging.Discard(), app.Options{Lock: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := a.Orchestrator.HandleInbound(ctx, inbound("call-p")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening installs the same catalog scripts again without conflict.
	b, err := app.Open(ctx, cfg, logging.Discard(), app.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	rep, err := b.Audit.VerifyChain(ctx, "clinic")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !rep.OK || rep.Total == 0 {
		t.Errorf("chain after restart = %+v", rep)
	}
}

func TestOpenSQLiteIsExclusive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.StoreSQLite)

	a, err := app.Open(ctx, cfg, logging.Discard(), app.Options{Lock: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if _, err := app.Open(ctx, cfg, logging.Discard(), app.Options{Lock: true}); !errors.Is(err, db.ErrLocked) {
		t.Fatalf("second Open err = %v, want ErrLocked", err)
	}
	// readers do not take the lock
	r, err := app.Open(ctx, cfg, logging.Discard(), app.Options{})
	if err != nil {
		t.Fatalf("reader Open: %v", err)
	}
	r.Close()
}

func TestOpenRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(cfg.CatalogPath, []byte("flows: [{bogus: 1}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Open(context.Background(), cfg, logging.Discard(), app.Options{}); err == nil {
		t.Fatal("expected catalog error")
	}
}
