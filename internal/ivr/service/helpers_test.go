package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/tetrixcorps/compliantivr/internal/db"
	"github.com/tetrixcorps/compliantivr/internal/ivr/catalog"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/store/memory"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// openTestDB returns a migrated in-memory SQLite connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name))
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newPolicyEngine returns an engine loaded with the embedded catalog.
func newPolicyEngine(t *testing.T, mode service.NoPolicyMode) (*service.PolicyEngine, *memory.PolicyStore) {
	t.Helper()

	ps := memory.NewPolicyStore()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	if err := cat.Install(context.Background(), ps, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return service.NewPolicyEngine(ps, mode, silentLogger()), ps
}
