package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	sqlitestore "github.com/tetrixcorps/compliantivr/internal/ivr/store/sqlite"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

func auditEvent(tenant string, seq int64, callID string, et types.EventType, at time.Time) types.AuditEvent {
	return types.AuditEvent{
		LogID:        "log_" + tenant + "_" + string(rune('a'+seq)),
		Seq:          seq,
		Timestamp:    at,
		TenantID:     tenant,
		CallID:       callID,
		EventType:    et,
		EventData:    map[string]any{"step": "greeting", "n": float64(seq)},
		Metadata:     map[string]any{"service": "test"},
		EventHash:    "hash" + string(rune('0'+seq)),
		PreviousHash: "hash" + string(rune('0'+seq-1)),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Append / Last
// ═══════════════════════════════════════════════════════════════════════════

func TestAuditStore_AppendAndLast(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if _, ok, err := as.Last(ctx, "t1"); err != nil || ok {
		t.Fatalf("Last on empty chain: ok=%v err=%v", ok, err)
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 123_000_000, time.UTC)
	for i := int64(1); i <= 3; i++ {
		if err := as.Append(ctx, auditEvent("t1", i, "call-1", types.EventCallInitiated, now)); err != nil {
			t.Fatalf("Append seq %d: %v", i, err)
		}
	}

	last, ok, err := as.Last(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("Last: ok=%v err=%v", ok, err)
	}
	if last.Seq != 3 {
		t.Errorf("last seq = %d, want 3", last.Seq)
	}
	if !last.Timestamp.Equal(now) {
		t.Errorf("timestamp round-trip: got %v want %v", last.Timestamp, now)
	}
	if last.EventData["step"] != "greeting" || last.Metadata["service"] != "test" {
		t.Errorf("payload round-trip: data=%v meta=%v", last.EventData, last.Metadata)
	}
}

func TestAuditStore_Append_RejectsForkedChain(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := as.Append(ctx, auditEvent("t1", 1, "c", types.EventCallInitiated, now)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := as.Append(ctx, auditEvent("t1", 1, "c", types.EventCallEnded, now))
	if !errors.Is(err, store.ErrChainConflict) {
		t.Fatalf("duplicate seq: got %v, want ErrChainConflict", err)
	}
	err = as.Append(ctx, auditEvent("t1", 5, "c", types.EventCallEnded, now))
	if !errors.Is(err, store.ErrChainConflict) {
		t.Fatalf("gap seq: got %v, want ErrChainConflict", err)
	}

	// Chains are independent per tenant.
	if err := as.Append(ctx, auditEvent("t2", 1, "c", types.EventCallInitiated, now)); err != nil {
		t.Fatalf("Append other tenant: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Append-only enforcement
// ═══════════════════════════════════════════════════════════════════════════

func TestAuditStore_RowsCannotBeUpdatedOrDeleted(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := as.Append(ctx, auditEvent("t1", 1, "c", types.EventCallInitiated, time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_events SET event_data = '{}'`); err == nil {
		t.Error("expected UPDATE to be rejected")
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audit_events`); err == nil {
		t.Error("expected DELETE to be rejected")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Chain / Search
// ═══════════════════════════════════════════════════════════════════════════

func TestAuditStore_Chain_ReportsDecodeErrors(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Now().UTC()

	for i := int64(1); i <= 2; i++ {
		if err := as.Append(ctx, auditEvent("t1", i, "c", types.EventCallInitiated, now)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := conn.ExecContext(ctx, `DROP TRIGGER audit_events_no_update`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_events SET event_data = '{broken' WHERE seq = 2`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	var seen []int64
	var decodeFailures int
	err := as.Chain(ctx, "t1", func(ev types.AuditEvent, decodeErr error) error {
		seen = append(seen, ev.Seq)
		if decodeErr != nil {
			decodeFailures++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("seen seqs = %v, want [1 2]", seen)
	}
	if decodeFailures != 1 {
		t.Errorf("decode failures = %d, want 1", decodeFailures)
	}
}

func TestAuditStore_Search_Filters(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []types.AuditEvent{
		auditEvent("t1", 1, "call-a", types.EventCallInitiated, base),
		auditEvent("t1", 2, "call-a", types.EventConsentGranted, base.Add(time.Minute)),
		auditEvent("t1", 3, "call-b", types.EventCallInitiated, base.Add(2*time.Minute)),
		auditEvent("t2", 1, "call-c", types.EventCallInitiated, base.Add(3*time.Minute)),
	}
	for _, ev := range events {
		if err := as.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	cases := []struct {
		name   string
		filter types.AuditFilter
		want   int
	}{
		{"tenant", types.AuditFilter{TenantID: "t1"}, 3},
		{"call", types.AuditFilter{TenantID: "t1", CallID: "call-a"}, 2},
		{"type", types.AuditFilter{EventTypes: []types.EventType{types.EventCallInitiated}}, 3},
		{"window", types.AuditFilter{TenantID: "t1", From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)}, 1},
		{"limit", types.AuditFilter{Limit: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := as.Search(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("got %d events, want %d", len(got), tc.want)
			}
		})
	}
}
