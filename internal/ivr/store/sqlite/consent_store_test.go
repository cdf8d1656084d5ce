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

func consentRecord(id string, granted bool, at time.Time) types.ConsentRecord {
	rec := types.ConsentRecord{
		ConsentID:   id,
		CustomerID:  "cust-1",
		TenantID:    "tenant-1",
		Channel:     types.ChannelVoice,
		ConsentType: types.ConsentCallRecording,
		Granted:     granted,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if granted {
		rec.GrantedAt = &at
	} else {
		rec.RevokedAt = &at
	}
	return rec
}

// ═══════════════════════════════════════════════════════════════════════════
// Save: upsert current + history
// ═══════════════════════════════════════════════════════════════════════════

func TestConsentStore_Save_UpsertsCurrentAndAppendsHistory(t *testing.T) {
	conn := openTestDB(t)
	cs := sqlitestore.NewConsentStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	steps := []types.ConsentRecord{
		consentRecord("consent_1", true, t0),
		consentRecord("consent_1", false, t0.Add(time.Hour)),
		consentRecord("consent_1", true, t0.Add(2*time.Hour)),
	}
	for _, rec := range steps {
		if err := cs.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	cur, err := cs.Get(ctx, steps[0].Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !cur.Granted || cur.RevokedAt != nil {
		t.Errorf("current = granted:%v revoked:%v, want granted and not revoked", cur.Granted, cur.RevokedAt)
	}
	if !cur.CreatedAt.Equal(t0) {
		t.Errorf("created_at should survive upserts: got %v", cur.CreatedAt)
	}

	hist, err := cs.History(ctx, "tenant-1", "cust-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if hist[0].Granted != true || hist[1].Granted != false || hist[2].Granted != true {
		t.Errorf("history order wrong: %v %v %v", hist[0].Granted, hist[1].Granted, hist[2].Granted)
	}

	all, err := cs.ListByCustomer(ctx, "tenant-1", "cust-1")
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("current records = %d, want 1", len(all))
	}
}

func TestConsentStore_Get_NotFound(t *testing.T) {
	conn := openTestDB(t)
	cs := sqlitestore.NewConsentStore(conn, newTestWriter(t, conn))

	_, err := cs.Get(context.Background(), types.ConsentKey{CustomerID: "nobody"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ListGrantedExpiredBefore
// ═══════════════════════════════════════════════════════════════════════════

func TestConsentStore_ListGrantedExpiredBefore(t *testing.T) {
	conn := openTestDB(t)
	cs := sqlitestore.NewConsentStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	expired := consentRecord("consent_exp", true, now.Add(-48*time.Hour))
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past

	live := consentRecord("consent_live", true, now.Add(-48*time.Hour))
	live.ConsentType = types.ConsentDataProcessing
	future := now.Add(time.Hour)
	live.ExpiresAt = &future

	revoked := consentRecord("consent_rev", false, now.Add(-48*time.Hour))
	revoked.ConsentType = types.ConsentMarketingCommunications
	revoked.ExpiresAt = &past

	for _, rec := range []types.ConsentRecord{expired, live, revoked} {
		if err := cs.Save(ctx, rec); err != nil {
			t.Fatalf("Save %s: %v", rec.ConsentID, err)
		}
	}

	got, err := cs.ListGrantedExpiredBefore(ctx, now)
	if err != nil {
		t.Fatalf("ListGrantedExpiredBefore: %v", err)
	}
	if len(got) != 1 || got[0].ConsentID != "consent_exp" {
		t.Fatalf("got %+v, want only consent_exp", got)
	}
}
