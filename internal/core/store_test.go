package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftchat/drift/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "drift-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := OpenStore(filepath.Join(dir, "drift.db"), "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	return store
}

func TestStore_IntentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := model.PendingRedactionIntent{
		RoomID:          "!r",
		TransactionID:   "txn-1",
		SourceMessageID: model.LocalEchoID("!r", "txn-1"),
		QueuedAt:        time.Now(),
	}
	if err := store.SaveIntent(ctx, in); err != nil {
		t.Fatalf("failed to save intent: %v", err)
	}
	// Re-saving the same (room, transaction) is an upsert, not a dup.
	if err := store.SaveIntent(ctx, in); err != nil {
		t.Fatalf("failed to re-save intent: %v", err)
	}

	intents, err := store.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("failed to load intents: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].TransactionID != "txn-1" {
		t.Errorf("unexpected intent: %+v", intents[0])
	}

	if err := store.DeleteIntent(ctx, "!r", "txn-1"); err != nil {
		t.Fatalf("failed to delete intent: %v", err)
	}
	intents, err = store.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("failed to load intents: %v", err)
	}
	if len(intents) != 0 {
		t.Errorf("expected empty queue after delete, got %d", len(intents))
	}
}

func TestStore_IntentTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := model.PendingRedactionIntent{
		RoomID:          "!r",
		TransactionID:   "old",
		SourceMessageID: model.LocalEchoID("!r", "old"),
		QueuedAt:        time.Now().Add(-model.PendingRedactionTTL - time.Hour),
	}
	fresh := stale
	fresh.TransactionID = "fresh"
	fresh.QueuedAt = time.Now()

	for _, in := range []model.PendingRedactionIntent{stale, fresh} {
		if err := store.SaveIntent(ctx, in); err != nil {
			t.Fatalf("failed to save intent: %v", err)
		}
	}

	intents, err := store.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("failed to load intents: %v", err)
	}
	if len(intents) != 1 || intents[0].TransactionID != "fresh" {
		t.Errorf("expired intent should be pruned, got %+v", intents)
	}
}

func TestStore_IntentCapEvictsOldest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < model.PendingRedactionCap+5; i++ {
		in := model.PendingRedactionIntent{
			RoomID:          "!r",
			TransactionID:   fmt.Sprintf("txn-%04d", i),
			SourceMessageID: model.LocalEchoID("!r", fmt.Sprintf("txn-%04d", i)),
			QueuedAt:        base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveIntent(ctx, in); err != nil {
			t.Fatalf("failed to save intent %d: %v", i, err)
		}
	}

	intents, err := store.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("failed to load intents: %v", err)
	}
	if len(intents) != model.PendingRedactionCap {
		t.Fatalf("expected cap of %d, got %d", model.PendingRedactionCap, len(intents))
	}
	// Oldest entries were evicted; the newest one is still here.
	seen := make(map[string]bool, len(intents))
	for _, in := range intents {
		seen[in.TransactionID] = true
	}
	if seen["txn-0000"] {
		t.Error("oldest intent should have been evicted")
	}
	last := fmt.Sprintf("txn-%04d", model.PendingRedactionCap+4)
	if !seen[last] {
		t.Errorf("newest intent %s should survive", last)
	}
}

func TestStore_AuditCacheCapsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	events := make([]model.ModerationAuditEvent, 0, model.AuditLogCap+10)
	for i := 0; i < model.AuditLogCap+10; i++ {
		events = append(events, model.ModerationAuditEvent{
			ID:        fmt.Sprintf("audit-%04d", i),
			Action:    "update_settings",
			ActorID:   "@you:local",
			Target:    "space",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := store.SaveAuditEvents(ctx, "!space", events); err != nil {
		t.Fatalf("failed to save audit events: %v", err)
	}

	loaded, err := store.LoadAuditEvents(ctx, "!space")
	if err != nil {
		t.Fatalf("failed to load audit events: %v", err)
	}
	if len(loaded) != model.AuditLogCap {
		t.Fatalf("expected cap of %d, got %d", model.AuditLogCap, len(loaded))
	}
	// Newest first; the 10 oldest were dropped.
	newest := fmt.Sprintf("audit-%04d", model.AuditLogCap+9)
	if loaded[0].ID != newest {
		t.Errorf("expected %s first, got %s", newest, loaded[0].ID)
	}
	for i := 1; i < len(loaded); i++ {
		if loaded[i].Timestamp.After(loaded[i-1].Timestamp) {
			t.Fatalf("audit log should be newest first, out of order at %d", i)
		}
	}
}

func TestStore_AuditCacheIsPerSpace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := []model.ModerationAuditEvent{{ID: "a1", Action: "delete_room", ActorID: "@you:local", Target: "!x", Timestamp: time.Now()}}
	b := []model.ModerationAuditEvent{{ID: "b1", Action: "update_settings", ActorID: "@you:local", Target: "space", Timestamp: time.Now()}}
	if err := store.SaveAuditEvents(ctx, "!space-a", a); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.SaveAuditEvents(ctx, "!space-b", b); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	got, err := store.LoadAuditEvents(ctx, "!space-a")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("space caches should not bleed into each other: %+v", got)
	}
}
