package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

func newTestReconciler(t *testing.T) (*RedactionReconciler, *backend.NullBackend, *Store) {
	t.Helper()
	nb := backend.NewNullBackend("@you:local")
	store := newTestStore(t)
	return NewRedactionReconciler(nb, store, zap.NewNop()), nb, store
}

func sendOnline(t *testing.T, nb *backend.NullBackend, roomID, txnID, body string) string {
	t.Helper()
	id, err := nb.Send(context.Background(), roomID, txnID, &model.Message{
		Body:      body,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	return id
}

func TestRedact_DurableID(t *testing.T) {
	rr, nb, _ := newTestReconciler(t)
	ctx := context.Background()

	id := sendOnline(t, nb, "!r", "txn-1", "hello")

	state, err := rr.Redact(ctx, "!r", id, "spam")
	if err != nil {
		t.Fatalf("failed to redact: %v", err)
	}
	if state != RedactionRedacted {
		t.Errorf("expected redacted, got %s", state)
	}

	events, err := nb.RecentTimeline(ctx, "!r", 0)
	if err != nil {
		t.Fatalf("failed to read timeline: %v", err)
	}
	for _, ev := range events {
		if ev.ID == id {
			t.Error("redacted event should be gone from the timeline")
		}
	}
}

func TestRedact_CancelsQueuedSend(t *testing.T) {
	rr, nb, _ := newTestReconciler(t)
	ctx := context.Background()

	nb.SetOffline(true)
	echoID := sendOnline(t, nb, "!r", "txn-1", "take this back")
	if !model.IsLocalEchoID(echoID) {
		t.Fatalf("offline send should return a local echo id, got %s", echoID)
	}

	state, err := rr.Redact(ctx, "!r", echoID, "")
	if err != nil {
		t.Fatalf("failed to redact: %v", err)
	}
	if state != RedactionCancelled {
		t.Errorf("expected cancelled, got %s", state)
	}
	if stage := nb.SendStage("!r", "txn-1"); stage != backend.SendStageUnknown {
		t.Errorf("cancelled send should leave no trace, stage=%s", stage)
	}

	// Nothing was queued for later, and going online flushes nothing.
	if n, err := rr.PendingCount(ctx, "!r"); err != nil || n != 0 {
		t.Errorf("expected 0 pending intents, got %d (%v)", n, err)
	}
	nb.SetOffline(false)
	events, _ := nb.RecentTimeline(ctx, "!r", 0)
	if len(events) != 0 {
		t.Errorf("cancelled send must never reach the timeline: %v", events)
	}
}

func TestRedact_FindsDurableReplacement(t *testing.T) {
	rr, nb, _ := newTestReconciler(t)
	ctx := context.Background()

	nb.SetOffline(true)
	echoID := sendOnline(t, nb, "!r", "txn-1", "already flushed")
	nb.SetOffline(false)

	state, err := rr.Redact(ctx, "!r", echoID, "")
	if err != nil {
		t.Fatalf("failed to redact: %v", err)
	}
	if state != RedactionRedacted {
		t.Errorf("expected redacted via durable replacement, got %s", state)
	}
	if n, _ := rr.PendingCount(ctx, "!r"); n != 0 {
		t.Errorf("no intent should be queued when the durable id is found, got %d", n)
	}
}

func TestRedact_QueuesIntentAndSweepResolves(t *testing.T) {
	rr, nb, _ := newTestReconciler(t)
	ctx := context.Background()

	// The echo's durable twin has not arrived yet and the send is not
	// cancellable, so the intent must be persisted.
	echoID := model.LocalEchoID("!r", "txn-later")
	state, err := rr.Redact(ctx, "!r", echoID, "")
	if err != nil {
		t.Fatalf("failed to redact: %v", err)
	}
	if state != RedactionQueued {
		t.Fatalf("expected queued, got %s", state)
	}
	if n, _ := rr.PendingCount(ctx, "!r"); n != 1 {
		t.Fatalf("expected 1 pending intent, got %d", n)
	}

	// Redacting again is deduplicated by (room, transaction).
	if _, err := rr.Redact(ctx, "!r", echoID, ""); err != nil {
		t.Fatalf("failed to re-queue: %v", err)
	}
	if n, _ := rr.PendingCount(ctx, "!r"); n != 1 {
		t.Fatalf("intent should be deduplicated, got %d", n)
	}

	// The durable twin arrives; a sweep resolves the intent.
	durableID := sendOnline(t, nb, "!r", "txn-later", "here at last")
	resolved, err := rr.Sweep(ctx, "!r")
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if resolved != 1 {
		t.Errorf("expected 1 resolution, got %d", resolved)
	}
	if n, _ := rr.PendingCount(ctx, "!r"); n != 0 {
		t.Errorf("resolved intent should be cleared, got %d", n)
	}
	events, _ := nb.RecentTimeline(ctx, "!r", 0)
	for _, ev := range events {
		if ev.ID == durableID {
			t.Error("swept message should be redacted from the timeline")
		}
	}
}

func TestSweepEvent_ResolvesMatchingIntent(t *testing.T) {
	rr, nb, _ := newTestReconciler(t)
	ctx := context.Background()

	echoID := model.LocalEchoID("!r", "txn-live")
	if _, err := rr.Redact(ctx, "!r", echoID, ""); err != nil {
		t.Fatalf("failed to queue: %v", err)
	}

	durableID := sendOnline(t, nb, "!r", "txn-live", "live event")
	rr.SweepEvent(ctx, backend.TimelineEvent{
		ID:            durableID,
		RoomID:        "!r",
		Kind:          "message",
		TransactionID: "txn-live",
	})

	if n, _ := rr.PendingCount(ctx, "!r"); n != 0 {
		t.Errorf("live sweep should resolve the intent, got %d pending", n)
	}
}

// countingPort counts backend redaction calls and holds each one open
// long enough for concurrent callers to pile up on the in-flight guard.
type countingPort struct {
	*backend.NullBackend
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (cp *countingPort) Redact(ctx context.Context, roomID, eventID, reason string) (string, error) {
	cp.mu.Lock()
	cp.calls++
	cp.mu.Unlock()
	if cp.delay > 0 {
		time.Sleep(cp.delay)
	}
	return cp.NullBackend.Redact(ctx, roomID, eventID, reason)
}

func TestRedactDurable_ExactlyOneBackendCall(t *testing.T) {
	nb := backend.NewNullBackend("@you:local")
	cp := &countingPort{NullBackend: nb, delay: 50 * time.Millisecond}
	rr := NewRedactionReconciler(cp, newTestStore(t), zap.NewNop())
	ctx := context.Background()

	durableID := sendOnline(t, nb, "!r", "txn-1", "once only")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rr.redactDurable(ctx, "!r", "txn-1", durableID, "", false); err != nil {
				t.Errorf("redactDurable failed: %v", err)
			}
		}()
	}
	wg.Wait()

	cp.mu.Lock()
	calls := cp.calls
	cp.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly 1 backend redaction, got %d", calls)
	}
}
