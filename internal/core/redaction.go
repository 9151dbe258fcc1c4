// Redaction reconciliation: deleting a message whose durable remote id
// may not exist yet.
//
// INVARIANTS:
// - Exactly one redaction request reaches the backend per intent, even
//   when sweeps run concurrently
// - Intents are persisted, deduplicated by (room, transaction) and
//   pruned by TTL and cap on every load/save
// - A cancelled queued send never produces a redaction request
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// RedactionState is the terminal or queued state of one delete request.
type RedactionState string

const (
	// RedactionQueued: no durable id yet, intent persisted, waiting for
	// the remote echo to show up.
	RedactionQueued RedactionState = "queued"
	// RedactionRetryQueued: a durable id was found but the redaction
	// call failed transiently; the intent stays for the next sweep.
	RedactionRetryQueued RedactionState = "retry_queued"
	// RedactionRedacted: the backend accepted the redaction.
	RedactionRedacted RedactionState = "redacted"
	// RedactionCancelled: the queued send was pulled back before it hit
	// the wire, so nothing ever needs redacting.
	RedactionCancelled RedactionState = "cancelled"
)

// RedactionReconciler resolves delete requests against messages that may
// still be local echoes. Safe for concurrent use.
type RedactionReconciler struct {
	port  backend.Port
	store *Store
	log   *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewRedactionReconciler creates a reconciler over the given port and
// intent store.
func NewRedactionReconciler(port backend.Port, store *Store, log *zap.Logger) *RedactionReconciler {
	return &RedactionReconciler{
		port:     port,
		store:    store,
		log:      log,
		inflight: make(map[string]bool),
	}
}

func intentKey(roomID, transactionID string) string {
	return roomID + "\x00" + transactionID
}

// Redact deletes a message by id. Durable ids are redacted directly.
// Local-echo ids walk the fallback chain: cancel the queued send, else
// find the durable replacement in the recent timeline, else persist an
// intent for later sweeps.
func (rr *RedactionReconciler) Redact(ctx context.Context, roomID, messageID, reason string) (RedactionState, error) {
	if !model.IsLocalEchoID(messageID) {
		if _, err := rr.port.Redact(ctx, roomID, messageID, reason); err != nil {
			return RedactionRetryQueued, fmt.Errorf("failed to redact message: %w", err)
		}
		return RedactionRedacted, nil
	}

	echoRoom, txnID, ok := model.ParseLocalEchoID(messageID)
	if !ok {
		return RedactionCancelled, fmt.Errorf("malformed local echo id: %s", messageID)
	}
	if echoRoom != roomID {
		roomID = echoRoom
	}

	if rr.port.SendStage(roomID, txnID) == backend.SendStageQueued &&
		rr.port.CancelSend(roomID, txnID) {
		rr.log.Debug("cancelled queued send instead of redacting",
			zap.String("room_id", roomID), zap.String("txn_id", txnID))
		return RedactionCancelled, nil
	}

	events, err := rr.port.RecentTimeline(ctx, roomID, 100)
	if err == nil {
		if durableID, found := FindDurableID(events, txnID); found {
			return rr.redactDurable(ctx, roomID, txnID, durableID, reason, false)
		}
	}

	intent := model.PendingRedactionIntent{
		RoomID:          roomID,
		TransactionID:   txnID,
		SourceMessageID: messageID,
		QueuedAt:        time.Now(),
	}
	if err := rr.store.SaveIntent(ctx, intent); err != nil {
		return RedactionRetryQueued, fmt.Errorf("failed to queue redaction: %w", err)
	}
	rr.log.Info("redaction queued until remote echo arrives",
		zap.String("room_id", roomID), zap.String("txn_id", txnID))
	return RedactionQueued, nil
}

// redactDurable issues the actual redaction under the in-flight guard.
// A concurrent call for the same intent is a harmless no-op.
func (rr *RedactionReconciler) redactDurable(ctx context.Context, roomID, txnID, durableID, reason string, fromIntent bool) (RedactionState, error) {
	key := intentKey(roomID, txnID)
	rr.mu.Lock()
	if rr.inflight[key] {
		rr.mu.Unlock()
		return RedactionQueued, nil
	}
	rr.inflight[key] = true
	rr.mu.Unlock()

	defer func() {
		rr.mu.Lock()
		delete(rr.inflight, key)
		rr.mu.Unlock()
	}()

	if _, err := rr.port.Redact(ctx, roomID, durableID, reason); err != nil {
		rr.log.Warn("redaction failed, keeping intent for retry",
			zap.String("room_id", roomID), zap.String("event_id", durableID), zap.Error(err))
		return RedactionRetryQueued, fmt.Errorf("failed to redact message: %w", err)
	}

	if fromIntent {
		if err := rr.store.DeleteIntent(ctx, roomID, txnID); err != nil {
			rr.log.Warn("failed to clear resolved intent", zap.Error(err))
		}
	}
	return RedactionRedacted, nil
}

// Sweep resolves every persisted intent for one room against the recent
// timeline. Intents whose durable echo has not arrived yet stay queued.
// Returns how many intents were resolved.
func (rr *RedactionReconciler) Sweep(ctx context.Context, roomID string) (int, error) {
	intents, err := rr.store.LoadIntents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load intents: %w", err)
	}

	var events []backend.TimelineEvent
	resolved := 0
	for _, in := range intents {
		if in.RoomID != roomID {
			continue
		}
		if events == nil {
			events, err = rr.port.RecentTimeline(ctx, roomID, 200)
			if err != nil {
				return resolved, fmt.Errorf("failed to read timeline: %w", err)
			}
		}
		durableID, found := FindDurableID(events, in.TransactionID)
		if !found {
			continue
		}
		state, err := rr.redactDurable(ctx, roomID, in.TransactionID, durableID, "", true)
		if err != nil {
			continue
		}
		if state == RedactionRedacted {
			resolved++
		}
	}
	return resolved, nil
}

// SweepEvent resolves intents against a single just-arrived timeline
// event, the cheap path taken on every live event.
func (rr *RedactionReconciler) SweepEvent(ctx context.Context, ev backend.TimelineEvent) {
	if ev.TransactionID == "" || model.IsLocalEchoID(ev.ID) {
		return
	}

	intents, err := rr.store.LoadIntents(ctx)
	if err != nil {
		rr.log.Warn("failed to load intents", zap.Error(err))
		return
	}
	for _, in := range intents {
		if in.RoomID != ev.RoomID || in.TransactionID != ev.TransactionID {
			continue
		}
		if _, err := rr.redactDurable(ctx, in.RoomID, in.TransactionID, ev.ID, "", true); err != nil {
			rr.log.Warn("sweep redaction failed", zap.Error(err))
		}
		return
	}
}

// PendingCount reports how many intents are queued for a room, for
// status surfaces.
func (rr *RedactionReconciler) PendingCount(ctx context.Context, roomID string) (int, error) {
	intents, err := rr.store.LoadIntents(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, in := range intents {
		if in.RoomID == roomID {
			n++
		}
	}
	return n, nil
}
