// Admin purge: the irreversible hard-delete of a room through the
// backend's admin surface.
//
// INVARIANTS:
// - Only one purge per room is in flight at a time
// - The whole operation is bounded by a single deadline
// - Deletion is only reported once the backend confirms the room is gone
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PurgeStatus is the backend-reported progress of a purge.
type PurgeStatus string

const (
	PurgeStatusPurging  PurgeStatus = "purging"
	PurgeStatusComplete PurgeStatus = "complete"
	PurgeStatusFailed   PurgeStatus = "failed"
	PurgeStatusUnknown  PurgeStatus = "unknown"
)

// AdminAPI is the admin surface a purge needs. Implementations hide
// which admin API generation the server speaks.
type AdminAPI interface {
	// DeleteRoom starts a hard delete, blocking new joins and purging
	// history server-side.
	DeleteRoom(ctx context.Context, roomID string) error

	// DeleteStatus reports how far the delete has progressed.
	DeleteStatus(ctx context.Context, roomID string) (PurgeStatus, error)

	// RoomExists reports whether the room is still known to the server.
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// Defaults for the purge polling loop.
const (
	PurgeTimeout      = 90 * time.Second
	PurgePollInterval = 1500 * time.Millisecond
)

// PurgeCoordinator drives admin room purges. Safe for concurrent use.
type PurgeCoordinator struct {
	admin AdminAPI
	log   *zap.Logger

	timeout      time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

// NewPurgeCoordinator creates a coordinator over the given admin API.
func NewPurgeCoordinator(admin AdminAPI, log *zap.Logger) *PurgeCoordinator {
	return &PurgeCoordinator{
		admin:        admin,
		log:          log,
		timeout:      PurgeTimeout,
		pollInterval: PurgePollInterval,
		inflight:     make(map[string]bool),
	}
}

// Purge hard-deletes a room and waits for the server to confirm. A
// purge already in flight for the same room returns ErrNoOp.
func (pc *PurgeCoordinator) Purge(ctx context.Context, roomID string) error {
	pc.mu.Lock()
	if pc.inflight[roomID] {
		pc.mu.Unlock()
		return fmt.Errorf("purge already in flight for %s: %w", roomID, ErrNoOp)
	}
	pc.inflight[roomID] = true
	pc.mu.Unlock()

	defer func() {
		pc.mu.Lock()
		delete(pc.inflight, roomID)
		pc.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, pc.timeout)
	defer cancel()

	pc.log.Info("purge started", zap.String("room_id", roomID))
	if err := pc.admin.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	ticker := time.NewTicker(pc.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("purge of %s did not complete: %w", roomID, ctx.Err())
		case <-ticker.C:
		}

		status, err := pc.admin.DeleteStatus(ctx, roomID)
		if err != nil {
			pc.log.Debug("purge status poll failed", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		switch status {
		case PurgeStatusComplete:
			exists, err := pc.admin.RoomExists(ctx, roomID)
			if err == nil && exists {
				// Completed per status but still listed; keep polling.
				continue
			}
			pc.log.Info("purge complete", zap.String("room_id", roomID))
			return nil
		case PurgeStatusFailed:
			return fmt.Errorf("server reported purge of %s failed", roomID)
		}
	}
}
