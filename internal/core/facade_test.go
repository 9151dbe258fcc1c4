package core

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

func newTestCommands(t *testing.T) (*Commands, *backend.NullBackend, string) {
	t.Helper()
	nb := backend.NewNullBackend("@you:local")
	store := newTestStore(t)
	sm := NewSessionManager(nb, store, zap.NewNop(), nil)
	if err := sm.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}
	cmd := NewCommands(sm, nil, NewPreferencesManager(store), zap.NewNop())
	return cmd, nb, sm.Snapshot().Spaces[0].ID
}

func makeRoom(t *testing.T, cmd *Commands, spaceID, name string) string {
	t.Helper()
	roomID, err := cmd.CreateRoom(context.Background(), spaceID, name, model.RoomTypeText)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return roomID
}

func TestSendMessage_OfflineThenFlush(t *testing.T) {
	cmd, nb, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "lounge")

	nb.SetOffline(true)
	msg, err := cmd.SendMessage(ctx, roomID, "hello", nil)
	if err != nil {
		t.Fatalf("offline send should succeed locally: %v", err)
	}
	if msg.Status != model.MessageStatusQueued {
		t.Errorf("offline message should be queued, got %s", msg.Status)
	}
	if !model.IsLocalEchoID(msg.ID) {
		t.Errorf("offline message should carry a local echo id, got %s", msg.ID)
	}

	msgs := cmd.Session().Snapshot().Messages(roomID)
	if len(msgs) != 1 || msgs[0].Status != model.MessageStatusQueued {
		t.Fatalf("queued echo should be committed: %+v", msgs)
	}

	// Going back online flushes the queue; the refreshed timeline swaps
	// the echo for the durable message.
	nb.SetOffline(false)
	if err := cmd.Session().RefreshTimeline(ctx, roomID); err != nil {
		t.Fatalf("failed to refresh timeline: %v", err)
	}
	msgs = cmd.Session().Snapshot().Messages(roomID)
	if len(msgs) != 1 {
		t.Fatalf("expected the flushed message only, got %+v", msgs)
	}
	if model.IsLocalEchoID(msgs[0].ID) {
		t.Errorf("echo should be retired after flush, got %s", msgs[0].ID)
	}
	if msgs[0].Status != model.MessageStatusSent || msgs[0].Body != "hello" {
		t.Errorf("unexpected flushed message: %+v", msgs[0])
	}
}

func TestSendMessage_Validation(t *testing.T) {
	cmd, _, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "strict")

	if _, err := cmd.SendMessage(ctx, roomID, "   ", nil); !errors.Is(err, ErrNoOp) {
		t.Errorf("blank message should be ErrNoOp, got %v", err)
	}

	// A room-level deny beats even the local user's full power.
	deny := model.OverrideDeny
	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, model.ActionSendMessage, &deny); err != nil {
		t.Fatalf("failed to set rule: %v", err)
	}
	if _, err := cmd.SendMessage(ctx, roomID, "hi", nil); !errors.Is(err, ErrNotPermitted) {
		t.Errorf("denied send should be ErrNotPermitted, got %v", err)
	}
}

func TestSetPermissionRule_SetClearNoOp(t *testing.T) {
	cmd, _, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "rules")

	bogus := model.PermissionAction("teleport")
	deny := model.OverrideDeny
	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, bogus, &deny); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown action should be ErrNotFound, got %v", err)
	}

	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, model.ActionPinMessages, &deny); err != nil {
		t.Fatalf("failed to set rule: %v", err)
	}
	ov := cmd.Session().Snapshot().Overrides(spaceID)
	if ov.Rooms[roomID][model.ActionPinMessages] != model.OverrideDeny {
		t.Errorf("rule should be stored: %v", ov.Rooms[roomID])
	}

	// Same rule again is a no-op.
	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, model.ActionPinMessages, &deny); !errors.Is(err, ErrNoOp) {
		t.Errorf("unchanged rule should be ErrNoOp, got %v", err)
	}

	// Clearing removes the entry entirely.
	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, model.ActionPinMessages, nil); err != nil {
		t.Fatalf("failed to clear rule: %v", err)
	}
	ov = cmd.Session().Snapshot().Overrides(spaceID)
	if _, ok := ov.Rooms[roomID]; ok {
		t.Errorf("cleared target should be compacted away: %v", ov.Rooms)
	}
	if err := cmd.SetPermissionRule(ctx, spaceID, ScopeRoom, roomID, model.ActionPinMessages, nil); !errors.Is(err, ErrNoOp) {
		t.Errorf("clearing an absent rule should be ErrNoOp, got %v", err)
	}
}

func TestCategoryCommands(t *testing.T) {
	cmd, nb, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "project-chat")

	if _, err := cmd.CreateCategory(ctx, spaceID, "  "); !errors.Is(err, ErrNoOp) {
		t.Errorf("blank category name should be ErrNoOp, got %v", err)
	}

	catID, err := cmd.CreateCategory(ctx, spaceID, "Projects")
	if err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	if catID != "projects" {
		t.Errorf("expected slug id, got %q", catID)
	}

	if err := cmd.MoveRoom(ctx, spaceID, roomID, catID, -1); err != nil {
		t.Fatalf("failed to move room: %v", err)
	}
	layout := cmd.Session().Snapshot().Layout(spaceID)
	if layout.Rooms[roomID].CategoryID != catID {
		t.Errorf("room should sit in the new category: %+v", layout.Rooms[roomID])
	}

	// The mutation was written through to the backend state document.
	host := cmd.Session().Snapshot().StateHostBySpace[spaceID]
	raw, err := nb.GetState(ctx, host, backend.StateTypeLayout)
	if err != nil || raw == nil {
		t.Fatalf("layout should be persisted: %v", err)
	}
	stored := DecodeLayout(raw)
	if stored == nil || stored.Rooms[roomID].CategoryID != catID {
		t.Errorf("persisted layout should match: %+v", stored)
	}

	if err := cmd.DeleteCategory(ctx, spaceID, model.DefaultCategoryID); !errors.Is(err, ErrDefaultCategory) {
		t.Errorf("deleting the default category should fail, got %v", err)
	}
	if err := cmd.DeleteCategory(ctx, spaceID, catID); err != nil {
		t.Fatalf("failed to delete category: %v", err)
	}
	layout = cmd.Session().Snapshot().Layout(spaceID)
	if layout.Rooms[roomID].CategoryID != model.DefaultCategoryID {
		t.Errorf("orphaned room should fall back to default: %+v", layout.Rooms[roomID])
	}
}

func TestRedactMessage_OwnQueuedMessageCancels(t *testing.T) {
	cmd, nb, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "drafts")

	nb.SetOffline(true)
	msg, err := cmd.SendMessage(ctx, roomID, "on second thought", nil)
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	state, err := cmd.RedactMessage(ctx, roomID, msg.ID, "")
	if err != nil {
		t.Fatalf("failed to redact: %v", err)
	}
	if state != RedactionCancelled {
		t.Errorf("queued own message should cancel outright, got %s", state)
	}
	if msgs := cmd.Session().Snapshot().Messages(roomID); len(msgs) != 0 {
		t.Errorf("redacted message should vanish locally: %+v", msgs)
	}

	// Nothing flushes when the session comes back online.
	nb.SetOffline(false)
	events, _ := nb.RecentTimeline(ctx, roomID, 0)
	if len(events) != 0 {
		t.Errorf("cancelled send should never hit the timeline: %+v", events)
	}
}

func TestDeleteRoom_RecordsAudit(t *testing.T) {
	cmd, nb, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "doomed")

	if err := cmd.DeleteRoom(ctx, spaceID, roomID); err != nil {
		t.Fatalf("failed to delete room: %v", err)
	}
	if _, ok := cmd.Session().Snapshot().Room(roomID); ok {
		t.Error("deleted room should leave the snapshot")
	}
	graph, _ := nb.Graph(ctx)
	for _, r := range graph.Rooms {
		if r.ID == roomID {
			t.Error("deleted room should leave the backend graph")
		}
	}

	audit := cmd.Session().Snapshot().AuditBySpace[spaceID]
	if len(audit) == 0 || audit[0].Action != "delete_room" || audit[0].Target != roomID {
		t.Errorf("deletion should be first in the audit log: %+v", audit)
	}
}

// lowPowerPort caps the local user's power level below admin.
type lowPowerPort struct {
	*backend.NullBackend
}

func (lp *lowPowerPort) PowerLevel(ctx context.Context, roomID, userID string) (int, error) {
	return DefaultModeratorLevel, nil
}

func TestDeleteRoom_RequiresAdminPower(t *testing.T) {
	nb := backend.NewNullBackend("@you:local")
	store := newTestStore(t)
	sm := NewSessionManager(&lowPowerPort{NullBackend: nb}, store, zap.NewNop(), nil)
	ctx := context.Background()
	if err := sm.Bootstrap(ctx); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}
	cmd := NewCommands(sm, nil, NewPreferencesManager(store), zap.NewNop())

	snap := sm.Snapshot()
	spaceID := snap.Spaces[0].ID
	roomID := snap.RoomsBySpace[spaceID][0].ID

	err := cmd.DeleteRoom(ctx, spaceID, roomID)
	if !errors.Is(err, ErrNotPermitted) {
		t.Errorf("moderator power should not delete rooms, got %v", err)
	}
	if _, ok := sm.Snapshot().Room(roomID); !ok {
		t.Error("denied deletion must leave the room in place")
	}
}

func TestDeleteRoom_PurgeNeedsConnectedBackend(t *testing.T) {
	nb := backend.NewNullBackend("@you:local")
	store := newTestStore(t)
	sm := NewSessionManager(nb, store, zap.NewNop(), nil)
	ctx := context.Background()
	if err := sm.Bootstrap(ctx); err != nil {
		t.Fatalf("failed to bootstrap: %v", err)
	}
	fa := &fakeAdmin{}
	cmd := NewCommands(sm, newTestPurger(fa), NewPreferencesManager(store), zap.NewNop())

	snap := sm.Snapshot()
	spaceID := snap.Spaces[0].ID
	roomID := snap.RoomsBySpace[spaceID][0].ID

	// A configured admin surface never downgrades to a local-only leave.
	err := cmd.DeleteRoom(ctx, spaceID, roomID)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("purge without a connected backend should be ErrNotConnected, got %v", err)
	}
	if fa.deleteCalls != 0 {
		t.Errorf("admin API should not be hit, got %d delete calls", fa.deleteCalls)
	}
	if _, ok := sm.Snapshot().Room(roomID); !ok {
		t.Error("rejected deletion must leave the room in place")
	}
}

func TestToggleReaction_OnAndOff(t *testing.T) {
	cmd, _, spaceID := newTestCommands(t)
	ctx := context.Background()
	roomID := makeRoom(t, cmd, spaceID, "reactions")

	msg, err := cmd.SendMessage(ctx, roomID, "react to this", nil)
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	if err := cmd.ToggleReaction(ctx, roomID, msg.ID, "👍"); err != nil {
		t.Fatalf("failed to react: %v", err)
	}
	msgs := cmd.Session().Snapshot().Messages(roomID)
	if users := msgs[0].Reactions["👍"]; len(users) != 1 || users[0] != "@you:local" {
		t.Errorf("reaction should be on: %v", msgs[0].Reactions)
	}

	if err := cmd.ToggleReaction(ctx, roomID, msg.ID, "👍"); err != nil {
		t.Fatalf("failed to unreact: %v", err)
	}
	msgs = cmd.Session().Snapshot().Messages(roomID)
	if len(msgs[0].Reactions) != 0 {
		t.Errorf("reaction should be off: %v", msgs[0].Reactions)
	}

	if err := cmd.ToggleReaction(ctx, roomID, "$missing", "👍"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown message should be ErrNotFound, got %v", err)
	}
}

func TestRenameSpace_OverridesDisplayName(t *testing.T) {
	cmd, _, spaceID := newTestCommands(t)
	ctx := context.Background()

	if err := cmd.RenameSpace(ctx, spaceID, "HQ"); err != nil {
		t.Fatalf("failed to rename space: %v", err)
	}
	if got := cmd.Session().Snapshot().SpaceName(spaceID); got != "HQ" {
		t.Errorf("override should win over the backend name, got %q", got)
	}

	// The override survives a full refresh because it is persisted state.
	if err := cmd.Session().Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if got := cmd.Session().Snapshot().SpaceName(spaceID); got != "HQ" {
		t.Errorf("override should survive a refresh, got %q", got)
	}
}

func TestUploadAttachment(t *testing.T) {
	cmd, _, _ := newTestCommands(t)
	att, err := cmd.UploadAttachment(context.Background(), "notes.txt", "text/plain", []byte("hi"))
	if err != nil {
		t.Fatalf("failed to upload: %v", err)
	}
	if att.Name != "notes.txt" || att.Size != 2 || att.URL == "" {
		t.Errorf("unexpected attachment: %+v", att)
	}
}
