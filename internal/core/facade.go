// Commands: the single mutation surface of the engine. Every operation
// follows the same shape: validate against the snapshot, write to the
// backend, commit the new state and re-derive projections.
//
// INVARIANTS:
// - Structural writes (layout, settings, overrides) abort on backend
//   failure: no local commit without a successful remote write
// - Messaging writes are optimistic and never rolled back
// - Every moderation action appends an audit entry
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// OverrideScope selects which override map a permission rule targets.
type OverrideScope string

const (
	ScopeCategory OverrideScope = "category"
	ScopeRoom     OverrideScope = "room"
)

// Commands is the operation façade over one session.
type Commands struct {
	session *SessionManager
	// purger is nil when no admin surface is configured; deletes then
	// fall back to the port's local removal.
	purger *PurgeCoordinator
	prefs  *PreferencesManager
	log    *zap.Logger
}

// NewCommands wires the façade. purger may be nil.
func NewCommands(session *SessionManager, purger *PurgeCoordinator, prefs *PreferencesManager, log *zap.Logger) *Commands {
	return &Commands{session: session, purger: purger, prefs: prefs, log: log}
}

// Session returns the underlying session manager.
func (c *Commands) Session() *SessionManager { return c.session }

// Preferences returns the preferences manager.
func (c *Commands) Preferences() *PreferencesManager { return c.prefs }

// permissionInput assembles resolution input for one room from the
// snapshot and the port.
func (c *Commands) permissionInput(ctx context.Context, spaceID, roomID string) (PermissionInput, error) {
	port := c.session.Port()
	snap := c.session.Snapshot()

	in := PermissionInput{
		UserID:   port.UserID(),
		Settings: snap.Settings(spaceID),
	}

	power, err := port.PowerLevel(ctx, roomID, in.UserID)
	if err != nil {
		return in, fmt.Errorf("failed to resolve power level: %w", err)
	}
	in.PowerLevel = power

	membership, err := port.Membership(ctx, roomID, in.UserID)
	if err != nil {
		return in, fmt.Errorf("failed to resolve membership: %w", err)
	}
	in.Membership = membership

	ov := snap.Overrides(spaceID)
	in.RoomRules = ov.Rooms[roomID]
	if layout := snap.Layout(spaceID); layout != nil {
		if placement, ok := layout.Rooms[roomID]; ok {
			in.CategoryRules = ov.Categories[placement.CategoryID]
		}
	}
	return in, nil
}

// require rejects the operation unless the action resolves to allow.
func (c *Commands) require(ctx context.Context, spaceID, roomID string, action model.PermissionAction) error {
	in, err := c.permissionInput(ctx, spaceID, roomID)
	if err != nil {
		return err
	}
	if d := ResolvePermission(in, action); !d.Allowed {
		return fmt.Errorf("%s denied by %s: %w", action, d.Source, ErrNotPermitted)
	}
	return nil
}

// Capabilities resolves the full capability set for the current user in
// one room.
func (c *Commands) Capabilities(ctx context.Context, spaceID, roomID string) (Capabilities, error) {
	in, err := c.permissionInput(ctx, spaceID, roomID)
	if err != nil {
		return nil, err
	}
	return ResolveCapabilities(in), nil
}

// --- layout mutations ---

func cloneLayout(layout *model.SpaceLayout) *model.SpaceLayout {
	if layout == nil {
		return nil
	}
	out := &model.SpaceLayout{
		Version:    layout.Version,
		Categories: append([]model.Category(nil), layout.Categories...),
		Rooms:      make(map[string]model.Placement, len(layout.Rooms)),
	}
	for id, p := range layout.Rooms {
		out.Rooms[id] = p
	}
	return out
}

// mutateLayout runs fn against a copy of the space layout, rehydrates,
// writes the result to the backend and only then commits it. fn
// returning an error aborts before any write.
func (c *Commands) mutateLayout(ctx context.Context, spaceID string, fn func(*model.SpaceLayout) error) error {
	snap := c.session.Snapshot()
	baseRooms := snap.RoomsBySpace[spaceID]

	layout := cloneLayout(snap.Layout(spaceID))
	layout = HydrateLayout(layout, baseRooms)
	if err := fn(layout); err != nil {
		return err
	}
	layout = HydrateLayout(layout, baseRooms)

	if err := c.session.WriteSpaceState(ctx, spaceID, backend.StateTypeLayout, layout); err != nil {
		return err
	}

	c.session.Commit(func(s *Snapshot) {
		s.LayoutBySpace[spaceID] = layout
		rooms := ApplyLayout(s.RoomsBySpace[spaceID], layout)
		carryUnread(rooms, s.RoomsBySpace[spaceID])
		s.RoomsBySpace[spaceID] = rooms
	})
	return nil
}

// CreateCategory adds a category to a space.
func (c *Commands) CreateCategory(ctx context.Context, spaceID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("category name is empty: %w", ErrNoOp)
	}
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return "", err
	}
	var id string
	err := c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		var err error
		id, err = CreateCategory(layout, name)
		return err
	})
	return id, err
}

// RenameCategory renames a category.
func (c *Commands) RenameCategory(ctx context.Context, spaceID, categoryID, name string) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return err
	}
	return c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		return RenameCategory(layout, categoryID, name)
	})
}

// DeleteCategory removes a category; its rooms fall back to the default
// category with relative order preserved.
func (c *Commands) DeleteCategory(ctx context.Context, spaceID, categoryID string) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return err
	}
	return c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		return DeleteCategory(layout, categoryID)
	})
}

// MoveCategory moves a category to a new index.
func (c *Commands) MoveCategory(ctx context.Context, spaceID, categoryID string, toIndex int) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return err
	}
	return c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		return MoveCategory(layout, categoryID, toIndex)
	})
}

// MoveRoom moves a room into a category at an index; toIndex -1 appends.
func (c *Commands) MoveRoom(ctx context.Context, spaceID, roomID, categoryID string, toIndex int) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return err
	}
	return c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		return MoveRoom(layout, roomID, categoryID, toIndex)
	})
}

// ReorderRoom moves a room within its current category.
func (c *Commands) ReorderRoom(ctx context.Context, spaceID, roomID string, toIndex int) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return err
	}
	return c.mutateLayout(ctx, spaceID, func(layout *model.SpaceLayout) error {
		return ReorderRoom(layout, roomID, toIndex)
	})
}

// hostOrAny returns a room usable for space-scoped permission checks.
func (c *Commands) hostOrAny(spaceID string) string {
	snap := c.session.Snapshot()
	if host := snap.StateHostBySpace[spaceID]; host != "" {
		return host
	}
	if rooms := snap.RoomsBySpace[spaceID]; len(rooms) > 0 {
		return rooms[0].ID
	}
	return ""
}

// --- rooms and spaces ---

// CreateRoom creates a room in a space, marks its type and places it in
// the default category.
func (c *Commands) CreateRoom(ctx context.Context, spaceID, name string, kind model.RoomType) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("room name is empty: %w", ErrNoOp)
	}
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageChannels); err != nil {
		return "", err
	}

	port := c.session.Port()
	containerID := spaceID
	if spaceID == model.AggregateSpaceID {
		containerID = ""
	}
	roomID, err := port.CreateRoom(ctx, containerID, name, kind)
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	if kind != model.RoomTypeText && kind != model.RoomTypeDirect {
		if err := port.SetState(ctx, roomID, backend.StateTypeRoomKind, map[string]any{"kind": string(kind)}); err != nil {
			c.log.Warn("failed to mark room kind", zap.String("room_id", roomID), zap.Error(err))
		}
	}

	if err := c.session.Refresh(ctx); err != nil {
		return roomID, err
	}
	// Persist the placement hydration just assigned.
	if err := c.mutateLayout(ctx, spaceID, func(*model.SpaceLayout) error { return nil }); err != nil {
		c.log.Warn("failed to persist layout after room create", zap.Error(err))
	}
	return roomID, nil
}

// CreateSpace creates a new grouping container.
func (c *Commands) CreateSpace(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("space name is empty: %w", ErrNoOp)
	}
	spaceID, err := c.session.Port().CreateSpace(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create space: %w", err)
	}
	if err := c.session.Refresh(ctx); err != nil {
		return spaceID, err
	}
	return spaceID, nil
}

// RenameSpace stores a display-name override for a space.
func (c *Commands) RenameSpace(ctx context.Context, spaceID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("space name is empty: %w", ErrNoOp)
	}
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageServer); err != nil {
		return err
	}
	if err := c.session.WriteSpaceState(ctx, spaceID, backend.StateTypeNameOverride, map[string]any{"name": name}); err != nil {
		return err
	}
	c.session.Commit(func(s *Snapshot) {
		s.NameOverrideBySpace[spaceID] = name
	})
	return nil
}

// DeleteRoom removes a room for everyone. Sessions with an admin
// surface run the irreversible purge, which needs a connected backend;
// without one the port's local removal applies. Requires durable admin
// power, a role grant alone is not enough.
func (c *Commands) DeleteRoom(ctx context.Context, spaceID, roomID string) error {
	port := c.session.Port()
	snap := c.session.Snapshot()

	power, err := port.PowerLevel(ctx, roomID, port.UserID())
	if err != nil {
		return fmt.Errorf("failed to resolve power level: %w", err)
	}
	if !IsAdmin(snap.Settings(spaceID), power) {
		return fmt.Errorf("room deletion requires admin power: %w", ErrNotPermitted)
	}

	if c.purger != nil {
		// Never downgrade a configured purge to a local-only leave: the
		// room would silently survive on the server.
		if !port.Connected() {
			return fmt.Errorf("admin purge of %s: %w", roomID, ErrNotConnected)
		}
		if err := c.purger.Purge(ctx, roomID); err != nil {
			return err
		}
	} else if err := port.RemoveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	c.recordAudit(ctx, spaceID, "delete_room", roomID, "")

	if err := c.session.Refresh(ctx); err != nil {
		return fmt.Errorf("room deleted but refresh failed: %w", err)
	}
	if err := c.mutateLayout(ctx, spaceID, func(*model.SpaceLayout) error { return nil }); err != nil {
		c.session.Notify("warning", "channel deleted but layout sync failed")
		return fmt.Errorf("room deleted but layout sync failed: %w", err)
	}
	return nil
}

// --- settings and permissions ---

// SaveSettings clamps and writes the settings document of a space.
func (c *Commands) SaveSettings(ctx context.Context, spaceID string, settings *model.ServerSettings) error {
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageServer); err != nil {
		return err
	}
	clamped := ClampSettings(settings)
	if err := c.session.WriteSpaceState(ctx, spaceID, backend.StateTypeSettings, SettingsToWire(clamped)); err != nil {
		return err
	}
	c.session.Commit(func(s *Snapshot) {
		s.SettingsBySpace[spaceID] = clamped
	})
	c.recordAudit(ctx, spaceID, "update_settings", spaceID, "")
	return nil
}

// SetPermissionRule sets or clears one allow/deny override. rule nil
// clears the entry back to inherit.
func (c *Commands) SetPermissionRule(ctx context.Context, spaceID string, scope OverrideScope, targetID string, action model.PermissionAction, rule *model.OverrideRule) error {
	if !model.KnownAction(action) {
		return fmt.Errorf("unknown action %q: %w", action, ErrNotFound)
	}
	if err := c.require(ctx, spaceID, c.hostOrAny(spaceID), model.ActionManageRoles); err != nil {
		return err
	}

	snap := c.session.Snapshot()
	current := snap.Overrides(spaceID)
	next := &model.PermissionOverrides{
		Categories: cloneScope(current.Categories),
		Rooms:      cloneScope(current.Rooms),
	}
	target := next.Rooms
	if scope == ScopeCategory {
		target = next.Categories
	}

	rules := target[targetID]
	if rule == nil {
		if _, ok := rules[action]; !ok {
			return fmt.Errorf("no rule to clear: %w", ErrNoOp)
		}
		delete(rules, action)
		if len(rules) == 0 {
			delete(target, targetID)
		}
	} else {
		if rules == nil {
			rules = make(map[model.PermissionAction]model.OverrideRule)
			target[targetID] = rules
		}
		if rules[action] == *rule {
			return fmt.Errorf("rule unchanged: %w", ErrNoOp)
		}
		rules[action] = *rule
	}

	if err := c.session.WriteSpaceState(ctx, spaceID, backend.StateTypeOverrides, OverridesToWire(next)); err != nil {
		return err
	}
	c.session.Commit(func(s *Snapshot) {
		s.OverridesBySpace[spaceID] = next
	})
	c.recordAudit(ctx, spaceID, "update_permissions", targetID, "")
	return nil
}

func cloneScope(src map[string]map[model.PermissionAction]model.OverrideRule) map[string]map[model.PermissionAction]model.OverrideRule {
	out := make(map[string]map[model.PermissionAction]model.OverrideRule, len(src))
	for id, rules := range src {
		dst := make(map[model.PermissionAction]model.OverrideRule, len(rules))
		for a, r := range rules {
			dst[a] = r
		}
		out[id] = dst
	}
	return out
}

// --- messaging ---

// SendMessage sends a message, committing it optimistically. While the
// offline flag is set the message commits with queued status.
func (c *Commands) SendMessage(ctx context.Context, roomID, body string, attachments []model.Attachment) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return model.Message{}, fmt.Errorf("message is empty: %w", ErrNoOp)
	}

	snap := c.session.Snapshot()
	spaceID, _ := snap.SpaceOfRoom(roomID)
	if err := c.require(ctx, spaceID, roomID, model.ActionSendMessage); err != nil {
		return model.Message{}, err
	}
	if len(attachments) > 0 {
		if err := c.require(ctx, spaceID, roomID, model.ActionAttachFiles); err != nil {
			return model.Message{}, err
		}
	}

	port := c.session.Port()
	txnID := uuid.New().String()
	msg := model.Message{
		ID:          model.LocalEchoID(roomID, txnID),
		RoomID:      roomID,
		AuthorID:    port.UserID(),
		Body:        body,
		Attachments: attachments,
		Timestamp:   time.Now(),
		Status:      model.MessageStatusQueued,
	}

	id, err := port.Send(ctx, roomID, txnID, &msg)
	if err != nil {
		// Optimistic: the queued echo stays visible, never rolled back.
		c.commitMessage(msg)
		return msg, fmt.Errorf("failed to send message: %w", err)
	}
	if id != "" {
		msg.ID = id
	}
	if !model.IsLocalEchoID(msg.ID) && !port.Offline() {
		msg.Status = model.MessageStatusSent
	}
	c.commitMessage(msg)
	return msg, nil
}

func (c *Commands) commitMessage(msg model.Message) {
	c.session.Commit(func(s *Snapshot) {
		s.MessagesByRoom[msg.RoomID] = MergeMessages(s.Messages(msg.RoomID), []model.Message{msg}, nil)
	})
}

// ToggleReaction flips the current user's reaction on a message.
func (c *Commands) ToggleReaction(ctx context.Context, roomID, messageID, emoji string) error {
	port := c.session.Port()
	snap := c.session.Snapshot()

	var target *model.Message
	for _, m := range snap.Messages(roomID) {
		if m.ID == messageID {
			m := m
			target = &m
			break
		}
	}
	if target == nil {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	userID := port.UserID()
	on := true
	for _, u := range target.Reactions[emoji] {
		if u == userID {
			on = false
			break
		}
	}

	if err := port.React(ctx, roomID, messageID, emoji, on); err != nil {
		return fmt.Errorf("failed to toggle reaction: %w", err)
	}

	c.session.Commit(func(s *Snapshot) {
		msgs := append([]model.Message(nil), s.Messages(roomID)...)
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			reactions := make(map[string][]string, len(msgs[i].Reactions))
			for k, users := range msgs[i].Reactions {
				reactions[k] = append([]string(nil), users...)
			}
			if on {
				reactions[emoji] = append(reactions[emoji], userID)
			} else {
				kept := reactions[emoji][:0]
				for _, u := range reactions[emoji] {
					if u != userID {
						kept = append(kept, u)
					}
				}
				if len(kept) == 0 {
					delete(reactions, emoji)
				} else {
					reactions[emoji] = kept
				}
			}
			msgs[i].Reactions = reactions
			break
		}
		s.MessagesByRoom[roomID] = msgs
	})
	return nil
}

// TogglePin pins or unpins a message.
func (c *Commands) TogglePin(ctx context.Context, roomID, messageID string) error {
	snap := c.session.Snapshot()
	spaceID, _ := snap.SpaceOfRoom(roomID)
	if err := c.require(ctx, spaceID, roomID, model.ActionPinMessages); err != nil {
		return err
	}

	pinned := false
	found := false
	for _, m := range snap.Messages(roomID) {
		if m.ID == messageID {
			pinned = !m.Pinned
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	if err := c.session.Port().SetPinned(ctx, roomID, messageID, pinned); err != nil {
		return fmt.Errorf("failed to set pin: %w", err)
	}
	c.session.Commit(func(s *Snapshot) {
		msgs := append([]model.Message(nil), s.Messages(roomID)...)
		for i := range msgs {
			if msgs[i].ID == messageID {
				msgs[i].Pinned = pinned
				break
			}
		}
		s.MessagesByRoom[roomID] = msgs
	})
	return nil
}

// RedactMessage deletes a message. Own messages need no extra power;
// other users' messages require manage_messages and append an audit
// entry. The message disappears locally right away, with delivery of
// the redaction delegated to the reconciler.
func (c *Commands) RedactMessage(ctx context.Context, roomID, messageID, reason string) (RedactionState, error) {
	port := c.session.Port()
	snap := c.session.Snapshot()
	spaceID, _ := snap.SpaceOfRoom(roomID)

	own := false
	for _, m := range snap.Messages(roomID) {
		if m.ID == messageID {
			own = m.AuthorID == port.UserID()
			break
		}
	}
	if !own {
		if err := c.require(ctx, spaceID, roomID, model.ActionManageMessages); err != nil {
			return "", err
		}
	}

	state, err := c.session.Reconciler().Redact(ctx, roomID, messageID, reason)
	if err != nil {
		return state, err
	}

	c.session.Commit(func(s *Snapshot) {
		s.MessagesByRoom[roomID] = MergeMessages(s.Messages(roomID), nil, []string{messageID})
	})

	if state == RedactionQueued {
		c.session.Notify("info", "message will be deleted once it finishes sending")
	}
	if !own {
		c.recordAudit(ctx, spaceID, "redact_message", roomID, messageID)
	}
	return state, nil
}

// PaginateHistory loads older history for a room; a request already in
// flight for the room reports started=false.
func (c *Commands) PaginateHistory(ctx context.Context, roomID string, limit int) (started bool, err error) {
	if limit <= 0 {
		limit = 50
	}
	return c.session.Paginate(ctx, roomID, limit)
}

// UploadAttachment stores content and returns the attachment reference.
func (c *Commands) UploadAttachment(ctx context.Context, name, mimeType string, data []byte) (model.Attachment, error) {
	url, err := c.session.Port().Upload(ctx, name, data)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to upload attachment: %w", err)
	}
	return model.Attachment{
		Name:     name,
		MimeType: mimeType,
		URL:      url,
		Size:     int64(len(data)),
	}, nil
}

// MarkRead clears a room's unread count.
func (c *Commands) MarkRead(roomID string) {
	c.session.MarkRead(roomID)
}

// --- audit ---

// recordAudit appends a moderation log entry, best effort: an audit
// write failure is logged but never fails the operation it documents.
func (c *Commands) recordAudit(ctx context.Context, spaceID, action, target, sourceEventID string) {
	if spaceID == "" {
		return
	}
	snap := c.session.Snapshot()
	ev := NewAuditEvent(action, c.session.Port().UserID(), target, sourceEventID)
	log := AppendAudit(snap.AuditBySpace[spaceID], ev)

	if err := c.session.WriteSpaceState(ctx, spaceID, backend.StateTypeAudit, AuditToWire(log)); err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("failed to write audit log", zap.String("space_id", spaceID), zap.Error(err))
		}
	}
	if err := c.session.store.SaveAuditEvents(ctx, spaceID, log); err != nil {
		c.log.Warn("failed to cache audit log", zap.String("space_id", spaceID), zap.Error(err))
	}
	c.session.Commit(func(s *Snapshot) {
		s.AuditBySpace[spaceID] = log
	})
}
