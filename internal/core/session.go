// Session manager: owns the backend connection lifecycle, the event
// subscriptions and the snapshot.
//
// INVARIANTS:
// - State transitions: disconnected -> connecting -> syncing <-> idle,
//   any state -> error, error -> connecting only on explicit retry
// - Bootstrap is idempotent; subscriptions are never attached twice
// - Continuations that ran I/O re-check the active target before
//   committing, so stale loads never clobber the current room
package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// SessionState is the connection lifecycle state.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionSyncing      SessionState = "syncing"
	SessionIdle         SessionState = "idle"
	SessionError        SessionState = "error"
)

// Notice is a user-facing notification emitted by the engine.
type Notice struct {
	Level   string
	Message string
}

// Notifier receives notices. May be nil.
type Notifier func(Notice)

// recentTimelineLimit bounds how many events a room load pulls in.
const recentTimelineLimit = 100

// SessionManager drives the session against one Port and owns the
// snapshot. Safe for concurrent use.
type SessionManager struct {
	port       backend.Port
	store      *Store
	reconciler *RedactionReconciler
	log        *zap.Logger
	notify     Notifier

	mu           sync.Mutex
	state        SessionState
	stateMsg     string
	snap         *Snapshot
	unsub        func()
	bootstrapped bool
	loading      map[string]bool
}

// NewSessionManager creates a session manager over the given port and
// store. notify may be nil.
func NewSessionManager(port backend.Port, store *Store, log *zap.Logger, notify Notifier) *SessionManager {
	return &SessionManager{
		port:       port,
		store:      store,
		reconciler: NewRedactionReconciler(port, store, log),
		log:        log,
		notify:     notify,
		state:      SessionDisconnected,
		snap:       NewSnapshot(),
		loading:    make(map[string]bool),
	}
}

// Port returns the backend port the session runs against.
func (sm *SessionManager) Port() backend.Port { return sm.port }

// Reconciler returns the redaction reconciler bound to this session.
func (sm *SessionManager) Reconciler() *RedactionReconciler { return sm.reconciler }

// State returns the session state and, for the error state, its message.
func (sm *SessionManager) State() (SessionState, string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state, sm.stateMsg
}

// Snapshot returns the current snapshot. The returned tree is immutable.
func (sm *SessionManager) Snapshot() *Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.snap
}

// Commit clones the snapshot, applies fn to the clone and swaps it in.
func (sm *SessionManager) Commit(fn func(*Snapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	next := sm.snap.Clone()
	fn(next)
	sm.snap = next
}

// Notify emits a user-facing notice.
func (sm *SessionManager) Notify(level, message string) {
	if sm.notify != nil {
		sm.notify(Notice{Level: level, Message: message})
	}
}

func (sm *SessionManager) setState(state SessionState, msg string) {
	sm.mu.Lock()
	sm.state = state
	sm.stateMsg = msg
	sm.mu.Unlock()
	sm.log.Debug("session state", zap.String("state", string(state)), zap.String("message", msg))
}

// Bootstrap attaches subscriptions and runs the initial discovery.
// Calling it while already bootstrapped is a no-op.
func (sm *SessionManager) Bootstrap(ctx context.Context) error {
	sm.mu.Lock()
	if sm.bootstrapped {
		sm.mu.Unlock()
		return nil
	}
	sm.bootstrapped = true
	sm.mu.Unlock()

	sm.setState(SessionConnecting, "")

	cancel := sm.port.Subscribe(sm.handleEvent)
	sm.mu.Lock()
	sm.unsub = cancel
	sm.mu.Unlock()

	sm.setState(SessionSyncing, "")
	if err := sm.Refresh(ctx); err != nil {
		sm.setState(SessionError, err.Error())
		return err
	}
	sm.setState(SessionIdle, "")
	return nil
}

// Retry re-runs discovery after an error. Only an explicit user action
// leaves the error state.
func (sm *SessionManager) Retry(ctx context.Context) error {
	sm.mu.Lock()
	if sm.state != SessionError {
		sm.mu.Unlock()
		return nil
	}
	sm.mu.Unlock()

	sm.setState(SessionConnecting, "")
	sm.setState(SessionSyncing, "")
	if err := sm.Refresh(ctx); err != nil {
		sm.setState(SessionError, err.Error())
		return err
	}
	sm.setState(SessionIdle, "")
	return nil
}

// Logout detaches subscriptions and resets the snapshot.
func (sm *SessionManager) Logout() {
	sm.mu.Lock()
	unsub := sm.unsub
	sm.unsub = nil
	sm.bootstrapped = false
	sm.snap = NewSnapshot()
	sm.loading = make(map[string]bool)
	sm.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	sm.setState(SessionDisconnected, "")
}

// Refresh rebuilds the whole snapshot from the backend: room graph,
// per-space state documents, normalized and hydrated.
func (sm *SessionManager) Refresh(ctx context.Context) error {
	graph, err := sm.port.Graph(ctx)
	if err != nil {
		return fmt.Errorf("failed to load room graph: %w", err)
	}
	idx := BuildIndex(graph)

	type spaceDocs struct {
		layout       *model.SpaceLayout
		settings     *model.ServerSettings
		overrides    *model.PermissionOverrides
		audit        []model.ModerationAuditEvent
		nameOverride string
	}
	docs := make(map[string]spaceDocs, len(idx.Spaces))
	for _, sp := range idx.Spaces {
		host := idx.StateHostBySpace[sp.ID]
		rooms := idx.RoomsBySpace[sp.ID]

		d := spaceDocs{}
		raw := sm.readState(ctx, host, backend.StateTypeLayout)
		d.layout = HydrateLayout(DecodeLayout(raw), rooms)

		d.settings = NormalizeServerSettings(sm.readState(ctx, host, backend.StateTypeSettings))
		d.overrides = NormalizeOverrides(sm.readState(ctx, host, backend.StateTypeOverrides))
		d.audit = NormalizeAuditLog(sm.readState(ctx, host, backend.StateTypeAudit))
		d.nameOverride = DecodeNameOverride(sm.readState(ctx, host, backend.StateTypeNameOverride))
		docs[sp.ID] = d

		if err := sm.store.SaveAuditEvents(ctx, sp.ID, d.audit); err != nil {
			sm.log.Warn("failed to cache audit log", zap.String("space_id", sp.ID), zap.Error(err))
		}
	}

	sm.Commit(func(s *Snapshot) {
		s.Spaces = idx.Spaces
		s.StateHostBySpace = idx.StateHostBySpace
		for _, sp := range idx.Spaces {
			d := docs[sp.ID]
			prev := s.RoomsBySpace[sp.ID]
			rooms := ApplyLayout(idx.RoomsBySpace[sp.ID], d.layout)
			carryUnread(rooms, prev)
			s.RoomsBySpace[sp.ID] = rooms
			s.LayoutBySpace[sp.ID] = d.layout
			s.SettingsBySpace[sp.ID] = d.settings
			s.OverridesBySpace[sp.ID] = d.overrides
			s.AuditBySpace[sp.ID] = d.audit
			if d.nameOverride != "" {
				s.NameOverrideBySpace[sp.ID] = d.nameOverride
			} else {
				delete(s.NameOverrideBySpace, sp.ID)
			}
		}
		if s.ActiveSpaceID == "" && len(idx.Spaces) > 0 {
			s.ActiveSpaceID = idx.Spaces[0].ID
		}
	})
	return nil
}

// readState reads one state document, logging rather than failing: a
// missing or unreadable document normalizes to defaults anyway.
func (sm *SessionManager) readState(ctx context.Context, roomID, stateType string) []byte {
	if roomID == "" {
		return nil
	}
	raw, err := sm.port.GetState(ctx, roomID, stateType)
	if err != nil {
		sm.log.Warn("failed to read state document",
			zap.String("room_id", roomID), zap.String("type", stateType), zap.Error(err))
		return nil
	}
	return raw
}

// carryUnread preserves unread counts across a room list rebuild.
func carryUnread(rooms, prev []model.Room) {
	if len(prev) == 0 {
		return
	}
	counts := make(map[string]int, len(prev))
	for _, r := range prev {
		counts[r.ID] = r.UnreadCount
	}
	for i := range rooms {
		rooms[i].UnreadCount = counts[rooms[i].ID]
	}
}

// SetActiveSpace switches the active space.
func (sm *SessionManager) SetActiveSpace(spaceID string) {
	sm.Commit(func(s *Snapshot) {
		s.ActiveSpaceID = spaceID
		s.ActiveRoomID = ""
	})
}

// SetActiveRoom switches the active room, loads its recent timeline,
// sweeps pending redactions against it and clears its unread count.
func (sm *SessionManager) SetActiveRoom(ctx context.Context, roomID string) error {
	sm.Commit(func(s *Snapshot) {
		if spaceID, ok := s.SpaceOfRoom(roomID); ok {
			s.ActiveSpaceID = spaceID
		}
		s.ActiveRoomID = roomID
	})
	if err := sm.RefreshTimeline(ctx, roomID); err != nil {
		return err
	}
	if _, err := sm.reconciler.Sweep(ctx, roomID); err != nil {
		sm.log.Warn("redaction sweep failed", zap.String("room_id", roomID), zap.Error(err))
	}
	sm.MarkRead(roomID)
	return nil
}

// RefreshTimeline reloads a room's recent events and merges them into
// the local message set.
func (sm *SessionManager) RefreshTimeline(ctx context.Context, roomID string) error {
	events, err := sm.port.RecentTimeline(ctx, roomID, recentTimelineLimit)
	if err != nil {
		return fmt.Errorf("failed to load timeline: %w", err)
	}
	incoming, removeIDs := MessagesFromEvents(events)

	sm.Commit(func(s *Snapshot) {
		s.MessagesByRoom[roomID] = MergeMessages(s.Messages(roomID), incoming, removeIDs)
	})
	return nil
}

// Paginate loads older history for a room. A request while one is
// already in flight for the same room is dropped and reports false.
func (sm *SessionManager) Paginate(ctx context.Context, roomID string, limit int) (bool, error) {
	sm.mu.Lock()
	if sm.loading[roomID] {
		sm.mu.Unlock()
		return false, nil
	}
	sm.loading[roomID] = true
	token := sm.snap.PaginationTokens[roomID]
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		delete(sm.loading, roomID)
		sm.mu.Unlock()
	}()

	events, next, err := sm.port.Paginate(ctx, roomID, token, limit)
	if err != nil {
		return false, fmt.Errorf("failed to paginate: %w", err)
	}
	incoming, removeIDs := MessagesFromEvents(events)

	sm.Commit(func(s *Snapshot) {
		s.MessagesByRoom[roomID] = MergeMessages(s.Messages(roomID), incoming, removeIDs)
		s.PaginationTokens[roomID] = next
	})
	return true, nil
}

// MarkRead zeroes the unread count of a room.
func (sm *SessionManager) MarkRead(roomID string) {
	sm.Commit(func(s *Snapshot) {
		bumpUnread(s, roomID, 0)
	})
}

// bumpUnread replaces the owning space's room slice with one where the
// room's unread count is set (n == 0) or incremented (n > 0).
func bumpUnread(s *Snapshot, roomID string, n int) {
	spaceID, ok := s.SpaceOfRoom(roomID)
	if !ok {
		return
	}
	rooms := append([]model.Room(nil), s.RoomsBySpace[spaceID]...)
	for i := range rooms {
		if rooms[i].ID != roomID {
			continue
		}
		if n == 0 {
			rooms[i].UnreadCount = 0
		} else {
			rooms[i].UnreadCount += n
		}
		break
	}
	s.RoomsBySpace[spaceID] = rooms
}

// handleEvent is the single entry point for backend events.
func (sm *SessionManager) handleEvent(ev backend.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case backend.EventTimeline:
		if ev.Timeline != nil {
			sm.reconciler.SweepEvent(ctx, *ev.Timeline)
		}
		sm.mu.Lock()
		active := sm.snap.ActiveRoomID
		sm.mu.Unlock()
		if ev.RoomID == active {
			if err := sm.RefreshTimeline(ctx, ev.RoomID); err != nil {
				sm.log.Warn("timeline refresh failed", zap.String("room_id", ev.RoomID), zap.Error(err))
			}
		} else if ev.Timeline != nil && ev.Timeline.Kind == "message" &&
			ev.Timeline.Sender != sm.port.UserID() {
			sm.Commit(func(s *Snapshot) {
				bumpUnread(s, ev.RoomID, 1)
			})
		}

	case backend.EventRoomMeta:
		if err := sm.Refresh(ctx); err != nil {
			sm.log.Warn("refresh after room meta change failed", zap.Error(err))
		}

	case backend.EventSpaceState:
		sm.mu.Lock()
		isHost := false
		for _, host := range sm.snap.StateHostBySpace {
			if host == ev.RoomID {
				isHost = true
				break
			}
		}
		sm.mu.Unlock()
		if isHost {
			if err := sm.Refresh(ctx); err != nil {
				sm.log.Warn("refresh after state change failed", zap.Error(err))
			}
		}

	case backend.EventSync:
		sm.mu.Lock()
		inError := sm.state == SessionError
		sm.mu.Unlock()
		// Only an explicit Retry leaves the error state; a recovering
		// sync stream on its own does not.
		if inError && ev.Sync != backend.SyncStateError {
			return
		}
		switch ev.Sync {
		case backend.SyncStatePrepared:
			sm.setState(SessionSyncing, "")
			if err := sm.Refresh(ctx); err != nil {
				sm.setState(SessionError, err.Error())
				return
			}
			sm.setState(SessionIdle, "")
		case backend.SyncStateSyncing:
			sm.setState(SessionSyncing, "")
		case backend.SyncStateIdle:
			sm.setState(SessionIdle, "")
		case backend.SyncStateError:
			sm.setState(SessionError, ev.Message)
			sm.Notify("error", "sync failed: "+ev.Message)
		}
	}
}

// StateHost returns the state-hosting room of a space.
func (sm *SessionManager) StateHost(spaceID string) (string, error) {
	sm.mu.Lock()
	host := sm.snap.StateHostBySpace[spaceID]
	sm.mu.Unlock()
	if host == "" {
		return "", fmt.Errorf("space %s has no state host: %w", spaceID, ErrNotFound)
	}
	return host, nil
}

// WriteSpaceState writes one custom state document to a space's state
// host.
func (sm *SessionManager) WriteSpaceState(ctx context.Context, spaceID, stateType string, content any) error {
	host, err := sm.StateHost(spaceID)
	if err != nil {
		return err
	}
	if err := sm.port.SetState(ctx, host, stateType, content); err != nil {
		return fmt.Errorf("failed to write %s: %w", stateType, err)
	}
	return nil
}
