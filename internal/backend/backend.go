// Package backend defines the backend capability interface and types.
// Backends are PLUGGABLE: the engine never branches on which backend is
// present, it only talks to the Port. Two implementations exist: the
// in-memory NullBackend (local simulation mode) and the federated
// protocol adapter in backend/federated.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driftchat/drift/internal/model"
)

// Custom state-event types layered on the federated protocol's generic
// state-event mechanism. Each is a JSON document stored at the empty
// state key (one singleton per room) and is technically writable by any
// sufficiently-privileged remote party, so every read is re-normalized.
const (
	StateTypeRoomKind     = "chat.drift.room.kind"
	StateTypeLayout       = "chat.drift.space.layout"
	StateTypeSettings     = "chat.drift.space.settings"
	StateTypeNameOverride = "chat.drift.space.name"
	StateTypeOverrides    = "chat.drift.space.overrides"
	StateTypeAudit        = "chat.drift.space.audit"
)

// SendStage describes how far a pending send has progressed.
type SendStage int

const (
	// SendStageUnknown means the transaction id is not tracked.
	SendStageUnknown SendStage = iota
	// SendStageQueued means the event has not reached the network and
	// can still be cancelled outright.
	SendStageQueued
	// SendStageSending means the event is on the wire; too late to cancel.
	SendStageSending
	// SendStageSent means the backend acknowledged the event.
	SendStageSent
)

func (s SendStage) String() string {
	switch s {
	case SendStageQueued:
		return "queued"
	case SendStageSending:
		return "sending"
	case SendStageSent:
		return "sent"
	default:
		return "unknown"
	}
}

// TimelineEvent is one event from a room timeline as the backend saw it.
type TimelineEvent struct {
	ID     string
	RoomID string
	Sender string
	// Kind is "message", "redaction" or "reaction".
	Kind string
	Body string
	// TransactionID is the protocol-level transaction marker, present
	// when this client originated the event. It is the key that lets
	// the redaction reconciler match a durable event to a local echo.
	TransactionID string
	// Redacts names the event removed by a redaction event.
	Redacts      string
	ReplyToID    string
	ThreadRootID string
	Attachments  []model.Attachment
	Reactions    map[string][]string
	Pinned       bool
	Timestamp    time.Time
}

// GraphSpace is a grouping container as exposed by the backend.
type GraphSpace struct {
	ID   string
	Name string
	Icon string
	// ContainerRoomID is the space's own container room, the preferred
	// state host for the space's custom documents.
	ContainerRoomID string
}

// GraphRoom is one joined or invited room in the backend room graph.
type GraphRoom struct {
	ID     string
	Name   string
	Topic  string
	// KindMarker is the raw custom room-type marker, untrusted.
	KindMarker string
	// ContainerID is the owning space, empty when ungrouped.
	ContainerID string
	Membership  string
	// Deleted marks a room administratively tombstoned but not yet
	// purged by the backend. Such rooms never reach the snapshot.
	Deleted   bool
	IsWelcome bool
}

// RoomGraph is the raw space/room membership graph.
type RoomGraph struct {
	Spaces []GraphSpace
	Rooms  []GraphRoom
	// Direct is the direct-message registry: room ids the user has
	// marked as DM conversations. Registry membership wins over any
	// room-type marker.
	Direct map[string]bool
}

// SyncState mirrors the backend's generic sync-state transitions.
type SyncState string

const (
	SyncStatePrepared SyncState = "prepared"
	SyncStateSyncing  SyncState = "syncing"
	SyncStateIdle     SyncState = "idle"
	SyncStateError    SyncState = "error"
)

// EventKind selects which category of backend event fired.
type EventKind int

const (
	// EventTimeline is a new timeline event for a room.
	EventTimeline EventKind = iota
	// EventRoomMeta is a room name or account-data change.
	EventRoomMeta
	// EventSpaceState is a write to one of the custom state-event types.
	EventSpaceState
	// EventSync is a generic sync-state transition.
	EventSync
)

// Event is delivered to subscribers for every backend-side change.
type Event struct {
	Kind      EventKind
	RoomID    string
	Timeline  *TimelineEvent
	StateType string
	Sync      SyncState
	Message   string
}

// EventFunc receives backend events. Callbacks run on the engine's
// logical event loop; they must not block.
type EventFunc func(Event)

// Port is the backend capability interface consumed by the engine.
// Every operation that does I/O takes a context; implementations return
// errors rather than panic so a failure never crashes the event loop.
type Port interface {
	// Connected reports whether a real remote backend is attached.
	Connected() bool

	// Offline reports the user-set offline flag. Messages composed
	// while offline are committed with status "queued".
	Offline() bool

	// UserID returns the identity this port acts as.
	UserID() string

	// Graph returns the current space/room membership graph.
	Graph(ctx context.Context) (*RoomGraph, error)

	// CreateRoom creates a room inside a container (space) and returns
	// its id.
	CreateRoom(ctx context.Context, containerID, name string, kind model.RoomType) (string, error)

	// CreateSpace creates a grouping container and returns its id.
	CreateSpace(ctx context.Context, name string) (string, error)

	// RemoveRoom removes a room from the graph. For the federated
	// backend this is only the local bookkeeping half; the irreversible
	// purge goes through the admin surface (core.PurgeCoordinator).
	RemoveRoom(ctx context.Context, roomID string) error

	// GetState reads a custom state document from a room. A missing
	// document yields (nil, nil).
	GetState(ctx context.Context, roomID, stateType string) (json.RawMessage, error)

	// SetState writes a custom state document to a room.
	SetState(ctx context.Context, roomID, stateType string, content any) error

	// RecentTimeline returns up to limit most recent events, oldest first.
	RecentTimeline(ctx context.Context, roomID string, limit int) ([]TimelineEvent, error)

	// Paginate loads older history before the given token. It returns
	// the events (oldest first) and the next token, empty when exhausted.
	Paginate(ctx context.Context, roomID, fromToken string, limit int) ([]TimelineEvent, string, error)

	// Send submits a message with a client-generated transaction id and
	// returns the event id the backend assigned.
	Send(ctx context.Context, roomID, txnID string, msg *model.Message) (string, error)

	// Redact removes a message's content by durable event id.
	Redact(ctx context.Context, roomID, eventID, reason string) (string, error)

	// React toggles the current user's reaction on an event.
	React(ctx context.Context, roomID, eventID, emoji string, on bool) error

	// SetPinned pins or unpins an event in its room.
	SetPinned(ctx context.Context, roomID, eventID string, pinned bool) error

	// SendStage reports how far a pending send has progressed.
	SendStage(roomID, txnID string) SendStage

	// CancelSend aborts a send that has not passed the cancellable
	// stage. Returns true when the echo was dropped outright.
	CancelSend(roomID, txnID string) bool

	// PowerLevel returns the resolved power level of a user in a room.
	PowerLevel(ctx context.Context, roomID, userID string) (int, error)

	// Membership returns the membership state of a user in a room.
	Membership(ctx context.Context, roomID, userID string) (string, error)

	// Upload stores content and returns a URL usable in attachments.
	Upload(ctx context.Context, name string, data []byte) (string, error)

	// Subscribe registers an event callback and returns its remover.
	// Subscribing the same logical listener twice must be harmless;
	// the session manager re-attaches on every bootstrap.
	Subscribe(fn EventFunc) (cancel func())
}
