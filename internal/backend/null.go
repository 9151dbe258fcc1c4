// NullBackend: the "no backend" implementation of Port. Everything
// lives in process memory and every write succeeds immediately, which
// is exactly what local simulation mode needs. Ids are engine-generated.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/drift/internal/model"
)

// NullBackend is the in-memory Port used when no remote backend is
// configured. Safe for concurrent use.
type NullBackend struct {
	mu      sync.RWMutex
	userID  string
	offline bool

	spaces    []GraphSpace
	rooms     []GraphRoom
	direct    map[string]bool
	state     map[string]map[string]json.RawMessage
	timelines map[string][]TimelineEvent
	// pending holds sends composed while offline, in order. They stay
	// cancellable until the offline flag clears and they flush.
	pending []TimelineEvent

	subs   map[int]EventFunc
	nextID int
}

// NewNullBackend creates a local backend seeded with one space and a
// welcome room, mirroring what first sync against a fresh server yields.
func NewNullBackend(userID string) *NullBackend {
	nb := &NullBackend{
		userID:    userID,
		direct:    make(map[string]bool),
		state:     make(map[string]map[string]json.RawMessage),
		timelines: make(map[string][]TimelineEvent),
		subs:      make(map[int]EventFunc),
	}

	spaceID := "!local-space"
	welcomeID := "!local-welcome"
	nb.spaces = []GraphSpace{{
		ID:              spaceID,
		Name:            "Local Space",
		ContainerRoomID: welcomeID,
	}}
	nb.rooms = []GraphRoom{{
		ID:          welcomeID,
		Name:        "welcome",
		Topic:       "Start here",
		ContainerID: spaceID,
		Membership:  "join",
		IsWelcome:   true,
	}}
	return nb
}

// Connected always reports false: there is no remote backend.
func (nb *NullBackend) Connected() bool { return false }

// Offline reports the user-set offline flag.
func (nb *NullBackend) Offline() bool {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.offline
}

// SetOffline flips the offline flag. Messages sent while offline are
// committed with status "queued"; clearing the flag flushes them into
// their timelines.
func (nb *NullBackend) SetOffline(offline bool) {
	nb.mu.Lock()
	nb.offline = offline
	var flushed []TimelineEvent
	if !offline && len(nb.pending) > 0 {
		for _, ev := range nb.pending {
			ev.ID = "$" + uuid.New().String()
			nb.timelines[ev.RoomID] = append(nb.timelines[ev.RoomID], ev)
			flushed = append(flushed, ev)
		}
		nb.pending = nil
	}
	nb.mu.Unlock()

	for _, ev := range flushed {
		ev := ev
		nb.emit(Event{Kind: EventTimeline, RoomID: ev.RoomID, Timeline: &ev})
	}
}

// UserID returns the local identity.
func (nb *NullBackend) UserID() string { return nb.userID }

// Graph returns a copy of the in-memory room graph.
func (nb *NullBackend) Graph(ctx context.Context) (*RoomGraph, error) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()

	g := &RoomGraph{
		Spaces: append([]GraphSpace(nil), nb.spaces...),
		Rooms:  append([]GraphRoom(nil), nb.rooms...),
		Direct: make(map[string]bool, len(nb.direct)),
	}
	for id, v := range nb.direct {
		g.Direct[id] = v
	}
	return g, nil
}

// CreateRoom adds a room to the graph and returns its generated id.
func (nb *NullBackend) CreateRoom(ctx context.Context, containerID, name string, kind model.RoomType) (string, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	id := "!" + uuid.New().String()
	marker := ""
	if kind != model.RoomTypeText {
		marker = string(kind)
	}
	nb.rooms = append(nb.rooms, GraphRoom{
		ID:          id,
		Name:        name,
		KindMarker:  marker,
		ContainerID: containerID,
		Membership:  "join",
	})
	if kind == model.RoomTypeDirect {
		nb.direct[id] = true
	}
	return id, nil
}

// CreateSpace adds a grouping container backed by a container room.
func (nb *NullBackend) CreateSpace(ctx context.Context, name string) (string, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	id := "!" + uuid.New().String()
	containerID := "!" + uuid.New().String()
	nb.spaces = append(nb.spaces, GraphSpace{
		ID:              id,
		Name:            name,
		ContainerRoomID: containerID,
	})
	nb.rooms = append(nb.rooms, GraphRoom{
		ID:          containerID,
		Name:        "general",
		ContainerID: id,
		Membership:  "join",
		IsWelcome:   true,
	})
	return id, nil
}

// RemoveRoom drops a room, its timeline and its state documents.
func (nb *NullBackend) RemoveRoom(ctx context.Context, roomID string) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	kept := nb.rooms[:0]
	found := false
	for _, r := range nb.rooms {
		if r.ID == roomID {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return fmt.Errorf("room not found: %s", roomID)
	}
	nb.rooms = kept
	delete(nb.timelines, roomID)
	delete(nb.state, roomID)
	delete(nb.direct, roomID)
	return nil
}

// GetState reads a state document; missing documents yield (nil, nil).
func (nb *NullBackend) GetState(ctx context.Context, roomID, stateType string) (json.RawMessage, error) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()

	docs, ok := nb.state[roomID]
	if !ok {
		return nil, nil
	}
	return docs[stateType], nil
}

// SetState writes a state document and notifies subscribers.
func (nb *NullBackend) SetState(ctx context.Context, roomID, stateType string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}

	nb.mu.Lock()
	if nb.state[roomID] == nil {
		nb.state[roomID] = make(map[string]json.RawMessage)
	}
	nb.state[roomID][stateType] = raw
	nb.mu.Unlock()

	nb.emit(Event{Kind: EventSpaceState, RoomID: roomID, StateType: stateType})
	return nil
}

// RecentTimeline returns up to limit most recent events, oldest first.
func (nb *NullBackend) RecentTimeline(ctx context.Context, roomID string, limit int) ([]TimelineEvent, error) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()

	events := nb.timelines[roomID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]TimelineEvent(nil), events...), nil
}

// Paginate has nothing older to serve in local mode: the whole timeline
// is already in memory.
func (nb *NullBackend) Paginate(ctx context.Context, roomID, fromToken string, limit int) ([]TimelineEvent, string, error) {
	return nil, "", nil
}

// Send appends a message event. Online sends are acknowledged
// synchronously; offline sends queue and stay cancellable until the
// offline flag clears.
func (nb *NullBackend) Send(ctx context.Context, roomID, txnID string, msg *model.Message) (string, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	ev := TimelineEvent{
		RoomID:        roomID,
		Sender:        nb.userID,
		Kind:          "message",
		Body:          msg.Body,
		TransactionID: txnID,
		ReplyToID:     msg.ReplyToID,
		ThreadRootID:  msg.ThreadRootID,
		Attachments:   msg.Attachments,
		Timestamp:     msg.Timestamp,
	}
	if nb.offline {
		nb.pending = append(nb.pending, ev)
		return model.LocalEchoID(roomID, txnID), nil
	}

	ev.ID = "$" + uuid.New().String()
	nb.timelines[roomID] = append(nb.timelines[roomID], ev)
	emitted := ev
	go nb.emit(Event{Kind: EventTimeline, RoomID: roomID, Timeline: &emitted})
	return ev.ID, nil
}

// Redact drops the target event from the timeline and records a
// redaction event in its place.
func (nb *NullBackend) Redact(ctx context.Context, roomID, eventID, reason string) (string, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	events := nb.timelines[roomID]
	kept := events[:0]
	found := false
	for _, ev := range events {
		if ev.ID == eventID {
			found = true
			continue
		}
		kept = append(kept, ev)
	}
	if !found {
		return "", fmt.Errorf("event not found: %s", eventID)
	}

	id := "$" + uuid.New().String()
	red := TimelineEvent{
		ID:        id,
		RoomID:    roomID,
		Sender:    nb.userID,
		Kind:      "redaction",
		Redacts:   eventID,
		Body:      reason,
		Timestamp: time.Now(),
	}
	nb.timelines[roomID] = append(kept, red)
	go nb.emit(Event{Kind: EventTimeline, RoomID: roomID, Timeline: &red})
	return id, nil
}

// React toggles the current user's reaction on an event in place.
func (nb *NullBackend) React(ctx context.Context, roomID, eventID, emoji string, on bool) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	events := nb.timelines[roomID]
	for i := range events {
		if events[i].ID != eventID {
			continue
		}
		if events[i].Reactions == nil {
			events[i].Reactions = make(map[string][]string)
		}
		users := events[i].Reactions[emoji]
		idx := -1
		for j, u := range users {
			if u == nb.userID {
				idx = j
				break
			}
		}
		switch {
		case on && idx == -1:
			events[i].Reactions[emoji] = append(users, nb.userID)
		case !on && idx != -1:
			events[i].Reactions[emoji] = append(users[:idx], users[idx+1:]...)
			if len(events[i].Reactions[emoji]) == 0 {
				delete(events[i].Reactions, emoji)
			}
		}
		ev := events[i]
		go nb.emit(Event{Kind: EventTimeline, RoomID: roomID, Timeline: &ev})
		return nil
	}
	return fmt.Errorf("event not found: %s", eventID)
}

// SetPinned flips the pinned flag on an event.
func (nb *NullBackend) SetPinned(ctx context.Context, roomID, eventID string, pinned bool) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	events := nb.timelines[roomID]
	for i := range events {
		if events[i].ID == eventID {
			events[i].Pinned = pinned
			ev := events[i]
			go nb.emit(Event{Kind: EventTimeline, RoomID: roomID, Timeline: &ev})
			return nil
		}
	}
	return fmt.Errorf("event not found: %s", eventID)
}

// SendStage: a pending offline send is queued, anything already in the
// timeline is sent.
func (nb *NullBackend) SendStage(roomID, txnID string) SendStage {
	nb.mu.RLock()
	defer nb.mu.RUnlock()

	for _, ev := range nb.pending {
		if ev.RoomID == roomID && ev.TransactionID == txnID {
			return SendStageQueued
		}
	}
	for _, ev := range nb.timelines[roomID] {
		if ev.TransactionID == txnID {
			return SendStageSent
		}
	}
	return SendStageUnknown
}

// CancelSend pulls a still-pending offline send out of the queue.
func (nb *NullBackend) CancelSend(roomID, txnID string) bool {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	for i, ev := range nb.pending {
		if ev.RoomID == roomID && ev.TransactionID == txnID {
			nb.pending = append(nb.pending[:i], nb.pending[i+1:]...)
			return true
		}
	}
	return false
}

// PowerLevel boosts the local user to full power in local mode.
func (nb *NullBackend) PowerLevel(ctx context.Context, roomID, userID string) (int, error) {
	if userID == nb.userID {
		return model.PowerLevelMax, nil
	}
	return 0, nil
}

// Membership: the local user is joined to every room it can see.
func (nb *NullBackend) Membership(ctx context.Context, roomID, userID string) (string, error) {
	if userID == nb.userID {
		return "join", nil
	}
	return "leave", nil
}

// Upload stores nothing and returns a synthetic local URL.
func (nb *NullBackend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	return "local://" + uuid.New().String() + "/" + name, nil
}

// Subscribe registers an event callback.
func (nb *NullBackend) Subscribe(fn EventFunc) (cancel func()) {
	nb.mu.Lock()
	id := nb.nextID
	nb.nextID++
	nb.subs[id] = fn
	nb.mu.Unlock()

	return func() {
		nb.mu.Lock()
		delete(nb.subs, id)
		nb.mu.Unlock()
	}
}

// emit delivers an event to all subscribers in a stable order.
func (nb *NullBackend) emit(ev Event) {
	nb.mu.RLock()
	ids := make([]int, 0, len(nb.subs))
	for id := range nb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]EventFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, nb.subs[id])
	}
	nb.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
