// Package federated adapts a federated chat protocol client to the
// engine's backend Port. The protocol SDK is consumed through the
// ProtocolClient interface so tests can run against a fake; everything
// read from the wire is treated as untrusted and re-normalized by the
// engine on every read.
package federated

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// ProtocolClient is the slice of the protocol SDK the adapter needs.
type ProtocolClient interface {
	UserID() string

	// RoomGraph returns the joined/invited room graph including space
	// containers and the DM registry from account data.
	RoomGraph(ctx context.Context) (*backend.RoomGraph, error)

	CreateRoom(ctx context.Context, containerID, name, kindMarker string) (string, error)
	CreateSpace(ctx context.Context, name string) (string, error)

	// LeaveRoom leaves and forgets a room locally. The server-side hard
	// delete is a separate admin operation.
	LeaveRoom(ctx context.Context, roomID string) error

	StateEvent(ctx context.Context, roomID, eventType string) (json.RawMessage, error)
	SendStateEvent(ctx context.Context, roomID, eventType string, content any) error

	RecentMessages(ctx context.Context, roomID string, limit int) ([]backend.TimelineEvent, error)
	MessagesBefore(ctx context.Context, roomID, fromToken string, limit int) ([]backend.TimelineEvent, string, error)

	SendMessage(ctx context.Context, roomID, txnID string, msg *model.Message) (string, error)
	RedactEvent(ctx context.Context, roomID, eventID, reason string) (string, error)
	SetReaction(ctx context.Context, roomID, eventID, emoji string, on bool) error
	SetPinned(ctx context.Context, roomID, eventID string, pinned bool) error

	// PendingStage / CancelPending expose the SDK's transaction queue,
	// the window in which a send can still be pulled back.
	PendingStage(roomID, txnID string) backend.SendStage
	CancelPending(roomID, txnID string) bool

	PowerLevel(ctx context.Context, roomID, userID string) (int, error)
	Membership(ctx context.Context, roomID, userID string) (string, error)

	UploadMedia(ctx context.Context, name string, data []byte) (string, error)

	OnEvent(fn backend.EventFunc) (cancel func())
}

// FederatedBackend implements backend.Port over a ProtocolClient.
type FederatedBackend struct {
	client  ProtocolClient
	offline atomic.Bool
}

// New wraps a protocol client as a Port.
func New(client ProtocolClient) *FederatedBackend {
	return &FederatedBackend{client: client}
}

// Connected reports true: a federated backend is by definition remote.
func (fb *FederatedBackend) Connected() bool { return true }

// Offline reports the user-set offline flag.
func (fb *FederatedBackend) Offline() bool { return fb.offline.Load() }

// SetOffline flips the offline flag. The SDK's own send queue keeps
// accepting messages; the flag only changes how the engine labels them.
func (fb *FederatedBackend) SetOffline(offline bool) { fb.offline.Store(offline) }

func (fb *FederatedBackend) UserID() string { return fb.client.UserID() }

func (fb *FederatedBackend) Graph(ctx context.Context) (*backend.RoomGraph, error) {
	graph, err := fb.client.RoomGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load room graph: %w", err)
	}
	if graph.Direct == nil {
		graph.Direct = make(map[string]bool)
	}
	return graph, nil
}

func (fb *FederatedBackend) CreateRoom(ctx context.Context, containerID, name string, kind model.RoomType) (string, error) {
	marker := ""
	if kind != model.RoomTypeText {
		marker = string(kind)
	}
	return fb.client.CreateRoom(ctx, containerID, name, marker)
}

func (fb *FederatedBackend) CreateSpace(ctx context.Context, name string) (string, error) {
	return fb.client.CreateSpace(ctx, name)
}

// RemoveRoom is the local half of a delete: leave and forget. The
// irreversible server-side purge goes through the admin surface.
func (fb *FederatedBackend) RemoveRoom(ctx context.Context, roomID string) error {
	return fb.client.LeaveRoom(ctx, roomID)
}

// GetState reads a custom state document. The SDK reports a missing
// document as an empty payload; both map to (nil, nil) here.
func (fb *FederatedBackend) GetState(ctx context.Context, roomID, stateType string) (json.RawMessage, error) {
	raw, err := fb.client.StateEvent(ctx, roomID, stateType)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func (fb *FederatedBackend) SetState(ctx context.Context, roomID, stateType string, content any) error {
	return fb.client.SendStateEvent(ctx, roomID, stateType, content)
}

func (fb *FederatedBackend) RecentTimeline(ctx context.Context, roomID string, limit int) ([]backend.TimelineEvent, error) {
	return fb.client.RecentMessages(ctx, roomID, limit)
}

func (fb *FederatedBackend) Paginate(ctx context.Context, roomID, fromToken string, limit int) ([]backend.TimelineEvent, string, error) {
	return fb.client.MessagesBefore(ctx, roomID, fromToken, limit)
}

func (fb *FederatedBackend) Send(ctx context.Context, roomID, txnID string, msg *model.Message) (string, error) {
	return fb.client.SendMessage(ctx, roomID, txnID, msg)
}

func (fb *FederatedBackend) Redact(ctx context.Context, roomID, eventID, reason string) (string, error) {
	return fb.client.RedactEvent(ctx, roomID, eventID, reason)
}

func (fb *FederatedBackend) React(ctx context.Context, roomID, eventID, emoji string, on bool) error {
	return fb.client.SetReaction(ctx, roomID, eventID, emoji, on)
}

func (fb *FederatedBackend) SetPinned(ctx context.Context, roomID, eventID string, pinned bool) error {
	return fb.client.SetPinned(ctx, roomID, eventID, pinned)
}

func (fb *FederatedBackend) SendStage(roomID, txnID string) backend.SendStage {
	return fb.client.PendingStage(roomID, txnID)
}

func (fb *FederatedBackend) CancelSend(roomID, txnID string) bool {
	return fb.client.CancelPending(roomID, txnID)
}

func (fb *FederatedBackend) PowerLevel(ctx context.Context, roomID, userID string) (int, error) {
	return fb.client.PowerLevel(ctx, roomID, userID)
}

func (fb *FederatedBackend) Membership(ctx context.Context, roomID, userID string) (string, error) {
	return fb.client.Membership(ctx, roomID, userID)
}

func (fb *FederatedBackend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	return fb.client.UploadMedia(ctx, name, data)
}

func (fb *FederatedBackend) Subscribe(fn backend.EventFunc) (cancel func()) {
	return fb.client.OnEvent(fn)
}
