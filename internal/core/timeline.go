// Timeline Merge: reconciles local and remote message sets.
//
// INVARIANTS:
// - Merge is by id, later write wins for the same id
// - Removals apply after the merge
// - The result is totally ordered by (timestamp, id)
// - Merging the same remote snapshot twice is a no-op
package core

import (
	"sort"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// MergeMessages merges incoming remote messages into the existing local
// set, removes any message whose id is in removeIDs, and returns a
// deterministically ordered list.
func MergeMessages(existing, incoming []model.Message, removeIDs []string) []model.Message {
	byID := make(map[string]model.Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}
	for _, id := range removeIDs {
		delete(byID, id)
	}

	out := make([]model.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MessagesFromEvents converts raw timeline events into messages plus
// the ids removed by redaction events. A durable message carrying a
// transaction marker also retires the local echo it replaces. Reaction-
// kind events mutate nothing here; backends fold reactions into the
// message events they target before handing the timeline over.
func MessagesFromEvents(events []backend.TimelineEvent) (messages []model.Message, removeIDs []string) {
	for _, ev := range events {
		switch ev.Kind {
		case "redaction":
			if ev.Redacts != "" {
				removeIDs = append(removeIDs, ev.Redacts)
			}
		case "message":
			if ev.TransactionID != "" && !model.IsLocalEchoID(ev.ID) {
				removeIDs = append(removeIDs, model.LocalEchoID(ev.RoomID, ev.TransactionID))
			}
			messages = append(messages, model.Message{
				ID:           ev.ID,
				RoomID:       ev.RoomID,
				AuthorID:     ev.Sender,
				Body:         ev.Body,
				Timestamp:    ev.Timestamp,
				Reactions:    ev.Reactions,
				Attachments:  ev.Attachments,
				ReplyToID:    ev.ReplyToID,
				ThreadRootID: ev.ThreadRootID,
				Pinned:       ev.Pinned,
				Status:       model.MessageStatusSent,
			})
		}
	}
	return messages, removeIDs
}

// FindDurableID searches a timeline for the durable event id carrying
// the given transaction marker. Local-echo ids do not count: the point
// is to find the backend-assigned replacement for one.
func FindDurableID(events []backend.TimelineEvent, transactionID string) (string, bool) {
	for _, ev := range events {
		if ev.TransactionID == transactionID && ev.ID != "" && !model.IsLocalEchoID(ev.ID) {
			return ev.ID, true
		}
	}
	return "", false
}
