// Moderation audit log: append-only, newest first, capped.
package core

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/drift/internal/model"
)

// NewAuditEvent builds a log entry for a moderation action.
func NewAuditEvent(action, actorID, target, sourceEventID string) model.ModerationAuditEvent {
	return model.ModerationAuditEvent{
		ID:            uuid.New().String(),
		Action:        action,
		ActorID:       actorID,
		Target:        target,
		Timestamp:     time.Now(),
		SourceEventID: sourceEventID,
	}
}

// AppendAudit prepends an entry and enforces the cap. The input slice
// is not mutated.
func AppendAudit(log []model.ModerationAuditEvent, ev model.ModerationAuditEvent) []model.ModerationAuditEvent {
	out := make([]model.ModerationAuditEvent, 0, len(log)+1)
	out = append(out, ev)
	out = append(out, log...)
	if len(out) > model.AuditLogCap {
		out = out[:model.AuditLogCap]
	}
	return out
}

// NormalizeAuditLog produces a valid audit log from any JSON-shaped
// state document. Malformed entries are dropped; entries without an id
// get one synthesized so dedup stays possible downstream.
func NormalizeAuditLog(raw json.RawMessage) []model.ModerationAuditEvent {
	out := []model.ModerationAuditEvent{}

	doc := asObject(raw)
	if doc == nil {
		return out
	}
	list, ok := field(doc, "entries").([]any)
	if !ok {
		return out
	}

	seen := map[string]bool{}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var ev model.ModerationAuditEvent
		if s, ok := asString(field(obj, "id")); ok {
			ev.ID = s
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		action, ok := asString(field(obj, "action"))
		if !ok || action == "" {
			continue
		}
		ev.Action = action
		if s, ok := asString(field(obj, "actor_id", "actorId")); ok {
			ev.ActorID = s
		}
		if s, ok := asString(field(obj, "target")); ok {
			ev.Target = s
		}
		if s, ok := asString(field(obj, "source_event_id", "sourceEventId")); ok {
			ev.SourceEventID = s
		}
		if s, ok := asString(field(obj, "timestamp")); ok {
			ev.Timestamp, _ = time.Parse(time.RFC3339Nano, s)
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > model.AuditLogCap {
		out = out[:model.AuditLogCap]
	}
	return out
}

// AuditToWire encodes the audit log for state storage.
func AuditToWire(log []model.ModerationAuditEvent) map[string]any {
	entries := make([]any, 0, len(log))
	for _, ev := range log {
		entry := map[string]any{
			"id":        ev.ID,
			"action":    ev.Action,
			"actor_id":  ev.ActorID,
			"target":    ev.Target,
			"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if ev.SourceEventID != "" {
			entry["source_event_id"] = ev.SourceEventID
		}
		entries = append(entries, entry)
	}
	return map[string]any{"entries": entries}
}
