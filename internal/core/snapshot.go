// Snapshot: the immutable state tree handed to the presentation layer.
// Mutations go through SessionManager.Commit, which clones the tree,
// applies the change and swaps the pointer, so readers never see a
// half-applied update.
package core

import (
	"github.com/driftchat/drift/internal/model"
)

// Snapshot is one consistent view of everything the client knows.
// All slices and map values are replaced whole on write, never mutated
// in place, so a held Snapshot stays stable.
type Snapshot struct {
	Spaces []model.Space

	RoomsBySpace        map[string][]model.Room
	LayoutBySpace       map[string]*model.SpaceLayout
	SettingsBySpace     map[string]*model.ServerSettings
	OverridesBySpace    map[string]*model.PermissionOverrides
	AuditBySpace        map[string][]model.ModerationAuditEvent
	NameOverrideBySpace map[string]string

	// StateHostBySpace names the room that hosts a space's custom state
	// documents.
	StateHostBySpace map[string]string

	MessagesByRoom map[string][]model.Message

	// PaginationTokens holds the next back-pagination token per room,
	// empty string once history is exhausted.
	PaginationTokens map[string]string

	ActiveSpaceID string
	ActiveRoomID  string
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		RoomsBySpace:        make(map[string][]model.Room),
		LayoutBySpace:       make(map[string]*model.SpaceLayout),
		SettingsBySpace:     make(map[string]*model.ServerSettings),
		OverridesBySpace:    make(map[string]*model.PermissionOverrides),
		AuditBySpace:        make(map[string][]model.ModerationAuditEvent),
		NameOverrideBySpace: make(map[string]string),
		StateHostBySpace:    make(map[string]string),
		MessagesByRoom:      make(map[string][]model.Message),
		PaginationTokens:    make(map[string]string),
	}
}

// Clone copies the snapshot one map level deep. Values are shared with
// the original, which is safe because committers replace values whole.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Spaces:              s.Spaces,
		RoomsBySpace:        make(map[string][]model.Room, len(s.RoomsBySpace)),
		LayoutBySpace:       make(map[string]*model.SpaceLayout, len(s.LayoutBySpace)),
		SettingsBySpace:     make(map[string]*model.ServerSettings, len(s.SettingsBySpace)),
		OverridesBySpace:    make(map[string]*model.PermissionOverrides, len(s.OverridesBySpace)),
		AuditBySpace:        make(map[string][]model.ModerationAuditEvent, len(s.AuditBySpace)),
		NameOverrideBySpace: make(map[string]string, len(s.NameOverrideBySpace)),
		StateHostBySpace:    make(map[string]string, len(s.StateHostBySpace)),
		MessagesByRoom:      make(map[string][]model.Message, len(s.MessagesByRoom)),
		PaginationTokens:    make(map[string]string, len(s.PaginationTokens)),
		ActiveSpaceID:       s.ActiveSpaceID,
		ActiveRoomID:        s.ActiveRoomID,
	}
	for k, v := range s.RoomsBySpace {
		out.RoomsBySpace[k] = v
	}
	for k, v := range s.LayoutBySpace {
		out.LayoutBySpace[k] = v
	}
	for k, v := range s.SettingsBySpace {
		out.SettingsBySpace[k] = v
	}
	for k, v := range s.OverridesBySpace {
		out.OverridesBySpace[k] = v
	}
	for k, v := range s.AuditBySpace {
		out.AuditBySpace[k] = v
	}
	for k, v := range s.NameOverrideBySpace {
		out.NameOverrideBySpace[k] = v
	}
	for k, v := range s.StateHostBySpace {
		out.StateHostBySpace[k] = v
	}
	for k, v := range s.MessagesByRoom {
		out.MessagesByRoom[k] = v
	}
	for k, v := range s.PaginationTokens {
		out.PaginationTokens[k] = v
	}
	return out
}

// Space returns a space by id.
func (s *Snapshot) Space(id string) (model.Space, bool) {
	for _, sp := range s.Spaces {
		if sp.ID == id {
			return sp, true
		}
	}
	return model.Space{}, false
}

// SpaceName returns the display name of a space, applying any local
// name override.
func (s *Snapshot) SpaceName(id string) string {
	if name, ok := s.NameOverrideBySpace[id]; ok && name != "" {
		return name
	}
	if sp, ok := s.Space(id); ok {
		return sp.Name
	}
	return ""
}

// Room finds a room by id in any space.
func (s *Snapshot) Room(roomID string) (model.Room, bool) {
	for _, rooms := range s.RoomsBySpace {
		for _, r := range rooms {
			if r.ID == roomID {
				return r, true
			}
		}
	}
	return model.Room{}, false
}

// SpaceOfRoom returns the owning space of a room.
func (s *Snapshot) SpaceOfRoom(roomID string) (string, bool) {
	for spaceID, rooms := range s.RoomsBySpace {
		for _, r := range rooms {
			if r.ID == roomID {
				return spaceID, true
			}
		}
	}
	return "", false
}

// Settings returns the normalized settings of a space, defaults when
// none are loaded yet. Callers must not mutate the result.
func (s *Snapshot) Settings(spaceID string) *model.ServerSettings {
	if st := s.SettingsBySpace[spaceID]; st != nil {
		return st
	}
	return DefaultServerSettings()
}

// Layout returns the layout of a space, nil when none is loaded yet.
func (s *Snapshot) Layout(spaceID string) *model.SpaceLayout {
	return s.LayoutBySpace[spaceID]
}

// Overrides returns the permission overrides of a space, empty maps
// when none are loaded yet. Callers must not mutate the result.
func (s *Snapshot) Overrides(spaceID string) *model.PermissionOverrides {
	if ov := s.OverridesBySpace[spaceID]; ov != nil {
		return ov
	}
	return &model.PermissionOverrides{
		Categories: map[string]map[model.PermissionAction]model.OverrideRule{},
		Rooms:      map[string]map[model.PermissionAction]model.OverrideRule{},
	}
}

// Messages returns the ordered timeline of a room.
func (s *Snapshot) Messages(roomID string) []model.Message {
	return s.MessagesByRoom[roomID]
}
