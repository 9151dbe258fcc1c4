// Space/room index: projects the raw backend room graph into the
// snapshot's space and room lists.
//
// INVARIANTS:
// - Deleted rooms never appear
// - Only joined and invited rooms appear
// - DM-registry membership beats any room-type marker
// - Every space has a deterministic state host
package core

import (
	"encoding/json"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/model"
)

// IndexResult is the projected space/room structure plus the state host
// chosen for each space.
type IndexResult struct {
	Spaces           []model.Space
	RoomsBySpace     map[string][]model.Room
	StateHostBySpace map[string]string
}

// BuildIndex projects the raw room graph. When the graph exposes no
// grouping containers, a single synthetic aggregate space holds every
// room. Rooms whose container is unknown also land in the aggregate.
func BuildIndex(graph *backend.RoomGraph) *IndexResult {
	out := &IndexResult{
		RoomsBySpace:     make(map[string][]model.Room),
		StateHostBySpace: make(map[string]string),
	}
	if graph == nil {
		return out
	}

	known := make(map[string]bool, len(graph.Spaces))
	for _, sp := range graph.Spaces {
		known[sp.ID] = true
		out.Spaces = append(out.Spaces, model.Space{
			ID:   sp.ID,
			Name: sp.Name,
			Icon: sp.Icon,
		})
		out.RoomsBySpace[sp.ID] = nil
	}

	needAggregate := len(graph.Spaces) == 0
	for _, gr := range graph.Rooms {
		if skipRoom(gr) {
			continue
		}
		spaceID := gr.ContainerID
		if spaceID == "" || !known[spaceID] {
			spaceID = model.AggregateSpaceID
			needAggregate = true
		}
		out.RoomsBySpace[spaceID] = append(out.RoomsBySpace[spaceID], model.Room{
			ID:        gr.ID,
			SpaceID:   spaceID,
			Name:      gr.Name,
			Topic:     gr.Topic,
			Type:      resolveRoomType(gr, graph.Direct),
			IsWelcome: gr.IsWelcome,
		})
	}
	if needAggregate {
		out.Spaces = append(out.Spaces, model.Space{
			ID:   model.AggregateSpaceID,
			Name: "All Rooms",
		})
	}

	for _, sp := range graph.Spaces {
		out.StateHostBySpace[sp.ID] = stateHost(sp.ContainerRoomID, out.RoomsBySpace[sp.ID])
	}
	if needAggregate {
		out.StateHostBySpace[model.AggregateSpaceID] = stateHost("", out.RoomsBySpace[model.AggregateSpaceID])
	}
	return out
}

func skipRoom(gr backend.GraphRoom) bool {
	if gr.Deleted {
		return true
	}
	return gr.Membership != "join" && gr.Membership != "invite"
}

// resolveRoomType: DM registry first, then the room-type marker if it
// names a known type, text otherwise. The marker is remote-writable, so
// unknown values degrade to text instead of propagating.
func resolveRoomType(gr backend.GraphRoom, direct map[string]bool) model.RoomType {
	if direct[gr.ID] {
		return model.RoomTypeDirect
	}
	switch model.RoomType(gr.KindMarker) {
	case model.RoomTypeVoice:
		return model.RoomTypeVoice
	case model.RoomTypeVideo:
		return model.RoomTypeVideo
	case model.RoomTypeDirect:
		return model.RoomTypeDirect
	default:
		return model.RoomTypeText
	}
}

// stateHost picks the room hosting a space's state documents: the
// container room when the space has one, else the first non-direct
// room, else the first room at all.
func stateHost(containerRoomID string, rooms []model.Room) string {
	if containerRoomID != "" {
		return containerRoomID
	}
	for _, r := range rooms {
		if r.Type != model.RoomTypeDirect {
			return r.ID
		}
	}
	if len(rooms) > 0 {
		return rooms[0].ID
	}
	return ""
}

// DecodeLayout decodes a layout state document tolerantly. Anything
// that does not decode as a layout object yields nil, which hydration
// treats as "start fresh".
func DecodeLayout(raw json.RawMessage) *model.SpaceLayout {
	if len(raw) == 0 {
		return nil
	}
	var layout model.SpaceLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return nil
	}
	return &layout
}

// DecodeNameOverride extracts the local space display-name override.
func DecodeNameOverride(raw json.RawMessage) string {
	obj := asObject(raw)
	if obj == nil {
		return ""
	}
	name, _ := asString(field(obj, "name"))
	return name
}
