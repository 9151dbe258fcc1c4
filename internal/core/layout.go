// Layout Normalizer: pure functions over the category/room placement
// document of one space. No I/O happens here.
//
// INVARIANTS:
// - The default category always exists at position 0
// - Every non-direct room has exactly one placement in a live category
// - Orders inside a category are a dense 0-based sequence
// - Ties break stably by room name, case-insensitive
// - Direct-message rooms never appear in the layout
package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftchat/drift/internal/model"
)

// DefaultCategoryName is the display name given to the reserved
// default category when the document does not carry one.
const DefaultCategoryName = "General"

// HydrateLayout produces a valid SpaceLayout from whatever prior
// document exists (possibly nil or malformed) and the space's current
// room set. It is total: any input yields a layout satisfying the
// package invariants.
func HydrateLayout(existing *model.SpaceLayout, rooms []model.Room) *model.SpaceLayout {
	out := &model.SpaceLayout{
		Version: model.LayoutVersion,
		Rooms:   make(map[string]model.Placement),
	}

	// Carry over well-formed categories, deduplicated by id.
	seen := map[string]bool{}
	if existing != nil {
		for _, c := range existing.Categories {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out.Categories = append(out.Categories, c)
		}
	}
	if !seen[model.DefaultCategoryID] {
		out.Categories = append(out.Categories, model.Category{
			ID:   model.DefaultCategoryID,
			Name: DefaultCategoryName,
		})
	}

	// Default category pinned to the front, the rest by prior order.
	sort.SliceStable(out.Categories, func(i, j int) bool {
		a, b := out.Categories[i], out.Categories[j]
		if a.ID == model.DefaultCategoryID {
			return b.ID != model.DefaultCategoryID
		}
		if b.ID == model.DefaultCategoryID {
			return false
		}
		return a.Order < b.Order
	})
	for i := range out.Categories {
		out.Categories[i].Order = i
	}

	live := make(map[string]bool, len(out.Categories))
	for _, c := range out.Categories {
		live[c.ID] = true
	}

	// Place every non-direct room, falling back to the default category
	// when the previously-recorded one no longer exists.
	byName := make(map[string]string, len(rooms))
	for _, r := range rooms {
		if r.Type == model.RoomTypeDirect {
			continue
		}
		byName[r.ID] = r.Name

		p := model.Placement{CategoryID: model.DefaultCategoryID, Order: 1 << 20}
		if existing != nil {
			if prior, ok := existing.Rooms[r.ID]; ok && live[prior.CategoryID] {
				p.CategoryID = prior.CategoryID
				p.Order = prior.Order
			}
		}
		out.Rooms[r.ID] = p
	}

	densify(out, byName)
	return out
}

// densify rewrites per-category orders into a dense 0-based sequence,
// preserving prior relative order and breaking ties by name.
func densify(layout *model.SpaceLayout, nameOf map[string]string) {
	byCategory := make(map[string][]string)
	for id, p := range layout.Rooms {
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], id)
	}
	for _, ids := range byCategory {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := layout.Rooms[ids[i]], layout.Rooms[ids[j]]
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			na := strings.ToLower(nameOf[ids[i]])
			nbv := strings.ToLower(nameOf[ids[j]])
			if na != nbv {
				return na < nbv
			}
			return ids[i] < ids[j]
		})
		for order, id := range ids {
			layout.Rooms[id] = model.Placement{
				CategoryID: layout.Rooms[id].CategoryID,
				Order:      order,
			}
		}
	}
}

// slugify turns a category display name into a stable id.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// CreateCategory appends a new category and returns its id. The id is
// derived from the name so layouts stay readable in remote state.
func CreateCategory(layout *model.SpaceLayout, name string) (string, error) {
	id := slugify(name)
	if id == "" {
		return "", fmt.Errorf("invalid category name %q", name)
	}
	for _, c := range layout.Categories {
		if c.ID == id {
			return "", fmt.Errorf("category %q: %w", id, ErrAlreadyExists)
		}
	}
	layout.Categories = append(layout.Categories, model.Category{
		ID:    id,
		Name:  strings.TrimSpace(name),
		Order: len(layout.Categories),
	})
	return id, nil
}

// RenameCategory changes a category's display name.
func RenameCategory(layout *model.SpaceLayout, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("invalid category name")
	}
	for i, c := range layout.Categories {
		if c.ID == id {
			if c.Name == name {
				return ErrNoOp
			}
			layout.Categories[i].Name = name
			return nil
		}
	}
	return fmt.Errorf("category %q: %w", id, ErrNotFound)
}

// DeleteCategory removes a non-default category. Its rooms move into
// the default category, preserving relative order, appended after the
// rooms already there.
func DeleteCategory(layout *model.SpaceLayout, id string) error {
	if id == model.DefaultCategoryID {
		return ErrDefaultCategory
	}

	idx := -1
	for i, c := range layout.Categories {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("category %q: %w", id, ErrNotFound)
	}
	layout.Categories = append(layout.Categories[:idx], layout.Categories[idx+1:]...)
	for i := range layout.Categories {
		layout.Categories[i].Order = i
	}

	// Find the tail of the default category, then append the orphans
	// behind it in their existing relative order.
	maxDefault := -1
	for _, p := range layout.Rooms {
		if p.CategoryID == model.DefaultCategoryID && p.Order > maxDefault {
			maxDefault = p.Order
		}
	}
	var orphans []string
	for roomID, p := range layout.Rooms {
		if p.CategoryID == id {
			orphans = append(orphans, roomID)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return layout.Rooms[orphans[i]].Order < layout.Rooms[orphans[j]].Order
	})
	for i, roomID := range orphans {
		layout.Rooms[roomID] = model.Placement{
			CategoryID: model.DefaultCategoryID,
			Order:      maxDefault + 1 + i,
		}
	}
	return nil
}

// MoveCategory moves a non-default category to a new index. Position 0
// is reserved for the default category; targets clamp into [1, n-1].
func MoveCategory(layout *model.SpaceLayout, id string, toIndex int) error {
	if id == model.DefaultCategoryID {
		return ErrDefaultCategory
	}

	from := -1
	for i, c := range layout.Categories {
		if c.ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		return fmt.Errorf("category %q: %w", id, ErrNotFound)
	}

	if toIndex < 1 {
		toIndex = 1
	}
	if toIndex > len(layout.Categories)-1 {
		toIndex = len(layout.Categories) - 1
	}
	if toIndex == from {
		return ErrNoOp
	}

	c := layout.Categories[from]
	layout.Categories = append(layout.Categories[:from], layout.Categories[from+1:]...)
	layout.Categories = append(layout.Categories[:toIndex],
		append([]model.Category{c}, layout.Categories[toIndex:]...)...)
	for i := range layout.Categories {
		layout.Categories[i].Order = i
	}
	return nil
}

// MoveRoom places a room into a category at the given index. Index -1
// (or past the end) appends. The caller re-hydrates afterwards, which
// re-densifies both the source and the target category.
func MoveRoom(layout *model.SpaceLayout, roomID, categoryID string, toIndex int) error {
	current, ok := layout.Rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, ErrNotFound)
	}

	found := false
	for _, c := range layout.Categories {
		if c.ID == categoryID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("category %q: %w", categoryID, ErrNotFound)
	}

	// Count target-category occupants to clamp the index.
	count := 0
	for id, p := range layout.Rooms {
		if p.CategoryID == categoryID && id != roomID {
			count++
		}
	}
	if toIndex < 0 || toIndex > count {
		toIndex = count
	}
	if current.CategoryID == categoryID && current.Order == toIndex {
		return ErrNoOp
	}

	// Shift siblings at or after the insertion point, then drop the
	// room in. Orders may go sparse here; hydration re-densifies.
	for id, p := range layout.Rooms {
		if id != roomID && p.CategoryID == categoryID && p.Order >= toIndex {
			layout.Rooms[id] = model.Placement{CategoryID: categoryID, Order: p.Order + 1}
		}
	}
	layout.Rooms[roomID] = model.Placement{CategoryID: categoryID, Order: toIndex}
	return nil
}

// ReorderRoom moves a room within its current category.
func ReorderRoom(layout *model.SpaceLayout, roomID string, toIndex int) error {
	current, ok := layout.Rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, ErrNotFound)
	}
	return MoveRoom(layout, roomID, current.CategoryID, toIndex)
}

// ApplyLayout derives the presentation fields (Category, SortOrder) on
// a room list from a hydrated layout. Non-direct rooms sort by category
// then placement order; direct rooms carry no category and always sort
// after non-direct rooms, by name.
func ApplyLayout(rooms []model.Room, layout *model.SpaceLayout) []model.Room {
	out := append([]model.Room(nil), rooms...)

	catOrder := make(map[string]int, len(layout.Categories))
	for _, c := range layout.Categories {
		catOrder[c.ID] = c.Order
	}

	for i := range out {
		if out[i].Type == model.RoomTypeDirect {
			out[i].Category = ""
			continue
		}
		if p, ok := layout.Rooms[out[i].ID]; ok {
			out[i].Category = p.CategoryID
			out[i].SortOrder = p.Order
		} else {
			out[i].Category = model.DefaultCategoryID
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ad, bd := a.Type == model.RoomTypeDirect, b.Type == model.RoomTypeDirect
		if ad != bd {
			return bd
		}
		if ad && bd {
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an != bn {
				return an < bn
			}
			return a.ID < b.ID
		}
		if catOrder[a.Category] != catOrder[b.Category] {
			return catOrder[a.Category] < catOrder[b.Category]
		}
		return a.SortOrder < b.SortOrder
	})

	// Global sort order for the presentation layer.
	for i := range out {
		out[i].SortOrder = i
	}
	return out
}
