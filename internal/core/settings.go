// Settings/Permission Normalizer: total functions that turn untrusted
// JSON-shaped state documents into complete, clamped structures.
//
// INVARIANTS:
// - Normalization never fails, whatever the input (null, arrays, strings)
// - Every numeric field lands inside its documented bounds
// - Role ids are unique; malformed entries get synthesized ids
// - Overrides only ever store allow/deny, never inherit
package core

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/driftchat/drift/internal/model"
)

// Defaults applied when a settings field is missing or malformed.
const (
	DefaultAdminLevel         = 100
	DefaultModeratorLevel     = 50
	DefaultMemberLevel        = 0
	DefaultInviteExpiryHours  = 24
	DefaultAuditRetentionDays = 90
)

// DefaultServerSettings returns the complete settings document used
// when no remote document exists at all.
func DefaultServerSettings() *model.ServerSettings {
	return &model.ServerSettings{
		Version:            model.SettingsVersion,
		AdminLevel:         DefaultAdminLevel,
		ModeratorLevel:     DefaultModeratorLevel,
		DefaultLevel:       DefaultMemberLevel,
		Roles:              []model.Role{},
		InvitePolicy:       model.InvitePolicyMembers,
		InviteExpiryHours:  DefaultInviteExpiryHours,
		ModerationPolicy:   model.ModerationPolicyStandard,
		AuditRetentionDays: DefaultAuditRetentionDays,
	}
}

// NormalizeServerSettings produces a complete, clamped settings
// structure from any JSON-shaped input. It is total: nil, null,
// arrays, strings and partial objects all yield usable settings.
func NormalizeServerSettings(raw json.RawMessage) *model.ServerSettings {
	out := DefaultServerSettings()

	doc := asObject(raw)
	if doc == nil {
		return out
	}

	if s, ok := asString(field(doc, "overview")); ok {
		out.Overview = s
	}

	roles := asObjectValue(field(doc, "roles"))
	out.AdminLevel = clampInt(intField(roles, DefaultAdminLevel, "admin_level", "adminLevel"),
		model.PowerLevelMin, model.PowerLevelMax)
	out.ModeratorLevel = clampInt(intField(roles, DefaultModeratorLevel, "moderator_level", "moderatorLevel"),
		model.PowerLevelMin, model.PowerLevelMax)
	out.DefaultLevel = clampInt(intField(roles, DefaultMemberLevel, "default_level", "defaultLevel"),
		model.PowerLevelMin, model.PowerLevelMax)
	out.Roles = normalizeRoles(field(roles, "custom"))

	if s, ok := asString(field(doc, "invite_policy", "invitePolicy")); ok {
		switch model.InvitePolicy(s) {
		case model.InvitePolicyOpen, model.InvitePolicyMembers, model.InvitePolicyAdmins:
			out.InvitePolicy = model.InvitePolicy(s)
		}
	}
	out.InviteExpiryHours = clampInt(
		intField(doc, DefaultInviteExpiryHours, "invite_expiry_hours", "inviteExpiryHours"),
		model.InviteExpiryMinHours, model.InviteExpiryMaxHours)

	if s, ok := asString(field(doc, "moderation_policy", "moderationPolicy")); ok {
		switch model.ModerationPolicy(s) {
		case model.ModerationPolicyRelaxed, model.ModerationPolicyStandard, model.ModerationPolicyStrict:
			out.ModerationPolicy = model.ModerationPolicy(s)
		}
	}
	out.AuditRetentionDays = clampInt(
		intField(doc, DefaultAuditRetentionDays, "audit_retention_days", "auditRetentionDays"),
		model.AuditRetentionMinDays, model.AuditRetentionMaxDays)

	return out
}

// normalizeRoles deduplicates custom role definitions by id, clamps
// power levels and drops grants outside the fixed action enumeration.
// Entries without a usable id get a synthesized one.
func normalizeRoles(v any) []model.Role {
	out := []model.Role{}
	list, ok := v.([]any)
	if !ok {
		return out
	}

	seen := map[string]bool{}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role := model.Role{}
		if s, ok := asString(field(obj, "id")); ok {
			role.ID = strings.TrimSpace(s)
		}
		if role.ID == "" {
			role.ID = "role-" + uuid.New().String()
		}
		if seen[role.ID] {
			continue
		}
		seen[role.ID] = true

		if s, ok := asString(field(obj, "name")); ok && strings.TrimSpace(s) != "" {
			role.Name = strings.TrimSpace(s)
		} else {
			role.Name = "Unnamed role"
		}
		if s, ok := asString(field(obj, "color")); ok {
			role.Color = s
		}
		role.PowerLevel = clampInt(intField(obj, DefaultMemberLevel, "power_level", "powerLevel"),
			model.PowerLevelMin, model.PowerLevelMax)

		if grants, ok := field(obj, "grants").(map[string]any); ok {
			for k, gv := range grants {
				action := model.PermissionAction(k)
				if !model.KnownAction(action) {
					continue
				}
				b, ok := gv.(bool)
				if !ok {
					continue
				}
				if role.Grants == nil {
					role.Grants = make(map[model.PermissionAction]bool)
				}
				role.Grants[action] = b
			}
		}
		out = append(out, role)
	}
	return out
}

// SettingsToWire encodes settings into the state-document wire shape.
// The wire shape nests power levels under "roles" so privileged remote
// parties editing raw state see one coherent roles block.
func SettingsToWire(s *model.ServerSettings) map[string]any {
	custom := make([]any, 0, len(s.Roles))
	for _, r := range s.Roles {
		role := map[string]any{
			"id":          r.ID,
			"name":        r.Name,
			"power_level": r.PowerLevel,
		}
		if r.Color != "" {
			role["color"] = r.Color
		}
		if len(r.Grants) > 0 {
			grants := make(map[string]any, len(r.Grants))
			for a, b := range r.Grants {
				grants[string(a)] = b
			}
			role["grants"] = grants
		}
		custom = append(custom, role)
	}
	return map[string]any{
		"version":  model.SettingsVersion,
		"overview": s.Overview,
		"roles": map[string]any{
			"admin_level":     s.AdminLevel,
			"moderator_level": s.ModeratorLevel,
			"default_level":   s.DefaultLevel,
			"custom":          custom,
		},
		"invite_policy":        string(s.InvitePolicy),
		"invite_expiry_hours":  s.InviteExpiryHours,
		"moderation_policy":    string(s.ModerationPolicy),
		"audit_retention_days": s.AuditRetentionDays,
	}
}

// ClampSettings re-normalizes an already-typed settings structure. The
// façade runs every save through this so locally-built settings obey
// the same bounds as remote ones.
func ClampSettings(s *model.ServerSettings) *model.ServerSettings {
	raw, err := json.Marshal(SettingsToWire(s))
	if err != nil {
		return DefaultServerSettings()
	}
	return NormalizeServerSettings(raw)
}

// NormalizeOverrides produces a compacted override document from any
// JSON-shaped input. Only explicit allow/deny rules on known actions
// survive; everything else means inherit and is dropped.
func NormalizeOverrides(raw json.RawMessage) *model.PermissionOverrides {
	out := &model.PermissionOverrides{
		Categories: make(map[string]map[model.PermissionAction]model.OverrideRule),
		Rooms:      make(map[string]map[model.PermissionAction]model.OverrideRule),
	}

	doc := asObject(raw)
	if doc == nil {
		return out
	}
	normalizeOverrideScope(field(doc, "categories"), out.Categories)
	normalizeOverrideScope(field(doc, "rooms"), out.Rooms)
	return out
}

func normalizeOverrideScope(v any, dst map[string]map[model.PermissionAction]model.OverrideRule) {
	scope, ok := v.(map[string]any)
	if !ok {
		return
	}
	for id, rulesAny := range scope {
		rules, ok := rulesAny.(map[string]any)
		if !ok || id == "" {
			continue
		}
		for k, rv := range rules {
			action := model.PermissionAction(k)
			if !model.KnownAction(action) {
				continue
			}
			s, ok := rv.(string)
			if !ok {
				continue
			}
			rule := model.OverrideRule(s)
			if rule != model.OverrideAllow && rule != model.OverrideDeny {
				continue
			}
			if dst[id] == nil {
				dst[id] = make(map[model.PermissionAction]model.OverrideRule)
			}
			dst[id][action] = rule
		}
	}
}

// OverridesToWire encodes an override document for state storage.
func OverridesToWire(o *model.PermissionOverrides) map[string]any {
	encode := func(scope map[string]map[model.PermissionAction]model.OverrideRule) map[string]any {
		out := make(map[string]any, len(scope))
		for id, rules := range scope {
			if len(rules) == 0 {
				continue
			}
			m := make(map[string]any, len(rules))
			for a, r := range rules {
				m[string(a)] = string(r)
			}
			out[id] = m
		}
		return out
	}
	return map[string]any{
		"categories": encode(o.Categories),
		"rooms":      encode(o.Rooms),
	}
}

// --- tolerant JSON helpers ---

// asObject decodes raw into a map, returning nil for anything that is
// not a JSON object (null, arrays, strings, numbers, garbage).
func asObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	obj, _ := v.(map[string]any)
	return obj
}

func asObjectValue(v any) map[string]any {
	obj, _ := v.(map[string]any)
	return obj
}

// field returns the first present key from a decoded object. Multiple
// keys tolerate both snake_case and camelCase remote writers.
func field(obj map[string]any, keys ...string) any {
	if obj == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// intField reads a numeric field, falling back to def for anything
// non-numeric (the "nope" defense).
func intField(obj map[string]any, def int, keys ...string) int {
	v := field(obj, keys...)
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return int(f)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
