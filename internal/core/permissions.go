// Permission resolution: turns power levels, role settings and
// category/room override rules into an explainable allow/deny.
//
// Precedence, highest first:
//  1. room override
//  2. category override
//  3. role-settings-derived grant
//  4. built-in default from power-level thresholds
package core

import (
	"github.com/driftchat/drift/internal/model"
)

// PermissionInput carries everything resolution needs. The session
// manager fills it from the snapshot; in local mode the power level is
// boosted to full before it gets here.
type PermissionInput struct {
	UserID     string
	Membership string
	PowerLevel int
	Settings   *model.ServerSettings
	// CategoryRules / RoomRules are the override rules of the room's
	// category and the room itself, already compacted (no inherits).
	CategoryRules map[model.PermissionAction]model.OverrideRule
	RoomRules     map[model.PermissionAction]model.OverrideRule
}

// PermissionDecision is one explainable allow/deny.
type PermissionDecision struct {
	Action  model.PermissionAction
	Allowed bool
	// Source names the precedence level that decided: room_override,
	// category_override, role_grant, power_level or membership.
	Source string
}

// Capabilities is the full capability snapshot for one user in one room.
type Capabilities map[model.PermissionAction]PermissionDecision

// ResolvePermission decides a single action.
func ResolvePermission(in PermissionInput, action model.PermissionAction) PermissionDecision {
	if in.Membership != "join" {
		return PermissionDecision{Action: action, Allowed: false, Source: "membership"}
	}

	if rule, ok := in.RoomRules[action]; ok {
		return PermissionDecision{Action: action, Allowed: rule == model.OverrideAllow, Source: "room_override"}
	}
	if rule, ok := in.CategoryRules[action]; ok {
		return PermissionDecision{Action: action, Allowed: rule == model.OverrideAllow, Source: "category_override"}
	}

	settings := in.Settings
	if settings == nil {
		settings = DefaultServerSettings()
	}

	// A role's grants apply to users whose power level reaches the
	// role's own level. The highest such role mentioning the action
	// wins.
	if decided, allowed := roleGrant(settings, in.PowerLevel, action); decided {
		return PermissionDecision{Action: action, Allowed: allowed, Source: "role_grant"}
	}

	return PermissionDecision{
		Action:  action,
		Allowed: in.PowerLevel >= builtinThreshold(settings, action),
		Source:  "power_level",
	}
}

// ResolveCapabilities decides every action in the fixed enumeration.
func ResolveCapabilities(in PermissionInput) Capabilities {
	caps := make(Capabilities, len(model.AllActions))
	for _, a := range model.AllActions {
		caps[a] = ResolvePermission(in, a)
	}
	return caps
}

// roleGrant finds the explicit grant, if any, from the highest-level
// role the user qualifies for that mentions the action.
func roleGrant(settings *model.ServerSettings, power int, action model.PermissionAction) (decided, allowed bool) {
	best := -1
	for _, role := range settings.Roles {
		if power < role.PowerLevel || role.PowerLevel < best {
			continue
		}
		v, ok := role.Grants[action]
		if !ok {
			continue
		}
		best = role.PowerLevel
		decided = true
		allowed = v
	}
	return decided, allowed
}

// builtinThreshold maps each action to the minimum power level that
// allows it by default.
func builtinThreshold(settings *model.ServerSettings, action model.PermissionAction) int {
	switch action {
	case model.ActionSendMessage, model.ActionAttachFiles:
		return settings.DefaultLevel
	case model.ActionCreateInvite:
		switch settings.InvitePolicy {
		case model.InvitePolicyOpen:
			return settings.DefaultLevel
		case model.InvitePolicyAdmins:
			return settings.AdminLevel
		default:
			return settings.DefaultLevel
		}
	case model.ActionPinMessages, model.ActionMentionEveryone,
		model.ActionManageMessages, model.ActionKickMembers:
		return settings.ModeratorLevel
	case model.ActionBanMembers, model.ActionManageChannels:
		return settings.ModeratorLevel
	case model.ActionManageRoles, model.ActionManageServer:
		return settings.AdminLevel
	default:
		return model.PowerLevelMax
	}
}

// IsAdmin reports whether a power level clears the admin threshold.
// Irreversible operations (room purge) require this on top of any role
// grant: a role-definition-only grant without a durable power level is
// deliberately not enough to destroy data.
func IsAdmin(settings *model.ServerSettings, power int) bool {
	if settings == nil {
		settings = DefaultServerSettings()
	}
	return power >= settings.AdminLevel
}
