package core

import (
	"testing"

	"github.com/driftchat/drift/internal/model"
)

func memberInput(power int) PermissionInput {
	return PermissionInput{
		UserID:     "@you:local",
		Membership: "join",
		PowerLevel: power,
		Settings:   DefaultServerSettings(),
	}
}

func TestResolvePermission_MembershipDeniesEverything(t *testing.T) {
	in := memberInput(model.PowerLevelMax)
	in.Membership = "invite"
	// Even a room-level allow cannot override a non-join membership.
	in.RoomRules = map[model.PermissionAction]model.OverrideRule{
		model.ActionSendMessage: model.OverrideAllow,
	}

	d := ResolvePermission(in, model.ActionSendMessage)
	if d.Allowed || d.Source != "membership" {
		t.Errorf("non-join membership should deny, got %+v", d)
	}
}

func TestResolvePermission_RoomOverrideBeatsCategory(t *testing.T) {
	in := memberInput(0)
	in.CategoryRules = map[model.PermissionAction]model.OverrideRule{
		model.ActionSendMessage: model.OverrideDeny,
	}
	in.RoomRules = map[model.PermissionAction]model.OverrideRule{
		model.ActionSendMessage: model.OverrideAllow,
	}

	d := ResolvePermission(in, model.ActionSendMessage)
	if !d.Allowed || d.Source != "room_override" {
		t.Errorf("room override should win, got %+v", d)
	}
}

func TestResolvePermission_CategoryOverrideBeatsRoles(t *testing.T) {
	in := memberInput(model.PowerLevelMax)
	in.CategoryRules = map[model.PermissionAction]model.OverrideRule{
		model.ActionSendMessage: model.OverrideDeny,
	}

	d := ResolvePermission(in, model.ActionSendMessage)
	if d.Allowed || d.Source != "category_override" {
		t.Errorf("category deny should beat full power, got %+v", d)
	}
}

func TestResolvePermission_HighestQualifyingRoleWins(t *testing.T) {
	in := memberInput(60)
	in.Settings.Roles = []model.Role{
		{ID: "member", PowerLevel: 10, Grants: map[model.PermissionAction]bool{
			model.ActionManageMessages: false,
		}},
		{ID: "mod", PowerLevel: 50, Grants: map[model.PermissionAction]bool{
			model.ActionManageMessages: true,
		}},
		{ID: "admin", PowerLevel: 90, Grants: map[model.PermissionAction]bool{
			model.ActionManageMessages: false,
		}},
	}

	// Power 60 qualifies for member and mod but not admin; mod is the
	// highest qualifying role mentioning the action.
	d := ResolvePermission(in, model.ActionManageMessages)
	if !d.Allowed || d.Source != "role_grant" {
		t.Errorf("mod grant should apply, got %+v", d)
	}

	// Power 90 qualifies for the admin role, whose deny outranks mod.
	in.PowerLevel = 90
	d = ResolvePermission(in, model.ActionManageMessages)
	if d.Allowed || d.Source != "role_grant" {
		t.Errorf("admin deny should outrank mod allow, got %+v", d)
	}
}

func TestResolvePermission_RoleSilenceFallsToPowerLevel(t *testing.T) {
	in := memberInput(50)
	in.Settings.Roles = []model.Role{
		{ID: "mod", PowerLevel: 50, Grants: map[model.PermissionAction]bool{
			model.ActionManageMessages: true,
		}},
	}

	// The role says nothing about manage_server, so the built-in
	// threshold decides.
	d := ResolvePermission(in, model.ActionManageServer)
	if d.Allowed || d.Source != "power_level" {
		t.Errorf("undecided action should fall to power level, got %+v", d)
	}
}

func TestResolvePermission_BuiltinThresholds(t *testing.T) {
	cases := []struct {
		action  model.PermissionAction
		power   int
		allowed bool
	}{
		{model.ActionSendMessage, 0, true},
		{model.ActionPinMessages, DefaultModeratorLevel - 1, false},
		{model.ActionPinMessages, DefaultModeratorLevel, true},
		{model.ActionKickMembers, DefaultModeratorLevel, true},
		{model.ActionManageServer, DefaultModeratorLevel, false},
		{model.ActionManageServer, DefaultAdminLevel, true},
		{model.ActionManageRoles, DefaultAdminLevel - 1, false},
	}
	for _, tc := range cases {
		d := ResolvePermission(memberInput(tc.power), tc.action)
		if d.Allowed != tc.allowed {
			t.Errorf("%s at power %d: got %v, want %v", tc.action, tc.power, d.Allowed, tc.allowed)
		}
	}
}

func TestResolvePermission_InvitePolicy(t *testing.T) {
	in := memberInput(DefaultModeratorLevel)
	in.Settings.InvitePolicy = model.InvitePolicyAdmins
	if d := ResolvePermission(in, model.ActionCreateInvite); d.Allowed {
		t.Errorf("admins-only invite policy should deny a moderator, got %+v", d)
	}

	in.Settings.InvitePolicy = model.InvitePolicyOpen
	in.PowerLevel = 0
	if d := ResolvePermission(in, model.ActionCreateInvite); !d.Allowed {
		t.Errorf("open invite policy should allow everyone, got %+v", d)
	}
}

func TestResolveCapabilities_CoversEveryAction(t *testing.T) {
	caps := ResolveCapabilities(memberInput(model.PowerLevelMax))
	if len(caps) != len(model.AllActions) {
		t.Fatalf("expected %d decisions, got %d", len(model.AllActions), len(caps))
	}
	for _, a := range model.AllActions {
		d, ok := caps[a]
		if !ok {
			t.Errorf("missing decision for %s", a)
			continue
		}
		if !d.Allowed {
			t.Errorf("full power should allow %s, denied by %s", a, d.Source)
		}
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(nil, DefaultAdminLevel) {
		t.Error("nil settings should use the default admin level")
	}
	if IsAdmin(nil, DefaultAdminLevel-1) {
		t.Error("below-threshold power is not admin")
	}
	custom := DefaultServerSettings()
	custom.AdminLevel = 80
	if !IsAdmin(custom, 80) {
		t.Error("custom admin level should apply")
	}
}
