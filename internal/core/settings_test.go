package core

import (
	"encoding/json"
	"testing"

	"github.com/driftchat/drift/internal/model"
)

func TestNormalizeServerSettings_Totality(t *testing.T) {
	inputs := []string{
		"", "null", "[]", `"a string"`, "42", "true", "{not even json",
		`{"roles": null}`, `{"roles": []}`, `{"roles": "admin"}`,
	}
	for _, in := range inputs {
		s := NormalizeServerSettings(json.RawMessage(in))
		if s == nil {
			t.Fatalf("input %q yielded nil settings", in)
		}
		if s.AdminLevel != DefaultAdminLevel {
			t.Errorf("input %q: admin level %d, want default %d", in, s.AdminLevel, DefaultAdminLevel)
		}
		if s.InviteExpiryHours != DefaultInviteExpiryHours {
			t.Errorf("input %q: invite expiry %d, want default %d", in, s.InviteExpiryHours, DefaultInviteExpiryHours)
		}
		if s.Roles == nil {
			t.Errorf("input %q: roles should be an empty slice, not nil", in)
		}
	}
}

func TestNormalizeServerSettings_NonNumericLevel(t *testing.T) {
	raw := json.RawMessage(`{"roles": {"adminLevel": "nope"}}`)
	s := NormalizeServerSettings(raw)
	if s.AdminLevel != DefaultAdminLevel {
		t.Errorf("non-numeric admin level should default to %d, got %d", DefaultAdminLevel, s.AdminLevel)
	}
}

func TestNormalizeServerSettings_BothKeyCasings(t *testing.T) {
	snake := NormalizeServerSettings(json.RawMessage(`{"roles": {"moderator_level": 70}}`))
	camel := NormalizeServerSettings(json.RawMessage(`{"roles": {"moderatorLevel": 70}}`))
	if snake.ModeratorLevel != 70 || camel.ModeratorLevel != 70 {
		t.Errorf("both casings should parse: snake=%d camel=%d",
			snake.ModeratorLevel, camel.ModeratorLevel)
	}
}

func TestNormalizeServerSettings_Clamping(t *testing.T) {
	raw := json.RawMessage(`{
		"roles": {"admin_level": 9000, "moderator_level": -5},
		"invite_expiry_hours": 0,
		"audit_retention_days": 100000
	}`)
	s := NormalizeServerSettings(raw)

	if s.AdminLevel != model.PowerLevelMax {
		t.Errorf("admin level should clamp to %d, got %d", model.PowerLevelMax, s.AdminLevel)
	}
	if s.ModeratorLevel != model.PowerLevelMin {
		t.Errorf("moderator level should clamp to %d, got %d", model.PowerLevelMin, s.ModeratorLevel)
	}
	if s.InviteExpiryHours != model.InviteExpiryMinHours {
		t.Errorf("invite expiry should clamp to %d, got %d", model.InviteExpiryMinHours, s.InviteExpiryHours)
	}
	if s.AuditRetentionDays != model.AuditRetentionMaxDays {
		t.Errorf("audit retention should clamp to %d, got %d", model.AuditRetentionMaxDays, s.AuditRetentionDays)
	}
}

func TestNormalizeServerSettings_InvalidEnumsKeepDefaults(t *testing.T) {
	raw := json.RawMessage(`{"invite_policy": "whoever", "moderation_policy": 7}`)
	s := NormalizeServerSettings(raw)
	if s.InvitePolicy != model.InvitePolicyMembers {
		t.Errorf("invalid invite policy should default, got %s", s.InvitePolicy)
	}
	if s.ModerationPolicy != model.ModerationPolicyStandard {
		t.Errorf("invalid moderation policy should default, got %s", s.ModerationPolicy)
	}
}

func TestNormalizeRoles(t *testing.T) {
	raw := json.RawMessage(`{"roles": {"custom": [
		{"id": "mod", "name": "Mods", "power_level": 60,
		 "grants": {"manage_messages": true, "fly": true, "pin_messages": "yes"}},
		{"id": "mod", "name": "Dup"},
		{"name": "  "},
		"not an object",
		{"id": "boost", "power_level": 9999}
	]}}`)
	s := NormalizeServerSettings(raw)

	if len(s.Roles) != 3 {
		t.Fatalf("expected 3 roles (dup and junk dropped), got %d", len(s.Roles))
	}

	mod := s.Roles[0]
	if mod.ID != "mod" || mod.Name != "Mods" {
		t.Errorf("unexpected first role: %+v", mod)
	}
	if len(mod.Grants) != 1 || !mod.Grants[model.ActionManageMessages] {
		t.Errorf("only the known boolean grant should survive, got %v", mod.Grants)
	}

	if s.Roles[1].ID == "" {
		t.Error("role without id should get one synthesized")
	}
	if s.Roles[1].Name != "Unnamed role" {
		t.Errorf("blank name should fall back, got %q", s.Roles[1].Name)
	}

	if s.Roles[2].PowerLevel != model.PowerLevelMax {
		t.Errorf("role power should clamp to %d, got %d", model.PowerLevelMax, s.Roles[2].PowerLevel)
	}
}

func TestClampSettings_RoundTrip(t *testing.T) {
	in := &model.ServerSettings{
		AdminLevel:         150,
		ModeratorLevel:     50,
		DefaultLevel:       -1,
		InvitePolicy:       model.InvitePolicyAdmins,
		InviteExpiryHours:  500,
		ModerationPolicy:   model.ModerationPolicyStrict,
		AuditRetentionDays: 30,
	}
	out := ClampSettings(in)

	if out.AdminLevel != model.PowerLevelMax || out.DefaultLevel != model.PowerLevelMin {
		t.Errorf("levels should clamp: admin=%d default=%d", out.AdminLevel, out.DefaultLevel)
	}
	if out.InviteExpiryHours != model.InviteExpiryMaxHours {
		t.Errorf("expiry should clamp to %d, got %d", model.InviteExpiryMaxHours, out.InviteExpiryHours)
	}
	if out.InvitePolicy != model.InvitePolicyAdmins || out.ModerationPolicy != model.ModerationPolicyStrict {
		t.Errorf("valid enums should survive the round trip: %s %s", out.InvitePolicy, out.ModerationPolicy)
	}
	if out.AuditRetentionDays != 30 {
		t.Errorf("in-range retention should survive, got %d", out.AuditRetentionDays)
	}
}

func TestNormalizeOverrides(t *testing.T) {
	raw := json.RawMessage(`{
		"categories": {
			"dev": {"send_message": "deny", "fly": "deny", "pin_messages": "inherit"}
		},
		"rooms": {
			"!a": {"attach_files": "allow", "ban_members": 3},
			"": {"send_message": "deny"}
		},
		"extra": true
	}`)
	o := NormalizeOverrides(raw)

	if len(o.Categories["dev"]) != 1 || o.Categories["dev"][model.ActionSendMessage] != model.OverrideDeny {
		t.Errorf("unexpected category rules: %v", o.Categories["dev"])
	}
	if len(o.Rooms["!a"]) != 1 || o.Rooms["!a"][model.ActionAttachFiles] != model.OverrideAllow {
		t.Errorf("unexpected room rules: %v", o.Rooms["!a"])
	}
	if _, ok := o.Rooms[""]; ok {
		t.Error("empty target id should be dropped")
	}

	for _, in := range []string{"", "null", "[]", "garbage"} {
		got := NormalizeOverrides(json.RawMessage(in))
		if got == nil || got.Categories == nil || got.Rooms == nil {
			t.Errorf("input %q should yield empty maps", in)
		}
	}
}
