// Package model defines the core domain models for Drift.
// The snapshot built from these types is the single source of truth
// for the presentation layer, whether or not a backend is connected.
package model

import (
	"strings"
	"time"
)

// RoomType classifies a room.
type RoomType string

const (
	RoomTypeText   RoomType = "text"
	RoomTypeVoice  RoomType = "voice"
	RoomTypeVideo  RoomType = "video"
	RoomTypeDirect RoomType = "direct"
)

// AggregateSpaceID is the reserved space id used when the backend exposes
// no explicit grouping container. All joined rooms fall under it.
const AggregateSpaceID = "!aggregate"

// DefaultCategoryID is the reserved category that always exists at
// position 0 and can never be deleted or reordered.
const DefaultCategoryID = "default"

// Space represents a logical server/community grouping rooms.
// Spaces are never hard-deleted by this engine, only hidden.
type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Room represents a channel or a direct-message conversation.
// Category and SortOrder are projections re-derived from the space
// layout after every layout mutation; they are never authoritative.
type Room struct {
	ID          string   `json:"id"`
	SpaceID     string   `json:"space_id"`
	Name        string   `json:"name"`
	Type        RoomType `json:"type"`
	Category    string   `json:"category"`
	Topic       string   `json:"topic,omitempty"`
	UnreadCount int      `json:"unread_count"`
	SortOrder   int      `json:"sort_order"`
	IsWelcome   bool     `json:"is_welcome,omitempty"`
}

// Category groups non-direct rooms within a space.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Placement records where a room sits inside a layout.
type Placement struct {
	CategoryID string `json:"category_id"`
	Order      int    `json:"order"`
}

// SpaceLayout is the authoritative ordering document for one space.
//
// INVARIANTS (enforced by core.HydrateLayout after every mutation):
// - The default category exists and is at position 0
// - Every non-direct room has exactly one placement
// - Every placement references an existing category
// - Orders within a category form a dense 0-based sequence
type SpaceLayout struct {
	Version    int                  `json:"version"`
	Categories []Category           `json:"categories"`
	Rooms      map[string]Placement `json:"rooms"`
}

// LayoutVersion is the current layout document schema version.
const LayoutVersion = 1

// PermissionAction is the fixed enumeration of guardable actions.
type PermissionAction string

const (
	ActionSendMessage     PermissionAction = "send_message"
	ActionManageMessages  PermissionAction = "manage_messages"
	ActionManageChannels  PermissionAction = "manage_channels"
	ActionManageRoles     PermissionAction = "manage_roles"
	ActionManageServer    PermissionAction = "manage_server"
	ActionPinMessages     PermissionAction = "pin_messages"
	ActionAttachFiles     PermissionAction = "attach_files"
	ActionMentionEveryone PermissionAction = "mention_everyone"
	ActionCreateInvite    PermissionAction = "create_invite"
	ActionKickMembers     PermissionAction = "kick_members"
	ActionBanMembers      PermissionAction = "ban_members"
)

// AllActions lists every permission action in a stable order.
var AllActions = []PermissionAction{
	ActionSendMessage,
	ActionManageMessages,
	ActionManageChannels,
	ActionManageRoles,
	ActionManageServer,
	ActionPinMessages,
	ActionAttachFiles,
	ActionMentionEveryone,
	ActionCreateInvite,
	ActionKickMembers,
	ActionBanMembers,
}

// KnownAction reports whether a is part of the fixed enumeration.
func KnownAction(a PermissionAction) bool {
	for _, k := range AllActions {
		if k == a {
			return true
		}
	}
	return false
}

// OverrideRule is an explicit allow/deny. "Inherit" is expressed by
// absence and is never stored.
type OverrideRule string

const (
	OverrideAllow OverrideRule = "allow"
	OverrideDeny  OverrideRule = "deny"
)

// PermissionOverrides holds per-category and per-room override maps.
// Compacted on write: entries only exist for explicit allow/deny rules.
type PermissionOverrides struct {
	Categories map[string]map[PermissionAction]OverrideRule `json:"categories"`
	Rooms      map[string]map[PermissionAction]OverrideRule `json:"rooms"`
}

// Role is a custom role definition inside server settings.
type Role struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	Color      string                    `json:"color,omitempty"`
	PowerLevel int                       `json:"power_level"`
	Grants     map[PermissionAction]bool `json:"grants,omitempty"`
}

// InvitePolicy constrains who may create invites.
type InvitePolicy string

const (
	InvitePolicyOpen    InvitePolicy = "open"
	InvitePolicyMembers InvitePolicy = "members"
	InvitePolicyAdmins  InvitePolicy = "admins"
)

// ModerationPolicy selects the moderation strictness preset.
type ModerationPolicy string

const (
	ModerationPolicyRelaxed  ModerationPolicy = "relaxed"
	ModerationPolicyStandard ModerationPolicy = "standard"
	ModerationPolicyStrict   ModerationPolicy = "strict"
)

// ServerSettings is the versioned per-space settings document.
// Always produced complete and clamped by core.NormalizeServerSettings,
// never consumed raw from remote state.
type ServerSettings struct {
	Version            int              `json:"version"`
	Overview           string           `json:"overview"`
	AdminLevel         int              `json:"admin_level"`
	ModeratorLevel     int              `json:"moderator_level"`
	DefaultLevel       int              `json:"default_level"`
	Roles              []Role           `json:"roles"`
	InvitePolicy       InvitePolicy     `json:"invite_policy"`
	InviteExpiryHours  int              `json:"invite_expiry_hours"`
	ModerationPolicy   ModerationPolicy `json:"moderation_policy"`
	AuditRetentionDays int              `json:"audit_retention_days"`
}

// SettingsVersion is the current settings document schema version.
const SettingsVersion = 1

// Documented bounds for settings normalization.
const (
	PowerLevelMin = 0
	PowerLevelMax = 100

	InviteExpiryMinHours = 1
	InviteExpiryMaxHours = 168

	AuditRetentionMinDays = 7
	AuditRetentionMaxDays = 365
)

// ModerationAuditEvent is one entry of the append-only moderation log.
type ModerationAuditEvent struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	ActorID       string    `json:"actor_id"`
	Target        string    `json:"target"`
	Timestamp     time.Time `json:"timestamp"`
	SourceEventID string    `json:"source_event_id,omitempty"`
}

// AuditLogCap is the maximum number of retained audit entries (newest first).
const AuditLogCap = 250

// MessageStatus tracks delivery of a message.
type MessageStatus string

const (
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusQueued MessageStatus = "queued"
)

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single timeline message. In backend mode the id is the
// protocol event id, except for local echoes which carry a temporary id
// built by LocalEchoID.
type Message struct {
	ID           string              `json:"id"`
	RoomID       string              `json:"room_id"`
	AuthorID     string              `json:"author_id"`
	Body         string              `json:"body"`
	Timestamp    time.Time           `json:"timestamp"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	ReplyToID    string              `json:"reply_to_id,omitempty"`
	ThreadRootID string              `json:"thread_root_id,omitempty"`
	Pinned       bool                `json:"pinned,omitempty"`
	Status       MessageStatus       `json:"status"`
}

// LocalEchoID builds the temporary id for an optimistically-created
// message that the backend has not acknowledged yet.
func LocalEchoID(roomID, transactionID string) string {
	return "~" + roomID + ":" + transactionID
}

// IsLocalEchoID reports whether id is a temporary local-echo id.
func IsLocalEchoID(id string) bool {
	return strings.HasPrefix(id, "~")
}

// ParseLocalEchoID splits a local-echo id into room id and transaction
// id. ok is false if id is not a local-echo id.
func ParseLocalEchoID(id string) (roomID, transactionID string, ok bool) {
	if !IsLocalEchoID(id) {
		return "", "", false
	}
	rest := id[1:]
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// PendingRedactionIntent records "the user asked to delete a message
// that does not yet have a durable remote id". Persisted with TTL and
// cap, deduplicated by (RoomID, TransactionID).
type PendingRedactionIntent struct {
	RoomID          string    `json:"room_id"`
	TransactionID   string    `json:"transaction_id"`
	SourceMessageID string    `json:"source_message_id"`
	QueuedAt        time.Time `json:"queued_at"`
}

// Retention bounds for pending redaction intents.
const (
	PendingRedactionTTL = 24 * time.Hour
	PendingRedactionCap = 200
)

// Profile is the locally-stored user profile inside preferences.
type Profile struct {
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	// AvatarData holds the avatar as embedded image data (data URI).
	AvatarData string `json:"avatar_data,omitempty"`
}

// Preferences is the process-wide preferences document. It survives
// restarts via the encrypted store and is read-modify-written whole.
type Preferences struct {
	Theme                string  `json:"theme"`
	Density              string  `json:"density"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	NotificationSounds   bool    `json:"notification_sounds"`
	KeybindsEnabled      bool    `json:"keybinds_enabled"`
	ComposerEnterSends   bool    `json:"composer_enter_sends"`
	ReducedMotion        bool    `json:"reduced_motion"`
	HighContrast         bool    `json:"high_contrast"`
	OnboardingComplete   bool    `json:"onboarding_complete"`
	Profile              Profile `json:"profile"`
}

// DefaultPreferences returns the preferences used before the user has
// saved anything.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:                "dark",
		Density:              "comfortable",
		NotificationsEnabled: true,
		NotificationSounds:   true,
		KeybindsEnabled:      true,
		ComposerEnterSends:   true,
	}
}
