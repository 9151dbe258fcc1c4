// Package cli: engine bootstrap and command implementations.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/backend"
	"github.com/driftchat/drift/internal/core"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/observ"
)

// Engine holds the wired drift components.
type Engine struct {
	Log       *zap.Logger
	Store     *core.Store
	Session   *core.SessionManager
	Commands  *core.Commands
	Backend   *backend.NullBackend
	ConfigDir string
}

// Global engine instance
var engine *Engine

// InitEngine wires the engine in local simulation mode and bootstraps
// the session.
func InitEngine() (*Engine, error) {
	cfgDir := getConfigDir()
	if err := os.MkdirAll(cfgDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	log, err := observ.NewLogger(os.Getenv("DRIFT_ENV"), level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbPath := filepath.Join(cfgDir, "drift.db")
	passphrase := os.Getenv("DRIFT_PASSPHRASE") // Optional encryption
	store, err := core.OpenStore(dbPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	userID := os.Getenv("DRIFT_USER")
	if userID == "" {
		userID = "@you:local"
	}
	port := backend.NewNullBackend(userID)
	if offlineFlagSet(cfgDir) {
		port.SetOffline(true)
	}

	notify := func(n core.Notice) {
		if !quiet {
			fmt.Printf("[%s] %s\n", n.Level, n.Message)
		}
	}

	session := core.NewSessionManager(port, store, log, notify)
	prefs := core.NewPreferencesManager(store)
	commands := core.NewCommands(session, nil, prefs, log)

	if err := session.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap session: %w", err)
	}

	return &Engine{
		Log:       log,
		Store:     store,
		Session:   session,
		Commands:  commands,
		Backend:   port,
		ConfigDir: cfgDir,
	}, nil
}

// GetEngine returns the engine, initializing if needed.
func GetEngine() (*Engine, error) {
	if engine != nil {
		return engine, nil
	}
	var err error
	engine, err = InitEngine()
	return engine, err
}

// ConfirmAction prompts the user for confirmation.
func ConfirmAction(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// The offline flag persists across invocations as a marker file, so a
// queued send can be inspected and cancelled in a later run.
func offlineFlagPath(cfgDir string) string { return filepath.Join(cfgDir, "offline") }

func offlineFlagSet(cfgDir string) bool {
	_, err := os.Stat(offlineFlagPath(cfgDir))
	return err == nil
}

// --- Command Implementations ---

// RunStatus shows session state and store health.
func RunStatus() error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	state, msg := e.Session.State()
	snap := e.Session.Snapshot()

	fmt.Println("Drift Status")
	fmt.Println("============")
	fmt.Printf("Session:    %s", state)
	if msg != "" {
		fmt.Printf(" (%s)", msg)
	}
	fmt.Println()
	fmt.Printf("User:       %s\n", e.Session.Port().UserID())
	fmt.Printf("Backend:    local simulation\n")
	fmt.Printf("Offline:    %v\n", e.Session.Port().Offline())
	fmt.Printf("Spaces:     %d\n", len(snap.Spaces))
	fmt.Printf("Store:      %s\n", e.Store.Path())
	if e.Store.IsEncrypted() {
		fmt.Println("Encryption: enabled")
	} else {
		fmt.Println("Encryption: disabled (set DRIFT_PASSPHRASE to enable)")
	}

	intents, err := e.Store.LoadIntents(context.Background())
	if err == nil {
		fmt.Printf("Queued deletions: %d\n", len(intents))
	}
	return nil
}

// RunSpaces lists spaces.
func RunSpaces() error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	snap := e.Session.Snapshot()
	if len(snap.Spaces) == 0 {
		fmt.Println("No spaces.")
		return nil
	}

	fmt.Printf("Spaces (%d):\n", len(snap.Spaces))
	for _, sp := range snap.Spaces {
		name := snap.SpaceName(sp.ID)
		fmt.Printf("  %-40s %s\n", sp.ID, name)
	}
	return nil
}

// RunRooms lists a space's rooms grouped by category.
func RunRooms(spaceID string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	snap := e.Session.Snapshot()
	rooms := snap.RoomsBySpace[spaceID]
	layout := snap.Layout(spaceID)
	if layout == nil {
		return fmt.Errorf("unknown space: %s", spaceID)
	}

	for _, cat := range layout.Categories {
		fmt.Printf("%s\n", cat.Name)
		for _, r := range rooms {
			if r.Category != cat.ID {
				continue
			}
			unread := ""
			if r.UnreadCount > 0 {
				unread = fmt.Sprintf("  (%d unread)", r.UnreadCount)
			}
			fmt.Printf("  #%-20s %-40s %s%s\n", r.Name, r.ID, r.Type, unread)
		}
	}

	first := true
	for _, r := range rooms {
		if r.Type != model.RoomTypeDirect {
			continue
		}
		if first {
			fmt.Println("Direct messages")
			first = false
		}
		fmt.Printf("  @%-20s %s\n", r.Name, r.ID)
	}
	return nil
}

// RunSend sends a message.
func RunSend(roomID, body string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	msg, err := e.Commands.SendMessage(context.Background(), roomID, body, nil)
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("✓ Sent (%s): %s\n", msg.Status, msg.ID)
	}
	return nil
}

// RunHistory shows recent messages.
func RunHistory(roomID string, limit int) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := e.Session.SetActiveRoom(ctx, roomID); err != nil {
		return err
	}

	snap := e.Session.Snapshot()
	msgs := snap.Messages(roomID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	for _, m := range msgs {
		marker := ""
		if m.Status == model.MessageStatusQueued {
			marker = " [queued]"
		}
		if m.Pinned {
			marker += " [pinned]"
		}
		fmt.Printf("%s  %-20s %s%s\n",
			m.Timestamp.Format("15:04:05"), m.AuthorID, m.Body, marker)
		if verbose {
			fmt.Printf("          id: %s\n", m.ID)
		}
	}
	return nil
}

// RunRedact deletes a message.
func RunRedact(roomID, messageID, reason string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	state, err := e.Commands.RedactMessage(context.Background(), roomID, messageID, reason)
	if err != nil {
		return err
	}

	switch state {
	case core.RedactionCancelled:
		fmt.Println("✓ Send cancelled before it reached the backend")
	case core.RedactionQueued:
		fmt.Println("✓ Deletion queued; it resolves once the message finishes sending")
	default:
		fmt.Println("✓ Message deleted")
	}
	return nil
}

// --- Category Commands ---

func RunCategoryAdd(spaceID, name string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	id, err := e.Commands.CreateCategory(context.Background(), spaceID, name)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Created category: %s\n", id)
	}
	return nil
}

func RunCategoryRename(spaceID, categoryID, name string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	if err := e.Commands.RenameCategory(context.Background(), spaceID, categoryID, name); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Renamed category: %s\n", categoryID)
	}
	return nil
}

func RunCategoryRm(spaceID, categoryID string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	if err := e.Commands.DeleteCategory(context.Background(), spaceID, categoryID); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Deleted category: %s (rooms moved to the default category)\n", categoryID)
	}
	return nil
}

func RunCategoryMove(spaceID, categoryID, index string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(index)
	if err != nil {
		return fmt.Errorf("invalid index: %s", index)
	}
	if err := e.Commands.MoveCategory(context.Background(), spaceID, categoryID, idx); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Moved category: %s\n", categoryID)
	}
	return nil
}

// --- Room Commands ---

func RunRoomAdd(spaceID, name, kind string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	roomType := model.RoomType(kind)
	switch roomType {
	case model.RoomTypeText, model.RoomTypeVoice, model.RoomTypeVideo:
	default:
		return fmt.Errorf("invalid room kind: %s", kind)
	}
	id, err := e.Commands.CreateRoom(context.Background(), spaceID, name, roomType)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Created room: %s\n", id)
	}
	return nil
}

func RunRoomRm(spaceID, roomID string, force bool) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	if !force {
		fmt.Println("⚠️  WARNING: This removes the room for everyone and is IRREVERSIBLE.")
		if !ConfirmAction(fmt.Sprintf("Delete room %s?", roomID)) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := e.Commands.DeleteRoom(context.Background(), spaceID, roomID); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted room: %s\n", roomID)
	return nil
}

func RunRoomMove(spaceID, roomID, categoryID, index string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(index)
	if err != nil {
		return fmt.Errorf("invalid index: %s", index)
	}
	if err := e.Commands.MoveRoom(context.Background(), spaceID, roomID, categoryID, idx); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Moved room: %s\n", roomID)
	}
	return nil
}

// --- Settings Commands ---

func RunSettingsShow(spaceID string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	s := e.Session.Snapshot().Settings(spaceID)
	fmt.Printf("Settings: %s\n", spaceID)
	fmt.Println("═══════════════════════════════════")
	fmt.Printf("Overview:         %s\n", s.Overview)
	fmt.Printf("Admin level:      %d\n", s.AdminLevel)
	fmt.Printf("Moderator level:  %d\n", s.ModeratorLevel)
	fmt.Printf("Default level:    %d\n", s.DefaultLevel)
	fmt.Printf("Invite policy:    %s (expiry %dh)\n", s.InvitePolicy, s.InviteExpiryHours)
	fmt.Printf("Moderation:       %s\n", s.ModerationPolicy)
	fmt.Printf("Audit retention:  %d days\n", s.AuditRetentionDays)
	if len(s.Roles) > 0 {
		fmt.Println("\nRoles:")
		for _, r := range s.Roles {
			fmt.Printf("  %-20s level %-4d grants %d\n", r.Name, r.PowerLevel, len(r.Grants))
		}
	}
	return nil
}

func RunSettingsSet(spaceID, field, value string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	snap := e.Session.Snapshot()
	s := *snap.Settings(spaceID)

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid number: %s", value)
		}
		return n, nil
	}

	switch field {
	case "overview":
		s.Overview = value
	case "admin-level":
		n, err := atoi()
		if err != nil {
			return err
		}
		s.AdminLevel = n
	case "moderator-level":
		n, err := atoi()
		if err != nil {
			return err
		}
		s.ModeratorLevel = n
	case "default-level":
		n, err := atoi()
		if err != nil {
			return err
		}
		s.DefaultLevel = n
	case "invite-policy":
		s.InvitePolicy = model.InvitePolicy(value)
	case "invite-expiry-hours":
		n, err := atoi()
		if err != nil {
			return err
		}
		s.InviteExpiryHours = n
	case "moderation-policy":
		s.ModerationPolicy = model.ModerationPolicy(value)
	case "audit-retention-days":
		n, err := atoi()
		if err != nil {
			return err
		}
		s.AuditRetentionDays = n
	default:
		return fmt.Errorf("unknown settings field: %s", field)
	}

	if err := e.Commands.SaveSettings(context.Background(), spaceID, &s); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Saved settings for %s\n", spaceID)
	}
	return nil
}

// RunAudit shows a space's moderation audit log.
func RunAudit(spaceID string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	events, err := e.Store.LoadAuditEvents(context.Background(), spaceID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("Audit log is empty.")
		return nil
	}

	fmt.Printf("Audit Log (%d entries, newest first):\n", len(events))
	fmt.Println("Time              Action              Actor                Target")
	fmt.Println("──────────────────────────────────────────────────────────────────────")
	for _, ev := range events {
		fmt.Printf("%-17s %-19s %-20s %s\n",
			ev.Timestamp.Format("2006-01-02 15:04"), ev.Action, ev.ActorID, ev.Target)
	}
	return nil
}

// RunRedactions lists queued deletions.
func RunRedactions() error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	intents, err := e.Store.LoadIntents(context.Background())
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		fmt.Println("No queued deletions.")
		return nil
	}

	fmt.Printf("Queued Deletions (%d):\n", len(intents))
	for _, in := range intents {
		fmt.Printf("  %s  room %s  txn %s\n",
			in.QueuedAt.Format("2006-01-02 15:04"), in.RoomID, in.TransactionID)
	}
	return nil
}

// --- Preferences Commands ---

func RunPrefsShow() error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	p, err := e.Commands.Preferences().Load(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Preferences")
	fmt.Println("===========")
	fmt.Printf("Theme:          %s\n", p.Theme)
	fmt.Printf("Density:        %s\n", p.Density)
	fmt.Printf("Notifications:  %v (sounds %v)\n", p.NotificationsEnabled, p.NotificationSounds)
	fmt.Printf("Keybinds:       %v\n", p.KeybindsEnabled)
	fmt.Printf("Enter sends:    %v\n", p.ComposerEnterSends)
	if p.Profile.DisplayName != "" {
		fmt.Printf("Display name:   %s\n", p.Profile.DisplayName)
	}
	return nil
}

// applyPrefField writes one preferences field by its CLI name.
func applyPrefField(p *model.Preferences, field, value string) error {
	on := value == "true" || value == "on"
	switch field {
	case "theme":
		p.Theme = value
	case "density":
		p.Density = value
	case "notifications":
		p.NotificationsEnabled = on
	case "sounds":
		p.NotificationSounds = on
	case "keybinds":
		p.KeybindsEnabled = on
	case "enter-sends":
		p.ComposerEnterSends = on
	case "display-name":
		p.Profile.DisplayName = value
	default:
		return fmt.Errorf("unknown preferences field: %s", field)
	}
	return nil
}

func RunPrefsSet(field, value string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	// Reject a bad field name before touching the store.
	if err := applyPrefField(&model.Preferences{}, field, value); err != nil {
		return err
	}
	_, err = e.Commands.Preferences().Update(context.Background(), func(p *model.Preferences) {
		_ = applyPrefField(p, field, value)
	})
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Saved %s\n", field)
	}
	return nil
}

// RunOffline toggles the persistent offline flag.
func RunOffline(on bool) error {
	cfgDir := getConfigDir()
	if err := os.MkdirAll(cfgDir, 0700); err != nil {
		return err
	}
	path := offlineFlagPath(cfgDir)
	if on {
		if err := os.WriteFile(path, []byte("1\n"), 0600); err != nil {
			return err
		}
		fmt.Println("✓ Offline mode on: sends will queue")
	} else {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		fmt.Println("✓ Offline mode off")
	}
	return nil
}
