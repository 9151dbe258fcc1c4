// Package cli implements the drift command-line interface.
// Built with cobra. Commands drive the engine façade directly; there is
// no background daemon, every invocation bootstraps, acts and exits.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	configDir string
)

// rootCmd is the base command for drift.
var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "Offline-first chat client engine",
	Long: `Drift is a chat client state engine that works the same with or
without a federated backend.

It provides:
  • A local simulation mode where every operation succeeds in memory
  • Space layouts with categories, validated and self-repairing
  • Per-space settings, roles and permission overrides
  • Reconciled message deletion that survives restarts
  • An encrypted local store (SQLite + SQLCipher)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Use alternate config directory")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(spacesCmd)
	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(redactCmd)
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(roomCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(redactionsCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(offlineCmd)
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if configDir != "" {
		return configDir
	}
	if env := os.Getenv("DRIFT_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drift"
	}
	return filepath.Join(home, ".drift")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state and store health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunStatus()
	},
}

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List spaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSpaces()
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms <space-id>",
	Short: "List a space's rooms grouped by category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRooms(args[0])
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSend(args[0], args[1])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Show a room's recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return RunHistory(args[0], limit)
	},
}

var redactCmd = &cobra.Command{
	Use:   "redact <room-id> <message-id>",
	Short: "Delete a message",
	Long: `Delete a message by id. A message that has not finished sending is
queued for deletion and resolved once the backend echoes it back.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return RunRedact(args[0], args[1], reason)
	},
}

// Category subcommands
var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Category management commands",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <space-id> <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCategoryAdd(args[0], args[1])
	},
}

var categoryRenameCmd = &cobra.Command{
	Use:   "rename <space-id> <category-id> <name>",
	Short: "Rename a category",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCategoryRename(args[0], args[1], args[2])
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm <space-id> <category-id>",
	Short: "Delete a category (rooms move to the default category)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCategoryRm(args[0], args[1])
	},
}

var categoryMoveCmd = &cobra.Command{
	Use:   "move <space-id> <category-id> <index>",
	Short: "Move a category to a new position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCategoryMove(args[0], args[1], args[2])
	},
}

// Room subcommands
var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Room management commands",
}

var roomAddCmd = &cobra.Command{
	Use:   "add <space-id> <name>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		return RunRoomAdd(args[0], args[1], kind)
	},
}

var roomRmCmd = &cobra.Command{
	Use:   "rm <space-id> <room-id>",
	Short: "Delete a room for everyone",
	Long: `Delete a room for everyone. Against a connected backend this runs the
irreversible admin purge; in local mode the room is removed in memory.
Requires admin power.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return RunRoomRm(args[0], args[1], force)
	},
}

var roomMoveCmd = &cobra.Command{
	Use:   "move <space-id> <room-id> <category-id> [index]",
	Short: "Move a room into a category",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		index := "-1"
		if len(args) > 3 {
			index = args[3]
		}
		return RunRoomMove(args[0], args[1], args[2], index)
	},
}

// Settings subcommands
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Server settings commands",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show <space-id>",
	Short: "Show a space's normalized settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSettingsShow(args[0])
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <space-id> <field> <value>",
	Short: "Set one settings field",
	Long: `Set one settings field. Fields: overview, admin-level,
moderator-level, default-level, invite-policy, invite-expiry-hours,
moderation-policy, audit-retention-days. Out-of-range values clamp.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSettingsSet(args[0], args[1], args[2])
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <space-id>",
	Short: "Show a space's moderation audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunAudit(args[0])
	},
}

var redactionsCmd = &cobra.Command{
	Use:   "redactions",
	Short: "Show queued message deletions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRedactions()
	},
}

// Preferences subcommands
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Local preferences commands",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunPrefsShow()
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set one preferences field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunPrefsSet(args[0], args[1])
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline <on|off>",
	Short: "Toggle the offline flag for local simulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunOffline(args[0] == "on")
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "Number of messages to show")
	redactCmd.Flags().StringP("reason", "r", "", "Redaction reason")
	roomAddCmd.Flags().StringP("kind", "k", "text", "Room kind (text, voice, video)")
	roomRmCmd.Flags().Bool("force", false, "Skip confirmation prompt (dangerous)")

	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryRenameCmd)
	categoryCmd.AddCommand(categoryRmCmd)
	categoryCmd.AddCommand(categoryMoveCmd)

	roomCmd.AddCommand(roomAddCmd)
	roomCmd.AddCommand(roomRmCmd)
	roomCmd.AddCommand(roomMoveCmd)

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}
