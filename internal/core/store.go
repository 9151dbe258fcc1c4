// Encrypted local store for the side tables that survive restarts:
// the preferences document, the pending redaction queue and the
// moderation audit cache.
//
// INVARIANTS:
// - Encrypted at rest via SQLCipher when a passphrase is set
// - Fail safely if the key is incorrect
// - Side tables are read-modify-written atomically
// - Pending redactions are pruned by TTL and cap on every load/save
package core

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/driftchat/drift/internal/model"
)

// Store wraps the SQLCipher-encrypted SQLite database holding the
// engine's persistent side tables.
type Store struct {
	db        *sql.DB
	dbPath    string
	encrypted bool
}

// OpenStore opens (and creates if needed) the local store. An empty
// passphrase opens without encryption; a wrong passphrase on an
// existing encrypted store returns an error.
func OpenStore(dbPath, passphrase string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	var dsn string
	encrypted := passphrase != ""
	if encrypted {
		dsn = fmt.Sprintf("file:%s?_pragma_key=%s&_journal_mode=WAL&_synchronous=NORMAL", dbPath, passphrase)
	} else {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if encrypted {
		// Fails if the key is wrong.
		var version string
		if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid passphrase or corrupted database: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, encrypted: encrypted}, nil
}

// Initialize creates the schema if it does not exist yet.
func (s *Store) Initialize(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			id  INTEGER PRIMARY KEY CHECK (id = 1),
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_redactions (
			room_id           TEXT NOT NULL,
			transaction_id    TEXT NOT NULL,
			source_message_id TEXT NOT NULL,
			queued_at         TEXT NOT NULL,
			PRIMARY KEY (room_id, transaction_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			space_id        TEXT NOT NULL,
			id              TEXT NOT NULL,
			action          TEXT NOT NULL,
			actor_id        TEXT NOT NULL,
			target          TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			source_event_id TEXT,
			PRIMARY KEY (space_id, id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

// IsEncrypted reports whether the store is encrypted at rest.
func (s *Store) IsEncrypted() bool { return s.encrypted }

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- pending redaction intents ---

// LoadIntents returns all persisted pending redaction intents after
// pruning by TTL and cap. Newest intents survive the cap.
func (s *Store) LoadIntents(ctx context.Context) ([]model.PendingRedactionIntent, error) {
	if err := s.pruneIntents(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, transaction_id, source_message_id, queued_at
		FROM pending_redactions
		ORDER BY queued_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load intents: %w", err)
	}
	defer rows.Close()

	var intents []model.PendingRedactionIntent
	for rows.Next() {
		var in model.PendingRedactionIntent
		var queuedAt string
		if err := rows.Scan(&in.RoomID, &in.TransactionID, &in.SourceMessageID, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		in.QueuedAt, _ = time.Parse(time.RFC3339Nano, queuedAt)
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// SaveIntent upserts an intent, deduplicated by (room, transaction).
func (s *Store) SaveIntent(ctx context.Context, in model.PendingRedactionIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_redactions (room_id, transaction_id, source_message_id, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, transaction_id) DO UPDATE SET
			source_message_id = excluded.source_message_id
	`, in.RoomID, in.TransactionID, in.SourceMessageID, in.QueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return s.pruneIntents(ctx)
}

// DeleteIntent removes a resolved or abandoned intent.
func (s *Store) DeleteIntent(ctx context.Context, roomID, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_redactions WHERE room_id = ? AND transaction_id = ?
	`, roomID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	return nil
}

// pruneIntents drops expired intents and enforces the count cap,
// evicting oldest first.
func (s *Store) pruneIntents(ctx context.Context) error {
	cutoff := time.Now().Add(-model.PendingRedactionTTL).UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_redactions WHERE queued_at < ?
	`, cutoff); err != nil {
		return fmt.Errorf("failed to prune intents: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_redactions
		WHERE (room_id, transaction_id) NOT IN (
			SELECT room_id, transaction_id FROM pending_redactions
			ORDER BY queued_at DESC LIMIT ?
		)
	`, model.PendingRedactionCap); err != nil {
		return fmt.Errorf("failed to cap intents: %w", err)
	}
	return nil
}

// --- audit cache ---

// SaveAuditEvents replaces the cached audit log of one space, keeping
// at most AuditLogCap newest entries.
func (s *Store) SaveAuditEvents(ctx context.Context, spaceID string, events []model.ModerationAuditEvent) error {
	sorted := append([]model.ModerationAuditEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > model.AuditLogCap {
		sorted = sorted[:model.AuditLogCap]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_events WHERE space_id = ?`, spaceID); err != nil {
		return fmt.Errorf("failed to clear audit cache: %w", err)
	}
	for _, ev := range sorted {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_events (space_id, id, action, actor_id, target, timestamp, source_event_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, spaceID, ev.ID, ev.Action, ev.ActorID, ev.Target,
			ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.SourceEventID); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit cache: %w", err)
	}
	return nil
}

// LoadAuditEvents returns the cached audit log of one space, newest first.
func (s *Store) LoadAuditEvents(ctx context.Context, spaceID string) ([]model.ModerationAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_id, target, timestamp, source_event_id
		FROM audit_events WHERE space_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, spaceID, model.AuditLogCap)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}
	defer rows.Close()

	var events []model.ModerationAuditEvent
	for rows.Next() {
		var ev model.ModerationAuditEvent
		var ts string
		var src sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.ActorID, &ev.Target, &ts, &src); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if src.Valid {
			ev.SourceEventID = src.String
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
