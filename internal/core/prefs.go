// Preferences: the process-wide local preferences document.
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/driftchat/drift/internal/model"
)

// PreferencesManager owns the single preferences row in the store.
// Reads and writes are serialized so the document is always
// read-modify-written whole.
type PreferencesManager struct {
	store *Store
	mu    sync.Mutex
}

// NewPreferencesManager creates a preferences manager over the store.
func NewPreferencesManager(store *Store) *PreferencesManager {
	return &PreferencesManager{store: store}
}

// Load returns the stored preferences, or the defaults when nothing
// has been saved yet. A corrupted document also falls back to defaults
// rather than failing the caller.
func (pm *PreferencesManager) Load(ctx context.Context) (model.Preferences, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.load(ctx)
}

func (pm *PreferencesManager) load(ctx context.Context) (model.Preferences, error) {
	var doc string
	err := pm.store.DB().QueryRowContext(ctx,
		`SELECT doc FROM preferences WHERE id = 1`).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.DefaultPreferences(), nil
	}
	if err != nil {
		return model.DefaultPreferences(), fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := model.DefaultPreferences()
	if err := json.Unmarshal([]byte(doc), &prefs); err != nil {
		return model.DefaultPreferences(), nil
	}
	return prefs, nil
}

// Save replaces the whole preferences document.
func (pm *PreferencesManager) Save(ctx context.Context, prefs model.Preferences) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.save(ctx, prefs)
}

func (pm *PreferencesManager) save(ctx context.Context, prefs model.Preferences) error {
	doc, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	_, err = pm.store.DB().ExecContext(ctx, `
		INSERT INTO preferences (id, doc) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
	`, string(doc))
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// Update applies fn to the latest stored document and writes the
// result back under one lock, so concurrent updates never clobber
// each other's fields.
func (pm *PreferencesManager) Update(ctx context.Context, fn func(*model.Preferences)) (model.Preferences, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	prefs, err := pm.load(ctx)
	if err != nil {
		return prefs, err
	}
	fn(&prefs)
	if err := pm.save(ctx, prefs); err != nil {
		return prefs, err
	}
	return prefs, nil
}
