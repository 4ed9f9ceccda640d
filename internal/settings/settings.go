// Package settings manages runtime-adjustable options that survive a
// restart. Unlike the YAML config, which is read once at startup, these
// values can be flipped over the API and are persisted as JSON under the
// data directory.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the persisted runtime state.
type Settings struct {
	// PersonalizedAcousticEnabled toggles transcript correction. When
	// false, correction requests return the transcript untouched.
	PersonalizedAcousticEnabled bool `json:"personalized_acoustic_enabled"`
}

// Update carries a partial settings change; nil fields stay unchanged.
type Update struct {
	PersonalizedAcousticEnabled *bool `json:"personalized_acoustic_enabled"`
}

// Store holds the current settings and writes them through to disk on
// every change. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// Open loads the settings file at path, falling back to defaults when
// the file does not exist yet. A malformed file is an error rather than
// a silent reset, so a user's toggle never vanishes on a bad write.
func Open(path string, defaults Settings) (*Store, error) {
	s := &Store{path: path, cur: defaults}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("settings: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("settings: parse %q: %w", path, err)
	}
	return s, nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Apply merges upd into the current settings and persists the result.
// The in-memory state only changes when the write succeeds.
func (s *Store) Apply(upd Update) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	if upd.PersonalizedAcousticEnabled != nil {
		next.PersonalizedAcousticEnabled = *upd.PersonalizedAcousticEnabled
	}

	if err := s.write(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	return s.cur, nil
}

// write persists next atomically via a temp file rename.
func (s *Store) write(next Settings) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: create directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: replace %q: %w", s.path, err)
	}
	return nil
}
