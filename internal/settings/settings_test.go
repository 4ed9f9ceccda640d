package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/echolex/echolex/internal/settings"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := settings.Open(path, settings.Settings{PersonalizedAcousticEnabled: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.Get().PersonalizedAcousticEnabled {
		t.Error("defaults not applied")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Open created a file before any change")
	}
}

func TestApplyPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := settings.Open(path, settings.Settings{PersonalizedAcousticEnabled: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	off := false
	got, err := s.Apply(settings.Update{PersonalizedAcousticEnabled: &off})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.PersonalizedAcousticEnabled {
		t.Error("toggle not applied")
	}

	// Defaults say enabled, but the persisted file must win.
	reopened, err := settings.Open(path, settings.Settings{PersonalizedAcousticEnabled: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Get().PersonalizedAcousticEnabled {
		t.Error("persisted toggle lost on reopen")
	}
}

func TestApplyEmptyUpdateKeepsState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := settings.Open(path, settings.Settings{PersonalizedAcousticEnabled: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := s.Apply(settings.Update{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !got.PersonalizedAcousticEnabled {
		t.Error("empty update changed the toggle")
	}
}

func TestOpenMalformedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := settings.Open(path, settings.Settings{}); err == nil {
		t.Fatal("malformed file accepted")
	}
}
