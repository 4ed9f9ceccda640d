package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills unset fields from
// [Default] and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}

	p := cfg.Personalization
	if p.TimeBudgetMS < 0 {
		errs = append(errs, fmt.Errorf("personalization.time_budget_ms %d must not be negative", p.TimeBudgetMS))
	}
	if p.AcousticThreshold <= 0 || p.AcousticThreshold > 1 {
		errs = append(errs, fmt.Errorf("personalization.acoustic_threshold %.2f is out of range (0, 1]", p.AcousticThreshold))
	}
	if p.TextThreshold <= 0 || p.TextThreshold > 1 {
		errs = append(errs, fmt.Errorf("personalization.text_threshold %.2f is out of range (0, 1]", p.TextThreshold))
	}
	if p.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("personalization.max_candidates %d must be positive", p.MaxCandidates))
	}
	if p.DTWWindow <= 0 {
		errs = append(errs, fmt.Errorf("personalization.dtw_window %d must be positive", p.DTWWindow))
	}

	return errors.Join(errs...)
}

// DatabasePath resolves the SQLite file location, applying the default
// under the data directory when no override is set.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.Storage.DataDir, "echolex.db")
}
