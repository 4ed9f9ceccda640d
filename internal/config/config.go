// Package config provides the configuration schema and loader for the
// Echolex dictation personalization service.
package config

import "time"

// LogLevel controls log verbosity for the Echolex server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Echolex.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Storage         StorageConfig         `yaml:"storage"`
	Personalization PersonalizationConfig `yaml:"personalization"`
}

// ServerConfig holds network and logging settings for the Echolex server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8757").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StorageConfig locates the on-disk state: the term database and the
// recorded sample artifacts.
type StorageConfig struct {
	// DataDir is the root directory for all persistent state.
	DataDir string `yaml:"data_dir"`

	// DatabasePath overrides the SQLite file location. When empty the
	// database lives at <data_dir>/echolex.db.
	DatabasePath string `yaml:"database_path"`
}

// PersonalizationConfig tunes the transcript correction engine.
type PersonalizationConfig struct {
	// Enabled is the startup default for the correction toggle. The
	// runtime settings endpoint can flip it without a restart.
	Enabled bool `yaml:"enabled"`

	// TimeBudgetMS is the wall-clock budget per correction request.
	// Zero disables correction.
	TimeBudgetMS int `yaml:"time_budget_ms"`

	// AcousticThreshold is the minimum acoustic confidence in (0, 1]
	// for a replacement.
	AcousticThreshold float64 `yaml:"acoustic_threshold"`

	// TextThreshold is the minimum lexical similarity in (0, 1] between
	// a term and its best transcript span.
	TextThreshold float64 `yaml:"text_threshold"`

	// MaxCandidates caps how many terms are scored acoustically per
	// request.
	MaxCandidates int `yaml:"max_candidates"`

	// DTWWindow is the alignment band width in frames.
	DTWWindow int `yaml:"dtw_window"`
}

// TimeBudget returns the correction budget as a duration.
func (p PersonalizationConfig) TimeBudget() time.Duration {
	return time.Duration(p.TimeBudgetMS) * time.Millisecond
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8757",
			LogLevel:   LogInfo,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Personalization: PersonalizationConfig{
			Enabled:           true,
			TimeBudgetMS:      900,
			AcousticThreshold: 0.86,
			TextThreshold:     0.68,
			MaxCandidates:     20,
			DTWWindow:         30,
		},
	}
}
