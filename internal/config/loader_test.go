package config_test

import (
	"strings"
	"testing"

	"github.com/echolex/echolex/internal/config"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
storage:
  data_dir: /tmp/echolex
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8757" {
		t.Errorf("listen_addr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Personalization.TimeBudgetMS != 900 {
		t.Errorf("time_budget_ms default = %d", cfg.Personalization.TimeBudgetMS)
	}
	if !cfg.Personalization.Enabled {
		t.Error("personalization disabled by default")
	}
	if got := cfg.DatabasePath(); got != "/tmp/echolex/echolex.db" {
		t.Errorf("DatabasePath = %q", got)
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9000"
  log_level: debug
storage:
  data_dir: /var/lib/echolex
  database_path: /var/lib/echolex/custom.db
personalization:
  enabled: false
  time_budget_ms: 500
  acoustic_threshold: 0.9
  text_threshold: 0.7
  max_candidates: 10
  dtw_window: 25
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Personalization.Enabled {
		t.Error("enabled override ignored")
	}
	if got := cfg.DatabasePath(); got != "/var/lib/echolex/custom.db" {
		t.Errorf("DatabasePath = %q", got)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
storage:
  data_dir: /tmp/echolex
  bogus: true
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "chatty" }, "log_level"},
		{"missing data dir", func(c *config.Config) { c.Storage.DataDir = "" }, "data_dir"},
		{"negative budget", func(c *config.Config) { c.Personalization.TimeBudgetMS = -1 }, "time_budget_ms"},
		{"threshold too high", func(c *config.Config) { c.Personalization.AcousticThreshold = 1.5 }, "acoustic_threshold"},
		{"zero candidates", func(c *config.Config) { c.Personalization.MaxCandidates = 0 }, "max_candidates"},
		{"zero window", func(c *config.Config) { c.Personalization.DTWWindow = 0 }, "dtw_window"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateZeroBudgetAllowed(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Personalization.TimeBudgetMS = 0
	if err := config.Validate(cfg); err != nil {
		t.Errorf("zero budget rejected: %v", err)
	}
}
