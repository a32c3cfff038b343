// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:4000"

database:
  path: "./test.db"

sweeper:
  interval: "15s"

hitl:
  callback_timeout: "3s"

stream:
  snapshot_limit: 200

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:4000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:4000")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Sweeper.Interval != 15*time.Second {
		t.Errorf("Sweeper.Interval = %v, want 15s", cfg.Sweeper.Interval)
	}
	if cfg.HITL.CallbackTimeout != 3*time.Second {
		t.Errorf("HITL.CallbackTimeout = %v, want 3s", cfg.HITL.CallbackTimeout)
	}
	if cfg.Stream.SnapshotLimit != 200 {
		t.Errorf("Stream.SnapshotLimit = %d, want 200", cfg.Stream.SnapshotLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Minimal config — everything else falls back to defaults
	configPath := writeConfig(t, `
database:
  path: "./deck.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "localhost:4000" {
		t.Errorf("Server.HTTPAddr = %q, want default localhost:4000", cfg.Server.HTTPAddr)
	}
	if cfg.Sweeper.Interval != 10*time.Second {
		t.Errorf("Sweeper.Interval = %v, want default 10s", cfg.Sweeper.Interval)
	}
	if cfg.HITL.CallbackTimeout != 5*time.Second {
		t.Errorf("HITL.CallbackTimeout = %v, want default 5s", cfg.HITL.CallbackTimeout)
	}
	if cfg.Stream.SnapshotLimit != 300 {
		t.Errorf("Stream.SnapshotLimit = %d, want default 300", cfg.Stream.SnapshotLimit)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("AGENTDECK_TEST_DB", "/tmp/expanded.db")

	configPath := writeConfig(t, `
database:
  path: "${AGENTDECK_TEST_DB}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want expanded env value", cfg.Database.Path)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
sweeper:
  interval: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "sweeper interval") {
		t.Errorf("error = %v, want mention of sweeper interval", err)
	}
}

func TestLoad_SweepIntervalTooShort(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
sweeper:
  interval: "100ms"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for sub-second sweep interval")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
