package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("MNEMO_PORT", "9090")
	path := writeConfig(t, `{
		"server": {"port": ${MNEMO_PORT:8080}, "log_level": "${MNEMO_LOG_LEVEL:debug}"},
		"memory": {"archive_path": "${MNEMO_ARCHIVE:data/archive.json}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090 from environment", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log_level = %q, want default when env unset", cfg.Server.LogLevel)
	}
	if cfg.Memory.ArchivePath != "data/archive.json" {
		t.Errorf("archive_path = %q, want default", cfg.Memory.ArchivePath)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.ActiveMaxSize != 50 {
		t.Errorf("active_max_size = %d, want 50", cfg.Memory.ActiveMaxSize)
	}
	if cfg.Memory.MinWeightThreshold != 0.1 {
		t.Errorf("min_weight_threshold = %v, want 0.1", cfg.Memory.MinWeightThreshold)
	}
	if cfg.Memory.ArchiveBackend != "file" {
		t.Errorf("archive_backend = %q, want file", cfg.Memory.ArchiveBackend)
	}
	if cfg.Clock.TickInterval != 1.0 || cfg.Clock.Speed != 1.0 {
		t.Errorf("clock = %+v, want 1s realtime", cfg.Clock)
	}
}

func TestLoadExplicitValuesSurviveDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"memory": {"archive_backend": "sqlite", "consolidation_interval": 120}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.ArchiveBackend != "sqlite" {
		t.Errorf("archive_backend = %q, want sqlite", cfg.Memory.ArchiveBackend)
	}
	if cfg.Memory.ConsolidationInterval != 120 {
		t.Errorf("consolidation_interval = %v, want 120", cfg.Memory.ConsolidationInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	if _, err := Load(writeConfig(t, `{broken`)); err == nil {
		t.Fatal("expected parse error")
	}
}
