// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp moves into an empty directory so DefaultConfigPaths find nothing.
func chdirTemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Grid.H3Resolution != 6 {
		t.Errorf("Grid.H3Resolution = %d, want 6", cfg.Grid.H3Resolution)
	}
	if cfg.Pipeline.EnsembleSize != 51 {
		t.Errorf("Pipeline.EnsembleSize = %d, want 51", cfg.Pipeline.EnsembleSize)
	}
	if cfg.Pipeline.IntensityThreshold != 17.5 {
		t.Errorf("Pipeline.IntensityThreshold = %v, want 17.5", cfg.Pipeline.IntensityThreshold)
	}
	if cfg.Pipeline.TrackBufferDegrees != 6 {
		t.Errorf("Pipeline.TrackBufferDegrees = %v, want 6", cfg.Pipeline.TrackBufferDegrees)
	}
	if cfg.Grid.JoinStrategy != "auto" {
		t.Errorf("Grid.JoinStrategy = %q, want auto", cfg.Grid.JoinStrategy)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithKoanf_DefaultsOnly(t *testing.T) {
	chdirTemp(t)
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := LoadWithKoanf("")
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Database.Path != "stormgrid.duckdb" {
		t.Errorf("Database.Path = %q, want stormgrid.duckdb", cfg.Database.Path)
	}
	if len(cfg.Grid.ISOProperties) == 0 {
		t.Error("expected default ISO properties")
	}
}

func TestLoadWithKoanf_YAMLFile(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "stormgrid.yaml")
	content := `
database:
  path: /data/risk.duckdb
  max_memory: 8GB
grid:
  h3_resolution: 7
  join_strategy: parallel
pipeline:
  ensemble_size: 25
server:
  port: 9000
  read_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWithKoanf(path)
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Database.Path != "/data/risk.duckdb" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "8GB" {
		t.Errorf("Database.MaxMemory = %q", cfg.Database.MaxMemory)
	}
	if cfg.Grid.H3Resolution != 7 {
		t.Errorf("Grid.H3Resolution = %d, want 7", cfg.Grid.H3Resolution)
	}
	if cfg.Grid.JoinStrategy != "parallel" {
		t.Errorf("Grid.JoinStrategy = %q, want parallel", cfg.Grid.JoinStrategy)
	}
	if cfg.Pipeline.EnsembleSize != 25 {
		t.Errorf("Pipeline.EnsembleSize = %d, want 25", cfg.Pipeline.EnsembleSize)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Pipeline.IntensityThreshold != 17.5 {
		t.Errorf("Pipeline.IntensityThreshold = %v, want default 17.5", cfg.Pipeline.IntensityThreshold)
	}
}

func TestLoadWithKoanf_EnvOverridesFile(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "stormgrid.yaml")
	if err := os.WriteFile(path, []byte("grid:\n  h3_resolution: 7\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("H3_RESOLUTION", "5")
	t.Setenv("ENSEMBLE_SIZE", "21")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf(path)
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Grid.H3Resolution != 5 {
		t.Errorf("Grid.H3Resolution = %d, want env value 5", cfg.Grid.H3Resolution)
	}
	if cfg.Pipeline.EnsembleSize != 21 {
		t.Errorf("Pipeline.EnsembleSize = %d, want 21", cfg.Pipeline.EnsembleSize)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("Server.CORSOrigins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestLoadWithKoanf_ConfigPathEnv(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf("")
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithKoanf_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)

	if _, err := LoadWithKoanf(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadWithKoanf_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		message string
	}{
		{"resolution too fine", map[string]string{"H3_RESOLUTION": "16"}, "H3Resolution"},
		{"unknown strategy", map[string]string{"JOIN_STRATEGY": "serial"}, "JoinStrategy"},
		{"bad memory", map[string]string{"DUCKDB_MAX_MEMORY": "plenty"}, "MaxMemory"},
		{"sql without spatial", map[string]string{"JOIN_STRATEGY": "sql", "DUCKDB_EXTENSIONS_OPTIONAL": "true"}, "requires the spatial extension"},
		{"zero ensemble", map[string]string{"ENSEMBLE_SIZE": "0"}, "EnsembleSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv(ConfigPathEnvVar, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadWithKoanf("")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected error mentioning %q, got %v", tt.message, err)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"DUCKDB_PATH":   "database.path",
		"H3_RESOLUTION": "grid.h3_resolution",
		"LOG_LEVEL":     "logging.level",
		"HOME":          "",
		"PATH":          "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
