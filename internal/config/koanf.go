// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/stormgrid/config.yaml",
	"/etc/stormgrid/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:                   "stormgrid.duckdb",
			MaxMemory:              "4GB",
			Threads:                0,
			PreserveInsertionOrder: false,
			InstallExtensions:      true,
			ExtensionsOptional:     false,
		},
		Grid: GridConfig{
			H3Resolution:   6,
			JoinStrategy:   "auto",
			Workers:        8,
			ISOProperties:  []string{"ISO", "iso_a3", "ISO_A3", "GID_0"},
			NameProperties: []string{"NAME", "name", "ADMIN", "NAME_0"},
		},
		Exposure: ExposureConfig{
			Variable: "population",
			LatVar:   "lat",
			LonVar:   "lon",
		},
		Pipeline: PipelineConfig{
			EnsembleSize:       51,
			IntensityThreshold: 17.5,
			TrackBufferDegrees: 6,
			MaxReportedRows:    100,
			ProgressPath:       "",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8640,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			ViewCacheSize:   1024,
			ViewCacheTTL:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf builds the configuration. An empty path falls back to
// CONFIG_PATH and then DefaultConfigPaths; a missing file is not an error
// unless the path was given explicitly.
func LoadWithKoanf(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in defaults without reading files or the environment.
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths may arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"grid.iso_properties",
	"grid.name_properties",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names onto config keys.
// Unmapped variables are dropped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"duckdb_path":                "database.path",
		"duckdb_max_memory":          "database.max_memory",
		"duckdb_threads":             "database.threads",
		"duckdb_install_extensions":  "database.install_extensions",
		"duckdb_extensions_optional": "database.extensions_optional",

		"h3_resolution":   "grid.h3_resolution",
		"join_strategy":   "grid.join_strategy",
		"grid_workers":    "grid.workers",
		"iso_properties":  "grid.iso_properties",
		"name_properties": "grid.name_properties",

		"exposure_variable": "exposure.variable",
		"exposure_lat_var":  "exposure.lat_var",
		"exposure_lon_var":  "exposure.lon_var",

		"ensemble_size":        "pipeline.ensemble_size",
		"intensity_threshold":  "pipeline.intensity_threshold",
		"track_buffer_degrees": "pipeline.track_buffer_degrees",
		"max_reported_rows":    "pipeline.max_reported_rows",
		"progress_path":        "pipeline.progress_path",

		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"cors_origins":          "server.cors_origins",
		"rate_limit_requests":   "server.rate_limit_reqs",
		"rate_limit_window":     "server.rate_limit_window",
		"view_cache_size":       "server.view_cache_size",
		"view_cache_ttl":        "server.view_cache_ttl",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
