// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package config loads stormgrid configuration from struct defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database" validate:"required"`
	Grid     GridConfig     `koanf:"grid" validate:"required"`
	Exposure ExposureConfig `koanf:"exposure" validate:"required"`
	Pipeline PipelineConfig `koanf:"pipeline" validate:"required"`
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Logging  LoggingConfig  `koanf:"logging" validate:"required"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path" validate:"required"`
	MaxMemory              string `koanf:"max_memory" validate:"required,memsize"`
	Threads                int    `koanf:"threads" validate:"min=0,max=512"` // 0 = use NumCPU
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`

	// InstallExtensions allows INSTALL of the spatial and h3 extensions
	// from the network. When false only locally cached extensions are loaded.
	InstallExtensions bool `koanf:"install_extensions"`

	// ExtensionsOptional lets the store open without spatial or h3; the
	// operations that need them then return ErrSpatialUnavailable or
	// ErrH3Unavailable.
	ExtensionsOptional bool `koanf:"extensions_optional"`
}

// GridConfig holds grid construction, region join and hex index settings.
type GridConfig struct {
	// H3Resolution is the target resolution R of centroid cells and polyfill.
	H3Resolution int `koanf:"h3_resolution" validate:"min=0,max=15"`

	// JoinStrategy selects the region join: auto, sql or parallel.
	JoinStrategy string `koanf:"join_strategy" validate:"oneof=auto sql parallel"`

	// Workers bounds the pool used by the parallel join and the polyfill step.
	Workers int `koanf:"workers" validate:"min=1,max=256"`

	// ISOProperties lists the region attribute names tried, in order, for iso_codes.
	ISOProperties []string `koanf:"iso_properties" validate:"min=1,dive,required"`

	// NameProperties lists the region attribute names tried, in order, for the region name.
	NameProperties []string `koanf:"name_properties"`
}

// ExposureConfig names the raster variables used by the NetCDF sampler.
type ExposureConfig struct {
	Variable string `koanf:"variable" validate:"required"`
	LatVar   string `koanf:"lat_var" validate:"required"`
	LonVar   string `koanf:"lon_var" validate:"required"`
}

// PipelineConfig holds load pipeline settings.
type PipelineConfig struct {
	// EnsembleSize is the density denominator for storms that do not carry one.
	EnsembleSize int `koanf:"ensemble_size" validate:"min=1,max=1000"`

	// IntensityThreshold drops hazard rows below this value at stage time. 0 disables.
	IntensityThreshold float64 `koanf:"intensity_threshold" validate:"gte=0"`

	// TrackBufferDegrees pads a track bounding box for centroid subsetting.
	TrackBufferDegrees float64 `koanf:"track_buffer_degrees" validate:"gte=0,lte=45"`

	// MaxReportedRows caps the offending rows listed in a reject report.
	MaxReportedRows int `koanf:"max_reported_rows" validate:"min=1"`

	// ProgressPath is the Badger directory used by multi-file loads. Empty keeps
	// progress in memory.
	ProgressPath string `koanf:"progress_path"`
}

// ServerConfig holds the read-only HTTP API settings.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"` // 0 disables
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ViewCacheSize   int           `koanf:"view_cache_size" validate:"min=0"` // 0 disables
	ViewCacheTTL    time.Duration `koanf:"view_cache_ttl"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
