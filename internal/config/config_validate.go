// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package config

import (
	"fmt"

	"github.com/tomtom215/stormgrid/internal/validation"
)

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateDatabase()
}

func (c *Config) validateServer() error {
	if c.Server.RateLimitReqs > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when RATE_LIMIT_REQUESTS is set")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	// The SQL join cannot run without spatial, so it must not be forced
	// while extensions are allowed to be missing.
	if c.Grid.JoinStrategy == "sql" && c.Database.ExtensionsOptional {
		return fmt.Errorf("JOIN_STRATEGY=sql requires the spatial extension; use auto when DUCKDB_EXTENSIONS_OPTIONAL=true")
	}
	return nil
}
