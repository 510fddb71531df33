// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package main

import (
	"context"
	"strings"

	"github.com/tomtom215/stormgrid/internal/database"
)

func runViews(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErr("views: expected latest, intensity or ensemble")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "latest":
		fs := newFlagSet("views latest", "", a.stderr)
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		db, err := a.store()
		if err != nil {
			return err
		}
		runs, err := db.LatestRuns(ctx)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, runs)

	case "intensity":
		fs := newFlagSet("views intensity", "[filters]", a.stderr)
		var f database.JoinedIntensityFilter
		fs.StringVar(&f.StormName, "storm", "", "storm name")
		fs.Int64Var(&f.StormID, "storm-id", 0, "storm run id")
		fs.Int64Var(&f.CentroidID, "centroid", 0, "centroid id")
		fs.Int64Var(&f.RegionID, "region", 0, "region id")
		fs.StringVar(&f.ISOCode, "iso", "", "ISO code of the region")
		fs.Float64Var(&f.MinValue, "min-value", 0, "lowest value returned")
		fs.IntVar(&f.Limit, "limit", 1000, "row limit")
		fs.IntVar(&f.Offset, "offset", 0, "row offset")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		if f.Limit < 1 || f.Offset < 0 {
			return usageErr("views intensity: limit must be positive and offset non-negative")
		}
		f.ISOCode = strings.ToUpper(f.ISOCode)
		db, err := a.store()
		if err != nil {
			return err
		}
		rows, err := db.JoinedIntensity(ctx, f)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, rows)

	case "ensemble":
		fs := newFlagSet("views ensemble", "[-members n] <storm_name>", a.stderr)
		members := fs.Int("members", 0, "density denominator, 0 uses each run's ensemble size")
		name, err := singleArg(fs, rest, "storm name")
		if err != nil {
			return err
		}
		if *members < 0 {
			return usageErr("views ensemble: members must not be negative")
		}
		db, err := a.store()
		if err != nil {
			return err
		}
		stats, err := db.EnsembleStats(ctx, name, *members)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, stats)

	default:
		return usageErr("views: unknown view %q", sub)
	}
}
