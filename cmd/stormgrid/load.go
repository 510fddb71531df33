// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tomtom215/stormgrid/internal/database"
	"github.com/tomtom215/stormgrid/internal/pipeline"
)

// fileSummary is one file in the load command output.
type fileSummary struct {
	Path    string          `json:"path"`
	Key     string          `json:"key,omitempty"`
	Skipped bool            `json:"skipped,omitempty"`
	Batch   *pipeline.Batch `json:"batch,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// expandPaths resolves glob patterns the shell left unexpanded.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[") {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, usageErr("load: bad pattern %q: %v", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("load: no files match %q", arg)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func (a *app) loader(db *database.DB) *pipeline.Loader {
	return pipeline.NewLoader(db, a.cfg.Pipeline)
}

func runLoad(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("load", "[-progress dir] <series.csv>...", a.stderr)
	progressPath := fs.String("progress", a.cfg.Pipeline.ProgressPath, "Badger directory that remembers loaded files")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageErr("load: expected at least one series file")
	}
	paths, err := expandPaths(fs.Args())
	if err != nil {
		return err
	}

	var progress pipeline.ProgressTracker
	if *progressPath != "" {
		bp, err := pipeline.OpenBadgerProgress(*progressPath)
		if err != nil {
			return err
		}
		defer func() { _ = bp.Close() }()
		progress = bp
	}

	db, err := a.store()
	if err != nil {
		return err
	}
	results, loadErr := a.loader(db).LoadFiles(ctx, progress, paths)

	out := make([]fileSummary, len(results))
	for i, res := range results {
		out[i] = fileSummary{Path: res.Path, Key: res.Key, Skipped: res.Skipped, Batch: res.Batch}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	if err := writeJSON(a.stdout, out); err != nil {
		return err
	}
	return loadErr
}

func runBatch(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErr("batch: expected list, show or resume")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		fs := newFlagSet("batch list", "[-limit n]", a.stderr)
		limit := fs.Int("limit", 50, "number of batches")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		if *limit < 1 {
			return usageErr("batch list: limit must be positive")
		}
		db, err := a.store()
		if err != nil {
			return err
		}
		batches, err := db.ListBatches(ctx, *limit)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, batches)

	case "show":
		id, err := singleArg(newFlagSet("batch show", "<batch_id>", a.stderr), rest, "batch id")
		if err != nil {
			return err
		}
		db, err := a.store()
		if err != nil {
			return err
		}
		b, err := db.GetBatch(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("batch %s not found", id)
		}
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, b)

	case "resume":
		id, err := singleArg(newFlagSet("batch resume", "<batch_id>", a.stderr), rest, "batch id")
		if err != nil {
			return err
		}
		db, err := a.store()
		if err != nil {
			return err
		}
		b, err := a.loader(db).Resume(ctx, id)
		if b != nil {
			if werr := writeJSON(a.stdout, b); werr != nil {
				return werr
			}
		}
		return err

	default:
		return usageErr("batch: unknown subcommand %q", sub)
	}
}
