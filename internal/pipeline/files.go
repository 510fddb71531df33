// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/models"
)

// FileResult is the outcome of loading one file.
type FileResult struct {
	Path    string
	Key     string
	Batch   *Batch
	Skipped bool
	Err     error
}

// ContentKey identifies file content for idempotent reloads.
func ContentKey(data []byte) string {
	return "xxh64:" + strconv.FormatUint(xxhash.Sum64(data), 16)
}

// LoadFiles loads each series CSV as its own batch. Files whose content
// already reached INDEXED are skipped, and a file whose earlier batch
// stopped part way is resumed. A rejected or failed file does not stop the
// remaining ones; all failures are returned joined.
func (l *Loader) LoadFiles(ctx context.Context, progress ProgressTracker, paths []string) ([]FileResult, error) {
	if progress == nil {
		progress = NewInMemoryProgress()
	}
	results := make([]FileResult, 0, len(paths))
	var errs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := l.loadFile(ctx, progress, path)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, res.Err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (l *Loader) loadFile(ctx context.Context, progress ProgressTracker, path string) FileResult {
	res := FileResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Key = ContentKey(data)

	prev, err := progress.Get(ctx, res.Key)
	if err != nil {
		res.Err = err
		return res
	}
	if prev != nil {
		switch prev.State {
		case models.BatchIndexed:
			logging.Ctx(ctx).Info().Str("path", path).Str("batch_id", prev.BatchID).Msg("File already loaded, skipping")
			res.Skipped = true
			return res
		case models.BatchStaged, models.BatchValidated, models.BatchMerged:
			b, err := l.Resume(ctx, prev.BatchID)
			res.Batch = b
			res.Err = err
			if errors.Is(err, ErrNotResumable) {
				// Fall through to a fresh batch for the same content.
				break
			}
			l.recordProgress(ctx, progress, path, res)
			return res
		}
	}

	rows, err := ReadSeriesCSV(bytes.NewReader(data))
	if err != nil {
		res.Err = err
		return res
	}
	b, err := l.Run(ctx, res.Key, rows)
	res.Batch = b
	res.Err = err
	if b != nil && b.Duplicate {
		res.Skipped = true
	}
	l.recordProgress(ctx, progress, path, res)
	return res
}

func (l *Loader) recordProgress(ctx context.Context, progress ProgressTracker, path string, res FileResult) {
	if res.Batch == nil {
		return
	}
	fp := &FileProgress{
		Path:      path,
		Key:       res.Key,
		BatchID:   res.Batch.ID,
		State:     res.Batch.State,
		Rows:      res.Batch.StagedRows,
		UpdatedAt: l.clock.Now().UTC(),
	}
	if err := progress.Save(context.WithoutCancel(ctx), fp); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Failed to save load progress")
	}
}
