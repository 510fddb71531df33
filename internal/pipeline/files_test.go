// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/stormgrid/internal/models"
)

func writeSeriesFile(t *testing.T, dir, name string, rows []models.SeriesValue) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("centroid_id,storm_id,type_id,value,timestamp\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%d,%d,%d,%g,%s\n", r.CentroidID, r.StormID, r.TypeID, r.Value, r.Timestamp.Format(time.RFC3339))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func openTestBadger(t *testing.T) *BadgerProgress {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerProgress(db)
}

func TestContentKey(t *testing.T) {
	t.Parallel()

	a := ContentKey([]byte("centroid_id\n1\n"))
	if a != ContentKey([]byte("centroid_id\n1\n")) {
		t.Error("content key is not stable")
	}
	if a == ContentKey([]byte("centroid_id\n2\n")) {
		t.Error("different content shares a key")
	}
	if !strings.HasPrefix(a, "xxh64:") {
		t.Errorf("key %q lacks its prefix", a)
	}
}

func TestLoadFiles(t *testing.T) {
	l, store, _ := newTestLoader(t, testPipelineConfig())
	ctx := context.Background()
	dir := t.TempDir()
	progress := openTestBadger(t)

	bad := tenRows()
	bad[0].CentroidID = 404
	paths := []string{
		writeSeriesFile(t, dir, "a.csv", tenRows()[:4]),
		writeSeriesFile(t, dir, "bad.csv", bad),
		writeSeriesFile(t, dir, "b.csv", tenRows()[4:]),
	}

	results, err := l.LoadFiles(ctx, progress, paths)
	if !errors.Is(err, ErrBatchRejected) {
		t.Fatalf("LoadFiles() error = %v, want the rejection joined", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Batch.State != models.BatchIndexed || results[2].Batch.State != models.BatchIndexed {
		t.Errorf("good files not indexed: %s, %s", results[0].Batch.State, results[2].Batch.State)
	}
	if results[1].Batch.State != models.BatchRejected {
		t.Errorf("bad file state = %s, want REJECTED", results[1].Batch.State)
	}
	if got := store.seriesCount(); got != 10 {
		t.Errorf("series rows = %d, want 10", got)
	}

	fp, err := progress.Get(ctx, results[0].Key)
	if err != nil || fp == nil {
		t.Fatalf("progress for a.csv = %v, %v", fp, err)
	}
	if fp.State != models.BatchIndexed || fp.Rows != 4 || fp.Path != paths[0] {
		t.Errorf("progress = %+v", fp)
	}

	// A second pass skips the loaded files and rejects the bad one again.
	again, err := l.LoadFiles(ctx, progress, paths)
	if !errors.Is(err, ErrBatchRejected) {
		t.Fatalf("second LoadFiles() error = %v", err)
	}
	if !again[0].Skipped || !again[2].Skipped || again[1].Skipped {
		t.Errorf("skipped flags = %v/%v/%v, want true/false/true", again[0].Skipped, again[1].Skipped, again[2].Skipped)
	}
	if got := store.seriesCount(); got != 10 {
		t.Errorf("series rows after rerun = %d, want 10", got)
	}
}

func TestLoadFiles_ResumesUnfinishedFile(t *testing.T) {
	l, store, _ := newTestLoader(t, testPipelineConfig())
	ctx := context.Background()
	progress := NewInMemoryProgress()
	path := writeSeriesFile(t, t.TempDir(), "a.csv", tenRows())

	store.failRebuild = 1
	results, err := l.LoadFiles(ctx, progress, []string{path})
	if !errors.Is(err, errInjected) {
		t.Fatalf("LoadFiles() error = %v, want injected failure", err)
	}
	fp, _ := progress.Get(ctx, results[0].Key)
	if fp == nil || fp.State != models.BatchStaged {
		t.Fatalf("progress = %+v, want STAGED", fp)
	}

	results, err = l.LoadFiles(ctx, progress, []string{path})
	if err != nil {
		t.Fatalf("second LoadFiles() error = %v", err)
	}
	if results[0].Batch.ID != fp.BatchID || results[0].Batch.State != models.BatchIndexed {
		t.Errorf("resumed batch = %s %s, want %s INDEXED", results[0].Batch.ID, results[0].Batch.State, fp.BatchID)
	}
	if len(store.batches) != 1 {
		t.Errorf("ledger batches = %d, want the one resumed batch", len(store.batches))
	}
}

func TestLoadFiles_MissingFile(t *testing.T) {
	l, _, _ := newTestLoader(t, testPipelineConfig())
	results, err := l.LoadFiles(context.Background(), nil, []string{filepath.Join(t.TempDir(), "nope.csv")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(results) != 1 || results[0].Batch != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestProgressTrackers(t *testing.T) {
	trackers := map[string]ProgressTracker{
		"memory": NewInMemoryProgress(),
		"badger": openTestBadger(t),
	}
	for name, p := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := p.Get(ctx, "k")
			if err != nil || got != nil {
				t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
			}
			want := &FileProgress{Path: "/in/a.csv", Key: "k", BatchID: "b1", State: models.BatchMerged, Rows: 3, UpdatedAt: testNow}
			if err := p.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err = p.Get(ctx, "k")
			if err != nil || got == nil {
				t.Fatalf("Get() = %v, %v", got, err)
			}
			if got.BatchID != "b1" || got.State != models.BatchMerged || !got.UpdatedAt.Equal(testNow) {
				t.Errorf("Get() = %+v, want %+v", got, want)
			}
			if err := p.Clear(ctx, "k"); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if err := p.Clear(ctx, "k"); err != nil {
				t.Errorf("second Clear() error = %v", err)
			}
			if got, _ := p.Get(ctx, "k"); got != nil {
				t.Errorf("Get() after Clear = %+v", got)
			}
		})
	}
}
