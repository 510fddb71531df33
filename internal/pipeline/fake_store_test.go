// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/stormgrid/internal/database"
	"github.com/tomtom215/stormgrid/internal/models"
)

var errInjected = errors.New("injected failure")

type storedValue struct {
	models.SeriesValue
	batchID string
}

// fakeStore mimics the transactional behavior of the database closely
// enough to drive every loader path, including rollbacks.
type fakeStore struct {
	mu sync.Mutex

	centroids map[int64]bool
	storms    map[int64]bool

	batches map[string]models.LoadBatch
	staging map[string][]models.SeriesValue
	series  []storedValue
	indexed bool

	failMerge   int // remaining merge failures
	failRebuild int // remaining index rebuild failures
	rebuilds    int
}

func newFakeStore(centroids, storms []int64) *fakeStore {
	s := &fakeStore{
		centroids: map[int64]bool{},
		storms:    map[int64]bool{},
		batches:   map[string]models.LoadBatch{},
		staging:   map[string][]models.SeriesValue{},
		indexed:   true,
	}
	for _, id := range centroids {
		s.centroids[id] = true
	}
	for _, id := range storms {
		s.storms[id] = true
	}
	return s
}

func (s *fakeStore) SaveBatch(_ context.Context, b *models.LoadBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = *b
	return nil
}

func (s *fakeStore) GetBatch(_ context.Context, id string) (*models.LoadBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &b, nil
}

func (s *fakeStore) FindBatchByKey(_ context.Context, key string) (*models.LoadBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.LoadBatch
	for _, b := range s.batches {
		if b.Key != key {
			continue
		}
		b := b
		switch {
		case found == nil:
			found = &b
		case (b.State == models.BatchIndexed) != (found.State == models.BatchIndexed):
			if b.State == models.BatchIndexed {
				found = &b
			}
		case b.UpdatedAt.After(found.UpdatedAt):
			found = &b
		}
	}
	if found == nil {
		return nil, database.ErrNotFound
	}
	return found, nil
}

func (s *fakeStore) CreateStagingTable(_ context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staging[table]; ok {
		return fmt.Errorf("table %s already exists", table)
	}
	s.staging[table] = nil
	return nil
}

func (s *fakeStore) AppendStaging(_ context.Context, table string, rows []models.SeriesValue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staging[table]; !ok {
		return 0, fmt.Errorf("table %s does not exist", table)
	}
	s.staging[table] = append(s.staging[table], rows...)
	return int64(len(rows)), nil
}

func (s *fakeStore) StagingCount(_ context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.staging[table]
	if !ok {
		return 0, fmt.Errorf("table %s does not exist", table)
	}
	return int64(len(rows)), nil
}

func (s *fakeStore) DropStagingTable(_ context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staging, table)
	return nil
}

type seriesKey struct {
	centroid, storm, typ int64
	ts                   int64
}

func keyOf(v models.SeriesValue) seriesKey {
	return seriesKey{v.CentroidID, v.StormID, v.TypeID, v.Timestamp.UnixNano()}
}

func (s *fakeStore) FindOffendingRows(_ context.Context, table string, limit int) (*models.RejectReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.staging[table]
	counts := map[seriesKey]int{}
	for _, r := range rows {
		counts[keyOf(r)]++
	}
	report := &models.RejectReport{ByReason: map[string]int{}}
	for _, r := range rows {
		var reasons []models.RejectReason
		if !s.centroids[r.CentroidID] {
			reasons = append(reasons, models.ReasonUnknownCentroid)
		}
		if !s.storms[r.StormID] {
			reasons = append(reasons, models.ReasonUnknownStorm)
		}
		if r.TypeID != models.SeriesTypeWindIntensity && r.TypeID != models.SeriesTypeImpact {
			reasons = append(reasons, models.ReasonUnknownType)
		}
		if counts[keyOf(r)] > 1 {
			reasons = append(reasons, models.ReasonDuplicateKey)
		}
		if len(reasons) == 0 {
			continue
		}
		report.Offending++
		for _, reason := range reasons {
			report.ByReason[string(reason)]++
		}
		if len(report.Rows) < limit {
			report.Rows = append(report.Rows, models.OffendingRow{SeriesValue: r, Reasons: reasons})
		} else {
			report.Truncated = true
		}
	}
	return report, nil
}

func (s *fakeStore) MergeStaging(_ context.Context, b *models.LoadBatch, onMerged func(database.MergeResult) error) (database.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res database.MergeResult
	if s.failMerge > 0 {
		s.failMerge--
		return res, errInjected
	}
	staged, ok := s.staging[b.StagingTable]
	if !ok {
		return res, fmt.Errorf("table %s does not exist", b.StagingTable)
	}

	existing := map[seriesKey]bool{}
	for _, v := range s.series {
		existing[keyOf(v.SeriesValue)] = true
	}
	var added []storedValue
	for _, r := range staged {
		if existing[keyOf(r)] {
			res.Skipped++
			continue
		}
		added = append(added, storedValue{SeriesValue: r, batchID: b.ID})
		res.Merged++
	}
	if err := onMerged(res); err != nil {
		return res, err
	}

	s.series = append(s.series, added...)
	s.indexed = false
	delete(s.staging, b.StagingTable)
	s.batches[b.ID] = *b
	return res, nil
}

func (s *fakeStore) RebuildSeriesIndexes(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	if s.failRebuild > 0 {
		s.failRebuild--
		return errInjected
	}
	s.indexed = true
	return nil
}

func (s *fakeStore) CompensateMerge(_ context.Context, b *models.LoadBatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []storedValue
	var restored []models.SeriesValue
	for _, v := range s.series {
		if v.batchID == b.ID {
			restored = append(restored, v.SeriesValue)
			continue
		}
		kept = append(kept, v)
	}
	s.series = kept
	s.staging[b.StagingTable] = restored
	s.indexed = true
	return int64(len(restored)), nil
}

func (s *fakeStore) seriesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

func (s *fakeStore) hasStaging(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.staging[table]
	return ok
}
