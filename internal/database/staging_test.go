// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package database

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/stormgrid/internal/models"
)

func newTestBatch(t *testing.T, db *DB) *models.LoadBatch {
	t.Helper()
	return newKeyedTestBatch(t, db, "", models.BatchArrived)
}

// newKeyedTestBatch saves a ledger row with the given key and state. The
// key is fixed at insert; an empty key derives one from the id.
func newKeyedTestBatch(t *testing.T, db *DB, key string, state models.BatchState) *models.LoadBatch {
	t.Helper()
	id := uuid.NewString()
	if key == "" {
		key = "test-" + id[:8]
	}
	now := time.Now().UTC()
	b := &models.LoadBatch{
		ID:           id,
		Key:          key,
		State:        state,
		StagingTable: StagingTableName(id),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	checkNoError(t, db.SaveBatch(testContext(t), b))
	return b
}

func hazardRows(stormID int64, centroids []int64, steps int) []models.SeriesValue {
	var rows []models.SeriesValue
	for _, c := range centroids {
		for s := 0; s < steps; s++ {
			rows = append(rows, models.SeriesValue{
				CentroidID: c,
				StormID:    stormID,
				TypeID:     models.SeriesTypeWindIntensity,
				Value:      20 + float64(s),
				Timestamp:  testBasetime.Add(time.Duration(s) * 6 * time.Hour),
			})
		}
	}
	return rows
}

func stage(t *testing.T, db *DB, b *models.LoadBatch, rows []models.SeriesValue) {
	t.Helper()
	ctx := testContext(t)
	checkNoError(t, db.CreateStagingTable(ctx, b.StagingTable))
	n, err := db.AppendStaging(ctx, b.StagingTable, rows)
	checkNoError(t, err)
	b.StagedRows = n
}

func mergeAndIndex(t *testing.T, db *DB, b *models.LoadBatch) MergeResult {
	t.Helper()
	ctx := testContext(t)
	res, err := db.MergeStaging(ctx, b, func(r MergeResult) error {
		b.State = models.BatchMerged
		b.MergedRows = r.Merged
		b.SkippedRows = r.Skipped
		return nil
	})
	checkNoError(t, err)
	checkNoError(t, db.RebuildSeriesIndexes(ctx))
	return res
}

func TestStagingTableName(t *testing.T) {
	got := StagingTableName("3F2504E0-4F89-11D3-9A0C-0305E82C3301")
	checkStringEqual(t, "table", got, "series_staging_3f2504e04f8911d39a0c0305e82c3301")
	checkNoError(t, checkTableName(got))
}

func TestFindOffendingRows_Clean(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 3)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)

	b := newTestBatch(t, db)
	stage(t, db, b, hazardRows(stormID, []int64{1, 2, 3}, 2))

	report, err := db.FindOffendingRows(ctx, b.StagingTable, 100)
	checkNoError(t, err)
	checkInt64Equal(t, "offending", report.Offending, 0)
	checkSliceEmpty(t, "rows", len(report.Rows))
}

// Ten rows, one of which references a storm that does not exist.
func TestFindOffendingRows_OneBadStorm(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 5)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)

	rows := hazardRows(stormID, []int64{1, 2, 3, 4, 5}, 2)
	rows[7].StormID = stormID + 1000

	b := newTestBatch(t, db)
	stage(t, db, b, rows)

	count, err := db.StagingCount(ctx, b.StagingTable)
	checkNoError(t, err)
	checkInt64Equal(t, "staged", count, 10)

	report, err := db.FindOffendingRows(ctx, b.StagingTable, 100)
	checkNoError(t, err)
	checkInt64Equal(t, "offending", report.Offending, 1)
	checkSliceLen(t, "rows", len(report.Rows), 1)
	if report.ByReason[string(models.ReasonUnknownStorm)] != 1 {
		t.Errorf("by reason = %v, want unknown_storm=1", report.ByReason)
	}
	row := report.Rows[0]
	checkInt64Equal(t, "offending storm", row.StormID, stormID+1000)
	if len(row.Reasons) != 1 || row.Reasons[0] != models.ReasonUnknownStorm {
		t.Errorf("reasons = %v, want [unknown_storm]", row.Reasons)
	}
	if report.Truncated {
		t.Error("report should not be truncated")
	}
}

func TestFindOffendingRows_ReasonsAndCap(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 2)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)

	rows := hazardRows(stormID, []int64{1, 2}, 1)
	rows = append(rows,
		models.SeriesValue{CentroidID: 77, StormID: stormID, TypeID: 1, Value: 30, Timestamp: testBasetime},
		models.SeriesValue{CentroidID: 1, StormID: stormID, TypeID: 9, Value: 30, Timestamp: testBasetime},
		rows[0], // duplicate identity of the first row
	)

	b := newTestBatch(t, db)
	stage(t, db, b, rows)

	report, err := db.FindOffendingRows(ctx, b.StagingTable, 2)
	checkNoError(t, err)
	checkInt64Equal(t, "offending", report.Offending, 4)
	checkSliceLen(t, "rows", len(report.Rows), 2)
	if !report.Truncated {
		t.Error("report should be truncated at the cap")
	}
	want := map[string]int{
		string(models.ReasonUnknownCentroid): 1,
		string(models.ReasonUnknownType):     1,
		string(models.ReasonDuplicateKey):    2,
	}
	for reason, n := range want {
		if report.ByReason[reason] != n {
			t.Errorf("by reason %s = %d, want %d", reason, report.ByReason[reason], n)
		}
	}
}

func TestMergeStaging_IdempotentRetry(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 3)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)
	rows := hazardRows(stormID, []int64{1, 2, 3}, 4)

	first := newTestBatch(t, db)
	stage(t, db, first, rows)
	res := mergeAndIndex(t, db, first)
	checkInt64Equal(t, "merged", res.Merged, 12)
	checkInt64Equal(t, "skipped", res.Skipped, 0)

	// The staging table is gone and the ledger row was written in the merge.
	saved, err := db.GetBatch(ctx, first.ID)
	checkNoError(t, err)
	checkStringEqual(t, "state", string(saved.State), string(models.BatchMerged))
	checkInt64Equal(t, "ledger merged rows", saved.MergedRows, 12)
	if _, err := db.StagingCount(ctx, first.StagingTable); err == nil {
		t.Error("staging table should be dropped after merge")
	}

	// The same rows again merge nothing.
	retry := newTestBatch(t, db)
	stage(t, db, retry, rows)
	res = mergeAndIndex(t, db, retry)
	checkInt64Equal(t, "merged on retry", res.Merged, 0)
	checkInt64Equal(t, "skipped on retry", res.Skipped, 12)

	total, err := db.CountSeriesValues(ctx, "")
	checkNoError(t, err)
	checkInt64Equal(t, "fact rows", total, 12)

	byBatch, err := db.CountSeriesValues(ctx, first.ID)
	checkNoError(t, err)
	checkInt64Equal(t, "rows with first batch lineage", byBatch, 12)

	present, err := db.SeriesIndexesPresent(ctx)
	checkNoError(t, err)
	if !present {
		t.Error("indexes should be rebuilt")
	}
}

func TestMergeStaging_CallbackErrorRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 2)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)

	b := newTestBatch(t, db)
	stage(t, db, b, hazardRows(stormID, []int64{1, 2}, 2))

	boom := errors.New("ledger refused")
	_, err := db.MergeStaging(ctx, b, func(MergeResult) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("MergeStaging() error = %v, want %v", err, boom)
	}

	total, err := db.CountSeriesValues(ctx, "")
	checkNoError(t, err)
	checkInt64Equal(t, "fact rows after rollback", total, 0)

	staged, err := db.StagingCount(ctx, b.StagingTable)
	checkNoError(t, err)
	checkInt64Equal(t, "staging rows after rollback", staged, 4)

	present, err := db.SeriesIndexesPresent(ctx)
	checkNoError(t, err)
	if !present {
		t.Error("indexes should survive a rolled back merge")
	}
}

func TestCompensateMerge_RestoresPreMergeState(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	seedCentroids(t, db, 3)
	stormID := seedStorm(t, db, testBasetime, "HELENE", nil)

	earlier := newTestBatch(t, db)
	stage(t, db, earlier, hazardRows(stormID, []int64{1}, 2))
	mergeAndIndex(t, db, earlier)

	// The new batch overlaps the earlier one on centroid 1.
	b := newTestBatch(t, db)
	stage(t, db, b, hazardRows(stormID, []int64{1, 2, 3}, 2))
	_, err := db.MergeStaging(ctx, b, func(MergeResult) error { return nil })
	checkNoError(t, err)

	removed, err := db.CompensateMerge(ctx, b)
	checkNoError(t, err)
	checkInt64Equal(t, "removed", removed, 4)

	total, err := db.CountSeriesValues(ctx, "")
	checkNoError(t, err)
	checkInt64Equal(t, "fact rows after compensation", total, 2)

	staged, err := db.StagingCount(ctx, b.StagingTable)
	checkNoError(t, err)
	checkInt64Equal(t, "restored staging rows", staged, 4)

	present, err := db.SeriesIndexesPresent(ctx)
	checkNoError(t, err)
	if !present {
		t.Error("indexes should be restored by compensation")
	}
}
