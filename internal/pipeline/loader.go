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
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/database"
	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// Store is the persistence the loader drives. *database.DB implements it.
type Store interface {
	SaveBatch(ctx context.Context, b *models.LoadBatch) error
	GetBatch(ctx context.Context, id string) (*models.LoadBatch, error)
	FindBatchByKey(ctx context.Context, key string) (*models.LoadBatch, error)

	CreateStagingTable(ctx context.Context, table string) error
	AppendStaging(ctx context.Context, table string, rows []models.SeriesValue) (int64, error)
	StagingCount(ctx context.Context, table string) (int64, error)
	DropStagingTable(ctx context.Context, table string) error
	FindOffendingRows(ctx context.Context, table string, limit int) (*models.RejectReport, error)

	MergeStaging(ctx context.Context, b *models.LoadBatch, onMerged func(database.MergeResult) error) (database.MergeResult, error)
	RebuildSeriesIndexes(ctx context.Context) error
	CompensateMerge(ctx context.Context, b *models.LoadBatch) (int64, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock sets the clock used for ledger timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) {
		l.clock = c
	}
}

// Loader runs batches through stage, validate, merge and index. There is
// a single writer: every public method holds the loader mutex.
type Loader struct {
	store           Store
	clock           clockwork.Clock
	threshold       float64
	maxReportedRows int

	mu sync.Mutex
}

// NewLoader creates a loader from the pipeline configuration.
func NewLoader(store Store, cfg config.PipelineConfig, opts ...Option) *Loader {
	l := &Loader{
		store:           store,
		clock:           clockwork.NewRealClock(),
		threshold:       cfg.IntensityThreshold,
		maxReportedRows: cfg.MaxReportedRows,
	}
	if l.maxReportedRows <= 0 {
		l.maxReportedRows = 100
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// transition moves b to state and stamps it. It does not persist.
func (l *Loader) transition(b *Batch, to models.BatchState) error {
	if !CanTransition(b.State, to) {
		return &TransitionError{BatchID: b.ID, From: b.State, To: to}
	}
	b.State = to
	b.UpdatedAt = l.clock.Now().UTC()
	metrics.RecordBatchTransition(string(to))
	return nil
}

// persist writes the ledger row even when ctx is already canceled, so a
// failure is always recorded.
func (l *Loader) persist(ctx context.Context, b *Batch) error {
	return l.store.SaveBatch(context.WithoutCancel(ctx), &b.LoadBatch)
}

func (l *Loader) batchContext(ctx context.Context, b *Batch) context.Context {
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("pipeline"))
	return logging.ContextWithBatchID(ctx, b.ID)
}

func (l *Loader) requireState(b *Batch, want models.BatchState) error {
	if b.State != want {
		return fmt.Errorf("%w: batch %s is %s, want %s", ErrInvalidTransition, b.ID, b.State, want)
	}
	return nil
}

// NewBatch records a new batch in ARRIVED state.
func (l *Loader) NewBatch(ctx context.Context, key string) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newBatch(ctx, key)
}

func (l *Loader) newBatch(ctx context.Context, key string) (*Batch, error) {
	id := uuid.NewString()
	if key == "" {
		key = id
	}
	now := l.clock.Now().UTC()
	b := &Batch{LoadBatch: models.LoadBatch{
		ID:           id,
		Key:          key,
		State:        models.BatchArrived,
		StagingTable: database.StagingTableName(id),
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	if err := l.store.SaveBatch(ctx, &b.LoadBatch); err != nil {
		return nil, err
	}
	metrics.RecordBatchTransition(string(models.BatchArrived))
	logging.Ctx(l.batchContext(ctx, b)).Debug().Str("batch_key", key).Msg("Batch created")
	return b, nil
}

// Stage writes rows to the batch's staging table without any checks.
// When an intensity threshold is configured, hazard rows that do not
// exceed it are dropped first and counted in FilteredRows.
func (l *Loader) Stage(ctx context.Context, b *Batch, rows []models.SeriesValue) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stage(ctx, b, rows)
}

func (l *Loader) stage(ctx context.Context, b *Batch, rows []models.SeriesValue) error {
	if err := l.requireState(b, models.BatchArrived); err != nil {
		return err
	}
	ctx = l.batchContext(ctx, b)
	start := time.Now()

	kept, filtered := l.filter(rows)
	if err := l.store.CreateStagingTable(ctx, b.StagingTable); err != nil {
		return l.fail(ctx, b, err)
	}
	n, err := l.store.AppendStaging(ctx, b.StagingTable, kept)
	if err != nil {
		if dropErr := l.store.DropStagingTable(context.WithoutCancel(ctx), b.StagingTable); dropErr != nil {
			logging.Ctx(ctx).Warn().Err(dropErr).Str("table", b.StagingTable).Msg("Failed to drop staging table")
		}
		return l.fail(ctx, b, err)
	}

	b.StagedRows = n
	b.FilteredRows = filtered
	if err := l.transition(b, models.BatchStaged); err != nil {
		return err
	}
	if err := l.persist(ctx, b); err != nil {
		return err
	}

	metrics.RecordBatchRows("staged", n)
	metrics.RecordBatchRows("filtered", filtered)
	l.logStep(ctx, b, "stage", start).Int64("filtered", filtered).Msg("Batch staged")
	return nil
}

// filter keeps hazard rows strictly above the intensity threshold.
func (l *Loader) filter(rows []models.SeriesValue) ([]models.SeriesValue, int64) {
	if l.threshold <= 0 {
		return rows, 0
	}
	kept := make([]models.SeriesValue, 0, len(rows))
	for _, r := range rows {
		if r.TypeID == models.SeriesTypeWindIntensity && r.Value <= l.threshold {
			continue
		}
		kept = append(kept, r)
	}
	return kept, int64(len(rows) - len(kept))
}

// Validate checks every staged row against centroid, storm and
// series_type, and for duplicate identities inside the batch. Any
// offending row rejects the whole batch: the staging table is dropped and
// a *RejectError is returned with the report.
func (l *Loader) Validate(ctx context.Context, b *Batch) (*models.RejectReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validate(ctx, b)
}

func (l *Loader) validate(ctx context.Context, b *Batch) (*models.RejectReport, error) {
	if err := l.requireState(b, models.BatchStaged); err != nil {
		return nil, err
	}
	ctx = l.batchContext(ctx, b)
	start := time.Now()

	report, err := l.store.FindOffendingRows(ctx, b.StagingTable, l.maxReportedRows)
	if err != nil {
		return nil, l.fail(ctx, b, err)
	}
	report.BatchID = b.ID
	report.StagedRows = b.StagedRows
	metrics.RecordBatchStep("validate", time.Since(start))

	if err := l.transition(b, models.BatchValidated); err != nil {
		return nil, err
	}
	if report.Offending == 0 {
		if err := l.persist(ctx, b); err != nil {
			return nil, err
		}
		l.logStep(ctx, b, "validate", start).Msg("Batch validated")
		return report, nil
	}

	b.OffendingRows = report.Offending
	b.LastError = report.Summary()
	b.Report = report
	if err := l.store.DropStagingTable(context.WithoutCancel(ctx), b.StagingTable); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("table", b.StagingTable).Msg("Failed to drop rejected staging table")
	}
	if err := l.transition(b, models.BatchRejected); err != nil {
		return nil, err
	}
	if err := l.persist(ctx, b); err != nil {
		return nil, err
	}

	metrics.RecordBatchRows("offending", report.Offending)
	l.logStep(ctx, b, "validate", start).
		Int64("offending", report.Offending).
		Interface("by_reason", report.ByReason).
		Msg("Batch rejected")
	return report, &RejectError{Report: report}
}

// Merge moves the validated batch into series_value and rebuilds the fact
// indexes. A failed merge transaction leaves the store untouched and
// returns the batch to STAGED. A failed index rebuild removes the batch's
// rows again, restores the indexes and returns the batch to STAGED.
func (l *Loader) Merge(ctx context.Context, b *Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.merge(ctx, b)
}

func (l *Loader) merge(ctx context.Context, b *Batch) error {
	if err := l.requireState(b, models.BatchValidated); err != nil {
		return err
	}
	ctx = l.batchContext(ctx, b)
	start := time.Now()

	before := b.LoadBatch
	res, err := l.store.MergeStaging(ctx, &b.LoadBatch, func(r database.MergeResult) error {
		b.MergedRows = r.Merged
		b.SkippedRows = r.Skipped
		b.LastError = ""
		return l.transition(b, models.BatchMerged)
	})
	if err != nil {
		b.LoadBatch = before
		return l.revert(ctx, b, fmt.Errorf("merge: %w", err))
	}
	metrics.RecordBatchRows("merged", res.Merged)
	metrics.RecordBatchRows("skipped", res.Skipped)
	l.logStep(ctx, b, "merge", start).Int64("skipped", res.Skipped).Msg("Batch merged")

	return l.index(ctx, b)
}

// index rebuilds the fact indexes for a MERGED batch.
func (l *Loader) index(ctx context.Context, b *Batch) error {
	start := time.Now()
	if err := l.store.RebuildSeriesIndexes(ctx); err != nil {
		removed, compErr := l.store.CompensateMerge(ctx, &b.LoadBatch)
		if compErr != nil {
			// The ledger keeps MERGED so the batch can be resumed.
			b.LastError = fmt.Sprintf("index rebuild: %v; compensation: %v", err, compErr)
			if saveErr := l.persist(ctx, b); saveErr != nil {
				logging.Ctx(ctx).Error().Err(saveErr).Msg("Failed to record compensation failure")
			}
			return fmt.Errorf("rebuild indexes: %w (compensation failed: %v)", err, compErr)
		}
		logging.Ctx(ctx).Warn().Err(err).Int64("removed", removed).Msg("Index rebuild failed, merge compensated")
		b.MergedRows = 0
		b.SkippedRows = 0
		return l.revert(ctx, b, fmt.Errorf("rebuild indexes: %w", err))
	}

	if err := l.transition(b, models.BatchIndexed); err != nil {
		return err
	}
	if err := l.persist(ctx, b); err != nil {
		return err
	}
	l.logStep(ctx, b, "index", start).Msg("Batch indexed")
	return nil
}

// revert returns b to STAGED with cause recorded in the ledger.
func (l *Loader) revert(ctx context.Context, b *Batch, cause error) error {
	b.LastError = cause.Error()
	if err := l.transition(b, models.BatchStaged); err != nil {
		return errors.Join(cause, err)
	}
	if err := l.persist(ctx, b); err != nil {
		return errors.Join(cause, err)
	}
	logging.Ctx(ctx).Error().Err(cause).Str("state", string(b.State)).Msg("Batch returned to STAGED")
	return cause
}

// fail records err on the batch without changing its state.
func (l *Loader) fail(ctx context.Context, b *Batch, err error) error {
	b.LastError = err.Error()
	b.UpdatedAt = l.clock.Now().UTC()
	if saveErr := l.persist(ctx, b); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}

func (l *Loader) logStep(ctx context.Context, b *Batch, step string, start time.Time) *zerolog.Event {
	d := time.Since(start)
	metrics.RecordBatchStep(step, d)
	return logging.Ctx(ctx).Info().
		Str("state", string(b.State)).
		Int64("rows", b.StagedRows).
		Dur("duration", d)
}

// Run performs the full chain for one batch of rows. When a batch with the
// same key already reached INDEXED, that batch is returned with Duplicate
// set and nothing is loaded.
func (l *Loader) Run(ctx context.Context, key string, rows []models.SeriesValue) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if key != "" {
		prev, err := l.store.FindBatchByKey(ctx, key)
		switch {
		case err == nil && prev.State == models.BatchIndexed:
			logging.Ctx(logging.ContextWithBatchID(ctx, prev.ID)).Info().
				Str("batch_key", key).
				Msg("Batch key already indexed, skipping")
			return &Batch{LoadBatch: *prev, Duplicate: true}, nil
		case err == nil && prev.State != models.BatchRejected:
			if b, done, err := l.takeOver(ctx, prev); done {
				return b, err
			}
		case err != nil && !errors.Is(err, database.ErrNotFound):
			return nil, err
		}
	}

	b, err := l.newBatch(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := l.stage(ctx, b, rows); err != nil {
		return b, err
	}
	if _, err := l.validate(ctx, b); err != nil {
		return b, err
	}
	if err := l.merge(ctx, b); err != nil {
		return b, err
	}
	return b, nil
}

// takeOver handles an unfinished batch found under the key being run. The
// key names the input, so a batch holding its staged rows is resumed. One
// that cannot resume has its staging table dropped and the caller starts a
// fresh batch; done is false in that case.
func (l *Loader) takeOver(ctx context.Context, prev *models.LoadBatch) (b *Batch, done bool, err error) {
	b = &Batch{LoadBatch: *prev}
	ctx = l.batchContext(ctx, b)
	logging.Ctx(ctx).Info().Str("batch_key", prev.Key).Str("state", string(prev.State)).
		Msg("Found unfinished batch for key")

	b, err = l.resume(ctx, b)
	if !errors.Is(err, ErrNotResumable) {
		return b, true, err
	}
	if dropErr := l.store.DropStagingTable(ctx, prev.StagingTable); dropErr != nil {
		return b, true, dropErr
	}
	logging.Ctx(ctx).Warn().Err(err).Str("batch_key", prev.Key).
		Msg("Abandoned unfinished batch for key, restaging")
	return nil, false, nil
}

// Resume continues a batch from its ledger state. A STAGED batch is
// validated and merged, a VALIDATED batch merged and a MERGED batch
// indexed. ARRIVED batches never staged their rows and cannot resume.
func (l *Loader) Resume(ctx context.Context, id string) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, err := l.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &Batch{LoadBatch: *row}
	return l.resume(l.batchContext(ctx, b), b)
}

func (l *Loader) resume(ctx context.Context, b *Batch) (*Batch, error) {
	switch b.State {
	case models.BatchIndexed:
		return b, nil
	case models.BatchStaged:
		if _, err := l.store.StagingCount(ctx, b.StagingTable); err != nil {
			return b, fmt.Errorf("%w: staging table %s: %v", ErrNotResumable, b.StagingTable, err)
		}
		if _, err := l.validate(ctx, b); err != nil {
			return b, err
		}
		return b, l.merge(ctx, b)
	case models.BatchValidated:
		return b, l.merge(ctx, b)
	case models.BatchMerged:
		return b, l.index(ctx, b)
	default:
		return b, fmt.Errorf("%w: batch %s is %s", ErrNotResumable, b.ID, b.State)
	}
}
