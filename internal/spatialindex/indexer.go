// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package spatialindex re-expresses regions and centroids as hexagonal
// cells and answers containment queries against the stored compact sets.
//
// Each region is polyfilled at the target resolution R with center
// containment, compacted, and written to region_cell. A cell belongs to a
// region when the cell or one of its ancestors is in the region's set.
package spatialindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/tomtom215/stormgrid/internal/grid"
	"github.com/tomtom215/stormgrid/internal/hexgrid"
	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// ErrEmptyTrack is returned when a track has no points.
var ErrEmptyTrack = errors.New("track has no points")

// CellSource converts geometry into cells at a given resolution.
type CellSource interface {
	Polyfill(ctx context.Context, wkt string, res int) ([]uint64, error)
	PointCell(ctx context.Context, lat, lng float64, res int) (uint64, error)
}

// Store is the persistence the indexer reads regions from and writes
// cell sets to.
type Store interface {
	CellSource
	ListRegions(ctx context.Context) ([]models.Region, error)
	GetRegion(ctx context.Context, id int64) (*models.Region, error)
	ReplaceRegionCells(ctx context.Context, regionID int64, cells []models.RegionCell) error
	RegionCells(ctx context.Context, regionID int64) ([]models.RegionCell, error)
	RegionHoldsAny(ctx context.Context, regionID int64, cells []uint64) (bool, error)
	RegionsHoldingAny(ctx context.Context, cells []uint64) ([]int64, error)
	AssignCentroidCells(ctx context.Context, res int) (int64, error)
	CentroidsInCells(ctx context.Context, cells []uint64) ([]models.Centroid, error)
}

// Indexer builds and queries the hexagonal index at one resolution.
type Indexer struct {
	store      Store
	resolution int
	workers    int
}

// NewIndexer creates an indexer at resolution res. workers <= 0 uses one
// worker per CPU.
func NewIndexer(store Store, res, workers int) (*Indexer, error) {
	if res < 0 || res > hexgrid.MaxResolution {
		return nil, fmt.Errorf("resolution %d out of range 0-%d", res, hexgrid.MaxResolution)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{store: store, resolution: res, workers: workers}, nil
}

// Resolution returns the target resolution R.
func (ix *Indexer) Resolution() int {
	return ix.resolution
}

// IndexResult summarises one IndexRegions pass.
type IndexResult struct {
	Regions      int           `json:"regions"`
	RawCells     int64         `json:"raw_cells"`
	CompactCells int64         `json:"compact_cells"`
	Fallbacks    int64         `json:"fallbacks"` // regions indexed by their centroid cell
	Duration     time.Duration `json:"duration"`
}

// IndexRegions rebuilds the cell set of every region on a worker pool.
// Each region's rows are replaced in their own transaction.
func (ix *Indexer) IndexRegions(ctx context.Context) (*IndexResult, error) {
	start := time.Now()
	regions, err := ix.store.ListRegions(ctx)
	if err != nil {
		return nil, err
	}

	var raw, compact, fallbacks atomic.Int64

	pool := pond.NewPool(ix.workers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range regions {
		r := regions[i]
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			cells, fallback, err := ix.regionCells(groupCtx, r)
			if err != nil {
				return fmt.Errorf("region %d: %w", r.ID, err)
			}
			compacted, err := hexgrid.Compact(cells)
			if err != nil {
				return fmt.Errorf("region %d: %w", r.ID, err)
			}
			rows := make([]models.RegionCell, len(compacted))
			for k, c := range compacted {
				rows[k] = models.RegionCell{RegionID: r.ID, Cell: uint64(c), Resolution: c.Resolution()}
			}
			if err := ix.store.ReplaceRegionCells(groupCtx, r.ID, rows); err != nil {
				return fmt.Errorf("region %d: %w", r.ID, err)
			}

			raw.Add(int64(len(cells)))
			compact.Add(int64(len(compacted)))
			if fallback {
				fallbacks.Add(1)
			}
			metrics.RecordPolyfill(len(cells), len(compacted), fallback)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	res := &IndexResult{
		Regions:      len(regions),
		RawCells:     raw.Load(),
		CompactCells: compact.Load(),
		Fallbacks:    fallbacks.Load(),
		Duration:     time.Since(start),
	}
	logging.Ctx(ctx).Info().
		Int("resolution", ix.resolution).
		Int("regions", res.Regions).
		Int64("raw_cells", res.RawCells).
		Int64("compact_cells", res.CompactCells).
		Int64("fallbacks", res.Fallbacks).
		Dur("duration", res.Duration).
		Msg("Region cells indexed")
	return res, nil
}

// regionCells polyfills every polygon of the region and returns the union
// at resolution R. A region too small to contain any cell center yields
// the one cell holding the area centroid of its largest polygon.
func (ix *Indexer) regionCells(ctx context.Context, r models.Region) (cells []hexgrid.Cell, fallback bool, err error) {
	mp, err := grid.ParseRegionWKT(r.WKT)
	if err != nil {
		return nil, false, err
	}

	seen := make(map[uint64]struct{})
	for _, poly := range mp {
		filled, err := ix.store.Polyfill(ctx, wkt.MarshalString(poly), ix.resolution)
		if err != nil {
			return nil, false, err
		}
		for _, c := range filled {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			cells = append(cells, hexgrid.Cell(c))
		}
	}
	if len(cells) > 0 {
		return cells, false, nil
	}

	largest, ok := largestPolygon(mp)
	if !ok {
		return nil, false, nil
	}
	center, _ := planar.CentroidArea(largest)
	c, err := ix.store.PointCell(ctx, center.Lat(), center.Lon(), ix.resolution)
	if err != nil {
		return nil, false, err
	}
	return []hexgrid.Cell{hexgrid.Cell(c)}, true, nil
}

func largestPolygon(mp orb.MultiPolygon) (orb.Polygon, bool) {
	var best orb.Polygon
	bestArea := -1.0
	for _, p := range mp {
		if a := math.Abs(planar.Area(p)); a > bestArea {
			best, bestArea = p, a
		}
	}
	return best, best != nil
}

// AssignCentroidCells sets the resolution-R cell of every centroid that
// has none or was indexed at another resolution.
func (ix *Indexer) AssignCentroidCells(ctx context.Context) (int64, error) {
	n, err := ix.store.AssignCentroidCells(ctx, ix.resolution)
	if err != nil {
		return 0, err
	}
	logging.Ctx(ctx).Info().Int("resolution", ix.resolution).Int64("assigned", n).Msg("Centroid cells assigned")
	return n, nil
}

// lineage returns the cell followed by its ancestors.
func lineage(cell uint64) ([]uint64, error) {
	c := hexgrid.Cell(cell)
	if !c.IsValid() {
		return nil, fmt.Errorf("%w: %x", hexgrid.ErrInvalidCell, cell)
	}
	out := []uint64{cell}
	for _, a := range c.Ancestors() {
		out = append(out, uint64(a))
	}
	return out, nil
}

// Contains reports whether the region's stored set holds cell or one of
// its ancestors.
func (ix *Indexer) Contains(ctx context.Context, regionID int64, cell uint64) (bool, error) {
	cells, err := lineage(cell)
	if err != nil {
		return false, err
	}
	return ix.store.RegionHoldsAny(ctx, regionID, cells)
}

// RegionsContaining returns every region whose set holds cell or one of
// its ancestors, ordered by id.
func (ix *Indexer) RegionsContaining(ctx context.Context, cell uint64) ([]int64, error) {
	cells, err := lineage(cell)
	if err != nil {
		return nil, err
	}
	return ix.store.RegionsHoldingAny(ctx, cells)
}

// LoadSet reads a region's compact set into memory.
func (ix *Indexer) LoadSet(ctx context.Context, regionID int64) (*hexgrid.CompactSet, error) {
	rows, err := ix.store.RegionCells(ctx, regionID)
	if err != nil {
		return nil, err
	}
	cells := make([]hexgrid.Cell, len(rows))
	for i, r := range rows {
		cells[i] = hexgrid.Cell(r.Cell)
	}
	return hexgrid.NewCompactSet(cells), nil
}

// VerifyResult compares a region's stored set, uncompacted to R, with a
// fresh polyfill.
type VerifyResult struct {
	RegionID int64    `json:"region_id"`
	Expected int      `json:"expected"`
	Stored   int      `json:"stored"`
	Missing  []uint64 `json:"missing,omitempty"` // in the polyfill, not in the stored set
	Extra    []uint64 `json:"extra,omitempty"`   // in the stored set, not in the polyfill
}

// OK reports whether the stored set round-trips exactly.
func (v *VerifyResult) OK() bool {
	return len(v.Missing) == 0 && len(v.Extra) == 0
}

// Verify checks that uncompact(stored set) equals the polyfill result.
func (ix *Indexer) Verify(ctx context.Context, regionID int64) (*VerifyResult, error) {
	region, err := ix.store.GetRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}
	expected, _, err := ix.regionCells(ctx, *region)
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", regionID, err)
	}

	set, err := ix.LoadSet(ctx, regionID)
	if err != nil {
		return nil, err
	}
	stored, err := hexgrid.Uncompact(set.Cells(), ix.resolution)
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", regionID, err)
	}

	res := &VerifyResult{RegionID: regionID, Expected: len(expected), Stored: len(stored)}
	want := make(map[hexgrid.Cell]struct{}, len(expected))
	for _, c := range expected {
		want[c] = struct{}{}
	}
	have := make(map[hexgrid.Cell]struct{}, len(stored))
	for _, c := range stored {
		have[c] = struct{}{}
		if _, ok := want[c]; !ok {
			res.Extra = append(res.Extra, uint64(c))
		}
	}
	for _, c := range expected {
		if _, ok := have[c]; !ok {
			res.Missing = append(res.Missing, uint64(c))
		}
	}
	return res, nil
}
