// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package grid

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/metrics"
	"github.com/tomtom215/stormgrid/internal/models"
)

// Join strategies.
const (
	StrategyAuto     = "auto"
	StrategySQL      = "sql"
	StrategyParallel = "parallel"
)

// ErrUnknownStrategy is returned for a join strategy other than auto, sql or parallel.
var ErrUnknownStrategy = errors.New("unknown join strategy")

// JoinStore is the part of the database the region join reads and writes.
type JoinStore interface {
	IsSpatialAvailable() bool
	JoinRegionsSpatial(ctx context.Context) (candidates, assigned int64, err error)
	UnassignedCentroids(ctx context.Context) ([]models.Centroid, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
	ApplyRegionAssignments(ctx context.Context, claims []models.RegionAssignment) (int64, error)
}

// JoinResult summarises one region join pass.
type JoinResult struct {
	Regions    int           `json:"regions"`
	Candidates int64         `json:"candidates"` // centroids without a region before the pass
	Assigned   int64         `json:"assigned"`
	Unmatched  int64         `json:"unmatched"` // candidates still without a region
	Strategy   string        `json:"strategy"`
	Duration   time.Duration `json:"duration"`
}

// Joiner assigns each unclaimed centroid the lowest-id region containing it.
type Joiner struct {
	store    JoinStore
	strategy string
	workers  int
}

// NewJoiner creates a joiner. workers <= 0 uses one worker per CPU.
func NewJoiner(store JoinStore, strategy string, workers int) (*Joiner, error) {
	switch strategy {
	case "":
		strategy = StrategyAuto
	case StrategyAuto, StrategySQL, StrategyParallel:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Joiner{store: store, strategy: strategy, workers: workers}, nil
}

// Strategy resolves auto against the store's spatial capability.
func (j *Joiner) Strategy() string {
	if j.strategy != StrategyAuto {
		return j.strategy
	}
	if j.store.IsSpatialAvailable() {
		return StrategySQL
	}
	return StrategyParallel
}

// Join runs one pass. Centroids that already carry a region are never
// revisited, and centroids outside every region stay unassigned.
func (j *Joiner) Join(ctx context.Context) (*JoinResult, error) {
	start := time.Now()
	strategy := j.Strategy()
	logger := logging.Ctx(ctx).With().Str("strategy", strategy).Logger()

	regions, err := j.store.ListRegions(ctx)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{Regions: len(regions), Strategy: strategy}
	switch strategy {
	case StrategySQL:
		res.Candidates, res.Assigned, err = j.store.JoinRegionsSpatial(ctx)
	case StrategyParallel:
		res.Candidates, res.Assigned, err = j.joinParallel(ctx, regions)
	}
	if err != nil {
		return nil, fmt.Errorf("region join (%s): %w", strategy, err)
	}

	res.Unmatched = res.Candidates - res.Assigned
	res.Duration = time.Since(start)
	metrics.RecordRegionJoin(strategy, res.Assigned, res.Duration)

	logger.Info().
		Int("regions", res.Regions).
		Int64("candidates", res.Candidates).
		Int64("assigned", res.Assigned).
		Int64("unmatched", res.Unmatched).
		Dur("duration", res.Duration).
		Msg("Region join complete")
	return res, nil
}

// centroidPoint is an unclaimed centroid held in the R-tree.
type centroidPoint struct {
	geom.Point
	id int64
}

// regionMatch is the map output for one region.
type regionMatch struct {
	regionID  int64
	centroids []int64
}

// joinParallel maps every region to the centroids it contains on a worker
// pool, then reduces in ascending region id so that the first containing
// region claims a centroid.
func (j *Joiner) joinParallel(ctx context.Context, regions []models.Region) (candidates, assigned int64, err error) {
	centroids, err := j.store.UnassignedCentroids(ctx)
	if err != nil {
		return 0, 0, err
	}
	candidates = int64(len(centroids))
	if candidates == 0 || len(regions) == 0 {
		return candidates, 0, nil
	}

	tree := rtree.NewTree(25, 50)
	for _, c := range centroids {
		tree.Insert(&centroidPoint{Point: geom.Point{X: c.Lon, Y: c.Lat}, id: c.ID})
	}

	matches, err := j.mapRegions(ctx, tree, regions)
	if err != nil {
		return candidates, 0, err
	}
	claims := reduceMatches(matches)

	assigned, err = j.store.ApplyRegionAssignments(ctx, claims)
	if err != nil {
		return candidates, 0, err
	}
	return candidates, assigned, nil
}

func (j *Joiner) mapRegions(ctx context.Context, tree *rtree.Rtree, regions []models.Region) ([]regionMatch, error) {
	pool := pond.NewPool(j.workers)
	defer pool.StopAndWait()

	matches := make([]regionMatch, len(regions))
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range regions {
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			r := regions[i]
			mp, err := ParseRegionWKT(r.WKT)
			if err != nil {
				return fmt.Errorf("region %d: %w", r.ID, err)
			}
			matches[i] = regionMatch{regionID: r.ID, centroids: containedCentroids(tree, mp)}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

// containedCentroids searches the tree by the region's bounding box and
// keeps the points inside the polygon. Boundary points count as inside
// only where orb/planar says so.
func containedCentroids(tree *rtree.Rtree, mp orb.MultiPolygon) []int64 {
	b := mp.Bound()
	box := &geom.Bounds{
		Min: geom.Point{X: b.Min.X(), Y: b.Min.Y()},
		Max: geom.Point{X: b.Max.X(), Y: b.Max.Y()},
	}

	var ids []int64
	for _, hit := range tree.SearchIntersect(box) {
		p := hit.(*centroidPoint)
		if planar.MultiPolygonContains(mp, orb.Point{p.X, p.Y}) {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// reduceMatches resolves overlaps: regions are visited in ascending id and
// a centroid goes to the first region that contains it.
func reduceMatches(matches []regionMatch) []models.RegionAssignment {
	sort.Slice(matches, func(a, b int) bool { return matches[a].regionID < matches[b].regionID })

	claimed := make(map[int64]struct{})
	var claims []models.RegionAssignment
	for _, m := range matches {
		for _, c := range m.centroids {
			if _, taken := claimed[c]; taken {
				continue
			}
			claimed[c] = struct{}{}
			claims = append(claims, models.RegionAssignment{CentroidID: c, RegionID: m.regionID})
		}
	}
	return claims
}
