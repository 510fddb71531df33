// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package exposure samples raster sources at centroid locations and
// attaches the results to the centroid table. A point that cannot be
// sampled is a gap, never a zero.
package exposure

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tomtom215/stormgrid/internal/models"
)

// Raster is a gridded value source.
type Raster interface {
	// Sample returns the value at the nearest grid cell. ok is false
	// outside the extent or on nodata.
	Sample(lon, lat float64) (value float64, ok bool)
}

// ErrShape is returned when coordinate and value arrays disagree.
var ErrShape = errors.New("raster shape mismatch")

// GridRaster is a regular lat/lon grid held in memory. Values are row
// major over (lat, lon) with NaN marking nodata. Coordinates may run in
// either direction.
type GridRaster struct {
	lats   []float64
	lons   []float64
	values []float64

	latAsc, lonAsc bool
	wrap360        bool // longitudes run 0..360
	global         bool // cells cover all 360 degrees of longitude
	lonStart       float64
}

// NewGridRaster builds a raster from cell-center coordinates and values.
func NewGridRaster(lats, lons, values []float64) (*GridRaster, error) {
	if len(lats) == 0 || len(lons) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate axis", ErrShape)
	}
	if len(values) != len(lats)*len(lons) {
		return nil, fmt.Errorf("%w: %d values for %dx%d grid", ErrShape, len(values), len(lats), len(lons))
	}
	if !monotonic(lats) || !monotonic(lons) {
		return nil, fmt.Errorf("%w: coordinates must be strictly monotonic", ErrShape)
	}
	g := &GridRaster{
		lats:   lats,
		lons:   lons,
		values: values,
		latAsc: len(lats) < 2 || lats[1] > lats[0],
		lonAsc: len(lons) < 2 || lons[1] > lons[0],
	}
	lo, hi := extent(lons, g.lonAsc)
	pad := halfStep(lons)
	g.wrap360 = lo >= 0 && hi > 180
	g.global = len(lons) > 1 && math.Abs(hi-lo+2*pad-360) <= pad
	g.lonStart = lo - pad
	return g, nil
}

// Sample implements Raster.
func (g *GridRaster) Sample(lon, lat float64) (float64, bool) {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, false
	}
	switch {
	case g.global:
		// Fold into [lonStart, lonStart+360) so points across the
		// antimeridian seam reach the edge cell on the other side.
		lon = g.lonStart + math.Mod(math.Mod(lon-g.lonStart, 360)+360, 360)
	case g.wrap360 && lon < 0:
		lon += 360
	}
	i, ok := nearest(g.lats, g.latAsc, lat)
	if !ok {
		return 0, false
	}
	j, ok := nearest(g.lons, g.lonAsc, lon)
	if !ok {
		return 0, false
	}
	v := g.values[i*len(g.lons)+j]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Dims returns the number of latitude and longitude cells.
func (g *GridRaster) Dims() (nlat, nlon int) {
	return len(g.lats), len(g.lons)
}

func monotonic(axis []float64) bool {
	if len(axis) < 2 {
		return true
	}
	asc := axis[1] > axis[0]
	for i := 1; i < len(axis); i++ {
		if axis[i] == axis[i-1] || (axis[i] > axis[i-1]) != asc {
			return false
		}
	}
	return true
}

func extent(axis []float64, asc bool) (lo, hi float64) {
	if asc {
		return axis[0], axis[len(axis)-1]
	}
	return axis[len(axis)-1], axis[0]
}

// halfStep is half the spacing at the edge of the axis, the distance a
// point may lie beyond the outermost cell center and still fall in it.
func halfStep(axis []float64) float64 {
	if len(axis) < 2 {
		return 0.5
	}
	return math.Abs(axis[1]-axis[0]) / 2
}

// nearest returns the index of the cell center closest to x.
func nearest(axis []float64, asc bool, x float64) (int, bool) {
	lo, hi := extent(axis, asc)
	pad := halfStep(axis)
	if x < lo-pad || x > hi+pad {
		return 0, false
	}

	n := len(axis)
	k := sort.Search(n, func(i int) bool {
		if asc {
			return axis[i] >= x
		}
		return axis[i] <= x
	})
	switch {
	case k == 0:
		return 0, true
	case k == n:
		return n - 1, true
	}
	if math.Abs(axis[k]-x) < math.Abs(axis[k-1]-x) {
		return k, true
	}
	return k - 1, true
}

// Sample reads raster at every centroid. Points that cannot be sampled
// come back with a nil value.
func Sample(raster Raster, centroids []models.Centroid) []models.PointValue {
	out := make([]models.PointValue, len(centroids))
	for i, c := range centroids {
		out[i].ID = c.ID
		if v, ok := raster.Sample(c.Lon, c.Lat); ok {
			v := v
			out[i].Value = &v
		}
	}
	return out
}
