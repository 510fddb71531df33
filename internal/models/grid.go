// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package models holds the domain types shared by the store, the enrichment
// passes, the load pipeline and the API.
package models

// Centroid is one point of the fixed world grid. Location and ID never
// change after creation; the pointer fields stay nil until an enrichment
// pass fills them.
type Centroid struct {
	ID        int64    `json:"id"`
	Lon       float64  `json:"lon"`
	Lat       float64  `json:"lat"`
	DistCoast *float64 `json:"dist_coast,omitempty"` // km
	RegionID  *int64   `json:"region_id,omitempty"`
	Exposure  *float64 `json:"exposure,omitempty"`
	H3Cell    *uint64  `json:"h3_cell,omitempty"`
}

// GridPoint is a centroid as read from the grid point list, before insert.
// A zero ID means "assign one".
type GridPoint struct {
	ID        int64    `json:"id"`
	Lon       float64  `json:"lon" validate:"longitude"`
	Lat       float64  `json:"lat" validate:"latitude"`
	DistCoast *float64 `json:"dist_coast,omitempty"`
	Exposure  *float64 `json:"exposure,omitempty"`
}

// Region is an administrative polygon. Geometry is carried as WKT so this
// package stays free of geometry libraries.
type Region struct {
	ID       int64  `json:"id"`
	ISOCodes string `json:"iso_codes"`
	Name     string `json:"name,omitempty"`
	WKT      string `json:"-"`
}

// PointValue is a sampled raster value for one centroid. A nil Value means
// the point was not sampled (outside extent or nodata).
type PointValue struct {
	ID    int64    `json:"id"`
	Value *float64 `json:"value"`
}

// CentroidField names a centroid column that an attachment pass may fill.
type CentroidField string

const (
	FieldExposure  CentroidField = "exposure"
	FieldDistCoast CentroidField = "dist_coast"
)

// Valid reports whether f is an attachable column.
func (f CentroidField) Valid() bool {
	return f == FieldExposure || f == FieldDistCoast
}

// RegionCell is one member of a region's compact hex-cell set.
type RegionCell struct {
	RegionID   int64  `json:"region_id"`
	Cell       uint64 `json:"cell"`
	Resolution int    `json:"resolution"`
}

// RegionAssignment claims a centroid for a region.
type RegionAssignment struct {
	CentroidID int64
	RegionID   int64
}
