// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package exposure

import (
	"errors"
	"math"
	"testing"

	"github.com/tomtom215/stormgrid/internal/models"
)

// 3x4 grid: latitudes descending like ERA5, longitudes ascending.
func testGrid(t *testing.T) *GridRaster {
	t.Helper()
	lats := []float64{20, 10, 0}
	lons := []float64{-30, -20, -10, 0}
	values := []float64{
		1, 2, 3, 4,
		5, math.NaN(), 7, 8,
		9, 10, 11, 12,
	}
	g, err := NewGridRaster(lats, lons, values)
	if err != nil {
		t.Fatalf("NewGridRaster() error = %v", err)
	}
	return g
}

func TestGridRaster_Sample(t *testing.T) {
	t.Parallel()
	g := testGrid(t)

	tests := []struct {
		name     string
		lon, lat float64
		want     float64
		wantOK   bool
	}{
		{"exact center", -30, 20, 1, true},
		{"nearest cell", -26, 16, 1, true},
		{"nearest is nodata", -16, 6, 0, false},
		{"south east corner", 0, 0, 12, true},
		{"inside half step beyond edge", 4, -4, 12, true},
		{"outside extent", 10, 0, 0, false},
		{"north of extent", -30, 26, 0, false},
		{"NaN coordinate", math.NaN(), 0, 0, false},
		{"interior", -10, 10, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Sample(tt.lon, tt.lat)
			if ok != tt.wantOK {
				t.Fatalf("Sample(%v, %v) ok = %v, want %v", tt.lon, tt.lat, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Sample(%v, %v) = %v, want %v", tt.lon, tt.lat, got, tt.want)
			}
		})
	}
}

func TestGridRaster_Wrap360(t *testing.T) {
	t.Parallel()

	g, err := NewGridRaster([]float64{0, 1}, []float64{0, 90, 180, 270}, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("NewGridRaster() error = %v", err)
	}
	got, ok := g.Sample(-90, 1)
	if !ok || got != 8 {
		t.Errorf("Sample(-90, 1) = %v, %v; want 8, true", got, ok)
	}
}

func TestGridRaster_AntimeridianSeam(t *testing.T) {
	t.Parallel()

	// One-degree global grid with cell centers at -180..179.
	lons := make([]float64, 360)
	for i := range lons {
		lons[i] = float64(i - 180)
	}
	values := make([]float64, len(lons))
	for i := range values {
		values[i] = lons[i]
	}
	g, err := NewGridRaster([]float64{15}, lons, values)
	if err != nil {
		t.Fatalf("NewGridRaster() error = %v", err)
	}

	tests := []struct {
		lon  float64
		want float64
	}{
		{179.8, -180},
		{179.2, 179},
		{-179.9, -180},
		{-180.4, -180},
		{540, -180},
		{-0.2, 0},
	}
	for _, tt := range tests {
		got, ok := g.Sample(tt.lon, 15)
		if !ok || got != tt.want {
			t.Errorf("Sample(%v, 15) = %v, %v; want %v, true", tt.lon, got, ok, tt.want)
		}
	}

	regional := testGrid(t)
	if regional.global {
		t.Error("regional grid detected as global")
	}
}

func TestNewGridRaster_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		lats, lons, vals []float64
	}{
		{"empty axis", nil, []float64{0}, nil},
		{"value count", []float64{0, 1}, []float64{0, 1}, []float64{1, 2, 3}},
		{"not monotonic", []float64{0, 2, 1}, []float64{0}, []float64{1, 2, 3}},
		{"repeated coordinate", []float64{0, 0}, []float64{0}, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGridRaster(tt.lats, tt.lons, tt.vals); !errors.Is(err, ErrShape) {
				t.Errorf("error = %v, want ErrShape", err)
			}
		})
	}
}

func TestSample_GapsAreNil(t *testing.T) {
	t.Parallel()
	g := testGrid(t)

	values := Sample(g, []models.Centroid{
		{ID: 1, Lon: -30, Lat: 20},
		{ID: 2, Lon: -20, Lat: 10}, // nodata
		{ID: 3, Lon: 100, Lat: 50}, // outside
	})
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	if values[0].Value == nil || *values[0].Value != 1 {
		t.Errorf("value 1 = %v, want 1", values[0].Value)
	}
	for _, v := range values[1:] {
		if v.Value != nil {
			t.Errorf("centroid %d should be a gap, got %v", v.ID, *v.Value)
		}
	}
}
