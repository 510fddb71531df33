// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package exposure

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/tomtom215/stormgrid/internal/config"
)

var testExposureConfig = config.ExposureConfig{Variable: "pop", LatVar: "lat", LonVar: "lon"}

func writeTestNetCDF(t *testing.T, dims []string, values interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exposure.nc")

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatalf("cdf.OpenWriter() error = %v", err)
	}
	if err := cw.AddVar("lat", api.Variable{Values: []float32{10, 20}, Dimensions: []string{"lat"}}); err != nil {
		t.Fatalf("AddVar(lat) error = %v", err)
	}
	if err := cw.AddVar("lon", api.Variable{Values: []float32{100, 110, 120}, Dimensions: []string{"lon"}}); err != nil {
		t.Fatalf("AddVar(lon) error = %v", err)
	}

	attrs, err := util.NewOrderedMap(
		[]string{"scale_factor", "add_offset", "_FillValue"},
		map[string]interface{}{
			"scale_factor": float32(2),
			"add_offset":   float32(1),
			"_FillValue":   int16(-999),
		})
	if err != nil {
		t.Fatalf("NewOrderedMap() error = %v", err)
	}
	if err := cw.AddVar("pop", api.Variable{Values: values, Dimensions: dims, Attributes: attrs}); err != nil {
		t.Fatalf("AddVar(pop) error = %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return path
}

func TestOpenNetCDF_PackedValues(t *testing.T) {
	path := writeTestNetCDF(t, []string{"lat", "lon"}, [][]int16{
		{0, 1, 2},
		{3, -999, 5},
	})

	r, err := OpenNetCDF(path, testExposureConfig)
	if err != nil {
		t.Fatalf("OpenNetCDF() error = %v", err)
	}
	if nlat, nlon := r.Dims(); nlat != 2 || nlon != 3 {
		t.Fatalf("Dims() = %d, %d; want 2, 3", nlat, nlon)
	}

	tests := []struct {
		lon, lat float64
		want     float64
		wantOK   bool
	}{
		{100, 10, 1, true},  // 0*2+1
		{120, 10, 5, true},  // 2*2+1
		{100, 20, 7, true},  // 3*2+1
		{110, 20, 0, false}, // fill value
		{150, 20, 0, false}, // outside
	}
	for _, tt := range tests {
		got, ok := r.Sample(tt.lon, tt.lat)
		if ok != tt.wantOK || (ok && math.Abs(got-tt.want) > 1e-9) {
			t.Errorf("Sample(%v, %v) = %v, %v; want %v, %v", tt.lon, tt.lat, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestOpenNetCDF_LonLatOrder(t *testing.T) {
	path := writeTestNetCDF(t, []string{"lon", "lat"}, [][]int16{
		{0, 3},
		{1, 4},
		{2, 5},
	})

	r, err := OpenNetCDF(path, testExposureConfig)
	if err != nil {
		t.Fatalf("OpenNetCDF() error = %v", err)
	}
	got, ok := r.Sample(120, 20)
	if !ok || got != 11 {
		t.Errorf("Sample(120, 20) = %v, %v; want 11, true", got, ok)
	}
}

func TestOpenNetCDF_Errors(t *testing.T) {
	if _, err := OpenNetCDF(filepath.Join(t.TempDir(), "missing.nc"), testExposureConfig); err == nil {
		t.Error("expected error for a missing file")
	}

	path := writeTestNetCDF(t, []string{"lat", "lon"}, [][]int16{{0, 1, 2}, {3, 4, 5}})
	cfg := testExposureConfig
	cfg.Variable = "density"
	if _, err := OpenNetCDF(path, cfg); err == nil {
		t.Error("expected error for a missing variable")
	}
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	got, err := flatten([][]float32{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("flatten() error = %v", err)
	}
	if len(got) != 4 || got[3] != 4 {
		t.Errorf("flatten() = %v", got)
	}
	if _, err := flatten([]string{"a"}); err == nil {
		t.Error("expected error for string values")
	}
}
