// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package exposure

import (
	"fmt"
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/tomtom215/stormgrid/internal/config"
	"github.com/tomtom215/stormgrid/internal/logging"
)

// NetCDFRaster is a GridRaster read from one variable of a NetCDF file.
type NetCDFRaster struct {
	*GridRaster
	Variable string
}

// OpenNetCDF reads cfg.Variable and its coordinate variables from path.
// The variable must be two dimensional over (lat, lon) in either order,
// or three dimensional with the first time step used. scale_factor and
// add_offset are applied; _FillValue, missing_value and NaN become nodata.
func OpenNetCDF(path string, cfg config.ExposureConfig) (*NetCDFRaster, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer nc.Close()

	lats, err := coordinateValues(nc, cfg.LatVar)
	if err != nil {
		return nil, err
	}
	lons, err := coordinateValues(nc, cfg.LonVar)
	if err != nil {
		return nil, err
	}

	vg, err := nc.GetVarGetter(cfg.Variable)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", cfg.Variable, err)
	}
	raw, transpose, err := readPlane(vg, cfg)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", cfg.Variable, err)
	}
	if transpose {
		raw = transposePlane(raw, len(lons), len(lats))
	}

	scale, offset, fills := packing(vg.Attributes())
	values := make([]float64, len(raw))
	nodata := 0
	for i, v := range raw {
		if isFill(v, fills) {
			values[i] = math.NaN()
			nodata++
			continue
		}
		values[i] = v*scale + offset
	}

	grid, err := NewGridRaster(lats, lons, values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", cfg.Variable, err)
	}

	logging.Debug().
		Str("path", path).
		Str("variable", cfg.Variable).
		Int("lat_cells", len(lats)).
		Int("lon_cells", len(lons)).
		Int("nodata_cells", nodata).
		Float64("scale_factor", scale).
		Float64("add_offset", offset).
		Msg("Raster loaded")
	return &NetCDFRaster{GridRaster: grid, Variable: cfg.Variable}, nil
}

func coordinateValues(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	out, err := flatten(v)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	return out, nil
}

// readPlane returns the variable's values row major. transpose reports
// that the stored order is (lon, lat).
func readPlane(vg api.VarGetter, cfg config.ExposureConfig) (values []float64, transpose bool, err error) {
	dims := vg.Dimensions()

	var v interface{}
	switch len(dims) {
	case 2:
		v, err = vg.Values()
	case 3:
		v, err = vg.GetSlice(0, 1)
		dims = dims[1:]
	default:
		return nil, false, fmt.Errorf("%w: %d dimensions", ErrShape, len(dims))
	}
	if err != nil {
		return nil, false, err
	}

	switch {
	case dims[0] == cfg.LatVar && dims[1] == cfg.LonVar:
	case dims[0] == cfg.LonVar && dims[1] == cfg.LatVar:
		transpose = true
	default:
		return nil, false, fmt.Errorf("%w: dimensions %v do not match %s/%s", ErrShape, dims, cfg.LatVar, cfg.LonVar)
	}

	values, err = flatten(v)
	return values, transpose, err
}

func transposePlane(v []float64, rows, cols int) []float64 {
	if len(v) != rows*cols {
		return v
	}
	out := make([]float64, len(v))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = v[r*cols+c]
		}
	}
	return out
}

// flatten walks nested numeric slices, as returned by the NetCDF reader,
// into one float64 slice.
func flatten(v interface{}) ([]float64, error) {
	var out []float64
	var walk func(rv reflect.Value) error
	walk = func(rv reflect.Value) error {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			out = append(out, rv.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out = append(out, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out = append(out, float64(rv.Uint()))
		default:
			return fmt.Errorf("unsupported value type %s", rv.Type())
		}
		return nil
	}
	if err := walk(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return out, nil
}

// attrFloat reads a numeric attribute stored as a scalar or a one-element slice.
func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, err := flatten(v)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func packing(attrs api.AttributeMap) (scale, offset float64, fills []float64) {
	scale = 1
	if s, ok := attrFloat(attrs, "scale_factor"); ok {
		scale = s
	}
	if o, ok := attrFloat(attrs, "add_offset"); ok {
		offset = o
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if f, ok := attrFloat(attrs, key); ok {
			fills = append(fills, f)
		}
	}
	return scale, offset, fills
}

func isFill(v float64, fills []float64) bool {
	if math.IsNaN(v) {
		return true
	}
	for _, f := range fills {
		if v == f {
			return true
		}
	}
	return false
}
