// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package grid

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/tomtom215/stormgrid/internal/models"
)

// ErrNotPolygonal is returned for a region feature whose geometry is not a
// polygon or multipolygon.
var ErrNotPolygonal = errors.New("region geometry is not polygonal")

// DefaultISOProperties are the attribute names tried for iso_codes.
var DefaultISOProperties = []string{"ISO", "iso_a3", "GID_0"}

// DefaultNameProperties are the attribute names tried for the region name.
var DefaultNameProperties = []string{"NAME", "name", "NAME_0", "admin"}

// RegionProperties selects which feature attributes fill a region's
// iso_codes and name. The first non-empty attribute wins.
type RegionProperties struct {
	ISO  []string
	Name []string
}

func (p RegionProperties) withDefaults() RegionProperties {
	if len(p.ISO) == 0 {
		p.ISO = DefaultISOProperties
	}
	if len(p.Name) == 0 {
		p.Name = DefaultNameProperties
	}
	return p
}

// columns returns the configured attribute names that appear in present,
// compared case-insensitively the way shapefile field lookup works.
func (p RegionProperties) columns(present []string) []string {
	have := make(map[string]bool, len(present))
	for _, name := range present {
		have[strings.ToLower(name)] = true
	}
	cols := make([]string, 0, len(p.ISO)+len(p.Name))
	for _, name := range append(append([]string{}, p.ISO...), p.Name...) {
		if have[strings.ToLower(name)] {
			cols = append(cols, name)
		}
	}
	return cols
}

// RegionShape is a region read from a reference file, before it is stored.
type RegionShape struct {
	ISOCodes string
	Name     string
	Geometry orb.MultiPolygon
}

// Region converts the shape into the stored form with WKT geometry.
func (s RegionShape) Region() models.Region {
	return models.Region{
		ISOCodes: s.ISOCodes,
		Name:     s.Name,
		WKT:      wkt.MarshalString(s.Geometry),
	}
}

// Regions converts shapes in order.
func Regions(shapes []RegionShape) []models.Region {
	out := make([]models.Region, len(shapes))
	for i, s := range shapes {
		out[i] = s.Region()
	}
	return out
}

// ReadGeoJSONRegions parses a GeoJSON FeatureCollection of polygon or
// multipolygon features.
func ReadGeoJSONRegions(r io.Reader, props RegionProperties) ([]RegionShape, error) {
	props = props.withDefaults()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read region GeoJSON: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region GeoJSON: %w", err)
	}

	shapes := make([]RegionShape, 0, len(fc.Features))
	for i, f := range fc.Features {
		mp, err := toMultiPolygon(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		attrs := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = propertyString(v)
		}
		shapes = append(shapes, RegionShape{
			ISOCodes: firstAttribute(attrs, props.ISO),
			Name:     firstAttribute(attrs, props.Name),
			Geometry: mp,
		})
	}
	return shapes, nil
}

// ReadShapefileRegions decodes an ESRI shapefile of polygon records.
// Coordinates are used as stored; the file must already be in lon/lat.
// Attribute names absent from the DBF are skipped.
func ReadShapefileRegions(path string, props RegionProperties) ([]RegionShape, error) {
	props = props.withDefaults()

	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer d.Close()

	fieldNames := make([]string, 0, len(d.Fields()))
	for _, f := range d.Fields() {
		fieldNames = append(fieldNames, f.String())
	}
	cols := props.columns(fieldNames)

	var shapes []RegionShape
	for row := 0; ; row++ {
		g, fields, more := d.DecodeRowFields(cols...)
		if !more {
			break
		}
		pg, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("record %d: %w (%T)", row, ErrNotPolygonal, g)
		}
		attrs := make(map[string]string, len(fields))
		for k, v := range fields {
			attrs[k] = strings.TrimSpace(strings.ReplaceAll(v, "\x00", ""))
		}
		shapes = append(shapes, RegionShape{
			ISOCodes: firstAttribute(attrs, props.ISO),
			Name:     firstAttribute(attrs, props.Name),
			Geometry: shapefileMultiPolygon(pg),
		})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("failed to decode shapefile %s: %w", path, err)
	}
	return shapes, nil
}

func firstAttribute(attrs map[string]string, names []string) string {
	for _, n := range names {
		if v := attrs[n]; v != "" {
			return v
		}
	}
	return ""
}

func propertyString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch t := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}, nil
	case orb.MultiPolygon:
		return t, nil
	case nil:
		return nil, fmt.Errorf("%w: missing geometry", ErrNotPolygonal)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotPolygonal, g.GeoJSONType())
	}
}

// ParseRegionWKT reads a stored region geometry back into a multipolygon.
func ParseRegionWKT(s string) (orb.MultiPolygon, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region WKT: %w", err)
	}
	return toMultiPolygon(g)
}

// shapefileMultiPolygon regroups shapefile rings into polygons. A shapefile
// polygon record lists every ring of every part; outer rings run clockwise
// and holes counter-clockwise. Each hole is attached to the first outer
// ring containing it.
func shapefileMultiPolygon(pg geom.Polygonal) orb.MultiPolygon {
	var outers orb.MultiPolygon
	var holes []orb.Ring

	for _, poly := range pg.Polygons() {
		for _, path := range poly {
			ring := make(orb.Ring, 0, len(path)+1)
			for _, p := range path {
				ring = append(ring, orb.Point{p.X, p.Y})
			}
			if len(ring) < 3 {
				continue
			}
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			if ring.Orientation() == orb.CCW {
				holes = append(holes, ring)
				continue
			}
			outers = append(outers, orb.Polygon{ring})
		}
	}

	// A file written with the opposite winding has no clockwise rings.
	if len(outers) == 0 {
		for _, h := range holes {
			outers = append(outers, orb.Polygon{h})
		}
		return outers
	}

	for _, h := range holes {
		for i := range outers {
			if planar.RingContains(outers[i][0], h[0]) {
				outers[i] = append(outers[i], h)
				break
			}
		}
	}
	return outers
}
