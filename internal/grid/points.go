// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package grid reads the centroid grid and administrative region polygons
// and assigns each centroid the region that contains it.
package grid

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tomtom215/stormgrid/internal/models"
	"github.com/tomtom215/stormgrid/internal/validation"
)

// Header synonyms accepted by ReadPoints, matched case-insensitively.
var (
	idColumns        = []string{"idx", "id"}
	lonColumns       = []string{"lon", "longitude", "x"}
	latColumns       = []string{"lat", "latitude", "y"}
	distCoastColumns = []string{"dist_coast"}
	exposureColumns  = []string{"exposure"}
)

// ErrMissingColumn is returned when the point header lacks lon or lat.
var ErrMissingColumn = errors.New("required column missing")

type pointHeader struct {
	id, lon, lat, distCoast, exposure int
}

func findColumn(index map[string]int, names []string) int {
	for _, n := range names {
		if i, ok := index[n]; ok {
			return i
		}
	}
	return -1
}

func parseHeader(record []string) (pointHeader, error) {
	index := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	h := pointHeader{
		id:        findColumn(index, idColumns),
		lon:       findColumn(index, lonColumns),
		lat:       findColumn(index, latColumns),
		distCoast: findColumn(index, distCoastColumns),
		exposure:  findColumn(index, exposureColumns),
	}
	if h.lon < 0 {
		return h, fmt.Errorf("%w: lon", ErrMissingColumn)
	}
	if h.lat < 0 {
		return h, fmt.Errorf("%w: lat", ErrMissingColumn)
	}
	return h, nil
}

// ReadPoints parses a point CSV into grid points. When the file carries no
// id column, ids are assigned sequentially starting at nextID. Empty or
// "nan" dist_coast and exposure cells are left nil.
func ReadPoints(r io.Reader, nextID int64) ([]models.GridPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	record, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("point file is empty")
		}
		return nil, fmt.Errorf("failed to read point header: %w", err)
	}
	h, err := parseHeader(record)
	if err != nil {
		return nil, err
	}

	var points []models.GridPoint
	seen := make(map[int64]int)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read point row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		p := models.GridPoint{ID: nextID}
		if h.id >= 0 {
			p.ID, err = strconv.ParseInt(strings.TrimSpace(record[h.id]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid id %q", line, record[h.id])
			}
		} else {
			nextID++
		}
		if p.Lon, err = parseFloat(record[h.lon]); err != nil {
			return nil, fmt.Errorf("line %d: lon: %w", line, err)
		}
		if p.Lat, err = parseFloat(record[h.lat]); err != nil {
			return nil, fmt.Errorf("line %d: lat: %w", line, err)
		}
		if p.DistCoast, err = parseOptionalFloat(record, h.distCoast); err != nil {
			return nil, fmt.Errorf("line %d: dist_coast: %w", line, err)
		}
		if p.Exposure, err = parseOptionalFloat(record, h.exposure); err != nil {
			return nil, fmt.Errorf("line %d: exposure: %w", line, err)
		}
		if err := validation.ValidateStruct(&p); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if first, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("line %d: id %d already used on line %d", line, p.ID, first)
		}
		seen[p.ID] = line

		points = append(points, p)
	}
	return points, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// parseOptionalFloat returns nil for a missing column, an empty cell or NaN.
func parseOptionalFloat(record []string, col int) (*float64, error) {
	if col < 0 || col >= len(record) {
		return nil, nil
	}
	s := strings.TrimSpace(record[col])
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}
