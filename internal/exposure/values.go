// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package exposure

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tomtom215/stormgrid/internal/models"
)

// ReadPointValues parses (id, value) pairs produced by an external raster
// sampler. A header row is optional. An empty value, "nan" or "null" is a
// gap and parses to a nil value.
func ReadPointValues(r io.Reader) ([]models.PointValue, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var out []models.PointValue
	idCol, valueCol := 0, 1
	for row := 0; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read point values: %w", err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("row %d: expected id and value, got %d fields", row+1, len(record))
		}

		if row == 0 {
			if _, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64); err != nil {
				idCol, valueCol = headerColumns(record)
				continue
			}
		}

		id, err := strconv.ParseInt(strings.TrimSpace(record[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid id %q", row+1, record[idCol])
		}
		value, err := parseValue(record[valueCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row+1, err)
		}
		out = append(out, models.PointValue{ID: id, Value: value})
	}
	return out, nil
}

func headerColumns(header []string) (idCol, valueCol int) {
	idCol, valueCol = 0, 1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id", "idx", "centroid_id":
			idCol = i
		case "value", "val", "exposure", "dist_coast":
			valueCol = i
		}
	}
	return idCol, valueCol
}

func parseValue(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}
	return &v, nil
}
