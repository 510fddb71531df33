// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/stormgrid/internal/models"
	"github.com/tomtom215/stormgrid/internal/validation"
)

// ErrMalformedInput is returned for input files that cannot be parsed.
var ErrMalformedInput = errors.New("malformed input")

var stagingColumns = []string{"centroid_id", "storm_id", "type_id", "value", "timestamp"}

// ReadSeriesCSV parses series rows with the header
// centroid_id,storm_id,type_id,value,timestamp. Columns may appear in any
// order; timestamps are RFC 3339. Referential checks are left to
// validation, so unknown ids parse fine here.
func ReadSeriesCSV(r io.Reader) ([]models.SeriesValue, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedInput, err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := make([]int, len(stagingColumns))
	for i, col := range stagingColumns {
		p, ok := pos[col]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedInput, col)
		}
		idx[i] = p
	}

	var rows []models.SeriesValue
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		line, _ := cr.FieldPos(0)
		row, err := parseSeriesRecord(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedInput, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseSeriesRecord(rec []string, idx []int) (models.SeriesValue, error) {
	var v models.SeriesValue
	ints := []*int64{&v.CentroidID, &v.StormID, &v.TypeID}
	for i, dst := range ints {
		n, err := strconv.ParseInt(strings.TrimSpace(rec[idx[i]]), 10, 64)
		if err != nil {
			return v, fmt.Errorf("%s: %w", stagingColumns[i], err)
		}
		*dst = n
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[3]]), 64)
	if err != nil {
		return v, fmt.Errorf("value: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return v, fmt.Errorf("value: not finite")
	}
	v.Value = f
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[idx[4]]))
	if err != nil {
		return v, fmt.Errorf("timestamp: %w", err)
	}
	v.Timestamp = ts.UTC()
	return v, nil
}

// ReadStormRuns parses forecast runs given either as a JSON array or as
// newline-delimited JSON objects. Every run is validated.
func ReadStormRuns(r io.Reader) ([]models.StormRun, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var runs []models.StormRun
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &runs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			var run models.StormRun
			if err := json.Unmarshal(b, &run); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedInput, line, err)
			}
			runs = append(runs, run)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	for i := range runs {
		if err := validation.ValidateStruct(&runs[i]); err != nil {
			return nil, fmt.Errorf("run %d (%s): %w", i, runs[i].StormCode, err)
		}
	}
	return runs, nil
}
