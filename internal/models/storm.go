// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package models

import "time"

// Storm is one ensemble member of one forecast issuance. Runs are
// immutable once inserted.
type Storm struct {
	ID           int64     `json:"id"`
	Basetime     time.Time `json:"basetime"`
	StormCode    string    `json:"storm_code"`
	StormName    string    `json:"storm_name"`
	EnsembleNo   *int      `json:"ensemble_no,omitempty"`
	IsEnsemble   bool      `json:"is_ensemble"`
	Basin        string    `json:"basin"`
	Category     string    `json:"category"`
	EnsembleSize int       `json:"ensemble_size"`
	InsertedAt   time.Time `json:"inserted_at"`
}

// StormRun is the inbound description of a forecast run, as produced by the
// external forecasting library.
type StormRun struct {
	Basetime     time.Time    `json:"basetime" validate:"required"`
	StormCode    string       `json:"storm_code" validate:"required,stormcode"`
	StormName    string       `json:"storm_name" validate:"required,max=64"`
	EnsembleNo   *int         `json:"ensemble_no,omitempty" validate:"omitempty,min=0"`
	IsEnsemble   bool         `json:"is_ensemble"`
	Basin        string       `json:"basin" validate:"max=32"`
	Category     string       `json:"category" validate:"max=32"`
	EnsembleSize int          `json:"ensemble_size,omitempty" validate:"min=0,max=1000"`
	Track        []TrackPoint `json:"track,omitempty" validate:"omitempty,dive"`
}

// TrackPoint is one position of a forecast track.
type TrackPoint struct {
	Time time.Time `json:"time"`
	Lon  float64   `json:"lon" validate:"longitude"`
	Lat  float64   `json:"lat" validate:"latitude"`
}

// SeriesKind distinguishes hazard and impact series.
type SeriesKind string

const (
	KindHazard SeriesKind = "hazard"
	KindImpact SeriesKind = "impact"
)

// Seeded series type identifiers.
const (
	SeriesTypeWindIntensity int64 = 1
	SeriesTypeImpact        int64 = 2
)

// SeriesType is a row of the closed series_type vocabulary.
type SeriesType struct {
	ID          int64      `json:"id"`
	Kind        SeriesKind `json:"kind"`
	Description string     `json:"description"`
}
