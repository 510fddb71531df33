// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package models

import "time"

// JoinedIntensity is a row of the intensity_joined view.
type JoinedIntensity struct {
	StormID    int64     `json:"storm_id"`
	StormCode  string    `json:"storm_code"`
	StormName  string    `json:"storm_name"`
	Basetime   time.Time `json:"basetime"`
	EnsembleNo *int      `json:"ensemble_no,omitempty"`
	CentroidID int64     `json:"centroid_id"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	DistCoast  *float64  `json:"dist_coast,omitempty"`
	Exposure   *float64  `json:"exposure,omitempty"`
	RegionID   *int64    `json:"region_id,omitempty"`
	ISOCodes   *string   `json:"iso_codes,omitempty"`
}

// EnsembleStat is a row of the ensemble_stats view.
type EnsembleStat struct {
	Basetime      time.Time `json:"basetime"`
	StormName     string    `json:"storm_name"`
	CentroidID    int64     `json:"centroid_id"`
	Timestamp     time.Time `json:"timestamp"`
	MeanIntensity float64   `json:"mean_intensity"`
	Members       int64     `json:"members"`
	EnsembleSize  int64     `json:"ensemble_size"`
	Density       float64   `json:"density"`
	MeanExposure  *float64  `json:"mean_exposure,omitempty"`
}
