// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/stormgrid/internal/database"
	"github.com/tomtom215/stormgrid/internal/hexgrid"
	"github.com/tomtom215/stormgrid/internal/models"
)

// Store is the read side of the database used by the API.
type Store interface {
	Ping(ctx context.Context) error
	IsSpatialAvailable() bool
	IsH3Available() bool
	GetCurrentSchemaVersion(ctx context.Context) (int, error)
	DataGeneration(ctx context.Context) (string, error)

	LatestRuns(ctx context.Context) ([]models.Storm, error)
	JoinedIntensity(ctx context.Context, f database.JoinedIntensityFilter) ([]models.JoinedIntensity, error)
	EnsembleStats(ctx context.Context, stormName string, maxMembers int) ([]models.EnsembleStat, error)
	StormTrack(ctx context.Context, stormID int64) ([]models.TrackPoint, error)
	GetRegion(ctx context.Context, id int64) (*models.Region, error)
	GetBatch(ctx context.Context, id string) (*models.LoadBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*models.LoadBatch, error)
}

// CellIndex answers hex containment queries. *spatialindex.Indexer
// implements it.
type CellIndex interface {
	Contains(ctx context.Context, regionID int64, cell uint64) (bool, error)
	RegionsContaining(ctx context.Context, cell uint64) ([]int64, error)
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	store     Store
	cells     CellIndex
	views     *viewCache
	startTime time.Time
}

// NewHandler creates a handler. cells may be nil when the hex index is
// not available; the cell routes then answer 503.
func NewHandler(store Store, cells CellIndex, opts ...HandlerOption) *Handler {
	h := &Handler{store: store, cells: cells, startTime: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status            string  `json:"status"`
	DatabaseConnected bool    `json:"database_connected"`
	SchemaVersion     int     `json:"schema_version"`
	SpatialAvailable  bool    `json:"spatial_available"`
	H3Available       bool    `json:"h3_available"`
	Uptime            float64 `json:"uptime_seconds"`
}

// Health reports database connectivity and extension availability. A
// failed ping answers 503 so the endpoint can serve as a readiness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := HealthStatus{
		Status:           "healthy",
		SpatialAvailable: h.store.IsSpatialAvailable(),
		H3Available:      h.store.IsH3Available(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
	if err := h.store.Ping(r.Context()); err == nil {
		status.DatabaseConnected = true
		if v, err := h.store.GetCurrentSchemaVersion(r.Context()); err == nil {
			status.SchemaVersion = v
		}
	} else {
		status.Status = "degraded"
	}

	code := http.StatusOK
	if !status.DatabaseConnected {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, r, code, &models.APIResponse{
		Status: "success",
		Data:   status,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// LatestRuns returns every run of the most recent issuance.
func (h *Handler) LatestRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	runs, count, err := h.loadView(r, func(ctx context.Context) (any, int, error) {
		runs, err := h.store.LatestRuns(ctx)
		return runs, len(runs), err
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read latest runs", err)
		return
	}
	respondData(w, r, runs, count, start)
}

// IntensityRequest holds the query parameters of the intensity endpoint.
type IntensityRequest struct {
	StormName  string  `validate:"max=64"`
	StormID    int64   `validate:"min=0"`
	CentroidID int64   `validate:"min=0"`
	RegionID   int64   `validate:"min=0"`
	ISOCode    string  `validate:"omitempty,alpha,max=8"`
	MinValue   float64 `validate:"gte=0"`
	Limit      int     `validate:"min=1,max=10000"`
	Offset     int     `validate:"min=0"`
}

// Intensity returns rows of the joined intensity view.
//
// Query: storm, storm_id, centroid_id, region_id, iso, min_value, limit
// (default 1000), offset.
func (h *Handler) Intensity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := parseIntensityRequest(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	rows, count, err := h.loadView(r, func(ctx context.Context) (any, int, error) {
		rows, err := h.store.JoinedIntensity(ctx, database.JoinedIntensityFilter{
			StormName:  req.StormName,
			StormID:    req.StormID,
			CentroidID: req.CentroidID,
			RegionID:   req.RegionID,
			ISOCode:    strings.ToUpper(req.ISOCode),
			MinValue:   req.MinValue,
			Limit:      req.Limit,
			Offset:     req.Offset,
		})
		return rows, len(rows), err
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read intensity", err)
		return
	}
	respondData(w, r, rows, count, start)
}

func parseIntensityRequest(r *http.Request) (*IntensityRequest, error) {
	req := &IntensityRequest{
		StormName: strings.TrimSpace(r.URL.Query().Get("storm")),
		ISOCode:   strings.TrimSpace(r.URL.Query().Get("iso")),
	}
	var err error
	if req.StormID, err = queryInt64(r, "storm_id"); err != nil {
		return nil, err
	}
	if req.CentroidID, err = queryInt64(r, "centroid_id"); err != nil {
		return nil, err
	}
	if req.RegionID, err = queryInt64(r, "region_id"); err != nil {
		return nil, err
	}
	if req.MinValue, err = queryFloat(r, "min_value"); err != nil {
		return nil, err
	}
	if req.Limit, err = queryInt(r, "limit", 1000); err != nil {
		return nil, err
	}
	if req.Offset, err = queryInt(r, "offset", 0); err != nil {
		return nil, err
	}
	return req, nil
}

// Ensemble returns ensemble statistics of a storm from the latest
// issuance. The optional members query parameter caps the ensemble member
// numbers counted; density still divides by each run's ensemble size.
func (h *Handler) Ensemble(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := strings.TrimSpace(chi.URLParam(r, "storm"))
	if name == "" || len(name) > 64 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "storm must be 1-64 characters", nil)
		return
	}
	members, err := queryInt(r, "members", 0)
	if err != nil || members < 0 || members > 1000 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "members must be an integer between 0 and 1000", nil)
		return
	}

	stats, count, err := h.loadView(r, func(ctx context.Context) (any, int, error) {
		stats, err := h.store.EnsembleStats(ctx, name, members)
		return stats, len(stats), err
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read ensemble statistics", err)
		return
	}
	respondData(w, r, stats, count, start)
}

// StormTrack returns the stored forecast track of one storm run.
func (h *Handler) StormTrack(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "id must be a positive integer", nil)
		return
	}
	track, err := h.store.StormTrack(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, codeNotFound, "Storm not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read storm track", err)
		return
	}
	respondData(w, r, track, len(track), start)
}

// ContainsResponse is the body of the region containment endpoint.
type ContainsResponse struct {
	RegionID   int64  `json:"region_id"`
	Cell       string `json:"cell"`
	Resolution int    `json:"resolution"`
	Contains   bool   `json:"contains"`
}

// RegionContains reports whether a region's cell set covers a cell.
func (h *Handler) RegionContains(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cells == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Hex index is not available", nil)
		return
	}
	regionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || regionID <= 0 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "id must be a positive integer", nil)
		return
	}
	cell, ok := parseCellParam(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetRegion(r.Context(), regionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, codeNotFound, "Region not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read region", err)
		return
	}

	contains, err := h.cells.Contains(r.Context(), regionID, uint64(cell))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to check containment", err)
		return
	}
	respondData(w, r, ContainsResponse{
		RegionID:   regionID,
		Cell:       cell.String(),
		Resolution: cell.Resolution(),
		Contains:   contains,
	}, -1, start)
}

// CellRegionsResponse is the body of the cell regions endpoint.
type CellRegionsResponse struct {
	Cell      string  `json:"cell"`
	RegionIDs []int64 `json:"region_ids"`
}

// CellRegions lists every region whose cell set covers a cell.
func (h *Handler) CellRegions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cells == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Hex index is not available", nil)
		return
	}
	cell, ok := parseCellParam(w, r)
	if !ok {
		return
	}
	ids, err := h.cells.RegionsContaining(r.Context(), uint64(cell))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to look up regions", err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	respondData(w, r, CellRegionsResponse{Cell: cell.String(), RegionIDs: ids}, len(ids), start)
}

func parseCellParam(w http.ResponseWriter, r *http.Request) (hexgrid.Cell, bool) {
	cell, err := hexgrid.ParseCell(chi.URLParam(r, "cell"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, codeInvalidCell, "cell must be a valid H3 cell in hexadecimal", nil)
		return 0, false
	}
	return cell, true
}

// Batch returns one ledger entry.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > 64 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "id must be 1-64 characters", nil)
		return
	}
	b, err := h.store.GetBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, codeNotFound, "Batch not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to read batch", err)
		return
	}
	respondData(w, r, b, -1, start)
}

// Batches lists the most recent ledger entries. Query: limit (default 50).
func (h *Handler) Batches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > 1000 {
		respondError(w, r, http.StatusBadRequest, codeValidation, "limit must be an integer between 1 and 1000", nil)
		return
	}
	batches, err := h.store.ListBatches(r.Context(), limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, codeQuery, "Failed to list batches", err)
		return
	}
	respondData(w, r, batches, len(batches), start)
}
