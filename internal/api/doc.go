// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
Package api serves the aggregation views and the hex index over a read-only
JSON HTTP API.

Routes (all GET):

	/api/v1/health                          database ping and extension status
	/api/v1/runs/latest                     runs of the latest issuance
	/api/v1/intensity                       joined intensity, filtered by query
	/api/v1/ensemble/{storm}                ensemble statistics of a named storm
	/api/v1/storms/{id}/track               stored forecast track of one run
	/api/v1/regions/{id}/contains/{cell}    hex containment check
	/api/v1/cells/{cell}/regions            regions whose cell set holds a cell
	/api/v1/batches                         recent load batches
	/api/v1/batches/{id}                    one load batch from the ledger
	/metrics                                Prometheus exposition

Every JSON response uses the models.APIResponse envelope. Errors carry a
stable code (VALIDATION_ERROR, NOT_FOUND, INVALID_CELL, UNAVAILABLE,
QUERY_FAILED) and never the underlying error text, which is logged instead.

The router is built on chi with go-chi/cors for CORS and go-chi/httprate
for per-IP rate limiting. Writes happen only through the CLI; no route
mutates the store.
*/
package api
