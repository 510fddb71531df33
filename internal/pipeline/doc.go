// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

// Package pipeline loads forecast series into the store as batches.
//
// Every batch moves through a recorded state machine:
//
//	ARRIVED -> STAGED -> VALIDATED -> MERGED -> INDEXED
//	                         |
//	                         +-> REJECTED
//
// Rows are bulk-appended to a scratch staging table with no checks, then
// validated as a set. A single offending row rejects the whole batch and
// nothing reaches series_value. A validated batch is merged in one
// transaction with the fact indexes dropped, and the indexes are rebuilt
// afterwards. A failed merge or index rebuild leaves series_value as it
// was before the batch and returns the batch to STAGED.
//
// # Idempotency
//
// A batch key identifies the content being loaded. Run returns the
// earlier batch when its key already reached INDEXED, and LoadFiles keys
// each file by an xxhash of its bytes so re-running a directory load only
// picks up new or unfinished files. Rows already present in series_value
// from an earlier batch are skipped during merge and counted.
//
// # Concurrency
//
// The store allows a single writer. A Loader serializes every operation
// on its own mutex, so one Loader must be shared by all callers writing to
// the same database.
package pipeline
