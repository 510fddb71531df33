// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

/*
Package cache provides a thread-safe LRU cache with TTL expiration.

The API uses it for aggregation view responses. Keys carry the store's data
generation, and the API clears the cache when the generation moves on.

# Usage

	c := cache.NewLRU[[]models.Storm](1024, 5*time.Minute)
	c.Add(key, runs)
	if runs, ok := c.Get(key); ok {
		...
	}

Get and Add are O(1). Expiration is lazy: an expired entry is dropped when
it is next read, or evicted as least recently used.
*/
package cache
