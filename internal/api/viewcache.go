// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/stormgrid/internal/cache"
	"github.com/tomtom215/stormgrid/internal/logging"
	"github.com/tomtom215/stormgrid/internal/metrics"
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithViewCache caches aggregation view responses. Entries are keyed by
// the store's data generation, so new runs and finished loads are visible
// on the next request; ttl bounds the staleness of exposure updates.
func WithViewCache(capacity int, ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.views = &viewCache{lru: cache.NewLRU[cachedView](capacity, ttl)}
	}
}

// viewCache drops every entry once the data generation moves on, since
// entries of older generations can no longer be hit.
type viewCache struct {
	lru *cache.LRU[cachedView]

	mu  sync.Mutex
	gen string
}

func (c *viewCache) observe(gen string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.lru.Clear()
		c.gen = gen
	}
}

type cachedView struct {
	data  any
	count int
}

// loadView serves a view from the cache or loads and stores it. The
// store is queried directly when the cache is off or the generation
// cannot be read.
func (h *Handler) loadView(r *http.Request, load func(ctx context.Context) (any, int, error)) (any, int, error) {
	ctx := r.Context()
	if h.views == nil {
		return load(ctx)
	}
	gen, err := h.store.DataGeneration(ctx)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("Data generation unavailable, bypassing view cache")
		return load(ctx)
	}

	h.views.observe(gen)

	key := gen + "|" + r.URL.Path + "?" + r.URL.Query().Encode()
	if v, ok := h.views.lru.Get(key); ok {
		metrics.RecordViewCache(true)
		return v.data, v.count, nil
	}
	metrics.RecordViewCache(false)

	data, count, err := load(ctx)
	if err != nil {
		return nil, 0, err
	}
	h.views.lru.Add(key, cachedView{data: data, count: count})
	metrics.ViewCacheEntries.Set(float64(h.views.lru.Len()))
	return data, count, nil
}
