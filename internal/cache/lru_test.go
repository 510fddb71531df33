// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestLRU(capacity int, ttl time.Duration) (*LRU[int], *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewLRU[int](capacity, ttl).WithClock(clock), clock
}

func TestLRU_GetAdd(t *testing.T) {
	c, _ := newTestLRU(3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) found a value")
	}

	c.Add("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after update = %d, want 10", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestLRU(3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)
	c.Get("a")
	c.Add("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRU_TTL(t *testing.T) {
	c, clock := newTestLRU(10, time.Minute)
	c.Add("a", 1)
	clock.Advance(30 * time.Second)
	c.Add("b", 2)

	clock.Advance(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after the expired read", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be live")
	}

	c.Add("b", 3)
	clock.Advance(45 * time.Second)
	if v, ok := c.Get("b"); !ok || v != 3 {
		t.Errorf("Get(b) = %d, %v; Add should reset the TTL", v, ok)
	}
}

func TestLRU_Clear(t *testing.T) {
	c, _ := newTestLRU(10, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)

	c.Clear()
	if _, ok := c.Get("b"); ok || c.Len() != 0 {
		t.Error("Clear left entries behind")
	}
	c.Add("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Error("cache unusable after Clear")
	}
}

func TestLRU_Defaults(t *testing.T) {
	c := NewLRU[string](0, 0)
	if c.capacity != DefaultCapacity || c.ttl != DefaultTTL {
		t.Errorf("defaults = %d, %v", c.capacity, c.ttl)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int](64, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := strconv.Itoa((g*500 + i) % 100)
				c.Add(k, i)
				c.Get(k)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}

func BenchmarkLRU_AddGet(b *testing.B) {
	c := NewLRU[int](1024, time.Minute)
	keys := make([]string, 2048)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%len(keys)]
		c.Add(k, i)
		c.Get(k)
	}
}
