package cache

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache[V any](t *testing.T, max int, budget int64, opts ...Option[V]) *Cache[V] {
	t.Helper()
	c, err := New[V](max, budget, opts...)
	require.NoError(t, err)
	return c
}

func TestCache_LRUKeepsMostRecentlyTouched(t *testing.T) {
	c := newTestCache[int](t, 2, 0)

	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a") // a is now more recent than b
	require.True(t, ok)
	c.Put("c", 3)

	assert.Equal(t, 2, c.Len())
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used and must be evicted")
}

func TestCache_PutRefreshesRecency(t *testing.T) {
	c := newTestCache[int](t, 2, 0)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)
	c.Put("c", 3)

	assert.Equal(t, []string{"c", "a"}, c.Keys())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_MemoryBudget(t *testing.T) {
	sizer := WithSizer(func(s string) int64 { return int64(len(s)) })
	c := newTestCache[string](t, 100, 10, sizer)

	c.Put("a", "xxxx")
	c.Put("b", "xxxx")
	assert.Equal(t, int64(8), c.Stats().MemoryUsed)

	c.Put("c", "xxxx") // 12 > 10, evicts a
	stats := c.Stats()
	assert.LessOrEqual(t, stats.MemoryUsed, int64(10))
	assert.Equal(t, []string{"c", "b"}, c.Keys())
	assert.Equal(t, int64(1), stats.Evictions)

	t.Run("replacing a key releases its old size", func(t *testing.T) {
		c.Put("b", "x")
		assert.Equal(t, int64(5), c.Stats().MemoryUsed)
	})

	t.Run("oversize value lands in an emptied cache", func(t *testing.T) {
		c.Put("huge", "xxxxxxxxxxxxxxxxxxxx")
		assert.Equal(t, []string{"huge"}, c.Keys())
	})
}

func TestCache_AbsentVersusEmpty(t *testing.T) {
	c := newTestCache[map[string]any](t, 10, 0)

	c.Put("empty", map[string]any{})
	v, ok := c.Get("empty")
	assert.True(t, ok)
	assert.Empty(t, v)

	v, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestCache_CopierIsolatesCallers(t *testing.T) {
	clone := func(m map[string]int) map[string]int {
		out := make(map[string]int, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	c := newTestCache(t, 10, 0, WithCopier(clone))

	in := map[string]int{"n": 1}
	c.Put("k", in)
	in["n"] = 2

	got, _ := c.Get("k")
	assert.Equal(t, 1, got["n"], "mutating the input must not reach the cache")

	got["n"] = 3
	again, _ := c.Get("k")
	assert.Equal(t, 1, again["n"], "mutating a returned value must not reach the cache")
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache[int](t, 10, 0)
	assert.Zero(t, c.Stats().HitRate)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("nope")

	s := c.Stats()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.75, s.HitRate, 1e-9)

	el := c.items["a"]
	assert.Equal(t, int64(3), el.Value.(*entry[int]).accessCount)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := newTestCache[int](t, 10, 0)
	c.Put("a", 1)
	c.Put("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().MemoryUsed)
}

func TestCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCache(t, 1, 0, WithMetrics[int](reg, "test"))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("b")
	c.Get("a")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.size))

	_, err := New(1, 0, WithMetrics[int](reg, "test"))
	assert.Error(t, err, "duplicate registration must fail")
}

func TestCache_Concurrent(t *testing.T) {
	c := newTestCache[int](t, 50, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (n+j)%26))
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 26)
}
