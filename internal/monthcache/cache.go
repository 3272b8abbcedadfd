// Package monthcache memoizes per-month data loaded from a slow source.
package monthcache

import (
	"context"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

// FetchFunc loads the data for one month.
type FetchFunc[V any] func(ctx context.Context, month model.YearMonth) (V, error)

// Cache holds one value per month. Concurrent misses for the same month
// share a single fetch. Entries live until invalidated unless the cache was
// given a capacity, in which case the least recently used month is evicted.
// A fetch that started before an invalidation is returned to its callers but
// not stored.
type Cache[V any] struct {
	fetch FetchFunc[V]
	group singleflight.Group

	mu      sync.Mutex
	entries *lru.Cache[model.YearMonth, V]
	epoch   uint64
	gens    map[model.YearMonth]uint64
}

// New returns an unbounded cache.
func New[V any](fetch FetchFunc[V]) *Cache[V] {
	return NewSize(fetch, 0)
}

// NewSize bounds the cache to size months. Non-positive sizes mean
// unbounded.
func NewSize[V any](fetch FetchFunc[V], size int) *Cache[V] {
	if size <= 0 {
		size = math.MaxInt
	}
	entries, err := lru.New[model.YearMonth, V](size)
	if err != nil {
		// lru only rejects non-positive sizes.
		panic(err)
	}
	return &Cache[V]{
		fetch:   fetch,
		entries: entries,
		gens:    make(map[model.YearMonth]uint64),
	}
}

// Get returns the cached value for month, fetching it on a miss. The shared
// fetch is not cancelled when one waiting caller gives up.
func (c *Cache[V]) Get(ctx context.Context, month model.YearMonth) (V, error) {
	c.mu.Lock()
	if v, ok := c.entries.Get(month); ok {
		c.mu.Unlock()
		return v, nil
	}
	epoch, gen := c.epoch, c.gens[month]
	c.mu.Unlock()

	key := fmt.Sprintf("%s/%d/%d", month, epoch, gen)
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := c.fetch(fetchCtx, month)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.epoch == epoch && c.gens[month] == gen {
			c.entries.Add(month, v)
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Peek returns a cached value without fetching.
func (c *Cache[V]) Peek(month model.YearMonth) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Peek(month)
}

// Len reports how many months are cached.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Invalidate drops one month.
func (c *Cache[V]) Invalidate(month model.YearMonth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(month)
	c.gens[month]++
}

// InvalidateAll drops every month.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.epoch++
}

// Prefetch warms the given months in the background. Failures are logged
// and otherwise ignored.
func (c *Cache[V]) Prefetch(ctx context.Context, months ...model.YearMonth) {
	for _, m := range months {
		if _, ok := c.Peek(m); ok {
			continue
		}
		go func() {
			if _, err := c.Get(ctx, m); err != nil {
				appLog.Warn("monthcache: prefetch failed", "month", m.String(), "err", err)
			}
		}()
	}
}
