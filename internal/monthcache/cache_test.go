package monthcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

var march = model.YearMonth{Year: 2024, Month: time.March}

func TestGetMemoizes(t *testing.T) {
	var calls atomic.Int32
	c := New(func(_ context.Context, m model.YearMonth) (string, error) {
		calls.Add(1)
		return m.String(), nil
	})

	for range 3 {
		v, err := c.Get(context.Background(), march)
		require.NoError(t, err)
		assert.Equal(t, "2024-03", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(func(_ context.Context, m model.YearMonth) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), march)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	// Let every goroutine reach the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	c := New(func(_ context.Context, m model.YearMonth) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 7, nil
	})

	_, err := c.Get(context.Background(), march)
	require.Error(t, err)
	v, err := c.Get(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestInvalidateRefetches(t *testing.T) {
	var calls atomic.Int32
	c := New(func(_ context.Context, m model.YearMonth) (int32, error) {
		return calls.Add(1), nil
	})
	ctx := context.Background()

	v, _ := c.Get(ctx, march)
	assert.Equal(t, int32(1), v)
	c.Invalidate(march)
	v, _ = c.Get(ctx, march)
	assert.Equal(t, int32(2), v)
	c.InvalidateAll()
	_, ok := c.Peek(march)
	assert.False(t, ok)
	v, _ = c.Get(ctx, march)
	assert.Equal(t, int32(3), v)
}

func TestInFlightResultDroppedAfterInvalidate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	c := New(func(_ context.Context, m model.YearMonth) (int32, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return n, nil
	})

	done := make(chan int32)
	go func() {
		v, _ := c.Get(context.Background(), march)
		done <- v
	}()
	<-started
	c.InvalidateAll()
	close(release)

	assert.Equal(t, int32(1), <-done, "the waiting caller still gets its result")
	_, ok := c.Peek(march)
	assert.False(t, ok, "a pre-invalidation result is not stored")

	v, err := c.Get(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestGetHonorsCallerCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := New(func(_ context.Context, m model.YearMonth) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, march)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrefetchWarmsAndSwallowsErrors(t *testing.T) {
	c := New(func(_ context.Context, m model.YearMonth) (string, error) {
		if m.Month == time.April {
			return "", errors.New("unavailable")
		}
		return m.String(), nil
	})

	c.Prefetch(context.Background(), march.Prev(), march.Next())
	assert.Eventually(t, func() bool {
		_, ok := c.Peek(march.Prev())
		return ok
	}, time.Second, 5*time.Millisecond)
	_, ok := c.Peek(march.Next())
	assert.False(t, ok)
}

func TestLatestTickets(t *testing.T) {
	l := NewLatest()
	first := l.Begin("month")
	assert.NoError(t, first.Check())

	second := l.Begin("month")
	other := l.Begin("other")
	assert.ErrorIs(t, first.Check(), ErrStale)
	assert.True(t, second.Current())
	assert.True(t, other.Current())
}

func TestLeastRecentMonthEvicted(t *testing.T) {
	var calls atomic.Int32
	c := NewSize(func(_ context.Context, m model.YearMonth) (string, error) {
		calls.Add(1)
		return m.String(), nil
	}, 2)
	ctx := context.Background()

	for _, m := range []model.YearMonth{march, march.Next(), march} {
		_, err := c.Get(ctx, m)
		require.NoError(t, err)
	}
	_, err := c.Get(ctx, march.Next().Next())
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek(march.Next())
	assert.False(t, ok)
	_, ok = c.Peek(march)
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}
