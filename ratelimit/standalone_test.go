package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

func newTestLimiter(t *testing.T) *standaloneLimiter {
	t.Helper()
	l, err := NewStandalone(&StandaloneConfig{
		CleanupInterval: time.Hour,
		IdleTimeout:     200 * time.Millisecond,
	}, WithLogger(clog.Discard()), WithMeter(metrics.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l.(*standaloneLimiter)
}

func TestNewStandalone_Defaults(t *testing.T) {
	cfg := &StandaloneConfig{}
	l, err := NewStandalone(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)

	l2, err := NewStandalone(nil)
	require.NoError(t, err)
	assert.NoError(t, l2.Close())
	assert.NoError(t, l2.Close(), "Close 应该幂等")
}

func TestAllow_Burst(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Rate: 1, Burst: 3}

	for i := range 3 {
		allowed, err := l.Allow(ctx, "kong-admin", limit)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}
	allowed, err := l.Allow(ctx, "kong-admin", limit)
	require.NoError(t, err)
	assert.False(t, allowed)

	// 不同 key 互不影响
	allowed, err = l.Allow(ctx, "other", limit)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowN(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Rate: 1, Burst: 5}

	allowed, err := l.AllowN(ctx, "k", limit, 5)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.AllowN(ctx, "k", limit, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = l.AllowN(ctx, "k", limit, 0)
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))
}

func TestInvalidInput(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	_, err := l.Allow(ctx, "", Limit{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrKeyEmpty)
	_, err = l.Allow(ctx, "k", Limit{Rate: 0, Burst: 1})
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.ErrorIs(t, l.Wait(ctx, "k", Limit{Rate: 1}), ErrInvalidLimit)
}

func TestWait(t *testing.T) {
	l := newTestLimiter(t)
	limit := Limit{Rate: 20, Burst: 1}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(ctx, "k", limit))
	}
	// 第 2、3 个令牌各需约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWait_ContextCanceled(t *testing.T) {
	l := newTestLimiter(t)
	limit := Limit{Rate: 0.1, Burst: 1}

	require.NoError(t, l.Wait(context.Background(), "k", limit))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "k", limit))
}

func TestWait_Concurrent(t *testing.T) {
	l := newTestLimiter(t)
	limit := Limit{Rate: 1000, Burst: 10}
	ctx := context.Background()

	var done atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Wait(ctx, "k", limit) == nil {
				done.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), done.Load())
}

func TestSweep(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "idle", Limit{Rate: 1, Burst: 1})
	assert.Equal(t, 0, l.sweep(time.Now()))
	assert.Equal(t, 1, l.sweep(time.Now().Add(time.Second)))

	_, ok := l.limiters.Load("idle:1:1")
	assert.False(t, ok)
}

func TestClosed(t *testing.T) {
	l := newTestLimiter(t)
	require.NoError(t, l.Close())

	_, err := l.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrClosed)
}
