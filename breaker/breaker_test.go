package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

var errBackend = errors.New("backend error")

func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) Breaker {
	t.Helper()
	opts = append([]Option{WithLogger(clog.Discard()), WithMeter(metrics.Discard())}, opts...)
	brk, err := New(cfg, opts...)
	require.NoError(t, err)
	return brk
}

func fail() (any, error) { return nil, errBackend }

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{FailureRatio: 1.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := &Config{}
	_, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 0.6, cfg.FailureRatio)
	assert.Equal(t, uint32(10), cfg.MinimumRequests)
}

func TestExecute_Success(t *testing.T) {
	brk := newTestBreaker(t, &Config{})

	v, err := brk.Execute(context.Background(), "GET services", func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = brk.Execute(context.Background(), "", func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestExecute_OpensAfterFailures(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		Timeout:         time.Minute,
		FailureRatio:    0.5,
		MinimumRequests: 3,
	})
	ctx := context.Background()

	for range 3 {
		_, err := brk.Execute(ctx, "POST targets", fail)
		assert.ErrorIs(t, err, errBackend)
	}

	state, err := brk.State("POST targets")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	called := false
	_, err = brk.Execute(ctx, "POST targets", func() (any, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)
	assert.True(t, xerrors.Is(err, ErrOpenState))

	// 其他键不受影响
	state, err = brk.State("GET services")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestExecute_HalfOpenRecovers(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		Timeout:         50 * time.Millisecond,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	})
	ctx := context.Background()

	for range 2 {
		_, _ = brk.Execute(ctx, "k", fail)
	}
	state, _ := brk.State("k")
	require.Equal(t, StateOpen, state)

	time.Sleep(80 * time.Millisecond)
	state, _ = brk.State("k")
	assert.Equal(t, StateHalfOpen, state)

	_, err := brk.Execute(ctx, "k", func() (any, error) { return nil, nil })
	require.NoError(t, err)
	state, _ = brk.State("k")
	assert.Equal(t, StateClosed, state)
}

func TestExecute_Fallback(t *testing.T) {
	var fallbackKey string
	brk := newTestBreaker(t, &Config{Timeout: time.Minute, MinimumRequests: 1, FailureRatio: 0.1},
		WithFallback(func(_ context.Context, key string, _ error) error {
			fallbackKey = key
			return nil
		}))
	ctx := context.Background()

	_, _ = brk.Execute(ctx, "k", fail)
	v, err := brk.Execute(ctx, "k", fail)
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, "k", fallbackKey)
}

func TestExecute_SuccessClassifier(t *testing.T) {
	errConflict := errors.New("conflict")
	brk := newTestBreaker(t, &Config{MinimumRequests: 2, FailureRatio: 0.5},
		WithSuccessClassifier(func(err error) bool {
			return err == nil || errors.Is(err, errConflict)
		}))
	ctx := context.Background()

	for range 5 {
		_, err := brk.Execute(ctx, "k", func() (any, error) { return nil, errConflict })
		assert.ErrorIs(t, err, errConflict)
	}
	state, _ := brk.State("k")
	assert.Equal(t, StateClosed, state)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
	_, err := (&circuitBreaker{}).State("")
	assert.ErrorIs(t, err, ErrKeyEmpty)
}
