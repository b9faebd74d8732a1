package pool

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/kongsync/clog"
)

func TestNamedFactory_Sequence(t *testing.T) {
	f := NewNamedFactory("sync")
	assert.Equal(t, "sync-1", f.Next())
	assert.Equal(t, "sync-2", f.Next())

	// 每个工厂独立计数
	assert.Equal(t, "other-1", NewNamedFactory("other").Next())
	assert.Equal(t, "sync-3", f.Next())
}

func TestNamedFactory_ConcurrentUnique(t *testing.T) {
	f := NewNamedFactory("w")
	const n = 1000

	var mu sync.Mutex
	seen := make(map[string]struct{}, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := f.Next()
			mu.Lock()
			seen[name] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.Contains(t, seen, "w-1")
	assert.Contains(t, seen, "w-1000")
}

func TestGroup_Limit(t *testing.T) {
	g, _ := NewGroup(context.Background(), "job", 2, WithLogger(clog.Discard()))

	var running, peak atomic.Int32
	for range 10 {
		g.Go(func(ctx context.Context) error {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGroup_ErrorCancelsContext(t *testing.T) {
	g, ctx := NewGroup(context.Background(), "job", 0)
	boom := errors.New("boom")

	g.Go(func(context.Context) error { return boom })
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	assert.ErrorIs(t, g.Wait(), boom)
	assert.Error(t, ctx.Err())
}

func TestGroup_Labels(t *testing.T) {
	g, _ := NewGroup(context.Background(), "svc", 1)

	var names []string
	var mu sync.Mutex
	for range 3 {
		g.Go(func(ctx context.Context) error {
			name, ok := pprof.Label(ctx, LabelWorker)
			assert.True(t, ok)
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.ElementsMatch(t, []string{"svc-1", "svc-2", "svc-3"}, names)
}

func TestGroup_Panic(t *testing.T) {
	g, _ := NewGroup(context.Background(), "job", 0)
	g.Go(func(context.Context) error { panic("kaboom") })

	err := g.Wait()
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "job-1")
}

func TestGroup_IsolationKeepsSiblingsRunning(t *testing.T) {
	g, ctx := NewGroup(context.Background(), "job", 2, WithIsolation())

	started := make(chan struct{})
	var finished atomic.Bool
	g.Go(func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			finished.Store(true)
			return nil
		}
	})
	<-started
	g.Go(func(context.Context) error { panic("kaboom") })

	err := g.Wait()
	assert.ErrorIs(t, err, ErrPanic)
	assert.True(t, finished.Load(), "panic 不应取消其他任务")
	assert.NoError(t, ctx.Err())
}
