package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

const metricDecisions = "kongsync_ratelimit_decisions_total"

// limiterWrapper 包装 rate.Limiter 并记录最后访问时间
type limiterWrapper struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

func (w *limiterWrapper) touch() {
	w.lastSeen.Store(time.Now().UnixNano())
}

type standaloneLimiter struct {
	cfg       *StandaloneConfig
	logger    clog.Logger
	decisions metrics.Counter
	limiters  sync.Map // map[string]*limiterWrapper
	stopCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newStandalone(cfg *StandaloneConfig, opt *options) (Limiter, error) {
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	meter := opt.meter
	if meter == nil {
		meter = metrics.Discard()
	}

	decisions, err := meter.Counter(metricDecisions, "限流判定次数")
	if err != nil {
		return nil, xerrors.Wrap(err, "create ratelimit counter")
	}

	l := &standaloneLimiter{
		cfg:       cfg,
		logger:    logger,
		decisions: decisions,
		stopCh:    make(chan struct{}),
	}
	go l.cleanup()

	logger.Info("standalone rate limiter created",
		clog.Duration("cleanup_interval", cfg.CleanupInterval),
		clog.Duration("idle_timeout", cfg.IdleTimeout))
	return l, nil
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if err := l.check(key, limit); err != nil {
		return false, err
	}
	if n <= 0 {
		return false, xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: n must be positive")
	}

	w := l.getLimiter(key, limit)
	allowed := w.limiter.AllowN(time.Now(), n)
	w.touch()

	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	l.decisions.Inc(ctx, metrics.L(metrics.LabelOutcome, decision))
	return allowed, nil
}

func (l *standaloneLimiter) Wait(ctx context.Context, key string, limit Limit) error {
	if err := l.check(key, limit); err != nil {
		return err
	}

	w := l.getLimiter(key, limit)
	w.touch()
	// rate.Limiter 本身并发安全，等待期间不持锁
	err := w.limiter.Wait(ctx)
	w.touch()

	l.decisions.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil {
		return xerrors.Wrapf(err, "ratelimit wait %s", key)
	}
	return nil
}

func (l *standaloneLimiter) check(key string, limit Limit) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrKeyEmpty
	}
	if !limit.Valid() {
		return ErrInvalidLimit
	}
	return nil
}

// getLimiter 同一个 key 使用不同规则时视为不同的桶
func (l *standaloneLimiter) getLimiter(key string, limit Limit) *limiterWrapper {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.limiters.Load(cacheKey); ok {
		return v.(*limiterWrapper)
	}

	w := &limiterWrapper{limiter: rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)}
	w.touch()
	actual, _ := l.limiters.LoadOrStore(cacheKey, w)
	return actual.(*limiterWrapper)
}

func (l *standaloneLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) sweep(now time.Time) int {
	count := 0
	l.limiters.Range(func(key, value any) bool {
		w := value.(*limiterWrapper)
		if now.Sub(time.Unix(0, w.lastSeen.Load())) > l.cfg.IdleTimeout {
			l.limiters.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
	}
	return count
}

func (l *standaloneLimiter) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
	return nil
}
