package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

const (
	metricRequests     = "kongsync_breaker_requests_total"
	metricStateChanges = "kongsync_breaker_state_changes_total"
)

type circuitBreaker struct {
	cfg          *Config
	logger       clog.Logger
	fallback     FallbackFunc
	isSuccessful func(err error) bool

	requests     metrics.Counter
	stateChanges metrics.Counter

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg *Config, opt *options) (Breaker, error) {
	cb := &circuitBreaker{
		cfg:          cfg,
		logger:       opt.logger,
		fallback:     opt.fallback,
		isSuccessful: opt.isSuccessful,
	}

	meter := opt.meter
	if meter == nil {
		meter = metrics.Discard()
	}
	var err error
	if cb.requests, err = meter.Counter(metricRequests, "熔断器保护的请求数"); err != nil {
		return nil, xerrors.Wrap(err, "create breaker request counter")
	}
	if cb.stateChanges, err = meter.Counter(metricStateChanges, "熔断器状态变更次数"); err != nil {
		return nil, xerrors.Wrap(err, "create breaker state counter")
	}

	cb.logger.Info("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return cb, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)

	rejected := xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests)
	outcome := metrics.Outcome(err)
	if rejected {
		outcome = "rejected"
	}
	cb.requests.Inc(ctx, metrics.L(metrics.LabelOperation, key), metrics.L(metrics.LabelOutcome, outcome))

	if !rejected {
		return result, err
	}

	cb.logger.Warn("circuit breaker open", clog.String("key", key), clog.Error(err))
	if cb.fallback != nil {
		if fallbackErr := cb.fallback(ctx, key, err); fallbackErr != nil {
			return nil, fallbackErr
		}
		return nil, nil
	}
	return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}

	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		IsSuccessful:  cb.isSuccessful,
	}

	// 并发创建时以先存入的为准
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return failureRatio >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Info("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()))
	cb.stateChanges.Inc(context.Background(),
		metrics.L(metrics.LabelOperation, name),
		metrics.L("to_state", fromGobreaker(to).String()))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
