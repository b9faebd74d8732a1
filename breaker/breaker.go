// Package breaker 为 Kong Admin API 调用提供按键隔离的熔断器。
//
// 每个键（例如 "POST upstreams"）持有一个独立的 gobreaker 实例：某类写操作
// 持续失败时只熔断这一类，不影响其他请求。
//
//	brk, _ := breaker.New(&breaker.Config{
//		Timeout:         30 * time.Second,
//		FailureRatio:    0.6,
//		MinimumRequests: 10,
//	}, breaker.WithLogger(logger))
//
//	v, err := brk.Execute(ctx, "GET services", func() (any, error) {
//		return doRequest()
//	})
//	if xerrors.Is(err, breaker.ErrOpenState) {
//		// 熔断中，等待下一轮同步
//	}
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/kongsync/clog"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数，key 为熔断键
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 获取指定键的熔断器状态，未使用过的键视为闭合
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
//
//	breaker:
//	  max_requests: 1
//	  interval: 0s
//	  timeout: 30s
//	  failure_ratio: 0.6
//	  minimum_requests: 10
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数（默认：1）
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval 闭合状态下的统计周期（默认：0，不清空统计）
	Interval time.Duration `mapstructure:"interval"`

	// Timeout 打开状态持续时间，超时后进入半开（默认：60s）
	Timeout time.Duration `mapstructure:"timeout"`

	// FailureRatio 失败率阈值（默认：0.6）
	FailureRatio float64 `mapstructure:"failure_ratio"`

	// MinimumRequests 触发熔断的最小请求数（默认：10）
	MinimumRequests uint32 `mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	c.setDefaults()
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		return ErrInvalidConfig
	}
	if c.Interval < 0 || c.Timeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// New 创建熔断器实例
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(cfg, &opt)
}
