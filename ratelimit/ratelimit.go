// Package ratelimit 提供基于 golang.org/x/time/rate 的单机令牌桶限流，
// 用于控制发往 Kong Admin API 的请求速率。
//
//	limiter, _ := ratelimit.NewStandalone(&ratelimit.StandaloneConfig{
//	    CleanupInterval: time.Minute,
//	    IdleTimeout:     5 * time.Minute,
//	}, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	// 非阻塞
//	allowed, _ := limiter.Allow(ctx, "kong-admin", ratelimit.Limit{Rate: 50, Burst: 100})
//
//	// 阻塞直到拿到令牌或 ctx 结束
//	err := limiter.Wait(ctx, "kong-admin", ratelimit.Limit{Rate: 50, Burst: 100})
package ratelimit

import (
	"context"
	"time"
)

// Limit 定义限流规则（令牌桶算法）
type Limit struct {
	Rate  float64 `mapstructure:"rate"`  // 令牌生成速率（每秒）
	Burst int     `mapstructure:"burst"` // 令牌桶容量
}

// Valid 规则是否可用
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// Limiter 限流器核心接口
type Limiter interface {
	// Allow 尝试获取 1 个令牌（非阻塞）
	Allow(ctx context.Context, key string, limit Limit) (bool, error)

	// AllowN 尝试获取 N 个令牌（非阻塞）
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)

	// Wait 阻塞等待 1 个令牌，ctx 结束时返回错误
	Wait(ctx context.Context, key string, limit Limit) error

	// Close 停止后台清理协程
	Close() error
}

// StandaloneConfig 单机限流配置
type StandaloneConfig struct {
	// CleanupInterval 清理空闲限流器的间隔（默认：1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// IdleTimeout 限流器空闲超时时间（默认：5 分钟）
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *StandaloneConfig) setDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// NewStandalone 创建单机限流器，cfg 为 nil 时使用默认配置
func NewStandalone(cfg *StandaloneConfig, opts ...Option) (Limiter, error) {
	if cfg == nil {
		cfg = &StandaloneConfig{}
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	return newStandalone(cfg, &opt)
}
