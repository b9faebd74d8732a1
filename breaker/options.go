package breaker

import (
	"context"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// FallbackFunc 熔断时的降级函数，返回 nil 表示降级成功
type FallbackFunc func(ctx context.Context, key string, err error) error

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	fallback     FallbackFunc
	isSuccessful func(err error) bool
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 记录请求结果和状态变更
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithFallback 设置降级函数
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}

// WithSuccessClassifier 自定义哪些错误不计入失败，例如对端返回的 4xx
func WithSuccessClassifier(fn func(err error) bool) Option {
	return func(o *options) {
		o.isSuccessful = fn
	}
}
