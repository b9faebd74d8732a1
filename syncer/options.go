package syncer

import (
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
)

// Option 选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	tracer oteltrace.TracerProvider
}

// WithLogger 追加 "syncer" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("syncer")
		}
	}
}

// WithMeter 记录对象变更次数、同步耗时和服务数
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracerProvider 每轮同步一个 Span，每个服务一个子 Span，默认使用全局 Provider
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
