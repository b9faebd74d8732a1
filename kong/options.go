package kong

import (
	"net/http"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/kongsync/breaker"
	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/ratelimit"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	breaker    breaker.Breaker
	limiter    ratelimit.Limiter
	httpClient *http.Client
	tracer     oteltrace.TracerProvider
}

// WithLogger 追加 "kong" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("kong")
		}
	}
}

// WithMeter 记录请求次数和耗时
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithBreaker 每个请求经过熔断器，熔断键为 "<METHOD> <kind>"
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithLimiter 每个请求发出前等待令牌，规则来自 ClientConfig.Rate/Burst
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithHTTPClient 替换底层 http.Client，测试时常用
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTracerProvider 指定 TracerProvider，默认使用全局 Provider。
// 每个请求一个客户端 Span，并通过 traceparent 头向 Admin API 传播。
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
