package trace

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// 组件 Span 使用的属性键
const (
	AttrHTTPMethod     = "http.request.method"
	AttrHTTPStatusCode = "http.response.status_code"
	AttrKongKind       = "kong.kind"
	AttrSyncSource     = "kongsync.source"
)

// Tracer 返回全局 TracerProvider 下名为 name 的 Tracer。
// 每次调用都从全局取，Init 之后创建的组件也能拿到新的 Provider。
func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

// Start 启动一个内部 Span，tracer 为 nil 时使用全局 Tracer
func Start(ctx context.Context, tracer oteltrace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/ceyewan/kongsync")
	}
	return tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// StartClient 启动一个客户端 Span，用于对外部系统的调用
func StartClient(ctx context.Context, tracer oteltrace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/ceyewan/kongsync")
	}
	return tracer.Start(ctx, name,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attrs...))
}

// Propagator 对外传播使用的格式：W3C TraceContext + Baggage
var Propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// InjectHTTP 把 ctx 中的 Span 上下文写入 HTTP 头（traceparent/baggage），
// 不依赖全局传播器是否已设置
func InjectHTTP(ctx context.Context, header http.Header) {
	Propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHTTP 从 HTTP 头恢复 Span 上下文
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return Propagator.Extract(ctx, propagation.HeaderCarrier(header))
}

// MarkSpanError 记录并将 Span 标记为错误，当 err 不为 nil 时
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID 返回 ctx 中的 TraceID，没有有效 Span 时返回空串
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
