package clog

import (
	"context"
	"io"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// ContextField 定义从 Context 中提取字段的规则
//
// Extract 为空时取 ctx.Value(Key)。
type ContextField struct {
	Key       any
	FieldName string
	Extract   func(ctx context.Context) (any, bool)
}

func (cf ContextField) value(ctx context.Context) (any, bool) {
	if cf.Extract != nil {
		return cf.Extract(ctx)
	}
	v := ctx.Value(cf.Key)
	return v, v != nil
}

// Option 函数式选项，用于配置 Logger 实例
type Option func(*options)

type options struct {
	namespaceParts []string
	contextFields  []ContextField
	writer         io.Writer // 测试用，覆盖 Output
}

// WithNamespace 设置日志命名空间，多级命名空间以 "." 连接
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithContextField 添加自定义的 Context 字段提取规则
//
//	clog.WithContextField(syncIDKey{}, "sync_id")
func WithContextField(key any, fieldName string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{
			Key:       key,
			FieldName: fieldName,
		})
	}
}

// WithStandardContext 提取 trace_id、span_id 和 sync_id
//
// trace_id/span_id 优先取 OpenTelemetry span，没有 span 时退回 ctx.Value("trace_id")。
func WithStandardContext() Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields,
			ContextField{FieldName: "trace_id", Extract: traceID},
			ContextField{FieldName: "span_id", Extract: spanID},
			ContextField{Key: SyncIDKey{}, FieldName: "sync_id"},
		)
	}
}

// SyncIDKey 同步轮次 ID 在 Context 中的键
type SyncIDKey struct{}

func traceID(ctx context.Context) (any, bool) {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String(), true
	}
	v := ctx.Value("trace_id")
	return v, v != nil
}

func spanID(ctx context.Context) (any, bool) {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String(), true
	}
	return nil, false
}

// WithWriter 将日志写入指定的 io.Writer，忽略 Config.Output
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
