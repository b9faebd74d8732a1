package trace

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Discard 创建不导出的 TracerProvider，仅生成 TraceID，日志仍可关联请求。
func Discard(serviceName string) (func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(newResource(serviceName)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
	)
	install(tp)
	return tp.Shutdown, nil
}
