// Package trace 初始化 OpenTelemetry 链路追踪，并提供 kongsync 组件共用的 Span 辅助函数。
//
//	shutdown, err := trace.Init(&trace.Config{Enabled: true, ServiceName: "kongsync", Endpoint: "tempo:4317"})
//	defer shutdown(ctx)
//
//	ctx, span := trace.Start(ctx, tracer, "kong.request", attribute.String("http.request.method", "GET"))
//	defer span.End()
//	trace.InjectHTTP(ctx, req.Header)
package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ceyewan/kongsync/xerrors"
)

// AttrServiceName OTel Resource 的服务名属性
const AttrServiceName = "service.name"

// Init 初始化全局 TracerProvider
//
// Enabled 为 false 时等价于 Discard。否则创建连接到 Endpoint（Tempo/Jaeger 等）的
// OTLP gRPC exporter，并设置 W3C TraceContext + Baggage 传播器。
//
// 返回的 Shutdown 函数应在进程退出时调用，以刷新剩余数据。
func Init(cfg *Config) (func(context.Context) error, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return Discard(cfg.ServiceName)
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// 连接是惰性的，collector 不可达时不会在这里失败
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to create otlp exporter")
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(newResource(cfg.ServiceName)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))),
	}
	if cfg.Batcher == "simple" {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
	} else {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	install(tp)
	return tp.Shutdown, nil
}

func newResource(serviceName string) *resource.Resource {
	if serviceName == "" {
		return resource.Empty()
	}
	return resource.NewSchemaless(attribute.String(AttrServiceName, serviceName))
}

func install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator)
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "config is required")
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "service_name is required")
	}
	if cfg.Endpoint == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "endpoint is required")
	}
	if cfg.Sampler < 0 || cfg.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sampler must be between 0 and 1, got %v", cfg.Sampler)
	}
	if cfg.Batcher != "" && cfg.Batcher != "batch" && cfg.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "batcher must be \"batch\" or \"simple\", got %q", cfg.Batcher)
	}
	return nil
}
