// Package metrics 为 kongsync 提供基于 OpenTelemetry 的指标能力，
// 通过 Prometheus exporter 暴露。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "kongsync",
//	    Port:        9090,
//	    Path:        "/metrics",
//	})
//	defer meter.Shutdown(ctx)
//
//	objects, _ := meter.Counter("kongsync_objects_total", "网关对象变更次数")
//	objects.Inc(ctx, metrics.L(metrics.LabelKind, "target"), metrics.L(metrics.LabelAction, "create"))
//
// Enabled 为 false 时返回 noop 实现，调用方无需判空。
package metrics

import "context"

// Counter 计数器，只增不减
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘，记录可增可减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图，记录值的分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂，创建出的指标并发安全
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Shutdown 刷新并关闭，通常在进程退出时调用
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	// Unit 单位，建议使用 UCUM 代码，如 "s"、"By"
	Unit string
}

// WithUnit 设置指标单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}
