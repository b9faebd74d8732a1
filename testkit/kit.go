// Package testkit 为各组件的测试提供通用依赖：日志、指标、上下文、唯一 ID 和 Etcd 连接。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包，上下文随测试结束取消
func NewKit(t *testing.T) *Kit {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	meter := NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })

	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  meter,
	}
}

// NewLogger 返回一个用于测试的 logger
// 只输出 warn 及以上，避免淹没测试输出
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig()
	cfg.Level = "warn"
	logger, err := clog.New(cfg, clog.WithNamespace("test"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个用于测试的 meter，启用采集但不监听端口
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("kongsync-test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
// 用于生成唯一的 Etcd 前缀或服务名，避免测试间数据冲突
func NewID() string {
	return uuid.New().String()[0:8]
}
