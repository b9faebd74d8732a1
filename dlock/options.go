package dlock

import (
	"time"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
)

// Option DLock 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器，内部追加 "dlock" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("dlock")
		}
	}
}

// WithMeter 记录加锁、解锁和锁丢失次数
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// lockOptions Lock 操作的选项配置
type lockOptions struct {
	TTL time.Duration
}

// LockOption Lock 操作的选项函数
type LockOption func(*lockOptions)

// WithTTL 覆盖配置中的 DefaultTTL，不足 1s 按 1s 处理
//
//	locker.Lock(ctx, "key", dlock.WithTTL(30*time.Second))
func WithTTL(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.TTL = d
	}
}
