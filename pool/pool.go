// Package pool 提供带名字的并发执行工具。
//
// NamedFactory 为每个实例维护独立计数器，产出 <prefix>-1、<prefix>-2 …；
// Group 在 errgroup 之上限制并发，并把名字作为 pprof 标签和日志字段附加到每个协程上，
// 方便在 goroutine profile 中定位是哪个同步任务。
//
//	g, ctx := pool.NewGroup(ctx, "sync-polaris", 8, pool.WithLogger(logger))
//	for _, svc := range services {
//		g.Go(func(ctx context.Context) error {
//			return syncService(ctx, svc)
//		})
//	}
//	err := g.Wait()
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/xerrors"
)

// LabelWorker pprof 标签名
const LabelWorker = "worker"

// ErrPanic 任务发生 panic
var ErrPanic = xerrors.New("pool: task panicked")

// NamedFactory 产生单调递增且不重复的名字，并发安全
type NamedFactory struct {
	prefix string
	seq    atomic.Int64
}

// NewNamedFactory 创建名字工厂，计数从 1 开始
func NewNamedFactory(prefix string) *NamedFactory {
	return &NamedFactory{prefix: prefix}
}

// Next 返回下一个名字
func (f *NamedFactory) Next() string {
	return f.prefix + "-" + strconv.FormatInt(f.seq.Add(1), 10)
}

// Option Group 选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	isolated bool
}

// WithLogger 追加 "pool" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("pool")
		}
	}
}

// WithIsolation 任务之间互不影响：错误和 panic 都不会取消其他任务的 ctx，
// Wait 仍返回第一个错误
func WithIsolation() Option {
	return func(o *options) {
		o.isolated = true
	}
}

// Group 限制并发的命名协程组。默认任一任务返回错误（包括 panic）时派生的 ctx 被取消。
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	names  *NamedFactory
	logger clog.Logger
}

// NewGroup 创建协程组，limit <= 0 表示不限制并发
func NewGroup(ctx context.Context, name string, limit int, opts ...Option) (*Group, context.Context) {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	eg, egCtx := &errgroup.Group{}, ctx
	if !o.isolated {
		eg, egCtx = errgroup.WithContext(ctx)
	}
	if limit > 0 {
		eg.SetLimit(limit)
	}
	return &Group{
		eg:     eg,
		ctx:    egCtx,
		names:  NewNamedFactory(name),
		logger: o.logger,
	}, egCtx
}

// Go 以下一个名字启动任务，达到并发上限时阻塞。panic 会被转换为 ErrPanic。
func (g *Group) Go(fn func(ctx context.Context) error) {
	name := g.names.Next()
	g.eg.Go(func() (err error) {
		pprof.Do(g.ctx, pprof.Labels(LabelWorker, name), func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					err = xerrors.Wrapf(ErrPanic, "%s: %v", name, r)
					g.logger.Error("task panicked",
						clog.String(LabelWorker, name),
						clog.String("panic", fmt.Sprint(r)),
						clog.String("stack", string(debug.Stack())))
				}
			}()
			err = fn(ctx)
		})
		if err != nil {
			g.logger.Debug("task failed", clog.String(LabelWorker, name), clog.Error(err))
		}
		return err
	})
}

// Wait 等待所有任务结束，返回第一个错误
func (g *Group) Wait() error {
	return g.eg.Wait()
}
