// Package app 组装 kongsync 同步代理：日志、指标、链路追踪、Etcd 注册中心、
// 分布式锁、限流、熔断、Kong 客户端和同步引擎。
//
//	loader, _ := config.New(&config.Config{Name: "kongsync"})
//	_ = loader.Load(ctx)
//	cfg, err := app.Load(loader)
//	a, err := app.New(cfg, app.WithLoader(loader))
//	defer a.Close()
//	err = a.Run(ctx)
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/kongsync/breaker"
	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/config"
	"github.com/ceyewan/kongsync/connector"
	"github.com/ceyewan/kongsync/dlock"
	"github.com/ceyewan/kongsync/kong"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/ratelimit"
	"github.com/ceyewan/kongsync/registry"
	"github.com/ceyewan/kongsync/syncer"
	"github.com/ceyewan/kongsync/trace"
	"github.com/ceyewan/kongsync/xerrors"
)

// Option 选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	registry syncer.Registry
	loader   config.Loader
}

// WithLogger 使用外部 logger，不再按 Log 配置创建
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeter 使用外部 meter，不再按 Metrics 配置创建
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithRegistry 使用外部数据源，不再连接 Etcd
func WithRegistry(r syncer.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithLoader Run 期间监听 log.level 变化并热更新日志级别
func WithLoader(l config.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

type closer struct {
	name  string
	close func() error
}

// App 同步代理
type App struct {
	cfg    *Config
	logger clog.Logger
	meter  metrics.Meter
	loader config.Loader

	conn    connector.EtcdConnector
	gateway *kong.Client
	syncer  *syncer.Syncer

	// 按创建顺序登记，Close 时逆序释放
	closers []closer
}

// New 按依赖顺序创建所有组件，任一步失败都会释放已创建的组件
func New(cfg *Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{cfg: cfg, loader: o.loader}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.initLogger(o.logger); err != nil {
		return nil, err
	}
	if err := a.initMeter(o.meter); err != nil {
		return nil, err
	}
	if err := a.initTracer(); err != nil {
		return nil, err
	}

	src := o.registry
	if src == nil {
		if src, err = a.initRegistry(); err != nil {
			return nil, err
		}
	}

	if err := a.initGateway(); err != nil {
		return nil, err
	}

	a.syncer, err = syncer.New(src, a.gateway, cfg.syncConfig(),
		syncer.WithLogger(a.logger),
		syncer.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create syncer")
	}
	return a, nil
}

func (a *App) initLogger(external clog.Logger) error {
	if external != nil {
		a.logger = external
		return nil
	}
	logger, err := clog.New(&a.cfg.Log, clog.WithNamespace("kongsync"), clog.WithStandardContext())
	if err != nil {
		return xerrors.Wrap(err, "app: create logger")
	}
	a.logger = logger
	a.register("logger", func() error {
		logger.Flush()
		return nil
	})
	return nil
}

func (a *App) initMeter(external metrics.Meter) error {
	if external != nil {
		a.meter = external
		return nil
	}
	meter, err := metrics.New(&a.cfg.Metrics, metrics.WithLogger(a.logger))
	if err != nil {
		return xerrors.Wrap(err, "app: create meter")
	}
	a.meter = meter
	a.register("metrics", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return meter.Shutdown(ctx)
	})
	return nil
}

// initTracer 设置全局 TracerProvider，关闭时刷新未导出的 Span
func (a *App) initTracer() error {
	shutdown, err := trace.Init(&a.cfg.Trace)
	if err != nil {
		return xerrors.Wrap(err, "app: init tracer")
	}
	a.register("trace", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

func (a *App) initRegistry() (syncer.Registry, error) {
	conn, err := connector.NewEtcd(&a.cfg.Registry.Etcd,
		connector.WithLogger(a.logger),
		connector.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create etcd connector")
	}
	a.conn = conn
	a.register("etcd", conn.Close)

	src, err := registry.New(conn, &a.cfg.Registry.Config, registry.WithLogger(a.logger))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create registry")
	}
	return src, nil
}

func (a *App) initGateway() error {
	limiter, err := ratelimit.NewStandalone(&a.cfg.RateLimit,
		ratelimit.WithLogger(a.logger),
		ratelimit.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create limiter")
	}
	a.register("ratelimit", limiter.Close)

	// 4xx 是请求本身的问题，不代表 Kong 不可用
	brk, err := breaker.New(&a.cfg.Breaker,
		breaker.WithLogger(a.logger),
		breaker.WithMeter(a.meter),
		breaker.WithSuccessClassifier(func(err error) bool {
			return err == nil || kong.IsClientError(err)
		}))
	if err != nil {
		return xerrors.Wrap(err, "app: create breaker")
	}

	a.gateway, err = kong.NewClient(&a.cfg.Gateway,
		kong.WithLogger(a.logger),
		kong.WithMeter(a.meter),
		kong.WithBreaker(brk),
		kong.WithLimiter(limiter))
	if err != nil {
		return xerrors.Wrap(err, "app: create kong client")
	}
	return nil
}

func (a *App) register(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Syncer 返回同步引擎
func (a *App) Syncer() *syncer.Syncer {
	return a.syncer
}

// SyncOnce 连接注册中心并执行一轮同步，用于 -once 模式和运维排障
func (a *App) SyncOnce(ctx context.Context) (syncer.Report, error) {
	if err := a.Connect(ctx); err != nil {
		return syncer.Report{}, err
	}
	return a.syncer.SyncOnce(ctx)
}

// Connect 连接注册中心，使用外部数据源时什么也不做
func (a *App) Connect(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	if err := a.conn.Connect(ctx); err != nil {
		return xerrors.Wrap(err, "app: connect registry")
	}
	return nil
}

// Run 连接注册中心后运行同步引擎，直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	if a.loader != nil {
		go a.watchLogLevel(ctx)
	}

	a.logger.InfoContext(ctx, "kongsync started",
		clog.String("source", a.cfg.Source.Name),
		clog.String("gateway", a.cfg.Gateway.Address))
	if a.cfg.Lock.Enabled && a.conn != nil {
		return a.runExclusive(ctx)
	}
	return a.syncer.Run(ctx)
}

// runExclusive 持有以同步源命名的锁时才运行同步，锁丢失后重新排队
func (a *App) runExclusive(ctx context.Context) error {
	locker, err := dlock.New(a.conn, &a.cfg.Lock.Config,
		dlock.WithLogger(a.logger),
		dlock.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create locker")
	}
	defer locker.Close()

	key := a.cfg.Source.Name
	for {
		a.logger.InfoContext(ctx, "waiting for sync lock", clog.String("key", key))
		if err := locker.Lock(ctx, key); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.WarnContext(ctx, "acquire sync lock failed", clog.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.cfg.Registry.RetryInterval):
			}
			continue
		}

		lost := locker.Done(key)
		if lost == nil {
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-lost:
				cancel()
			case <-runCtx.Done():
			}
		}()

		err := a.syncer.Run(runCtx)
		cancel()
		if ctx.Err() != nil {
			return err
		}
		a.logger.WarnContext(ctx, "sync lock lost, waiting to re-acquire", clog.String("key", key))
		_ = locker.Unlock(context.Background(), key)
	}
}

func (a *App) watchLogLevel(ctx context.Context) {
	events, err := a.loader.Watch(ctx, "log.level")
	if err != nil {
		a.logger.WarnContext(ctx, "watch log level failed", clog.Error(err))
		return
	}
	for ev := range events {
		level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
		if err != nil {
			a.logger.WarnContext(ctx, "ignore invalid log level", clog.Any("value", ev.Value))
			continue
		}
		if err := a.logger.SetLevel(level); err != nil {
			a.logger.WarnContext(ctx, "set log level failed", clog.Error(err))
			continue
		}
		a.logger.InfoContext(ctx, "log level changed", clog.String("level", level.String()))
	}
}

// Close 逆序释放组件，可重复调用
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "close %s", c.name))
		}
	}
	a.closers = nil
	return xerrors.Combine(errs...)
}
