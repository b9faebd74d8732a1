// Package syncer 把注册中心的服务同步为 Kong 的 Service、Upstream 和 Target。
//
// 每个注册中心服务对应：
//   - 一个 Service，host 指向默认分组的 Upstream
//   - 每个实例分组一个 Upstream（默认分组总是存在）
//   - 分组内每个健康且未隔离的实例一个 Target
//
// 只有名字能解码为当前 source 的对象才会被修改或删除，其他同步源或手工创建的
// 对象不受影响。
//
//	s, _ := syncer.New(src, kongClient, &syncer.Config{Source: "polaris"},
//		syncer.WithLogger(logger), syncer.WithMeter(meter))
//	report, err := s.SyncOnce(ctx)
//	// 或者持续运行
//	err = s.Run(ctx)
package syncer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/kong"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/pool"
	"github.com/ceyewan/kongsync/registry"
	"github.com/ceyewan/kongsync/trace"
	"github.com/ceyewan/kongsync/xerrors"
)

const tracerName = "github.com/ceyewan/kongsync/syncer"

// Syncer 同步引擎，SyncOnce 串行执行
type Syncer struct {
	src    Registry
	gw     Gateway
	cfg    *Config
	logger clog.Logger
	tracer oteltrace.TracerProvider
	rounds *pool.NamedFactory

	objects  metrics.Counter
	duration metrics.Histogram
	services metrics.Gauge

	mu sync.Mutex
}

// New 创建同步引擎
func New(src Registry, gw Gateway, cfg *Config, opts ...Option) (*Syncer, error) {
	if src == nil || gw == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "sync: registry and gateway are required")
	}
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "sync: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Syncer{
		src:    src,
		gw:     gw,
		cfg:    cfg,
		logger: o.logger.With(clog.String(metrics.LabelSource, cfg.Source)),
		tracer: o.tracer,
		rounds: pool.NewNamedFactory("sync"),
	}

	var err error
	if s.objects, err = o.meter.Counter("kongsync_objects_total", "同步写入 Kong 的对象变更次数"); err != nil {
		return nil, xerrors.Wrap(err, "create objects counter")
	}
	if s.duration, err = o.meter.Histogram("kongsync_sync_duration_seconds", "单轮同步耗时", metrics.WithUnit("s")); err != nil {
		return nil, xerrors.Wrap(err, "create duration histogram")
	}
	if s.services, err = o.meter.Gauge("kongsync_services", "当前同步的注册中心服务数"); err != nil {
		return nil, xerrors.Wrap(err, "create services gauge")
	}
	return s, nil
}

// SyncOnce 执行一轮全量同步。
// 单个服务失败不会中断其他服务，所有失败合并后返回，Report 仍然有效。
func (s *Syncer) SyncOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.rounds.Next()
	ctx = context.WithValue(ctx, clog.SyncIDKey{}, round)
	ctx, span := trace.Start(ctx, s.tracerFor(), "sync",
		attribute.String(trace.AttrSyncSource, s.cfg.Source),
		attribute.String("kongsync.round", round))
	defer span.End()

	start := time.Now()
	rec := &recorder{objects: s.objects}
	err := s.syncAll(ctx, rec)
	report := rec.snapshot()

	trace.MarkSpanError(span, err)
	span.SetAttributes(
		attribute.Int("kongsync.services", report.Services),
		attribute.Int("kongsync.failed", report.Failed),
		attribute.Bool("kongsync.changed", report.Changed()))

	outcome := metrics.L(metrics.LabelOutcome, metrics.Outcome(err))
	s.duration.Record(ctx, time.Since(start).Seconds(), outcome)

	fields := []clog.Field{
		clog.Int("services", report.Services),
		clog.Int("services_created", report.ServicesCreated),
		clog.Int("services_updated", report.ServicesUpdated),
		clog.Int("services_deleted", report.ServicesDeleted),
		clog.Int("upstreams_created", report.UpstreamsCreated),
		clog.Int("upstreams_deleted", report.UpstreamsDeleted),
		clog.Int("targets_created", report.TargetsCreated),
		clog.Int("targets_deleted", report.TargetsDeleted),
		clog.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "sync finished with errors", append(fields, clog.Int("failed", report.Failed), clog.Error(err))...)
	case report.Changed():
		s.logger.InfoContext(ctx, "sync finished", fields...)
	default:
		s.logger.DebugContext(ctx, "sync finished, nothing changed", fields...)
	}
	return report, err
}

func (s *Syncer) syncAll(ctx context.Context, rec *recorder) error {
	services, err := s.src.ListServices(ctx)
	if err != nil {
		return xerrors.Wrap(err, "list registry services")
	}
	gwServices, err := s.gw.ListServices(ctx)
	if err != nil {
		return xerrors.Wrap(err, "list kong services")
	}
	gwUpstreams, err := s.gw.ListUpstreams(ctx)
	if err != nil {
		return xerrors.Wrap(err, "list kong upstreams")
	}

	rec.report.Services = len(services)
	s.services.Set(ctx, float64(len(services)), metrics.L(metrics.LabelSource, s.cfg.Source))

	existing := kong.IndexServices(gwServices, s.cfg.Source, s.skipMalformed(ctx, KindService))
	wanted := make(map[registry.Service]struct{}, len(services))

	var (
		errMu sync.Mutex
		errs  []error
	)
	collect := func(err error) {
		rec.failed()
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	// 隔离：某个服务的错误或 panic 不影响同一轮的其他服务
	g, _ := pool.NewGroup(ctx, "sync-"+s.cfg.Source, s.cfg.Workers, pool.WithLogger(s.logger), pool.WithIsolation())
	for _, svc := range services {
		wanted[svc] = struct{}{}
		current, found := existing[svc]
		g.Go(func(ctx context.Context) error {
			ctx, span := trace.Start(ctx, s.tracerFor(), "sync.service", attribute.String("kongsync.service", svc.String()))
			defer span.End()

			var cur *kong.ServiceObject
			if found {
				cur = &current
			}
			if err := s.syncService(ctx, rec, svc, cur, gwUpstreams); err != nil {
				trace.MarkSpanError(span, err)
				collect(xerrors.Wrapf(err, "sync %s", svc))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		collect(err)
	}

	for svc, obj := range existing {
		if _, ok := wanted[svc]; ok {
			continue
		}
		if err := s.removeService(ctx, rec, svc, obj, gwUpstreams); err != nil {
			collect(xerrors.Wrapf(err, "remove %s", svc))
		}
	}

	// 没有 Service 对象引用的残留 Upstream：创建 Service 失败或 Service 被手工删除后
	// 服务又从注册中心消失，只能按 source 找回
	for svc, ups := range kong.IndexOwnedUpstreams(gwUpstreams, s.cfg.Source, s.skipMalformed(ctx, KindUpstream)) {
		if _, ok := wanted[svc]; ok {
			continue
		}
		if _, ok := existing[svc]; ok {
			continue
		}
		if err := s.removeUpstreams(ctx, rec, svc, ups); err != nil {
			collect(xerrors.Wrapf(err, "remove orphan upstreams of %s", svc))
		}
	}

	return xerrors.Combine(errs...)
}

func (s *Syncer) tracerFor() oteltrace.Tracer {
	if s.tracer != nil {
		return s.tracer.Tracer(tracerName)
	}
	return trace.Tracer(tracerName)
}

// syncService 先保证 Upstream 和 Target，再保证 Service，使 Service 的 host 总能解析
func (s *Syncer) syncService(ctx context.Context, rec *recorder, svc registry.Service, current *kong.ServiceObject, gwUpstreams *kong.UpstreamObjectList) error {
	instances, err := s.src.ListInstances(ctx, svc)
	if err != nil {
		return xerrors.Wrap(err, "list instances")
	}

	conv := s.cfg.Conventions
	groups := groupInstances(instances, conv.DefaultGroup)
	existingUps := kong.IndexUpstreams(gwUpstreams, svc, s.cfg.Source)

	for group, members := range groups {
		up, ok := existingUps[group]
		if !ok {
			up, err = s.gw.CreateUpstream(ctx, kong.NewUpstreamObject(group, svc, s.cfg.Source, s.cfg.SourceType))
			if err != nil {
				return xerrors.Wrapf(err, "create upstream %s", group)
			}
			rec.record(ctx, KindUpstream, ActionCreate)
			s.logger.InfoContext(ctx, "upstream created",
				clog.String("service", svc.String()),
				clog.String("group", group),
				clog.String("upstream", up.Name))
		}
		if err := s.syncTargets(ctx, rec, up, members); err != nil {
			return xerrors.Wrapf(err, "sync targets of %s", up.Name)
		}
	}

	want := kong.NewServiceObject(svc, s.cfg.Source, s.cfg.SourceType, conv)
	switch {
	case current == nil:
		if _, err := s.gw.CreateService(ctx, want); err != nil {
			return xerrors.Wrap(err, "create service")
		}
		rec.record(ctx, KindService, ActionCreate)
		s.logger.InfoContext(ctx, "service created", clog.String("service", svc.String()), clog.String("name", want.Name))
	case current.Drifted(want):
		patch := kong.ServiceObject{Host: want.Host, Port: want.Port, Protocol: want.Protocol}
		if _, err := s.gw.UpdateService(ctx, current.ID, patch); err != nil {
			return xerrors.Wrap(err, "update service")
		}
		rec.record(ctx, KindService, ActionUpdate)
		s.logger.InfoContext(ctx, "service updated",
			clog.String("service", svc.String()),
			clog.String("host", want.Host),
			clog.Int("port", want.Port))
	}

	for group, up := range existingUps {
		if _, ok := groups[group]; ok {
			continue
		}
		if err := s.gw.DeleteUpstream(ctx, up.ID); err != nil {
			return xerrors.Wrapf(err, "delete upstream %s", group)
		}
		rec.record(ctx, KindUpstream, ActionDelete)
		s.logger.InfoContext(ctx, "upstream deleted", clog.String("service", svc.String()), clog.String("group", group))
	}
	return nil
}

// syncTargets 按地址比较：缺少的创建，权重变化的删除后重建，多余的删除
func (s *Syncer) syncTargets(ctx context.Context, rec *recorder, up kong.UpstreamObject, members []registry.Instance) error {
	list, err := s.gw.ListTargets(ctx, up.ID)
	if err != nil {
		return xerrors.Wrap(err, "list targets")
	}
	current := kong.IndexTargets(list)

	desired := make(map[string]registry.Instance, len(members))
	for _, ins := range members {
		desired[ins.Address()] = ins
	}

	for addr, ins := range desired {
		want := kong.InstanceToTarget(addr, ins)
		if have, ok := current[addr]; ok {
			if have.Weight == want.Weight {
				continue
			}
			if err := s.gw.DeleteTarget(ctx, up.ID, have.ID); err != nil {
				return xerrors.Wrapf(err, "delete target %s", addr)
			}
			rec.record(ctx, KindTarget, ActionDelete)
		}
		if _, err := s.gw.CreateTarget(ctx, up.ID, want); err != nil {
			return xerrors.Wrapf(err, "create target %s", addr)
		}
		rec.record(ctx, KindTarget, ActionCreate)
	}

	for addr, have := range current {
		if _, ok := desired[addr]; ok {
			continue
		}
		if err := s.gw.DeleteTarget(ctx, up.ID, have.ID); err != nil {
			return xerrors.Wrapf(err, "delete target %s", addr)
		}
		rec.record(ctx, KindTarget, ActionDelete)
	}
	return nil
}

// removeService 注册中心中已不存在的服务：先删 Service，成功后再删它的 Upstream。
// Service 仍被 Route 引用时 Kong 会拒绝删除，此时保留 Upstream 以免流量中断。
func (s *Syncer) removeService(ctx context.Context, rec *recorder, svc registry.Service, obj kong.ServiceObject, gwUpstreams *kong.UpstreamObjectList) error {
	if err := s.gw.DeleteService(ctx, obj.ID); err != nil {
		return xerrors.Wrap(err, "delete service")
	}
	rec.record(ctx, KindService, ActionDelete)
	s.logger.InfoContext(ctx, "service deleted", clog.String("service", svc.String()), clog.String("name", obj.Name))

	return s.removeUpstreams(ctx, rec, svc, kong.IndexUpstreams(gwUpstreams, svc, s.cfg.Source))
}

func (s *Syncer) removeUpstreams(ctx context.Context, rec *recorder, svc registry.Service, ups map[string]kong.UpstreamObject) error {
	for group, up := range ups {
		if err := s.gw.DeleteUpstream(ctx, up.ID); err != nil {
			return xerrors.Wrapf(err, "delete upstream %s", group)
		}
		rec.record(ctx, KindUpstream, ActionDelete)
		s.logger.InfoContext(ctx, "upstream deleted", clog.String("service", svc.String()), clog.String("group", group))
	}
	return nil
}

// skipMalformed 属于本 source 却无法解析的对象不会被同步或删除，只记调试日志
func (s *Syncer) skipMalformed(ctx context.Context, kind string) kong.IndexOption {
	return kong.OnMalformed(func(name string, err error) {
		s.logger.DebugContext(ctx, "skip malformed kong object",
			clog.String("kind", kind),
			clog.String("name", name),
			clog.Error(err))
	})
}

// groupInstances 按分组聚合可路由的实例，默认分组即使为空也存在
func groupInstances(instances []registry.Instance, defaultGroup string) map[string][]registry.Instance {
	groups := map[string][]registry.Instance{defaultGroup: nil}
	for _, ins := range instances {
		if !ins.Routable() {
			continue
		}
		g := ins.Group(defaultGroup)
		groups[g] = append(groups[g], ins)
	}
	return groups
}

// Run 启动时立即同步一次，之后按 Interval 周期同步，直到 ctx 取消。
// Registry 实现了 Watcher 时，变更事件在 Debounce 内合并后触发一次全量同步。
// 单轮同步的错误只记录日志，ctx 取消后返回 nil。
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "syncer started",
		clog.Duration("interval", s.cfg.Interval),
		clog.Int("workers", s.cfg.Workers))
	defer s.logger.InfoContext(ctx, "syncer stopped")

	events := s.watch(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(s.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()
	pending := false

	s.syncLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncLogged(ctx)
		case svc, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.logger.DebugContext(ctx, "registry changed", clog.String("service", svc.String()))
			if !pending {
				pending = true
				debounce.Reset(s.cfg.Debounce)
			}
		case <-debounce.C:
			pending = false
			s.syncLogged(ctx)
		}
	}
}

func (s *Syncer) watch(ctx context.Context) <-chan registry.Service {
	w, ok := s.src.(Watcher)
	if !ok {
		return nil
	}
	events, err := w.Watch(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "watch registry failed, falling back to periodic sync", clog.Error(err))
		return nil
	}
	return events
}

func (s *Syncer) syncLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// SyncOnce 已记录结果
	_, _ = s.SyncOnce(ctx)
}
