package syncer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ceyewan/kongsync/kong"
	"github.com/ceyewan/kongsync/kong/kongtest"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/pool"
	"github.com/ceyewan/kongsync/registry"
	"github.com/ceyewan/kongsync/syncer"
	"github.com/ceyewan/kongsync/testkit"
	"github.com/ceyewan/kongsync/xerrors"
)

// fakeRegistry 内存注册中心，可选地推送变更事件
type fakeRegistry struct {
	mu        sync.Mutex
	instances map[registry.Service][]registry.Instance
	failing   map[registry.Service]bool
	events    chan registry.Service
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		instances: make(map[registry.Service][]registry.Instance),
		failing:   make(map[registry.Service]bool),
	}
}

func (f *fakeRegistry) set(svc registry.Service, ins ...registry.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[svc] = ins
}

func (f *fakeRegistry) remove(svc registry.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, svc)
}

func (f *fakeRegistry) fail(svc registry.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[svc] = true
}

func (f *fakeRegistry) ListServices(ctx context.Context) ([]registry.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.Service, 0, len(f.instances))
	for svc := range f.instances {
		out = append(out, svc)
	}
	return out, nil
}

func (f *fakeRegistry) ListInstances(ctx context.Context, svc registry.Service) ([]registry.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[svc] {
		return nil, xerrors.Wrap(xerrors.ErrUnavailable, "registry down")
	}
	return slices.Clone(f.instances[svc]), nil
}

// watchingRegistry 额外实现 syncer.Watcher
type watchingRegistry struct {
	*fakeRegistry
}

func (w watchingRegistry) Watch(ctx context.Context) (<-chan registry.Service, error) {
	return w.events, nil
}

func instance(host string, port, weight uint32, group string) registry.Instance {
	ins := registry.Instance{ID: host, Host: host, Port: port, Weight: weight, Healthy: true}
	if group != "" {
		ins.Metadata = map[string]string{registry.MetadataGroup: group}
	}
	return ins
}

type env struct {
	kit *testkit.Kit
	srv *kongtest.Server
	reg *fakeRegistry
	s   *syncer.Syncer
}

func newEnv(t *testing.T, opts ...syncer.Option) *env {
	t.Helper()
	kit := testkit.NewKit(t)
	srv := kongtest.NewServer(t)
	client, err := kong.NewClient(&kong.ClientConfig{Address: srv.URL, PageSize: 2}, kong.WithLogger(kit.Logger))
	require.NoError(t, err)

	reg := newFakeRegistry()
	opts = append([]syncer.Option{syncer.WithLogger(kit.Logger), syncer.WithMeter(kit.Meter)}, opts...)
	s, err := syncer.New(reg, client, &syncer.Config{Source: "polaris", Workers: 2}, opts...)
	require.NoError(t, err)
	return &env{kit: kit, srv: srv, reg: reg, s: s}
}

func (e *env) targets(upstream string) map[string]uint32 {
	out := make(map[string]uint32)
	for _, t := range e.srv.Targets(upstream) {
		out[t.Target] = t.Weight
	}
	return out
}

func upstreamNames(srv *kongtest.Server) []string {
	var names []string
	for _, up := range srv.Upstreams() {
		names = append(names, up.Name)
	}
	slices.Sort(names)
	return names
}

func serviceNames(srv *kongtest.Server) []string {
	var names []string
	for _, s := range srv.Services() {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	return names
}

var svc1 = registry.Service{Namespace: "ns1", Name: "svc1"}

func TestNew_Validation(t *testing.T) {
	srv := kongtest.NewServer(t)
	client, err := kong.NewClient(&kong.ClientConfig{Address: srv.URL})
	require.NoError(t, err)
	reg := newFakeRegistry()

	_, err = syncer.New(nil, client, &syncer.Config{Source: "polaris"})
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))

	_, err = syncer.New(reg, client, nil)
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))

	_, err = syncer.New(reg, client, &syncer.Config{})
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput), "source 必填")

	_, err = syncer.New(reg, client, &syncer.Config{Source: "a.b"})
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput), "source 不能包含分隔符")

	_, err = syncer.New(reg, client, &syncer.Config{Source: "polaris", Workers: -1})
	assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))

	cfg := &syncer.Config{Source: "polaris"}
	_, err = syncer.New(reg, client, cfg)
	require.NoError(t, err)
	assert.Equal(t, "polaris", cfg.SourceType)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, kong.DefaultConventions(), cfg.Conventions)
}

func TestSyncOnce_CreatesFromEmpty(t *testing.T) {
	e := newEnv(t)

	unhealthy := instance("10.0.0.3", 8080, 100, "")
	unhealthy.Healthy = false
	isolated := instance("10.0.0.4", 8080, 100, "")
	isolated.Isolate = true

	e.reg.set(svc1,
		instance("10.0.0.1", 8080, 100, ""),
		instance("10.0.0.2", 8080, 50, ""),
		unhealthy,
		isolated,
		instance("10.0.1.1", 9090, 10, "canary"),
	)

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.Report{
		Services:         1,
		ServicesCreated:  1,
		UpstreamsCreated: 2,
		TargetsCreated:   3,
	}, report)

	services := e.srv.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "polaris.ns1.svc1", services[0].Name)
	assert.Equal(t, "polaris.ns1.svc1.default", services[0].Host)
	assert.Equal(t, 80, services[0].Port)
	assert.Equal(t, "http", services[0].Protocol)
	assert.Equal(t, []string{"polaris"}, services[0].Tags)

	assert.Equal(t, []string{"polaris.ns1.svc1.canary", "polaris.ns1.svc1.default"}, upstreamNames(e.srv))
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 100, "10.0.0.2:8080": 50}, e.targets("polaris.ns1.svc1.default"))
	assert.Equal(t, map[string]uint32{"10.0.1.1:9090": 10}, e.targets("polaris.ns1.svc1.canary"))
}

func TestSyncOnce_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""), instance("10.0.1.1", 8080, 100, "canary"))

	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	before := len(e.srv.Requests())

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, 1, report.Services)

	for _, r := range e.srv.Requests()[before:] {
		assert.True(t, strings.HasPrefix(r, http.MethodGet+" "), "第二轮只应读取: %s", r)
	}
}

func TestSyncOnce_WeightChangeRecreatesTarget(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""), instance("10.0.0.2", 8080, 100, ""))
	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)

	e.reg.set(svc1, instance("10.0.0.1", 8080, 30, ""), instance("10.0.0.2", 8080, 100, ""))
	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TargetsDeleted)
	assert.Equal(t, 1, report.TargetsCreated)
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 30, "10.0.0.2:8080": 100}, e.targets("polaris.ns1.svc1.default"))
}

func TestSyncOnce_ZeroWeightIsKept(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 0, ""))

	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 0}, e.targets("polaris.ns1.svc1.default"))
}

func TestSyncOnce_RemovesStaleObjects(t *testing.T) {
	e := newEnv(t)
	svc2 := registry.Service{Namespace: "ns1", Name: "svc2"}
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""), instance("10.0.0.2", 8080, 100, ""), instance("10.0.1.1", 8080, 100, "canary"))
	e.reg.set(svc2, instance("10.0.2.1", 8080, 100, ""))
	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)

	// 实例下线、分组消失、服务消失
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	e.reg.remove(svc2)

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TargetsDeleted)
	assert.Equal(t, 2, report.UpstreamsDeleted, "canary 分组和 svc2 的默认分组")
	assert.Equal(t, 1, report.ServicesDeleted)

	assert.Equal(t, []string{"polaris.ns1.svc1"}, serviceNames(e.srv))
	assert.Equal(t, []string{"polaris.ns1.svc1.default"}, upstreamNames(e.srv))
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 100}, e.targets("polaris.ns1.svc1.default"))
}

func TestSyncOnce_EmptyServiceKeepsDefaultUpstream(t *testing.T) {
	e := newEnv(t)
	down := instance("10.0.0.1", 8080, 100, "")
	down.Healthy = false
	e.reg.set(svc1, down)

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ServicesCreated)
	assert.Equal(t, []string{"polaris.ns1.svc1.default"}, upstreamNames(e.srv))
	assert.Empty(t, e.srv.Targets("polaris.ns1.svc1.default"))
}

func TestSyncOnce_LeavesForeignObjects(t *testing.T) {
	e := newEnv(t)
	e.srv.AddService(kong.ServiceObject{Name: "other.ns1.svc1", Host: "other.ns1.svc1.default", Port: 80})
	e.srv.AddService(kong.ServiceObject{Name: "manual", Host: "example.com", Port: 443})
	e.srv.AddService(kong.ServiceObject{Name: "polaris.ns1", Host: "x", Port: 80})
	e.srv.AddUpstream(kong.UpstreamObject{Name: "other.ns1.svc1.default"})
	e.srv.AddUpstream(kong.UpstreamObject{Name: "polaris.ns1.svc9.defaul%74"})

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, []string{"manual", "other.ns1.svc1", "polaris.ns1"}, serviceNames(e.srv))
	// 无法解析的名字不归本同步源管理
	assert.Equal(t, []string{"other.ns1.svc1.default", "polaris.ns1.svc9.defaul%74"}, upstreamNames(e.srv))
}

func TestSyncOnce_RemovesOrphanUpstreams(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""), instance("10.0.1.1", 8080, 100, "canary"))
	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)

	// Service 被手工删除，之后服务从注册中心消失
	require.NoError(t, mustClient(t, e.srv).DeleteService(e.kit.Ctx, "polaris.ns1.svc1"))
	e.reg.remove(svc1)
	// 从未创建出 Service 的服务留下的 Upstream
	e.srv.AddUpstream(kong.UpstreamObject{Name: "polaris.ns2.svc2.default"})

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.UpstreamsDeleted)
	assert.Equal(t, 0, report.ServicesDeleted)
	assert.Empty(t, upstreamNames(e.srv))
	assert.Empty(t, e.srv.Targets("polaris.ns1.svc1.default"))
}

func TestSyncOnce_OrphanUpstreamOfWantedServiceIsAdopted(t *testing.T) {
	e := newEnv(t)
	up := e.srv.AddUpstream(kong.UpstreamObject{Name: "polaris.ns1.svc1.default"})
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.UpstreamsCreated)
	assert.Equal(t, 0, report.UpstreamsDeleted)
	assert.Equal(t, 1, report.ServicesCreated)
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 100}, e.targets(up.ID))
}

// 其他工具留下的别名写法不能顶替规范名的 Upstream
func TestSyncOnce_IgnoresNonCanonicalAlias(t *testing.T) {
	e := newEnv(t)
	e.srv.AddUpstream(kong.UpstreamObject{Name: "polaris.ns1.svc1.defaul%74"})
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.UpstreamsCreated)

	services := e.srv.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "polaris.ns1.svc1.default", services[0].Host)
	assert.Equal(t, map[string]uint32{"10.0.0.1:8080": 100}, e.targets("polaris.ns1.svc1.default"))
	assert.Empty(t, e.targets("polaris.ns1.svc1.defaul%74"))
	assert.Equal(t, []string{"polaris.ns1.svc1.defaul%74", "polaris.ns1.svc1.default"}, upstreamNames(e.srv))
}

// panicGateway 创建指定 Upstream 时 panic
type panicGateway struct {
	syncer.Gateway
	upstream string
}

func (g *panicGateway) CreateUpstream(ctx context.Context, up kong.UpstreamObject) (kong.UpstreamObject, error) {
	if up.Name == g.upstream {
		panic("gateway bug")
	}
	return g.Gateway.CreateUpstream(ctx, up)
}

func TestSyncOnce_PanicDoesNotAbortOtherServices(t *testing.T) {
	e := newEnv(t)
	broken := registry.Service{Namespace: "ns1", Name: "broken"}
	for i := range 6 {
		e.reg.set(registry.Service{Namespace: "ns1", Name: "svc" + strconv.Itoa(i)}, instance("10.0.0.1", 8080, 100, ""))
	}
	e.reg.set(broken, instance("10.0.0.9", 8080, 100, ""))

	gw := &panicGateway{Gateway: mustClient(t, e.srv), upstream: "polaris.ns1.broken.default"}
	s, err := syncer.New(e.reg, gw, &syncer.Config{Source: "polaris", Workers: 2})
	require.NoError(t, err)

	report, err := s.SyncOnce(e.kit.Ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrPanic)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 6, report.ServicesCreated)
	assert.Len(t, e.srv.Services(), 6)
}

func TestSyncOnce_RepairsDriftedService(t *testing.T) {
	e := newEnv(t)
	e.srv.AddService(kong.ServiceObject{Name: "polaris.ns1.svc1", Host: "stale.example.com", Port: 8000, Protocol: "http"})
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ServicesCreated)
	assert.Equal(t, 1, report.ServicesUpdated)

	services := e.srv.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "polaris.ns1.svc1.default", services[0].Host)
	assert.Equal(t, 80, services[0].Port)
}

func TestSyncOnce_EncodesSpecialCharacters(t *testing.T) {
	e := newEnv(t)
	svc := registry.Service{Namespace: "prod", Name: "pay.v2/api"}
	e.reg.set(svc, instance("10.0.0.1", 8080, 100, "blue.green"))

	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"polaris.prod.pay%2Ev2%2Fapi"}, serviceNames(e.srv))
	assert.Equal(t, []string{"polaris.prod.pay%2Ev2%2Fapi.blue%2Egreen", "polaris.prod.pay%2Ev2%2Fapi.default"}, upstreamNames(e.srv))
	assert.Len(t, e.srv.Targets("polaris.prod.pay%2Ev2%2Fapi.blue%2Egreen"), 1)

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed(), "编码后的名字应能解码回同一个服务")
}

func TestSyncOnce_FailureIsolation(t *testing.T) {
	e := newEnv(t)
	svc2 := registry.Service{Namespace: "ns1", Name: "svc2"}
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	e.reg.set(svc2, instance("10.0.0.2", 8080, 100, ""))
	e.reg.fail(svc2)

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.ErrUnavailable))
	assert.Contains(t, err.Error(), "ns1/svc2")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.ServicesCreated)
	assert.Equal(t, []string{"polaris.ns1.svc1"}, serviceNames(e.srv))
}

func TestSyncOnce_GatewayFailure(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	e.srv.FailNext(http.StatusInternalServerError)

	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, kong.StatusCode(err))
	assert.Empty(t, e.srv.Services())

	// 下一轮恢复
	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ServicesCreated)
}

func TestSyncOnce_KeepsUpstreamsWhenServiceDeleteFails(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)

	e.reg.remove(svc1)
	// Service 仍被 Route 引用时删除被拒绝
	srvWithRoute := &rejectingGateway{Gateway: mustClient(t, e.srv), rejectService: true}
	s, err := syncer.New(e.reg, srvWithRoute, &syncer.Config{Source: "polaris"})
	require.NoError(t, err)

	report, err := s.SyncOnce(e.kit.Ctx)
	require.Error(t, err)
	assert.Equal(t, 0, report.UpstreamsDeleted)
	assert.Equal(t, []string{"polaris.ns1.svc1.default"}, upstreamNames(e.srv))
}

type rejectingGateway struct {
	syncer.Gateway
	rejectService bool
}

func (g *rejectingGateway) DeleteService(ctx context.Context, idOrName string) error {
	if g.rejectService {
		return xerrors.WithCode(errors.New("an existing 'routes' entity references this 'services' entity"), "KONG_400")
	}
	return g.Gateway.DeleteService(ctx, idOrName)
}

func mustClient(t *testing.T, srv *kongtest.Server) *kong.Client {
	t.Helper()
	c, err := kong.NewClient(&kong.ClientConfig{Address: srv.URL})
	require.NoError(t, err)
	return c
}

func TestSyncOnce_ManyServicesConcurrently(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		e.reg.set(registry.Service{Namespace: "ns", Name: name}, instance("10.0.0.1", 8080, 100, ""))
	}

	report, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, report.ServicesCreated)
	assert.Equal(t, 8, report.UpstreamsCreated)
	assert.Equal(t, 8, report.TargetsCreated)
	assert.Len(t, e.srv.Services(), 8)
}

func TestSyncOnce_RecordsMetrics(t *testing.T) {
	e := newEnv(t)
	e.reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	_, err := e.s.SyncOnce(e.kit.Ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler(e.kit.Meter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "kongsync_objects_total")
	assert.Contains(t, text, `kind="target"`)
	assert.Contains(t, text, "kongsync_sync_duration_seconds")
	assert.Contains(t, text, "kongsync_services")
}

func TestRun_SyncsOnStartAndOnWatchEvents(t *testing.T) {
	kit := testkit.NewKit(t)
	srv := kongtest.NewServer(t)
	client := mustClient(t, srv)

	reg := watchingRegistry{fakeRegistry: newFakeRegistry()}
	reg.events = make(chan registry.Service, 8)
	reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))

	s, err := syncer.New(reg, client, &syncer.Config{
		Source:   "polaris",
		Interval: time.Hour,
		Debounce: 10 * time.Millisecond,
	}, syncer.WithLogger(kit.Logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(kit.Ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(srv.Targets("polaris.ns1.svc1.default")) == 1
	}, 5*time.Second, 10*time.Millisecond, "启动时立即同步")

	reg.set(svc1, instance("10.0.0.1", 8080, 100, ""), instance("10.0.0.2", 8080, 100, ""))
	for range 3 {
		reg.events <- svc1
	}

	require.Eventually(t, func() bool {
		return len(srv.Targets("polaris.ns1.svc1.default")) == 2
	}, 5*time.Second, 10*time.Millisecond, "变更事件触发同步")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在 ctx 取消后退出")
	}
}

func TestRun_PeriodicWithoutWatcher(t *testing.T) {
	kit := testkit.NewKit(t)
	srv := kongtest.NewServer(t)
	reg := newFakeRegistry()

	s, err := syncer.New(reg, mustClient(t, srv), &syncer.Config{Source: "polaris", Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(kit.Ctx)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))
	require.Eventually(t, func() bool {
		return len(srv.Services()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncOnce_Traces(t *testing.T) {
	kit := testkit.NewKit(t)
	srv := kongtest.NewServer(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client, err := kong.NewClient(&kong.ClientConfig{Address: srv.URL}, kong.WithTracerProvider(tp))
	require.NoError(t, err)
	reg := newFakeRegistry()
	reg.set(svc1, instance("10.0.0.1", 8080, 100, ""))

	s, err := syncer.New(reg, client, &syncer.Config{Source: "polaris"},
		syncer.WithLogger(kit.Logger), syncer.WithTracerProvider(tp))
	require.NoError(t, err)
	_, err = s.SyncOnce(kit.Ctx)
	require.NoError(t, err)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range recorder.Ended() {
		byName[span.Name()] = span
	}
	root, ok := byName["sync"]
	require.True(t, ok)
	perService, ok := byName["sync.service"]
	require.True(t, ok)
	create, ok := byName["kong POST services"]
	require.True(t, ok)

	assert.Equal(t, root.SpanContext().SpanID(), perService.Parent().SpanID())
	assert.Equal(t, perService.SpanContext().SpanID(), create.Parent().SpanID())
	assert.Equal(t, root.SpanContext().TraceID(), create.SpanContext().TraceID())
}
