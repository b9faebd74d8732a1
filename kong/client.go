// Package kong 是 Kong 网关一侧的模型和 Admin API 客户端。
//
// 模型层（ServiceObject/UpstreamObject/TargetObject 及其索引、构造和与注册中心
// 实例的互转）是纯函数，可并发调用。Client 负责 HTTP 传输：分页、限流、熔断、
// 状态码到错误的映射。
//
//	client, _ := kong.NewClient(&kong.ClientConfig{
//		Address: "http://127.0.0.1:8001",
//		Rate:    50,
//	}, kong.WithLogger(logger), kong.WithLimiter(limiter), kong.WithBreaker(brk))
//
//	services, _ := client.ListServices(ctx, "polaris")
//	bySvc := kong.IndexServices(services, "polaris")
package kong

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/kongsync/breaker"
	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/naming"
	"github.com/ceyewan/kongsync/ratelimit"
	"github.com/ceyewan/kongsync/registry"
	"github.com/ceyewan/kongsync/trace"
	"github.com/ceyewan/kongsync/xerrors"
)

const (
	kindServices  = "services"
	kindUpstreams = "upstreams"
	kindTargets   = "targets"

	tracerName   = "github.com/ceyewan/kongsync/kong"
	limiterKey   = "kong-admin"
	tokenHeader  = "Kong-Admin-Token"
	maxErrorBody = 4 << 10
)

// Client Kong Admin API 客户端，并发安全
type Client struct {
	cfg     *ClientConfig
	base    *url.URL
	http    *http.Client
	logger  clog.Logger
	breaker breaker.Breaker
	limiter ratelimit.Limiter
	tracer  oteltrace.TracerProvider

	requests metrics.Counter
	latency  metrics.Histogram
}

// NewClient 创建客户端
func NewClient(cfg *ClientConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "kong: config is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(opt)
	}
	if opt.httpClient == nil {
		opt.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if opt.meter == nil {
		opt.meter = metrics.Discard()
	}

	base, _ := url.Parse(strings.TrimRight(cfg.Address, "/"))

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    opt.httpClient,
		logger:  opt.logger,
		breaker: opt.breaker,
		limiter: opt.limiter,
		tracer:  opt.tracer,
	}

	var err error
	if c.requests, err = opt.meter.Counter("kongsync_kong_requests_total", "Kong Admin API 请求数"); err != nil {
		return nil, xerrors.Wrap(err, "create kong request counter")
	}
	if c.latency, err = opt.meter.Histogram("kongsync_kong_request_duration_seconds", "Kong Admin API 请求耗时", metrics.WithUnit("s")); err != nil {
		return nil, xerrors.Wrap(err, "create kong latency histogram")
	}

	return c, nil
}

// Conventions 返回客户端使用的默认分组、端口和协议
func (c *Client) Conventions() Conventions {
	return c.cfg.Conventions
}

// ListServices 列出 Service，tags 非空时只返回同时带有这些标签的对象
func (c *Client) ListServices(ctx context.Context, tags ...string) (*ServiceObjectList, error) {
	data, err := listAll[ServiceObject](ctx, c, kindServices, "/services", tags)
	if err != nil {
		return nil, err
	}
	return &ServiceObjectList{Data: data}, nil
}

func (c *Client) CreateService(ctx context.Context, svc ServiceObject) (ServiceObject, error) {
	var out ServiceObject
	err := c.do(ctx, http.MethodPost, kindServices, "/services", nil, svc, &out)
	return out, err
}

// UpdateService 按 ID 或名字更新 Service 的部分字段
func (c *Client) UpdateService(ctx context.Context, idOrName string, svc ServiceObject) (ServiceObject, error) {
	var out ServiceObject
	err := c.do(ctx, http.MethodPatch, kindServices, "/services/"+url.PathEscape(idOrName), nil, svc, &out)
	return out, err
}

// DeleteService 对象不存在时视为成功
func (c *Client) DeleteService(ctx context.Context, idOrName string) error {
	return c.do(ctx, http.MethodDelete, kindServices, "/services/"+url.PathEscape(idOrName), nil, nil, nil)
}

func (c *Client) ListUpstreams(ctx context.Context, tags ...string) (*UpstreamObjectList, error) {
	data, err := listAll[UpstreamObject](ctx, c, kindUpstreams, "/upstreams", tags)
	if err != nil {
		return nil, err
	}
	return &UpstreamObjectList{Data: data}, nil
}

func (c *Client) CreateUpstream(ctx context.Context, up UpstreamObject) (UpstreamObject, error) {
	var out UpstreamObject
	err := c.do(ctx, http.MethodPost, kindUpstreams, "/upstreams", nil, up, &out)
	return out, err
}

// DeleteUpstream 连同其下的 Target 一起删除，对象不存在时视为成功
func (c *Client) DeleteUpstream(ctx context.Context, idOrName string) error {
	return c.do(ctx, http.MethodDelete, kindUpstreams, "/upstreams/"+url.PathEscape(idOrName), nil, nil, nil)
}

// ListTargets 列出 Upstream 下的 Target
func (c *Client) ListTargets(ctx context.Context, upstream string) (*TargetObjectList, error) {
	data, err := listAll[TargetObject](ctx, c, kindTargets, targetsPath(upstream), nil)
	if err != nil {
		return nil, err
	}
	return &TargetObjectList{Data: data}, nil
}

func (c *Client) CreateTarget(ctx context.Context, upstream string, t TargetObject) (TargetObject, error) {
	var out TargetObject
	err := c.do(ctx, http.MethodPost, kindTargets, targetsPath(upstream), nil, t, &out)
	return out, err
}

// DeleteTarget 按 ID 或地址删除 Target，对象不存在时视为成功
func (c *Client) DeleteTarget(ctx context.Context, upstream, idOrTarget string) error {
	p := targetsPath(upstream) + "/" + url.PathEscape(idOrTarget)
	return c.do(ctx, http.MethodDelete, kindTargets, p, nil, nil, nil)
}

// Instances 把分组 Upstream 下的 Target 读回为注册中心实例。
// Target 不携带健康状态，返回的实例一律 Healthy=true、Isolate=false。
func (c *Client) Instances(ctx context.Context, svc registry.Service, group, source string) ([]registry.Instance, error) {
	targets, err := c.ListTargets(ctx, naming.EncodeGroupName(svc, group, source))
	if err != nil {
		return nil, err
	}
	instances := make([]registry.Instance, 0, len(targets.Data))
	for _, t := range targets.Data {
		instances = append(instances, TargetToInstance(t, c.cfg.DefaultPort))
	}
	return instances, nil
}

func (c *Client) tracerFor() oteltrace.Tracer {
	if c.tracer != nil {
		return c.tracer.Tracer(tracerName)
	}
	return trace.Tracer(tracerName)
}

func targetsPath(upstream string) string {
	return "/upstreams/" + url.PathEscape(upstream) + "/targets"
}

type page[T any] struct {
	Data []T     `json:"data"`
	Next *string `json:"next"`
}

// listAll 沿 next 翻页直到结束。只取 next 中的 offset，路径仍用原始路径，
// 这样 Admin API 挂在反向代理子路径下时也能正确翻页。
func listAll[T any](ctx context.Context, c *Client, kind, p string, tags []string) ([]T, error) {
	query := url.Values{}
	query.Set("size", strconv.Itoa(c.cfg.PageSize))
	if len(tags) > 0 {
		query.Set("tags", strings.Join(tags, ","))
	}

	all := make([]T, 0)
	for {
		var pg page[T]
		if err := c.do(ctx, http.MethodGet, kind, p, query, nil, &pg); err != nil {
			return nil, err
		}
		all = append(all, pg.Data...)

		if pg.Next == nil || *pg.Next == "" {
			return all, nil
		}
		next, err := url.Parse(*pg.Next)
		if err != nil {
			return nil, xerrors.Wrapf(err, "kong: invalid next %q", *pg.Next)
		}
		offset := next.Query().Get("offset")
		if offset == "" || offset == query.Get("offset") {
			return all, nil
		}
		query.Set("offset", offset)
	}
}

// do 发送一次请求：限流 -> 熔断 -> HTTP
func (c *Client) do(ctx context.Context, method, kind, p string, query url.Values, body, out any) (err error) {
	ctx, span := trace.StartClient(ctx, c.tracerFor(), "kong "+method+" "+kind,
		attribute.String(trace.AttrHTTPMethod, method),
		attribute.String(trace.AttrKongKind, kind))
	defer func() {
		trace.MarkSpanError(span, err)
		span.End()
	}()

	if c.limiter != nil && c.cfg.Limit().Valid() {
		if err := c.limiter.Wait(ctx, limiterKey, c.cfg.Limit()); err != nil {
			return err
		}
	}

	start := time.Now()
	var status int
	call := func() (any, error) {
		var err error
		status, err = c.roundTrip(ctx, method, p, query, body, out)
		return nil, err
	}

	if c.breaker != nil {
		_, err = c.breaker.Execute(ctx, method+" "+kind, call)
	} else {
		_, err = call()
	}
	if status > 0 {
		span.SetAttributes(attribute.Int(trace.AttrHTTPStatusCode, status))
	}

	labels := []metrics.Label{
		metrics.L(metrics.LabelMethod, method),
		metrics.L(metrics.LabelKind, kind),
		metrics.L(metrics.LabelStatus, metrics.HTTPStatusClass(status)),
	}
	c.requests.Inc(ctx, labels...)
	c.latency.Record(ctx, time.Since(start).Seconds(), labels...)

	if err != nil {
		c.logger.DebugContext(ctx, "kong request failed",
			clog.String("method", method),
			clog.String("path", p),
			clog.Int("status", status),
			clog.Error(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, p string, query url.Values, body, out any) (int, error) {
	// p 中的段已经过 PathEscape，Path 和 RawPath 需同时设置才能保留 %2E 之类的转义
	rawPath := strings.TrimRight(c.base.EscapedPath(), "/") + p
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return 0, xerrors.Wrapf(err, "kong: invalid path %q", p)
	}
	u := *c.base
	u.Path = unescaped
	u.RawPath = rawPath
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		text := MarshalJSONText(c.logger, body)
		if text == "" {
			return 0, xerrors.Wrapf(ErrEncodeRequest, "%s %s", method, p)
		}
		reader = strings.NewReader(text)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, xerrors.Wrap(err, "kong: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set(tokenHeader, c.cfg.Token)
	}
	trace.InjectHTTP(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, xerrors.Wrapf(xerrors.ErrUnavailable, "kong: %s %s: %v", method, p, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, statusError(method, p, resp.StatusCode, c.errorMessage(resp.Header, msg))
	case out == nil || resp.StatusCode == http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, xerrors.Wrapf(err, "kong: decode %s %s", method, p)
	}
	return resp.StatusCode, nil
}

// errorMessage Kong 的错误体形如 {"message": "..."}；代理返回的 HTML 等非 JSON 内容原样保留
func (c *Client) errorMessage(header http.Header, body []byte) string {
	if !strings.HasPrefix(header.Get("Content-Type"), "application/json") {
		return string(body)
	}
	if e, ok := UnmarshalJSONText[errorBody](c.logger, string(body)); ok && e.Message != "" {
		return e.Message
	}
	return string(body)
}
