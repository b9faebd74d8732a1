package connector

import (
	"context"
	"sync"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

// healthKey 探测用的 key，不存在也视为连接正常
const healthKey = "/kongsync/health-check"

type etcdConnector struct {
	cfg     *EtcdConfig
	client  *clientv3.Client
	logger  clog.Logger
	healthy atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	attempts metrics.Counter
	active   metrics.Gauge
}

// NewEtcd 创建 Etcd 连接器，不做网络探测，探测在 Connect 中进行
func NewEtcd(cfg *EtcdConfig, opts ...Option) (EtcdConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "etcd config is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(opt)
	}

	c := &etcdConnector{
		cfg:    cfg,
		logger: opt.logger.With(clog.String("connector", "etcd"), clog.String("name", cfg.Name)),
	}

	var err error
	c.attempts, err = opt.meter.Counter("kongsync_connector_connects_total", "Etcd 连接探测次数")
	if err != nil {
		return nil, xerrors.Wrap(err, "create connect counter")
	}
	c.active, err = opt.meter.Gauge("kongsync_connector_healthy", "Etcd 连接是否健康")
	if err != nil {
		return nil, xerrors.Wrap(err, "create healthy gauge")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:            cfg.Endpoints,
		Username:             cfg.Username,
		Password:             cfg.Password,
		DialTimeout:          cfg.DialTimeout,
		DialKeepAliveTime:    cfg.KeepAliveTime,
		DialKeepAliveTimeout: cfg.KeepAliveTimeout,
	})
	if err != nil {
		return nil, xerrors.Wrapf(ErrConnection, "etcd connector[%s]: %v", cfg.Name, err)
	}

	c.client = client
	return c, nil
}

// Connect 探测 Etcd 是否可达
func (c *etcdConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClientNil
	}
	if c.healthy.Load() {
		return nil
	}

	c.logger.Info("attempting to connect to etcd", clog.Strings("endpoints", c.cfg.Endpoints))

	err := c.probe(ctx)
	c.attempts.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil {
		c.logger.Error("failed to connect to etcd", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "etcd connector[%s]: %v", c.cfg.Name, err)
	}

	c.setHealthy(ctx, true)
	c.logger.Info("connected to etcd", clog.Strings("endpoints", c.cfg.Endpoints))
	return nil
}

// Close 关闭连接
func (c *etcdConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setHealthy(context.Background(), false)

	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close etcd connection", clog.Error(err))
		return err
	}
	c.logger.Info("etcd connection closed")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *etcdConnector) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientNil
	}
	if err := c.probe(ctx); err != nil {
		c.setHealthy(ctx, false)
		c.logger.Warn("etcd health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "etcd connector[%s]: %v", c.cfg.Name, err)
	}
	c.setHealthy(ctx, true)
	return nil
}

func (c *etcdConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *etcdConnector) Name() string {
	return c.cfg.Name
}

func (c *etcdConnector) GetClient() *clientv3.Client {
	return c.client
}

func (c *etcdConnector) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	// Get 不存在的 key 返回空结果，不是错误
	_, err := c.client.Get(probeCtx, healthKey)
	return err
}

func (c *etcdConnector) setHealthy(ctx context.Context, healthy bool) {
	c.healthy.Store(healthy)
	val := 0.0
	if healthy {
		val = 1
	}
	c.active.Set(ctx, val, metrics.L("connector", c.cfg.Name))
}
