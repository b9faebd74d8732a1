package app

import (
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

// Config 同步代理的完整配置
//
//	source:
//	  name: polaris
//	  type: polaris
//	gateway:
//	  address: http://127.0.0.1:8001
//	  rate: 50
//	registry:
//	  prefix: /kongsync/services
//	  etcd:
//	    endpoints: ["127.0.0.1:2379"]
//	sync:
//	  interval: 30s
//	  workers: 4
//	lock:
//	  enabled: true
//	log:
//	  level: info
//	metrics:
//	  enabled: true
//	  port: 9090
//	trace:
//	  enabled: false
type Config struct {
	Source    SourceConfig               `mapstructure:"source"`
	Gateway   kong.ClientConfig          `mapstructure:"gateway"`
	Registry  RegistryConfig             `mapstructure:"registry"`
	Sync      SyncConfig                 `mapstructure:"sync"`
	Lock      LockConfig                 `mapstructure:"lock"`
	Log       clog.Config                `mapstructure:"log"`
	Metrics   metrics.Config             `mapstructure:"metrics"`
	Trace     trace.Config               `mapstructure:"trace"`
	Breaker   breaker.Config             `mapstructure:"breaker"`
	RateLimit ratelimit.StandaloneConfig `mapstructure:"ratelimit"`
}

// SourceConfig 同步源标识
type SourceConfig struct {
	// Name Kong 对象名的第一段，不能包含 "."
	Name string `mapstructure:"name"`
	// Type 写入 Kong 对象的 tag，默认与 Name 相同
	Type string `mapstructure:"type"`
}

// RegistryConfig 注册中心配置
type RegistryConfig struct {
	Etcd            connector.EtcdConfig `mapstructure:"etcd"`
	registry.Config `mapstructure:",squash"`
}

// SyncConfig 同步节奏
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LockConfig 多副本部署时只有持有同步源锁的副本执行同步
type LockConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	dlock.Config `mapstructure:",squash"`
}

// defaults 每个 key 都要注册，环境变量才能参与 Unmarshal
var defaults = map[string]any{
	"source.name": "",
	"source.type": "",

	"gateway.address":          "http://127.0.0.1:8001",
	"gateway.token":            "",
	"gateway.timeout":          10 * time.Second,
	"gateway.page_size":        1000,
	"gateway.rate":             0.0,
	"gateway.burst":            0,
	"gateway.default_group":    kong.DefaultConventions().DefaultGroup,
	"gateway.default_port":     kong.DefaultConventions().DefaultPort,
	"gateway.default_protocol": kong.DefaultConventions().DefaultProtocol,

	"registry.prefix":                  "/kongsync/services",
	"registry.retry_interval":          time.Second,
	"registry.etcd.name":               "default",
	"registry.etcd.endpoints":          []string{"127.0.0.1:2379"},
	"registry.etcd.username":           "",
	"registry.etcd.password":           "",
	"registry.etcd.dial_timeout":       5 * time.Second,
	"registry.etcd.request_timeout":    3 * time.Second,
	"registry.etcd.keep_alive_time":    10 * time.Second,
	"registry.etcd.keep_alive_timeout": 3 * time.Second,

	"sync.interval": 30 * time.Second,
	"sync.workers":  4,
	"sync.debounce": 500 * time.Millisecond,

	"lock.enabled":     false,
	"lock.prefix":      "/kongsync/locks/",
	"lock.default_ttl": 10 * time.Second,

	"log.level":       "info",
	"log.format":      "json",
	"log.output":      "stdout",
	"log.add_source":  false,
	"log.source_root": "kongsync",

	"metrics.enabled":      false,
	"metrics.service_name": "kongsync",
	"metrics.version":      "",
	"metrics.port":         9090,
	"metrics.path":         "/metrics",
	"metrics.runtime":      true,

	"trace.enabled":      false,
	"trace.service_name": "kongsync",
	"trace.endpoint":     "localhost:4317",
	"trace.sampler":      1.0,
	"trace.batcher":      "batch",
	"trace.insecure":     true,

	"breaker.max_requests":     1,
	"breaker.interval":         time.Duration(0),
	"breaker.timeout":          60 * time.Second,
	"breaker.failure_ratio":    0.6,
	"breaker.minimum_requests": 10,

	"ratelimit.cleanup_interval": time.Minute,
	"ratelimit.idle_timeout":     5 * time.Minute,
}

// Load 注册默认值、反序列化并校验，loader 需要已经 Load
func Load(loader config.Loader) (*Config, error) {
	if loader == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "app: config loader is required")
	}
	for key, val := range defaults {
		loader.SetDefault(key, val)
	}

	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, xerrors.Wrap(err, "app: unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验同步源和必填的地址
func (c *Config) Validate() error {
	if err := c.syncConfig().Validate(); err != nil {
		return err
	}
	if c.Gateway.Address == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "app: gateway.address is required")
	}
	return nil
}

// syncConfig 组装同步引擎配置，Conventions 来自网关配置
func (c *Config) syncConfig() *syncer.Config {
	return &syncer.Config{
		Source:      c.Source.Name,
		SourceType:  c.Source.Type,
		Interval:    c.Sync.Interval,
		Workers:     c.Sync.Workers,
		Debounce:    c.Sync.Debounce,
		Conventions: c.Gateway.Conventions,
	}
}
