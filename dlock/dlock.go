// Package dlock 基于 Etcd 的分布式锁。
//
// 每把锁使用独立的 concurrency.Session，Session 自动续期；进程崩溃或与 Etcd
// 失联超过 TTL 后锁自动释放。Done 返回的通道在 Session 失效时关闭，持锁方据此
// 停止受保护的工作。
//
//	locker, _ := dlock.New(etcdConn, &dlock.Config{Prefix: "/kongsync/locks/"}, dlock.WithLogger(logger))
//	defer locker.Close()
//
//	if err := locker.Lock(ctx, "polaris"); err != nil {
//		return err
//	}
//	defer locker.Unlock(context.Background(), "polaris")
//	select {
//	case <-locker.Done("polaris"):
//		// 锁已丢失
//	case <-ctx.Done():
//	}
package dlock

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/connector"
	"github.com/ceyewan/kongsync/metrics"
	"github.com/ceyewan/kongsync/xerrors"
)

// Config 组件静态配置
//
//	lock:
//	  prefix: /kongsync/locks/
//	  default_ttl: 10s
type Config struct {
	// Prefix 锁 Key 的全局前缀
	Prefix string `mapstructure:"prefix"`

	// DefaultTTL 默认锁超时时间，Session KeepAlive 自动续期（默认：10s，最小 1s）
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "/kongsync/locks/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c == nil {
		return ErrConfigNil
	}
	c.setDefaults()
	if c.DefaultTTL < time.Second {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "dlock: default_ttl must be at least 1s, got %v", c.DefaultTTL)
	}
	return nil
}

// Locker 定义了分布式锁的核心行为
type Locker interface {
	// Lock 阻塞式加锁，ctx 取消时返回 ctx 的错误
	//
	// opts 支持的选项:
	//   - WithTTL(duration): 设置锁的超时时间
	Lock(ctx context.Context, key string, opts ...LockOption) error

	// TryLock 非阻塞式尝试加锁
	// 成功获取锁返回 true, nil
	// 锁已被占用返回 false, nil
	TryLock(ctx context.Context, key string, opts ...LockOption) (bool, error)

	// Unlock 释放锁，只有锁的持有者才能成功释放
	Unlock(ctx context.Context, key string) error

	// Done 返回锁的 Session 失效时关闭的通道，本地未持有该锁时返回 nil
	Done(key string) <-chan struct{}

	// Close 释放所有本地持有的锁
	Close() error
}

// New 创建 Etcd 分布式锁，conn 需要已经 Connect
func New(conn connector.EtcdConnector, cfg *Config, opts ...Option) (Locker, error) {
	if conn == nil {
		return nil, ErrConnectorNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(&opt)
	}
	return newEtcd(conn, cfg, &opt)
}
