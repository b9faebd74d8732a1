package connector

import (
	"time"

	"github.com/ceyewan/kongsync/xerrors"
)

// EtcdConfig Etcd 连接配置
type EtcdConfig struct {
	Name      string   `mapstructure:"name"`      // 连接器名称 (默认: "default")
	Endpoints []string `mapstructure:"endpoints"` // [必填] 连接地址列表
	Username  string   `mapstructure:"username"`  // [可选] 认证用户
	Password  string   `mapstructure:"password"`  // [可选] 认证密码

	DialTimeout      time.Duration `mapstructure:"dial_timeout"`       // 拨号超时 (默认: 5s)
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`    // 健康探测超时 (默认: 3s)
	KeepAliveTime    time.Duration `mapstructure:"keep_alive_time"`    // 心跳间隔 (默认: 10s)
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"` // 心跳超时 (默认: 3s)
}

func (c *EtcdConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 3 * time.Second
	}
	if c.KeepAliveTime == 0 {
		c.KeepAliveTime = 10 * time.Second
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 3 * time.Second
	}
}

func (c *EtcdConfig) validate() error {
	c.setDefaults()
	if len(c.Endpoints) == 0 {
		return xerrors.Wrap(ErrConfig, "etcd endpoints must not be empty")
	}
	for _, ep := range c.Endpoints {
		if ep == "" {
			return xerrors.Wrap(ErrConfig, "etcd endpoint must not be blank")
		}
	}
	if (c.Username == "") != (c.Password == "") {
		return xerrors.Wrap(ErrConfig, "etcd username and password must be set together")
	}
	return nil
}
