package registry

import (
	"strings"
	"time"

	"github.com/ceyewan/kongsync/xerrors"
)

// Config Registry 组件配置
//
//	registry:
//	  prefix: "/kongsync/services"
//	  retry_interval: 1s
type Config struct {
	// Prefix Etcd Key 前缀，默认 "/kongsync/services"
	Prefix string `mapstructure:"prefix"`

	// RetryInterval Watch 断开后的重试间隔，默认 1s
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "/kongsync/services"
	}
	c.Prefix = strings.TrimRight(c.Prefix, "/")
	if c.RetryInterval == 0 {
		c.RetryInterval = time.Second
	}
}

func (c *Config) validate() error {
	c.setDefaults()
	if c.Prefix == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "registry prefix must not be root")
	}
	if c.RetryInterval < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "registry retry interval must not be negative")
	}
	return nil
}
