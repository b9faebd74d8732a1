package kong

import (
	"net/url"
	"time"

	"github.com/ceyewan/kongsync/ratelimit"
	"github.com/ceyewan/kongsync/xerrors"
)

// ClientConfig Kong Admin API 客户端配置
//
//	gateway:
//	  address: "http://127.0.0.1:8001"
//	  token: ""
//	  timeout: 10s
//	  page_size: 1000
//	  rate: 50
//	  burst: 100
//	  default_group: "default"
//	  default_port: 80
//	  default_protocol: "http"
type ClientConfig struct {
	Address  string        `mapstructure:"address"`   // [必填] Admin API 地址
	Token    string        `mapstructure:"token"`     // [可选] 以 Kong-Admin-Token 头发送
	Timeout  time.Duration `mapstructure:"timeout"`   // 单次请求超时 (默认: 10s)
	PageSize int           `mapstructure:"page_size"` // 列表分页大小 (默认: 1000)

	Rate  float64 `mapstructure:"rate"`  // 每秒请求数，0 表示不限流
	Burst int     `mapstructure:"burst"` // 突发请求数 (默认: 2*Rate，至少 1)

	Conventions `mapstructure:",squash"`
}

func (c *ClientConfig) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PageSize == 0 {
		c.PageSize = 1000
	}
	if c.Rate > 0 && c.Burst == 0 {
		c.Burst = max(1, int(2*c.Rate))
	}
	c.Conventions = c.Conventions.WithDefaults()
}

func (c *ClientConfig) validate() error {
	c.setDefaults()
	if c.Address == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "kong: address is required")
	}
	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "kong: invalid address %q", c.Address)
	}
	if c.Rate < 0 || c.PageSize < 0 || c.Timeout < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "kong: rate, page_size and timeout must not be negative")
	}
	if c.DefaultPort < 0 || c.DefaultPort > 65535 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "kong: invalid default port %d", c.DefaultPort)
	}
	return nil
}

// Limit 返回限流规则
func (c *ClientConfig) Limit() ratelimit.Limit {
	return ratelimit.Limit{Rate: c.Rate, Burst: c.Burst}
}
