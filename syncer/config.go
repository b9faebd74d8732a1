package syncer

import (
	"strings"
	"time"

	"github.com/ceyewan/kongsync/kong"
	"github.com/ceyewan/kongsync/naming"
	"github.com/ceyewan/kongsync/xerrors"
)

// Config 同步配置
//
//	sync:
//	  source: "polaris"
//	  source_type: "polaris"
//	  interval: 30s
//	  workers: 8
//	  debounce: 500ms
type Config struct {
	// Source 同步源名字，作为 Kong 对象名的第一段，多个同步源写同一个 Kong 时必须不同
	Source string `mapstructure:"source"`

	// SourceType 写入 Kong 对象的 tag，默认与 Source 相同
	SourceType string `mapstructure:"source_type"`

	// Interval 全量同步间隔（默认：30s）
	Interval time.Duration `mapstructure:"interval"`

	// Workers 并发同步的服务数（默认：4）
	Workers int `mapstructure:"workers"`

	// Debounce 收到注册中心变更后等待多久再同步，合并短时间内的多次变更（默认：500ms）
	Debounce time.Duration `mapstructure:"debounce"`

	// Conventions 由网关配置注入
	Conventions kong.Conventions `mapstructure:"-"`
}

func (c *Config) setDefaults() {
	if c.SourceType == "" {
		c.SourceType = c.Source
	}
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Debounce == 0 {
		c.Debounce = 500 * time.Millisecond
	}
	c.Conventions = c.Conventions.WithDefaults()
}

// Validate 设置默认值并校验
func (c *Config) Validate() error {
	c.setDefaults()
	if c.Source == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "sync: source is required")
	}
	if strings.Contains(c.Source, naming.Delimiter) {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sync: source %q must not contain %q", c.Source, naming.Delimiter)
	}
	if c.Interval < 0 || c.Workers < 0 || c.Debounce < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "sync: interval, workers and debounce must not be negative")
	}
	return nil
}
