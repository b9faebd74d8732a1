// Package config 为 kongsync 提供统一的配置加载能力，基于 Viper 实现。
//
// 特性：
//   - 多源加载：YAML/JSON 文件、.env 文件、环境变量
//   - 优先级：环境变量 > .env > 环境特定配置 (config.<env>.yaml) > 基础配置
//   - 热更新：监听配置文件变化，按 key 通知订阅者
//
// 基本使用：
//
//	loader, _ := config.New(&config.Config{Name: "kongsync", EnvPrefix: "KONGSYNC"})
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//	cfg, err := app.Load(loader)
//
//	// 监听日志级别变化
//	ch, _ := loader.Watch(ctx, "log.level")
package config

import (
	"context"
	"time"
)

// Loader 配置加载器：加载、解析和监听配置变化
type Loader interface {
	// Load 加载配置并初始化内部状态
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// SetDefault 设置默认值，默认值同时让对应的环境变量参与 Unmarshal
	SetDefault(key string, value any)

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听配置变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string // 配置 key
	Value     any    // 新值
	OldValue  any    // 旧值
	Source    string // "file" | "env"
	Timestamp time.Time
}
