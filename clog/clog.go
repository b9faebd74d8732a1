// Package clog 为 kongsync 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象 Logger 接口，不暴露底层 slog 实现
//   - 层级命名空间，每个组件在注入的 Logger 上追加自己的命名空间
//   - 从 Context 中提取配置的字段（trace_id、sync_id 等）
//   - 函数式选项
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("kongsync"),
//	)
//	logger.Info("sync finished", clog.Int("targets_created", 3))
//
// 组件内部使用：
//
//	syncLogger := logger.WithNamespace("syncer")
//	// 最终命名空间为 "kongsync.syncer"
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}

// Must 类似 New，出错时 panic，仅用于 main 中的初始化
func Must(config *Config, opts ...Option) Logger {
	logger, err := New(config, opts...)
	if err != nil {
		panic(err)
	}
	return logger
}
