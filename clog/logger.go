package clog

import "context"

// Logger 日志接口
//
// 五个级别各有带 Context 和不带 Context 两个版本，带 Context 的版本会提取
// WithContextField 配置的字段。
//
//	childLogger := logger.With(clog.String("source", "polaris"))
//	nsLogger := logger.WithNamespace("kong")
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建一个扩展命名空间的子 Logger
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整日志级别，对共享同一 handler 的所有子 Logger 生效
	SetLevel(level Level) error

	// Flush 同步缓冲区中的日志
	Flush()
}
