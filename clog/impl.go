package clog

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// NamespaceKey 日志中命名空间的字段名
const NamespaceKey = "namespace"

type loggerImpl struct {
	handler   *clogHandler
	options   *options
	baseAttrs []slog.Attr
}

func newLogger(config *Config, options *options) (Logger, error) {
	handler, err := newHandler(config, options)
	if err != nil {
		return nil, err
	}
	return &loggerImpl{handler: handler, options: options}, nil
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields...)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields...)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields...)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields...)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields...)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields...)
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	newOptions := *l.options
	// 复制切片，避免兄弟 Logger 共享底层数组
	newOptions.namespaceParts = append(append([]string(nil), l.options.namespaceParts...), parts...)
	return &loggerImpl{
		handler:   l.handler,
		options:   &newOptions,
		baseAttrs: l.baseAttrs,
	}
}

func (l *loggerImpl) With(fields ...Field) Logger {
	return &loggerImpl{
		handler:   l.handler,
		options:   l.options,
		baseAttrs: append(append([]slog.Attr(nil), l.baseAttrs...), fields...),
	}
}

func (l *loggerImpl) SetLevel(level Level) error {
	return l.handler.SetLevel(level)
}

func (l *loggerImpl) Flush() {
	l.handler.Flush()
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields ...Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	slogLevel := level.slogLevel()
	if !l.handler.Enabled(ctx, slogLevel) {
		return
	}

	attrs := make([]slog.Attr, 0, len(l.baseAttrs)+len(fields)+len(l.options.contextFields)+1)
	if ns := strings.Join(l.options.namespaceParts, "."); ns != "" {
		attrs = append(attrs, slog.String(NamespaceKey, ns))
	}
	attrs = append(attrs, l.baseAttrs...)
	for _, f := range fields {
		// clog.Error(nil) 产生的空字段直接丢弃
		if f.Key == "" {
			continue
		}
		attrs = append(attrs, f)
	}
	for _, cf := range l.options.contextFields {
		if v, ok := cf.value(ctx); ok {
			attrs = append(attrs, slog.Any(cf.FieldName, v))
		}
	}

	// skip: runtime.Callers, log, Info/Error 等
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), slogLevel, msg, pcs[0])
	record.AddAttrs(attrs...)

	_ = l.handler.Handle(ctx, record)

	if level == FatalLevel {
		os.Exit(1)
	}
}
