// Package xerrors 提供 kongsync 各组件共用的错误处理工具。
//
// 约定：
//   - 组件错误使用 xerrors.New 定义为包级哨兵错误
//   - 跨层传递时用 Wrap/Wrapf 追加上下文，保留错误链
//   - 网关返回的 HTTP 状态等机器可读分类用 WithCode 附加错误码
//   - 一轮同步中多个服务各自失败时用 Combine 汇总，调用方仍可 Is 到每一个原因
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// 跨组件共享的哨兵错误
var (
	// ErrInvalidInput 配置或参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable 依赖的外部系统（注册中心、Kong）暂时不可达
	ErrUnavailable = errors.New("unavailable")
)

// Wrap 用上下文信息包装错误，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 同 Wrap，上下文支持格式化
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CodedError 携带错误码的错误，例如 KONG_409
type CodedError struct {
	Code  string
	Cause error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "]"
	}
	return "[" + e.Code + "] " + e.Cause.Error()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// WithCode 给错误附加错误码
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

// GetCode 返回错误链上最外层的错误码，没有时返回空字符串
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// MultiError 一组相互独立的失败
type MultiError struct {
	Errors []error
}

// Error 逐条列出，每个失败服务都能在日志中看到
func (m *MultiError) Error() string {
	msgs := make([]string, 0, len(m.Errors))
	for _, err := range m.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors: %s", len(m.Errors), strings.Join(msgs, "; "))
}

func (m *MultiError) Unwrap() []error { return m.Errors }

// Combine 丢弃 nil 后合并：没有错误返回 nil，只有一个时原样返回
func Combine(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &MultiError{Errors: kept}
}

// 标准库再导出，调用方只需引入 xerrors
var (
	New = errors.New
	Is  = errors.Is
	As  = errors.As
)
