package config

import "github.com/ceyewan/kongsync/xerrors"

var (
	// ErrValidationFailed 配置校验失败
	ErrValidationFailed = xerrors.New("configuration validation failed")
)

// IsValidationError 判断错误是否为配置校验失败
func IsValidationError(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}

func validationError(format string, args ...any) error {
	return xerrors.Wrapf(ErrValidationFailed, format, args...)
}
