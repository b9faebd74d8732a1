package breaker

import "github.com/ceyewan/kongsync/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrInvalidConfig 配置取值非法
	ErrInvalidConfig = xerrors.New("breaker: invalid config")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态，或半开状态下探测名额已满
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")
)
