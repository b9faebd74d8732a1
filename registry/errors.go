package registry

import "github.com/ceyewan/kongsync/xerrors"

var (
	// ErrInvalidService 服务标识为空或包含 '/'
	ErrInvalidService = xerrors.New("invalid service")

	// ErrInvalidInstance 实例缺少 ID/Host 或 ID 包含 '/'
	ErrInvalidInstance = xerrors.New("invalid service instance")
)
