package dlock

import "github.com/ceyewan/kongsync/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("dlock: config is nil")

	// ErrConnectorNil 连接器为空
	ErrConnectorNil = xerrors.New("dlock: connector is nil")

	// ErrKeyEmpty 锁键为空
	ErrKeyEmpty = xerrors.New("dlock: key is empty")

	// ErrLockNotHeld 锁未持有
	ErrLockNotHeld = xerrors.New("dlock: lock not held")

	// ErrLockAlreadyHeld 锁已在本地持有
	ErrLockAlreadyHeld = xerrors.New("dlock: lock already held locally")

	// ErrClosed Locker 已关闭
	ErrClosed = xerrors.New("dlock: locker closed")
)
