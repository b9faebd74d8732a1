package connector

import "github.com/ceyewan/kongsync/xerrors"

var (
	ErrConnection  = xerrors.New("connector: connection failed")
	ErrConfig      = xerrors.New("connector: invalid config")
	ErrHealthCheck = xerrors.New("connector: health check failed")
	ErrClientNil   = xerrors.New("connector: client is closed")
)
