package naming

import (
	"fmt"

	"github.com/ceyewan/kongsync/registry"
	"github.com/ceyewan/kongsync/xerrors"
)

// ErrMalformedName 名字属于当前同步范围，但无法解析
var ErrMalformedName = xerrors.New("naming: malformed name")

// Status 解码结果
type Status int

const (
	// NotMine 名字属于其他 source 或其他服务，应静默跳过
	NotMine Status = iota
	// Matched 解码成功
	Matched
	// Malformed 段数和 source 正确，但存在空段、非法转义或非规范转义
	Malformed
)

func (s Status) String() string {
	switch s {
	case Matched:
		return "matched"
	case Malformed:
		return "malformed"
	default:
		return "not_mine"
	}
}

// ServiceResult Service 对象名的解码结果
type ServiceResult struct {
	Status  Status
	Service registry.Service
	// Err 仅在 Malformed 时非空
	Err error
}

// Ok 是否解码成功
func (r ServiceResult) Ok() bool { return r.Status == Matched }

// GroupResult Upstream 对象名的解码结果
type GroupResult struct {
	Status Status
	Group  registry.ServiceGroup
	Err    error
}

// Ok 是否解码成功
func (r GroupResult) Ok() bool { return r.Status == Matched }

func malformedf(name, format string, args ...any) error {
	return xerrors.Wrapf(ErrMalformedName, "%q: %s", name, fmt.Sprintf(format, args...))
}
