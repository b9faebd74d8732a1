package kong

import (
	"github.com/ceyewan/kongsync/naming"
	"github.com/ceyewan/kongsync/registry"
)

// IndexOption 索引选项
type IndexOption func(*indexOptions)

type indexOptions struct {
	onMalformed func(name string, err error)
}

// OnMalformed 属于当前 source 但无法解析的名字交给 fn，通常用于记录调试日志。
// NotMine 的名字始终静默跳过。
func OnMalformed(fn func(name string, err error)) IndexOption {
	return func(o *indexOptions) {
		o.onMalformed = fn
	}
}

func applyIndexOptions(opts []IndexOption) *indexOptions {
	o := &indexOptions{onMalformed: func(string, error) {}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IndexServices 按注册中心服务标识索引属于 source 的 Service 对象，其余对象被跳过
func IndexServices(list *ServiceObjectList, source string, opts ...IndexOption) map[registry.Service]ServiceObject {
	out := make(map[registry.Service]ServiceObject)
	if list == nil {
		return out
	}
	o := applyIndexOptions(opts)
	for _, obj := range list.Data {
		switch res := naming.DecodeServiceName(obj.Name, source); res.Status {
		case naming.Matched:
			out[res.Service] = obj
		case naming.Malformed:
			o.onMalformed(obj.Name, res.Err)
		}
	}
	return out
}

// IndexUpstreams 按分组名索引属于 source 和 svc 的 Upstream 对象
func IndexUpstreams(list *UpstreamObjectList, svc registry.Service, source string, opts ...IndexOption) map[string]UpstreamObject {
	out := make(map[string]UpstreamObject)
	if list == nil {
		return out
	}
	o := applyIndexOptions(opts)
	for _, obj := range list.Data {
		switch res := naming.DecodeGroupName(obj.Name, svc, source); res.Status {
		case naming.Matched:
			out[res.Group.GroupName] = obj
		case naming.Malformed:
			o.onMalformed(obj.Name, res.Err)
		}
	}
	return out
}

// IndexOwnedUpstreams 按服务分组索引属于 source 的全部 Upstream 对象，不限定服务
func IndexOwnedUpstreams(list *UpstreamObjectList, source string, opts ...IndexOption) map[registry.Service]map[string]UpstreamObject {
	out := make(map[registry.Service]map[string]UpstreamObject)
	if list == nil {
		return out
	}
	o := applyIndexOptions(opts)
	for _, obj := range list.Data {
		switch res := naming.DecodeUpstreamName(obj.Name, source); res.Status {
		case naming.Matched:
			svc := res.Group.Service
			if out[svc] == nil {
				out[svc] = make(map[string]UpstreamObject)
			}
			out[svc][res.Group.GroupName] = obj
		case naming.Malformed:
			o.onMalformed(obj.Name, res.Err)
		}
	}
	return out
}

// IndexTargets 按 target 地址索引，重复地址后者覆盖前者
func IndexTargets(list *TargetObjectList) map[string]TargetObject {
	out := make(map[string]TargetObject)
	if list == nil {
		return out
	}
	for _, obj := range list.Data {
		out[obj.Target] = obj
	}
	return out
}

// NewServiceObject 构造新的 Service 对象，host 指向默认分组的 Upstream
func NewServiceObject(svc registry.Service, source, sourceType string, conv Conventions) ServiceObject {
	return ServiceObject{
		Name:     naming.EncodeServiceName(svc, source),
		Host:     naming.EncodeGroupName(svc, conv.DefaultGroup, source),
		Port:     conv.DefaultPort,
		Protocol: conv.DefaultProtocol,
		Tags:     []string{sourceType},
	}
}

// NewUpstreamObject 构造新的 Upstream 对象
func NewUpstreamObject(group string, svc registry.Service, source, sourceType string) UpstreamObject {
	return UpstreamObject{
		Name: naming.EncodeGroupName(svc, group, source),
		Tags: []string{sourceType},
	}
}

// Drifted 已有对象的 host/port/protocol 与期望不一致
func (s ServiceObject) Drifted(want ServiceObject) bool {
	return s.Host != want.Host || s.Port != want.Port || s.Protocol != want.Protocol
}
