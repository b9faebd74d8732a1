package naming

import "github.com/ceyewan/kongsync/registry"

// DecodeServiceName 解析 Kong Service 对象名，只接受属于 source 的名字
func DecodeServiceName(name, source string) ServiceResult {
	segs, status, err := split(name, serviceSegments)
	if status == NotMine || segs[0] != source {
		return ServiceResult{Status: NotMine}
	}
	if status == Malformed {
		return ServiceResult{Status: Malformed, Err: err}
	}
	return ServiceResult{
		Status:  Matched,
		Service: registry.Service{Namespace: segs[1], Name: segs[2]},
	}
}

// DecodeGroupName 解析 Kong Upstream 对象名，只接受属于 source 且属于 svc 的名字
func DecodeGroupName(name string, svc registry.Service, source string) GroupResult {
	segs, status, err := split(name, groupSegments)
	if status == NotMine || segs[0] != source {
		return GroupResult{Status: NotMine}
	}
	if status == Malformed {
		// 服务段可以解码且与 svc 不符时，它属于别的服务
		if (segs[1] != "" && segs[1] != svc.Namespace) || (segs[2] != "" && segs[2] != svc.Name) {
			return GroupResult{Status: NotMine}
		}
		return GroupResult{Status: Malformed, Err: err}
	}
	if segs[1] != svc.Namespace || segs[2] != svc.Name {
		return GroupResult{Status: NotMine}
	}
	return GroupResult{
		Status: Matched,
		Group:  registry.ServiceGroup{Service: svc, GroupName: segs[3]},
	}
}

// DecodeUpstreamName 只按 source 解析 Upstream 对象名，返回它所属的服务和分组。
// 用于找出 Kong Service 已不存在、注册中心也不再有的服务留下的 Upstream。
func DecodeUpstreamName(name, source string) GroupResult {
	segs, status, err := split(name, groupSegments)
	if status == NotMine || segs[0] != source {
		return GroupResult{Status: NotMine}
	}
	if status == Malformed {
		return GroupResult{Status: Malformed, Err: err}
	}
	return GroupResult{
		Status: Matched,
		Group: registry.ServiceGroup{
			Service:   registry.Service{Namespace: segs[1], Name: segs[2]},
			GroupName: segs[3],
		},
	}
}
