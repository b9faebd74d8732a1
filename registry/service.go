package registry

import (
	"net"
	"strconv"
)

// MetadataGroup 实例元数据中表示分组的 key
const MetadataGroup = "group"

// Service 注册中心中的服务标识，值类型，可作为 map key
type Service struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (s Service) String() string {
	return s.Namespace + "/" + s.Name
}

// ServiceGroup 服务下的一个实例分组
type ServiceGroup struct {
	Service   Service `json:"service"`
	GroupName string  `json:"group"`
}

// Instance 服务实例在一轮同步中的快照
type Instance struct {
	ID       string            `json:"id"`
	Host     string            `json:"host"`
	Port     uint32            `json:"port"`
	Weight   uint32            `json:"weight"`
	Healthy  bool              `json:"healthy"`
	Isolate  bool              `json:"isolate"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Address 返回 host:port，IPv6 地址带方括号
func (i Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.FormatUint(uint64(i.Port), 10))
}

// Group 返回实例所属分组，未设置时返回 defaultGroup
func (i Instance) Group(defaultGroup string) string {
	if g := i.Metadata[MetadataGroup]; g != "" {
		return g
	}
	return defaultGroup
}

// Routable 实例健康且未被隔离
func (i Instance) Routable() bool {
	return i.Healthy && !i.Isolate
}
