package kong

import (
	"net"
	"strconv"
	"strings"

	"github.com/ceyewan/kongsync/registry"
)

// Target 不携带健康和隔离状态，转回实例时固定为以下取值
const (
	TargetHealthy  = true
	TargetIsolated = false
)

// InstanceToTarget 用调用方给出的 host:port 构造 Target
func InstanceToTarget(address string, ins registry.Instance) TargetObject {
	return TargetObject{
		Target: address,
		Weight: ins.Weight,
	}
}

// TargetToInstance 把 Target 转回实例，健康和隔离取固定值
func TargetToInstance(t TargetObject, defaultPort int) registry.Instance {
	host, port := ParseHostPort(t.Target, defaultPort)
	return registry.Instance{
		ID:      t.ID,
		Host:    host,
		Port:    port,
		Weight:  t.Weight,
		Healthy: TargetHealthy,
		Isolate: TargetIsolated,
	}
}

// ParseHostPort 解析 host[:port]，缺少端口或端口非法时使用 defaultPort。
// 支持 [::1]:80 和不带括号的裸 IPv6 地址。
func ParseHostPort(target string, defaultPort int) (string, uint32) {
	fallback := uint32(0)
	if defaultPort > 0 {
		fallback = uint32(defaultPort)
	}

	if host, portStr, err := net.SplitHostPort(target); err == nil {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return host, fallback
		}
		return host, uint32(port)
	}

	host := strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
	return host, fallback
}
