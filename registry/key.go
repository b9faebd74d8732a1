package registry

import "strings"

// ParseKey 解析 <prefix>/<namespace>/<service>/<instanceID>
func ParseKey(prefix, key string) (Service, string, bool) {
	prefix = strings.TrimRight(prefix, "/") + "/"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return Service{}, "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return Service{}, "", false
	}
	for _, p := range parts {
		if p == "" {
			return Service{}, "", false
		}
	}
	return Service{Namespace: parts[0], Name: parts[1]}, parts[2], true
}

func buildServicePrefix(prefix string, svc Service) string {
	return prefix + "/" + svc.Namespace + "/" + svc.Name + "/"
}

func buildKey(prefix string, svc Service, instanceID string) string {
	return buildServicePrefix(prefix, svc) + instanceID
}

func validSegment(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}
