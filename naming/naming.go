// Package naming 在注册中心层级标识和 Kong 扁平对象名之间做双向转换。
//
// Kong 只有一个扁平的对象命名空间，层级信息只能编码进对象名：
//
//	Service  名: <source>.<namespace>.<service>
//	Upstream 名: <source>.<namespace>.<service>.<group>
//
// 每一段单独做百分号编码（UTF-8，表单编码，'.' 额外编码为 %2E）后再用 '.' 拼接，
// 因此编码后的段不含分隔符，段内出现 '.' 也不会产生歧义。对只含字母、数字和
// '-'、'_' 的输入，结果与直接拼接相同，例如 polaris.ns1.svc1。
//
// source 是第一段，充当分区键：多个同步源写入同一个 Kong 时互不干扰。
// 解码时不属于当前 source/service 的名字返回 NotMine，调用方应静默跳过。
package naming

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ceyewan/kongsync/registry"
)

// Delimiter 段分隔符
const Delimiter = "."

const (
	serviceSegments = 3
	groupSegments   = 4
)

func encodeSegment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), ".", "%2E")
}

// decodeSegment 只接受规范写法：解码后重新编码必须得到原样的段，
// 否则 svc%31 和 svc1 会解出同一个标识，编码就不再是一一对应。
func decodeSegment(s string) (string, error) {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return "", err
	}
	if canonical := encodeSegment(decoded); canonical != s {
		return decoded, fmt.Errorf("non-canonical encoding, want %q", canonical)
	}
	return decoded, nil
}

func encode(segments ...string) string {
	encoded := make([]string, len(segments))
	for i, s := range segments {
		encoded[i] = encodeSegment(s)
	}
	return strings.Join(encoded, Delimiter)
}

// EncodeServiceName 返回 Kong Service 对象名
func EncodeServiceName(svc registry.Service, source string) string {
	return encode(source, svc.Namespace, svc.Name)
}

// EncodeGroupName 返回 Kong Upstream 对象名
func EncodeGroupName(svc registry.Service, group, source string) string {
	return encode(source, svc.Namespace, svc.Name, group)
}

// split 按分隔符切分原始名字并逐段解码。
// 段数不对返回 NotMine；段数正确但存在空段、非法转义或非规范转义返回 Malformed，
// 此时 segments 中第一段仍尽量给出解码结果，方便调用方判断是否属于自己。
func split(name string, want int) ([]string, Status, error) {
	raw := strings.Split(name, Delimiter)
	if len(raw) != want {
		return nil, NotMine, nil
	}

	decoded := make([]string, want)
	var firstErr error
	for i, seg := range raw {
		if seg == "" {
			if firstErr == nil {
				firstErr = malformedf(name, "segment %d is empty", i+1)
			}
			continue
		}
		s, err := decodeSegment(seg)
		if err != nil {
			if firstErr == nil {
				firstErr = malformedf(name, "segment %d: %v", i+1, err)
			}
			// 非规范写法仍给出解码值，便于判断归属
			decoded[i] = s
			continue
		}
		if s == "" {
			if firstErr == nil {
				firstErr = malformedf(name, "segment %d is empty", i+1)
			}
		}
		decoded[i] = s
	}
	if firstErr != nil {
		return decoded, Malformed, firstErr
	}
	return decoded, Matched, nil
}
