package kong

import (
	"strconv"
	"strings"

	"github.com/ceyewan/kongsync/xerrors"
)

// ErrUnexpectedStatus Admin API 返回非 2xx，错误码为 KONG_<status>
var ErrUnexpectedStatus = xerrors.New("kong: unexpected status")

// ErrEncodeRequest 请求体无法序列化为 JSON
var ErrEncodeRequest = xerrors.New("kong: encode request body")

const codePrefix = "KONG_"

// errorBody Admin API 的错误响应
type errorBody struct {
	Message string `json:"message"`
}

func statusError(method, path string, status int, body string) error {
	err := xerrors.Wrapf(ErrUnexpectedStatus, "%s %s: %d %s", method, path, status, strings.TrimSpace(body))
	return xerrors.WithCode(err, codePrefix+strconv.Itoa(status))
}

// StatusCode 从错误中取出 Admin API 返回的状态码，不是状态错误时返回 0
func StatusCode(err error) int {
	code, ok := strings.CutPrefix(xerrors.GetCode(err), codePrefix)
	if !ok {
		return 0
	}
	status, _ := strconv.Atoi(code)
	return status
}

// IsClientError 4xx 错误，说明请求本身有问题而不是 Kong 不可用
func IsClientError(err error) bool {
	status := StatusCode(err)
	return status >= 400 && status < 500
}

// IsConflict 409，通常是同名对象已存在
func IsConflict(err error) bool {
	return StatusCode(err) == 409
}
