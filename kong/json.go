package kong

import (
	"encoding/json"

	"github.com/ceyewan/kongsync/clog"
)

// MarshalJSONText 序列化为 JSON，空字段由 omitempty 省略。失败时记录日志并返回 ""。
func MarshalJSONText(logger clog.Logger, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to marshal json", clog.Error(err))
		return ""
	}
	return string(b)
}

// UnmarshalJSONText 反序列化 JSON，忽略未知字段。失败时记录日志并返回 false。
func UnmarshalJSONText[T any](logger clog.Logger, text string) (T, bool) {
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		logger.Error("failed to unmarshal json", clog.Error(err), clog.Int("length", len(text)))
		return v, false
	}
	return v, true
}
