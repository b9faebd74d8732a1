package metrics

import "strconv"

// Label 指标标签，避免使用高基数的值（实例 ID、地址等）
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// 常用标签
const (
	LabelSource    = "source"
	LabelKind      = "kind"
	LabelAction    = "action"
	LabelOutcome   = "outcome"
	LabelMethod    = "method"
	LabelStatus    = "status_class"
	LabelOperation = "operation"
)

// 常用结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// HTTPStatusClass 返回 1xx/2xx/3xx/4xx/5xx/unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Outcome 根据 err 返回 success 或 error
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
