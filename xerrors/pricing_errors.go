package xerrors

import (
	"context"
	"errors"
	"fmt"
)

// 定价错误码。
const (
	CodeInvalidInput       = 400101
	CodeUnknownEngine      = 400102
	CodeNumericInstability = 500101
	CodeAggregationFailure = 500102
	CodeCallAbandoned      = 504101
	CodeCallCanceled       = 499101
)

// 以下变量仅作为 errors.Is 的匹配模板，按 Code 比较，调用方不应修改或直接返回它们。
var (
	// ErrInvalidInput 参数非法，在任何模拟工作开始之前返回。
	ErrInvalidInput = &Error{Type: ErrInvalidArg, Code: CodeInvalidInput, Message: "invalid input"}
	// ErrUnknownEngine 未知的路径引擎名称。
	ErrUnknownEngine = &Error{Type: ErrInvalidArg, Code: CodeUnknownEngine, Message: "unknown path engine"}
	// ErrNumericInstability 模拟结果出现 Inf/NaN。
	ErrNumericInstability = &Error{Type: ErrInternal, Code: CodeNumericInstability, Message: "numeric instability"}
	// ErrAggregationFailure 并行分块中至少一块未返回有效结果。
	ErrAggregationFailure = &Error{Type: ErrInternal, Code: CodeAggregationFailure, Message: "aggregation failure"}
	// ErrCallAbandoned 定价调用在收集阶段超时。
	ErrCallAbandoned = &Error{Type: ErrDeadlineExceeded, Code: CodeCallAbandoned, Message: "pricing call abandoned"}
	// ErrCallCanceled 定价调用被调用方取消。
	ErrCallCanceled = &Error{Type: ErrCanceled, Code: CodeCallCanceled, Message: "pricing call canceled"}
)

// InvalidInput 创建参数非法错误。
func InvalidInput(format string, args ...any) *Error {
	return New(ErrInvalidArg, CodeInvalidInput, "invalid input", fmt.Sprintf(format, args...), nil)
}

// UnknownEngine 创建未知引擎错误。
func UnknownEngine(name string) *Error {
	return New(ErrInvalidArg, CodeUnknownEngine, "unknown path engine", fmt.Sprintf("engine %q is not registered", name), nil).
		WithContext("engine", name)
}

// NumericInstability 创建数值不稳定错误。
func NumericInstability(format string, args ...any) *Error {
	return New(ErrInternal, CodeNumericInstability, "numeric instability", fmt.Sprintf(format, args...), nil)
}

// AggregationFailure 创建聚合失败错误，cause 为首个失败分块的原因。
func AggregationFailure(cause error, format string, args ...any) *Error {
	return New(ErrInternal, CodeAggregationFailure, "aggregation failure", fmt.Sprintf(format, args...), cause)
}

// Abandoned 将收集阶段的 context 错误映射为对应的定价错误。
func Abandoned(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return New(ErrCanceled, CodeCallCanceled, "pricing call canceled", "", err)
	}
	return New(ErrDeadlineExceeded, CodeCallAbandoned, "pricing call abandoned", "", err)
}
