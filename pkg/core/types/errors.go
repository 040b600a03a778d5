package types

import (
	"errors"
	"fmt"
)

// Code 错误码
type Code string

const (
	// 执行目标不可用
	CodeNoTarget          Code = "NO_TARGET"
	CodeTargetUnavailable Code = "TARGET_UNAVAILABLE"
	CodeLoadTimeout       Code = "LOAD_TIMEOUT"

	// 会话
	CodeNoSession      Code = "NO_SESSION"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// 超时与通道
	CodeTimeout           Code = "TIMEOUT"
	CodeBridgeUnavailable Code = "BRIDGE_UNAVAILABLE"

	// 远端操作失败（携带HTTP状态码）
	CodeRemote Code = "REMOTE_ERROR"

	// 本地限流
	CodeQueueFull Code = "QUEUE_FULL"

	// 请求错误
	CodeUnsupportedTask    Code = "UNSUPPORTED_TASK"
	CodeUnsupportedAction  Code = "UNSUPPORTED_ACTION"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeUnauthorizedOrigin Code = "UNAUTHORIZED_ORIGIN"
	CodeCancelled          Code = "CANCELLED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// 哨兵错误，配合 errors.Is 按错误码匹配
var (
	ErrNoTarget          = &Error{Code: CodeNoTarget}
	ErrTargetUnavailable = &Error{Code: CodeTargetUnavailable}
	ErrLoadTimeout       = &Error{Code: CodeLoadTimeout}
	ErrNoSession         = &Error{Code: CodeNoSession}
	ErrSessionExpired    = &Error{Code: CodeSessionExpired}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrBridgeUnavailable = &Error{Code: CodeBridgeUnavailable}
	ErrRemote            = &Error{Code: CodeRemote}
	ErrQueueFull         = &Error{Code: CodeQueueFull}
	ErrUnsupportedTask   = &Error{Code: CodeUnsupportedTask}
	ErrCancelled         = &Error{Code: CodeCancelled}
)

// Error 带错误码的结构化错误（对外导出）
type Error struct {
	Code       Code
	Message    string
	StatusCode int
	StatusText string
	Stack      string // 仅 panic 恢复时填充
	Err        error
}

// NewError 创建错误
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 包装底层错误
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewPanicError 由 recover 的值与调用栈创建内部错误
func NewPanicError(r any, stack []byte) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf("执行函数panic: %v", r), Stack: string(stack)}
}

// NewRemoteError 创建远端操作失败错误
func NewRemoteError(statusCode int, statusText, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("远端请求失败: %d %s", statusCode, statusText)
	}
	return &Error{
		Code:       CodeRemote,
		Message:    message,
		StatusCode: statusCode,
		StatusText: statusText,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AsError errors.As 的简写
func AsError(err error, target **Error) bool {
	return errors.As(err, target)
}

// CodeOf 提取错误码，非结构化错误返回 INTERNAL_ERROR
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf 提取错误链上携带的HTTP状态码
func StatusOf(err error) (int, string, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0, "", false
		}
		if e.StatusCode != 0 {
			return e.StatusCode, e.StatusText, true
		}
		err = e.Err
	}
	return 0, "", false
}
