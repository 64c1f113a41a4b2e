package services

import "errors"

// Code 机器可读的错误码
type Code string

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeUserInputMissing     Code = "USER_INPUT_MISSING"
	CodeApprovalDenied       Code = "APPROVAL_DENIED"
	CodePersistenceFailure   Code = "PERSISTENCE_FAILURE"
	CodeConcurrentInvocation Code = "CONCURRENT_INVOCATION"
	CodeInvalidSelection     Code = "INVALID_SELECTION"
	CodeNotFound             Code = "NOT_FOUND"
)

// Error 领域错误
type Error struct {
	Code    Code
	Message string // 面向用户的简短提示
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// 供 errors.Is 比较的哨兵
var (
	ErrUserInputMissing     = newError(CodeUserInputMissing, "missing input")
	ErrApprovalDenied       = newError(CodeApprovalDenied, "approval denied")
	ErrPersistenceFailure   = newError(CodePersistenceFailure, "persistence failure")
	ErrConcurrentInvocation = newError(CodeConcurrentInvocation, "request already pending")
	ErrInvalidSelection     = newError(CodeInvalidSelection, "invalid selection")
	ErrNotFound             = newError(CodeNotFound, "not found")
)

// CodeOf 取出错误码
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// UserMessage 面向用户的提示文本
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "unexpected error"
}
