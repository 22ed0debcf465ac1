// Package apperr 定义了所有 agent 共享的错误分类。
// 每个错误带有 Kind（决定重试策略与 HTTP 状态码）和 Code（面向调用方的稳定标识）。
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误的大类。
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindUpstream        Kind = "upstream_unavailable"
	KindTimeout         Kind = "timeout"
	KindMalformedOutput Kind = "malformed_model_output"
	KindInternal        Kind = "internal"
)

// Code 是写入响应体 {error, code} 的错误码。
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeEmptyInput           Code = "EMPTY_INPUT"
	CodeDimensionMismatch    Code = "DIMENSION_MISMATCH"
	CodeUpstreamUnavailable  Code = "UPSTREAM_UNAVAILABLE"
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodeDegradedService      Code = "DEGRADED_SERVICE"
	CodeRetrievalFailed      Code = "RETRIEVAL_FAILED"
	CodeMalformedModelOutput Code = "MALFORMED_MODEL_OUTPUT"
	CodeSlotConflict         Code = "SLOT_CONFLICT"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeTimeout              Code = "TIMEOUT"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error 是携带分类信息的错误。errors.Is 按 Code 匹配。
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// 哨兵错误，仅用于 errors.Is 比较。
var (
	ErrEmptyInput           = &Error{Kind: KindValidation, Code: CodeEmptyInput, Message: "input text is empty"}
	ErrDimensionMismatch    = &Error{Kind: KindValidation, Code: CodeDimensionMismatch, Message: "vector dimension mismatch"}
	ErrUpstreamUnavailable  = &Error{Kind: KindUpstream, Code: CodeUpstreamUnavailable, Message: "upstream service unavailable"}
	ErrStoreUnavailable     = &Error{Kind: KindUpstream, Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrDegradedService      = &Error{Kind: KindUpstream, Code: CodeDegradedService, Message: "service degraded"}
	ErrRetrievalFailed      = &Error{Kind: KindUpstream, Code: CodeRetrievalFailed, Message: "retrieval failed"}
	ErrMalformedModelOutput = &Error{Kind: KindMalformedOutput, Code: CodeMalformedModelOutput, Message: "malformed model output"}
	ErrSlotConflict         = &Error{Kind: KindConflict, Code: CodeSlotConflict, Message: "slot already booked"}
	ErrInvalidTransition    = &Error{Kind: KindConflict, Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrNotFound             = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
	ErrTimeout              = &Error{Kind: KindTimeout, Code: CodeTimeout, Message: "deadline exceeded"}
)

// New 创建一个不包装底层错误的 Error。
func New(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 以指定分类包装 err。
func Wrap(err error, kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation 返回一个通用的参数校验错误。
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, CodeValidation, format, args...)
}

// Upstream 将外部依赖（模型服务、存储）的失败包装为可重试错误。
func Upstream(code Code, err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindUpstream, code, format, args...)
}

// WithCode 保留 cause 的 Kind，仅替换 Code。用于 RetrievalFailed 这类包装错误。
func WithCode(cause error, code Code, format string, args ...interface{}) *Error {
	return Wrap(cause, KindOf(cause), code, format, args...)
}

// KindOf 返回错误的分类；未分类的上下文超时视为 Timeout，其余视为 Internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// CodeOf 返回最外层 Error 的 Code。
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// MessageOf 返回可以回给调用方的错误描述。
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Retryable 表示错误是否属于瞬时失败。
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindTimeout:
		return true
	}
	return false
}

// HTTPStatus 将错误映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTP 根据远端返回的状态码与 {error, code} 响应体还原错误。
func FromHTTP(status int, code, message string) *Error {
	kind := KindInternal
	switch status {
	case http.StatusBadRequest:
		kind = KindValidation
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusGatewayTimeout:
		kind = KindTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		kind = KindUpstream
	}
	if Code(code) == CodeMalformedModelOutput {
		kind = KindMalformedOutput
	}
	if code == "" {
		code = string(defaultCode(kind))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Code: Code(code), Message: message}
}

func defaultCode(kind Kind) Code {
	switch kind {
	case KindValidation:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeSlotConflict
	case KindTimeout:
		return CodeTimeout
	case KindUpstream:
		return CodeUpstreamUnavailable
	}
	return CodeInternal
}
