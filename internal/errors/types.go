package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 调用方输入错误
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// 配置错误
	ErrCodeInvalidConfigEntry    ErrorCode = "INVALID_CONFIG_ENTRY"
	ErrCodeInvalidProviderConfig ErrorCode = "INVALID_PROVIDER_CONFIG"

	// 能力缺失
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 外部服务错误
	ErrCodeProviderCall ErrorCode = "PROVIDER_CALL"

	// 一致性错误
	ErrCodePartialPersistence ErrorCode = "PARTIAL_PERSISTENCE"
	ErrCodePartialIngestion   ErrorCode = "PARTIAL_INGESTION"

	ErrCodeScriptExecution ErrorCode = "SCRIPT_EXECUTION"
	ErrCodeCancelled       ErrorCode = "CANCELLED"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"type"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Recoverable 调用方可以原样重试
func (e *AppError) Recoverable() bool {
	return e.Code == ErrCodeProviderCall || e.Code == ErrCodeCancelled
}

func newError(code ErrorCode, typ ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Type:    typ,
	}
}

// NewInvalidParameters 创建参数错误
func NewInvalidParameters(format string, args ...interface{}) *AppError {
	return newError(ErrCodeInvalidParameters, ErrorTypeValidation, format, args...)
}

// NewInvalidConfigEntry 创建配置项错误
func NewInvalidConfigEntry(format string, args ...interface{}) *AppError {
	return newError(ErrCodeInvalidConfigEntry, ErrorTypeValidation, format, args...)
}

// NewInvalidProviderConfig 创建provider配置错误
func NewInvalidProviderConfig(format string, args ...interface{}) *AppError {
	return newError(ErrCodeInvalidProviderConfig, ErrorTypeValidation, format, args...)
}

// NewNotImplemented 创建未实现错误
func NewNotImplemented(format string, args ...interface{}) *AppError {
	return newError(ErrCodeNotImplemented, ErrorTypeBusiness, format, args...)
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string, id interface{}) *AppError {
	return newError(ErrCodeNotFound, ErrorTypeBusiness, "%s %v not found", resource, id)
}

// NewProviderCallError 包装provider调用失败
func NewProviderCallError(provider, operation string, cause error) *AppError {
	return newError(ErrCodeProviderCall, ErrorTypeExternal, "%s %s failed", provider, operation).WithCause(cause)
}

// NewPartialPersistence 数据行已提交但文件未写入
func NewPartialPersistence(format string, args ...interface{}) *AppError {
	return newError(ErrCodePartialPersistence, ErrorTypeSystem, format, args...)
}

// NewPartialIngestion 部分条目已写入索引
func NewPartialIngestion(format string, args ...interface{}) *AppError {
	return newError(ErrCodePartialIngestion, ErrorTypeSystem, format, args...)
}

// NewScriptError 包装脚本执行错误
func NewScriptError(script string, cause error) *AppError {
	return newError(ErrCodeScriptExecution, ErrorTypeBusiness, "script %s failed", script).WithCause(cause)
}

// NewCancelledError 调用方取消
func NewCancelledError(operation string, cause error) *AppError {
	return newError(ErrCodeCancelled, ErrorTypeSystem, "%s cancelled", operation).WithCause(cause)
}

// NewDatabaseError 创建数据库错误
func NewDatabaseError(operation string, cause error) *AppError {
	return newError(ErrCodeDatabaseError, ErrorTypeSystem, "database %s failed", operation).WithCause(cause)
}

// IsAppError 检查错误链中是否有AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return newError(ErrCodeInternal, ErrorTypeSystem, "internal error").WithCause(err)
}

// CodeOf 返回错误链中第一个AppError的错误码
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode 判断错误链中是否含有指定错误码
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
