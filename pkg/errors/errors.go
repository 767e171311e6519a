// Package errors 提供应用级错误类型和错误码定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码定义
const (
	// CodeInvalidParam 请求参数非法
	CodeInvalidParam = "INVALID_PARAM"
	// CodeConfigError 服务配置缺失或非法
	CodeConfigError = "CONFIG_ERROR"
	// CodeRetrievalUnavailable 检索依赖不可用(向量库或嵌入服务)
	CodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
	// CodeGenerationUnavailable 生成依赖不可用(大模型服务)
	CodeGenerationUnavailable = "GENERATION_UNAVAILABLE"
	// CodeTimeout 整体处理超时
	CodeTimeout = "TIMEOUT"
	// CodeRateLimited 请求被限流
	CodeRateLimited = "RATE_LIMITED"
	// CodeInternalError 内部未知错误
	CodeInternalError = "INTERNAL_ERROR"
)

// codeStatus 错误码到 HTTP 状态码的映射
var codeStatus = map[string]int{
	CodeInvalidParam:          http.StatusBadRequest,
	CodeConfigError:           http.StatusInternalServerError,
	CodeRetrievalUnavailable:  http.StatusServiceUnavailable,
	CodeGenerationUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:               http.StatusGatewayTimeout,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeInternalError:         http.StatusInternalServerError,
}

// AppError 应用错误,携带错误码与 HTTP 状态
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus 返回错误码对应的 HTTP 状态码
func (e *AppError) HTTPStatus() int {
	if status, ok := codeStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New 创建应用错误
func New(code string, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包装底层错误为应用错误
func Wrap(code string, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Newf 创建带格式化消息的应用错误
func Newf(code string, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromError 将任意错误转换为应用错误,未知错误归为内部错误
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeInternalError, "internal error", err)
}

// IsCode 判断错误是否携带指定错误码
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
