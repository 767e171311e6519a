// Package dto 定义 HTTP 请求和响应的数据传输对象
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "immigration-qa-api/pkg/errors"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error 发送错误响应，状态码由错误码推导
func Error(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	c.JSON(appErr.HTTPStatus(), ErrorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		TraceID: c.GetString("trace_id"),
	})
}

// ErrorWithStatus 发送指定状态码的错误响应
func ErrorWithStatus(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: message,
		TraceID: c.GetString("trace_id"),
	})
}

// BadRequest 发送 400 错误响应
func BadRequest(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusBadRequest, apperrors.CodeInvalidParam, message)
}
