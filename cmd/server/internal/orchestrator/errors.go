package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
)

// ErrorCode 表示切片处理错误类型代码
type ErrorCode string

const (
	// DIARIZATION_UNAVAILABLE 说话人分离服务不可达（网络错误、超时）
	DIARIZATION_UNAVAILABLE ErrorCode = "DIARIZATION_UNAVAILABLE"

	// DIARIZATION_HTTP_ERROR 说话人分离服务返回非 200 响应
	DIARIZATION_HTTP_ERROR ErrorCode = "DIARIZATION_HTTP_ERROR"

	// ROLE_SERVICE_FAILED 角色识别服务失败，角色降级为 Unknown
	ROLE_SERVICE_FAILED ErrorCode = "ROLE_SERVICE_FAILED"

	// CHUNK_OUT_OF_ORDER 切片序号跳跃，会话级致命错误
	CHUNK_OUT_OF_ORDER ErrorCode = "CHUNK_OUT_OF_ORDER"

	// CHUNK_DUPLICATE 切片序号重复，会话级致命错误
	CHUNK_DUPLICATE ErrorCode = "CHUNK_DUPLICATE"

	// SESSION_CLOSED 会话已关闭或已取消
	SESSION_CLOSED ErrorCode = "SESSION_CLOSED"

	// INVALID_INPUT 输入参数不合法（时长、序号等）
	INVALID_INPUT ErrorCode = "INVALID_INPUT"

	// SINK_FAILED 结果输出失败
	SINK_FAILED ErrorCode = "SINK_FAILED"
)

// OrchError 表示 Orchestrator 切片处理错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// NewOrchError 创建新的 Orchestrator 错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewDiarizationError 根据底层错误区分 HTTP 错误与不可达
func NewDiarizationError(cause error) *OrchError {
	var httpErr *diarization.HTTPError
	if errors.As(cause, &httpErr) {
		return NewOrchError(DIARIZATION_HTTP_ERROR, fmt.Sprintf("说话人分离服务返回错误 HTTP %d", httpErr.StatusCode), cause)
	}
	return NewOrchError(DIARIZATION_UNAVAILABLE, "说话人分离服务不可达", cause)
}

// NewRoleServiceError 创建角色服务错误
func NewRoleServiceError(cause error) *OrchError {
	return NewOrchError(ROLE_SERVICE_FAILED, "角色识别失败，已标记为 Unknown", cause)
}

// NewSessionClosedError 创建会话关闭错误
func NewSessionClosedError(sessionID string) *OrchError {
	return NewOrchError(SESSION_CLOSED, fmt.Sprintf("会话 %s 已关闭", sessionID), nil)
}

// NewInvalidInputError 创建输入错误
func NewInvalidInputError(message string, cause error) *OrchError {
	return NewOrchError(INVALID_INPUT, message, cause)
}

// CodeOf 返回错误链中第一个 OrchError 的代码，没有则为空
func CodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsSessionFatal 序号违规属于会话级致命错误
func IsSessionFatal(err error) bool {
	switch CodeOf(err) {
	case CHUNK_OUT_OF_ORDER, CHUNK_DUPLICATE:
		return true
	}
	return false
}
