package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/consultscribe/cmd/server/internal/registry"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sessions"
)

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// errorResponseWithDetail 返回带详情的错误响应
func errorResponseWithDetail(c *gin.Context, code int, message string, detail interface{}) {
	c.JSON(code, gin.H{
		"error":  message,
		"detail": detail,
	})
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": resource + " not found",
	})
}

// statusForError 将领域错误映射为 HTTP 状态码
// 400 输入错误，404 未知会话/说话人，409 序号违规或会话已关闭
func statusForError(err error) int {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound), errors.Is(err, registry.ErrUnknownSpeaker):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch orchestrator.CodeOf(err) {
	case orchestrator.INVALID_INPUT:
		return http.StatusBadRequest
	case orchestrator.CHUNK_OUT_OF_ORDER, orchestrator.CHUNK_DUPLICATE, orchestrator.SESSION_CLOSED:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// failWith 按错误类型输出，OrchError 附带错误码
func failWith(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusForError(err)
	if code := orchestrator.CodeOf(err); code != "" {
		errorResponseWithDetail(c, status, err.Error(), gin.H{"code": code})
		return
	}
	errorResponse(c, status, err.Error())
}

// lookupSession 读取 :id 对应的会话，不存在时已写出 404
func lookupSession(c *gin.Context, m *sessions.Manager) (*sessions.Session, bool) {
	s, err := m.Get(c.Param("id"))
	if err != nil {
		notFoundResponse(c, "session")
		return nil, false
	}
	return s, true
}
