package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sessions"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
	"github.com/houzhh15/consultscribe/cmd/server/internal/transcript"
	"github.com/houzhh15/consultscribe/pkg/metrics"
)

// MaxChunkAudioBytes 单个切片音频上限
const MaxChunkAudioBytes = 64 << 20

// HandleCreateSession POST /api/v1/sessions
// 请求体可选：{language_hint, doctor_specialty, patient_context}
func HandleCreateSession(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts sessions.StartOptions
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&opts); err != nil {
				errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
		}

		s, err := m.Start(c.Request.Context(), opts)
		if err != nil {
			failWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": s.ID,
			"created_at": s.CreatedAt,
			"state":      s.Orchestrator().GetState(),
		})
	}
}

// HandleListSessions GET /api/v1/sessions
func HandleListSessions(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": m.List()})
	}
}

// HandleGetSession GET /api/v1/sessions/:id
func HandleGetSession(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.Summary())
	}
}

// HandleSubmitChunk POST /api/v1/sessions/:id/chunks
// multipart 字段：chunk_index（必填）、start_time、end_time（秒，可选）、audio（必填）
// 阻塞直到该切片处理完成，返回 ChunkResult
func HandleSubmitChunk(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}

		in, err := parseChunkForm(c)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		result, err := s.Orchestrator().Submit(c.Request.Context(), in)
		if err != nil {
			failWith(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func parseChunkForm(c *gin.Context) (orchestrator.ChunkInput, error) {
	in := orchestrator.ChunkInput{StartTime: -1}

	raw := strings.TrimSpace(c.PostForm("chunk_index"))
	if raw == "" {
		return in, errors.New("chunk_index is required")
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return in, fmt.Errorf("invalid chunk_index: %q", raw)
	}
	in.Index = idx

	if v := strings.TrimSpace(c.PostForm("start_time")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return in, fmt.Errorf("invalid start_time: %q", v)
		}
		in.StartTime = f
	}
	if v := strings.TrimSpace(c.PostForm("end_time")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return in, fmt.Errorf("invalid end_time: %q", v)
		}
		in.EndTime = f
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		return in, errors.New("audio file is required")
	}
	if fh.Size == 0 {
		return in, errors.New("audio file is empty")
	}
	if fh.Size > MaxChunkAudioBytes {
		return in, fmt.Errorf("audio file exceeds %d bytes", MaxChunkAudioBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return in, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	in.Audio, err = io.ReadAll(f)
	if err != nil {
		return in, fmt.Errorf("read audio: %w", err)
	}
	in.Filename = fh.Filename
	return in, nil
}

// HandleCloseSession POST /api/v1/sessions/:id/close
// 处理完已排队切片后冻结转写，返回最终转写
func HandleCloseSession(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := m.Close(c.Request.Context(), c.Param("id"))
		if err != nil {
			failWith(c, err)
			return
		}
		doc := transcript.FromRegistry(s.Registry())
		c.JSON(http.StatusOK, doc)
	}
}

// HandleCancelSession POST /api/v1/sessions/:id/cancel
func HandleCancelSession(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Cancel(c.Param("id")); err != nil {
			failWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "state": orchestrator.StateClosed})
	}
}

// HandleDeleteSession DELETE /api/v1/sessions/:id
func HandleDeleteSession(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Remove(c.Param("id")); err != nil {
			failWith(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleGetTranscript GET /api/v1/sessions/:id/transcript?format=json|text|srt|vtt
func HandleGetTranscript(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}
		format, err := transcript.ParseFormat(c.DefaultQuery("format", "json"))
		if err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		var sb strings.Builder
		if err := transcript.Render(&sb, format, transcript.FromRegistry(s.Registry())); err != nil {
			failWith(c, err)
			return
		}
		c.Data(http.StatusOK, format.ContentType(), []byte(sb.String()))
	}
}

// HandleGetResults GET /api/v1/sessions/:id/results
// 返回已输出的逐切片结果
func HandleGetResults(m *sessions.Manager, mem *sink.MemorySink) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}
		results := []models.ChunkResult{}
		if mem != nil {
			results = append(results, mem.Results(s.ID)...)
		}
		c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "results": results})
	}
}

// HandleGetRoles GET /api/v1/sessions/:id/roles
func HandleGetRoles(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}
		roles := s.Registry().Roles()
		pending := []string{}
		for _, sp := range s.Registry().Speakers() {
			a, assigned := roles[sp.ID]
			if !assigned || a.RequiresManualAssignment {
				pending = append(pending, sp.ID)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":       s.ID,
			"roles":            roles,
			"pending_speakers": pending,
		})
	}
}

// SetRoleRequest 人工角色确认请求
type SetRoleRequest struct {
	Role      string `json:"role" binding:"required"`
	Reasoning string `json:"reasoning"`
}

// HandleSetRole PUT /api/v1/sessions/:id/roles/:speaker
// 人工确认角色，置信度设为 1 并清除 requires_manual_assignment
func HandleSetRole(m *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookupSession(c, m)
		if !ok {
			return
		}
		var req SetRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		role, known := models.ParseRole(req.Role)
		if !known {
			errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid role: %q (must be: Doctor, Patient, Other, Unknown)", req.Role))
			return
		}
		reasoning := req.Reasoning
		if reasoning == "" {
			reasoning = "manually assigned"
		}

		a, err := s.Registry().SetManualRole(c.Param("speaker"), role, reasoning)
		if err != nil {
			failWith(c, err)
			return
		}
		metrics.RecordRoleAssignment(string(a.Role), false)
		c.JSON(http.StatusOK, gin.H{"speaker_id": c.Param("speaker"), "assignment": a})
	}
}
