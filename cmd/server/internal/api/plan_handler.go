package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
)

// PlanRequest 切片规划请求，chunk/overlap 为 0 时使用服务端默认值
type PlanRequest struct {
	TotalDuration   float64 `json:"total_duration" binding:"required"`
	ChunkDuration   float64 `json:"chunk_duration"`
	OverlapDuration float64 `json:"overlap_duration"`
	MaxChunks       int     `json:"max_chunks"`
}

// HandlePlan POST /api/v1/plan
func HandlePlan(defaults chunking.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		opts := defaults
		if req.ChunkDuration > 0 {
			opts.ChunkDuration = req.ChunkDuration
			opts.OverlapDuration = req.OverlapDuration
		}
		if req.MaxChunks > 0 {
			opts.MaxChunks = req.MaxChunks
		}

		plan, err := chunking.PlanChunks(req.TotalDuration, opts)
		if err != nil {
			if errors.Is(err, chunking.ErrInvalidDuration) {
				errorResponse(c, http.StatusBadRequest, err.Error())
				return
			}
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}
