package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sessions"
)

// HandleHealthz GET /healthz
// 降级未启用时 degradationCtrl 为 nil，只返回进程状态
//
// 响应格式:
//
//	{
//	  "status": "ok",
//	  "active_sessions": 2,
//	  "diarization": {
//	    "implementation": "http",
//	    "is_healthy": true,
//	    "is_degraded": false,
//	    "last_check_time": "2026-03-01T09:00:00Z",
//	    "consecutive_fails": 0,
//	    "error_message": ""
//	  }
//	}
func HandleHealthz(m *sessions.Manager, degradationCtrl *degradation.DegradationController) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"status":          "ok",
			"active_sessions": len(m.List()),
		}
		if degradationCtrl != nil {
			status := degradationCtrl.Status()
			isDegraded := degradationCtrl.IsDegraded()
			response["diarization"] = gin.H{
				"implementation":    degradationCtrl.GetDiarizer().Name(),
				"is_healthy":        status.IsHealthy,
				"is_degraded":       isDegraded,
				"last_check_time":   status.LastCheckTime,
				"consecutive_fails": status.ConsecutiveFails,
				"error_message":     status.ErrorMessage,
			}
			if isDegraded {
				response["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, response)
	}
}
