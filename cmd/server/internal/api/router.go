package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
	"github.com/houzhh15/consultscribe/cmd/server/internal/middleware"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sessions"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Sessions    *sessions.Manager
	Results     *sink.MemorySink
	Degradation *degradation.DegradationController
	Planner     chunking.Options
	Logger      *slog.Logger
}

// NewRouter 注册所有 HTTP 路由
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(deps.Logger))

	r.GET("/healthz", HandleHealthz(deps.Sessions, deps.Degradation))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/plan", HandlePlan(deps.Planner))

		v1.POST("/sessions", HandleCreateSession(deps.Sessions))
		v1.GET("/sessions", HandleListSessions(deps.Sessions))
		v1.GET("/sessions/:id", HandleGetSession(deps.Sessions))
		v1.DELETE("/sessions/:id", HandleDeleteSession(deps.Sessions))
		v1.POST("/sessions/:id/chunks", HandleSubmitChunk(deps.Sessions))
		v1.POST("/sessions/:id/close", HandleCloseSession(deps.Sessions))
		v1.POST("/sessions/:id/cancel", HandleCancelSession(deps.Sessions))
		v1.GET("/sessions/:id/transcript", HandleGetTranscript(deps.Sessions))
		v1.GET("/sessions/:id/results", HandleGetResults(deps.Sessions, deps.Results))
		v1.GET("/sessions/:id/roles", HandleGetRoles(deps.Sessions))
		v1.PUT("/sessions/:id/roles/:speaker", HandleSetRole(deps.Sessions))
	}
	return r
}
