package main

import (
	// Standard library
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	// Internal packages
	"github.com/houzhh15/consultscribe/cmd/server/internal/api"
	"github.com/houzhh15/consultscribe/cmd/server/internal/config"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sessions"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
	"github.com/houzhh15/consultscribe/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.LoggerEnvironment(),
		WithSource:  !cfg.IsProduction(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "consult-server")

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
	appLogger.Debug(cfg.PrintConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logInstance); err != nil {
		appLogger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}

func run(cfg *config.Config, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	pipeline := cfg.Pipeline()

	// 说话人分离：主服务 + 可选降级
	primary := diarization.NewHTTPDiarizer(cfg.Diarization.ServiceURL, cfg.Diarization.Timeout, l)
	var provider orchestrator.DiarizerProvider = orchestrator.StaticDiarizer{Diarizer: primary}
	var (
		healthChecker *health.HealthChecker
		degradeCtrl   *degradation.DegradationController
	)
	if cfg.Diarization.EnableDegradation {
		healthChecker = health.NewHealthChecker(primary, cfg.Diarization.HealthCheckInterval, cfg.Diarization.HealthCheckFailThreshold, l)
		degradeCtrl = degradation.NewDegradationController(primary, diarization.NewMockDiarizer(l), healthChecker, l)
		provider = degradeCtrl
	}

	classifier, err := buildClassifier(cfg, l)
	if err != nil {
		return err
	}

	// 结果输出：内存（API 查询）+ 可选审计文件
	results := sink.NewMemorySink()
	sinks := sink.Fanout{results}
	var audit *sink.AuditSink
	if cfg.Sink.AuditLogPath != "" {
		audit = sink.NewAuditSink(sink.AuditOptions{
			Path:       cfg.Sink.AuditLogPath,
			MaxSizeMB:  cfg.Sink.MaxSizeMB,
			MaxBackups: cfg.Sink.MaxBackups,
			MaxAgeDays: cfg.Sink.MaxAgeDays,
			Compress:   cfg.Sink.Compress,
		})
		defer audit.Close()
		sinks = append(sinks, audit)
	}

	manager := sessions.NewManager(sessions.Dependencies{
		Config:     pipeline,
		Diarizers:  provider,
		Classifier: classifier,
		Sink:       sinks,
		Limiter:    sessions.NewLimiter(cfg.Sessions.MaxConcurrentCalls, 0),
		Logger:     l,
	})

	router := api.NewRouter(api.RouterDeps{
		Sessions:    manager,
		Results:     results,
		Degradation: degradeCtrl,
		Planner:     pipeline.ChunkOptions(),
		Logger:      l,
	})
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if healthChecker != nil {
		g.Go(func() error {
			healthChecker.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		l.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutdown signal received, shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if healthChecker != nil {
			healthChecker.Stop()
		}
		err := srv.Shutdown(shutdownCtx)
		manager.Shutdown(shutdownCtx)
		return err
	})
	return g.Wait()
}

// buildClassifier 根据 ROLE_STRATEGY 选择角色分类器，none 时返回 nil
func buildClassifier(cfg *config.Config, l *slog.Logger) (roles.Classifier, error) {
	switch cfg.Roles.Strategy {
	case "none":
		l.Warn("role resolution disabled, all speakers stay Unknown")
		return nil, nil
	case "remote":
		c, err := roles.NewLLMClassifier(roles.LLMOptions{
			BaseURL:   cfg.Roles.ServiceURL,
			Model:     cfg.Roles.Model,
			APIKeyEnv: cfg.Roles.APIKeyEnv,
			Timeout:   cfg.Roles.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("role classifier: %w", err)
		}
		return c, nil
	default:
		return roles.NewCueClassifier(nil, nil), nil
	}
}
