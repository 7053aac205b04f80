// Package health provides periodic health probes for the diarization service with
// a configurable interval and consecutive-failure threshold.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/pkg/logger"
)

// probeTimeout bounds a single health probe.
const probeTimeout = 10 * time.Second

// ServiceStatus represents the current health state of a diarization service.
// All fields are safe for JSON serialization and are exposed via /healthz.
type ServiceStatus struct {
	// IsHealthy indicates whether the service passed recent health checks
	IsHealthy bool `json:"is_healthy"`

	// LastCheckTime records when the most recent health check was performed
	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails counts how many health checks have failed in a row.
	// Reset to 0 when a check succeeds.
	ConsecutiveFails int `json:"consecutive_fails"`

	// ErrorMessage contains the last error message, empty if healthy
	ErrorMessage string `json:"error_message"`
}

// HealthChecker performs periodic health checks on a Diarizer and tracks
// consecutive failures to trigger degradation.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type HealthChecker struct {
	diarizer      diarization.Diarizer
	status        *ServiceStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
}

// NewHealthChecker creates a HealthChecker for d.
//
// The checker starts in a healthy state (optimistic assumption).
// Call Start() to begin periodic health checks.
func NewHealthChecker(d diarization.Diarizer, checkInterval time.Duration, failThreshold int, l *slog.Logger) *HealthChecker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &HealthChecker{
		diarizer:      d,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		logger:        logger.OrDefault(l).With("component", "health", "diarizer", d.Name()),
		status: &ServiceStatus{
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		},
	}
}

// Start runs an immediate check and then one per interval until Stop is called or
// ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.performCheck(ctx)

	for {
		select {
		case <-ticker.C:
			hc.performCheck(ctx)
		case <-hc.stopChan:
			hc.logger.Info("health checker stopped")
			return
		case <-ctx.Done():
			hc.logger.Info("health checker context cancelled")
			return
		}
	}
}

// performCheck executes a single health check and updates the status.
func (hc *HealthChecker) performCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	isHealthy, err := hc.diarizer.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheckTime = time.Now()

	if isHealthy {
		if hc.status.ConsecutiveFails > 0 || !hc.status.IsHealthy {
			hc.logger.Info("health check recovered")
		}
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		return
	}

	hc.status.ConsecutiveFails++
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("Health check failed: %s", errMsg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		hc.status.IsHealthy = false
		hc.logger.Error("health check failed, marking unhealthy", "consecutive_fails", hc.status.ConsecutiveFails)
	} else {
		hc.logger.Warn("health check failed",
			"consecutive_fails", hc.status.ConsecutiveFails, "threshold", hc.failThreshold, "error", errMsg)
	}
}

// GetStatus returns a copy of the current health status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return *hc.status
}

// Stop terminates the health checking goroutine. It is safe to call Stop multiple times.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
