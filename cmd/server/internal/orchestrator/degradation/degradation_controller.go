// Package degradation switches between the primary diarizer and a fallback based
// on health status, and switches back when the primary recovers.
package degradation

import (
	"log/slog"
	"sync"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/consultscribe/pkg/logger"
	"github.com/houzhh15/consultscribe/pkg/metrics"
)

// DegradationController manages which diarizer is active. The fallback is usually
// diarization.MockDiarizer, which turns every chunk into silence.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type DegradationController struct {
	primary       diarization.Diarizer
	fallback      diarization.Diarizer
	healthChecker *health.HealthChecker
	current       diarization.Diarizer
	mu            sync.RWMutex
	isDegraded    bool
	logger        *slog.Logger
}

// NewDegradationController creates a controller that starts on primary.
func NewDegradationController(primary, fallback diarization.Diarizer, hc *health.HealthChecker, l *slog.Logger) *DegradationController {
	return &DegradationController{
		primary:       primary,
		fallback:      fallback,
		healthChecker: hc,
		current:       primary,
		logger:        logger.OrDefault(l).With("component", "degradation"),
	}
}

// GetDiarizer returns the active diarizer, switching to the fallback when the
// primary is unhealthy and back once it recovers.
func (dc *DegradationController) GetDiarizer() diarization.Diarizer {
	status := dc.healthChecker.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !status.IsHealthy && !dc.isDegraded {
		dc.logger.Warn("degrading to fallback diarizer",
			"fallback", dc.fallback.Name(), "primary", dc.primary.Name(), "reason", status.ErrorMessage)
		dc.current = dc.fallback
		dc.isDegraded = true
		metrics.RecordDegradationEvent(dc.primary.Name(), dc.fallback.Name())
	}

	if status.IsHealthy && dc.isDegraded {
		dc.logger.Info("recovering to primary diarizer", "primary", dc.primary.Name())
		dc.current = dc.primary
		dc.isDegraded = false
		metrics.RecordDegradationEvent(dc.fallback.Name(), dc.primary.Name())
	}

	return dc.current
}

// IsDegraded reports whether the fallback is active.
func (dc *DegradationController) IsDegraded() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.isDegraded
}

// Status returns the primary's latest health status.
func (dc *DegradationController) Status() health.ServiceStatus {
	return dc.healthChecker.GetStatus()
}
