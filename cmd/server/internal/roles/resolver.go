package roles

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/pkg/logger"
	"github.com/houzhh15/consultscribe/pkg/metrics"
)

// DefaultConfidenceThreshold 低于该置信度的角色需要人工确认
const DefaultConfidenceThreshold = 0.7

// ResolverConfig 角色解析参数
type ResolverConfig struct {
	ConfidenceThreshold float64
	Timeout             time.Duration
}

// Resolver turns advisory classifier output into role assignments. It never upgrades
// a confidence and flags every assignment below the threshold for manual resolution.
type Resolver struct {
	classifier Classifier
	cfg        ResolverConfig
	logger     *slog.Logger
}

// NewResolver 创建解析器，threshold 为 0 时使用默认值
func NewResolver(classifier Classifier, cfg ResolverConfig, l *slog.Logger) *Resolver {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Resolver{classifier: classifier, cfg: cfg, logger: logger.OrDefault(l)}
}

// Threshold returns the manual-assignment threshold.
func (r *Resolver) Threshold() float64 {
	return r.cfg.ConfidenceThreshold
}

// Resolve assigns a role to every id in targets using batch as context. When targets
// is empty every speaker present in batch is a target. A classifier failure is returned
// alongside Unknown placeholders for all targets.
func (r *Resolver) Resolve(ctx context.Context, batch []models.Segment, hints Hints, targets []string) (map[string]models.RoleAssignment, error) {
	if len(targets) == 0 {
		targets = speakersOf(batch)
	}
	if len(targets) == 0 {
		return map[string]models.RoleAssignment{}, nil
	}

	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.classifier.Classify(callCtx, batch, hints)
	metrics.RecordRemoteCallDuration("roles", time.Since(start).Seconds())
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty classification", ErrResponseInvalid)
	}
	if err != nil {
		metrics.RecordRemoteCall("roles", "failed")
		r.logger.Warn("role classification failed, marking speakers unknown",
			"classifier", r.classifier.Name(), "speakers", targets, "error", err)
		return unknownFor(targets, "role classification failed: "+err.Error()), fmt.Errorf("classify with %s: %w", r.classifier.Name(), err)
	}
	metrics.RecordRemoteCall("roles", "success")

	return r.fromClassification(result, targets), nil
}

func (r *Resolver) fromClassification(c *Classification, targets []string) map[string]models.RoleAssignment {
	out := make(map[string]models.RoleAssignment, len(targets))
	allLow := true
	for _, id := range targets {
		raw, ok := c.RoleMapping[id]
		if !ok {
			out[id] = models.RoleAssignment{
				Role:                     models.RoleUnknown,
				Reasoning:                "speaker not classified",
				RequiresManualAssignment: true,
				Source:                   r.classifier.Source(),
			}
			continue
		}

		role, known := models.ParseRole(raw)
		conf := clamp01(c.ConfidenceScores[id])
		if !known {
			role = models.RoleUnknown
		}
		if conf >= r.cfg.ConfidenceThreshold && role != models.RoleUnknown {
			allLow = false
		}
		out[id] = models.RoleAssignment{
			Role:                     role,
			Confidence:               conf,
			Reasoning:                c.Reasoning[id],
			RequiresManualAssignment: role == models.RoleUnknown || conf < r.cfg.ConfidenceThreshold,
			Source:                   r.classifier.Source(),
		}
	}

	if allLow {
		// 整体置信度过低时不做猜测
		for id, a := range out {
			a.Role = models.RoleUnknown
			a.RequiresManualAssignment = true
			if a.Reasoning == "" {
				a.Reasoning = "all role confidences below threshold"
			}
			out[id] = a
		}
	}
	return out
}

func unknownFor(ids []string, reasoning string) map[string]models.RoleAssignment {
	out := make(map[string]models.RoleAssignment, len(ids))
	for _, id := range ids {
		out[id] = models.RoleAssignment{
			Role:                     models.RoleUnknown,
			Reasoning:                reasoning,
			RequiresManualAssignment: true,
			Source:                   models.RoleSourceFallback,
		}
	}
	return out
}

func speakersOf(batch []models.Segment) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, seg := range batch {
		if _, ok := seen[seg.SpeakerID]; ok || seg.SpeakerID == "" {
			continue
		}
		seen[seg.SpeakerID] = struct{}{}
		ids = append(ids, seg.SpeakerID)
	}
	return ids
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
