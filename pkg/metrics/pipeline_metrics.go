package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal 切片在各阶段的处理计数
	// Labels: stage (diarize/continuity/registry/roles/sink), status (ok/failed/degraded/rejected)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_chunks_total",
			Help: "Total number of chunks processed per pipeline stage",
		},
		[]string{"stage", "status"},
	)

	// ContinuityConfidence 跨切片说话人匹配置信度分布
	ContinuityConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consult_continuity_confidence",
			Help:    "Confidence of paired speakers across chunk boundaries",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// CanonicalSpeakersCreated 新建的规范说话人数量
	CanonicalSpeakersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consult_canonical_speakers_created_total",
			Help: "Total number of canonical speakers allocated",
		},
	)

	// RoleAssignmentsTotal 角色分配计数
	// Labels: role (Doctor/Patient/Other/Unknown), manual (true/false)
	RoleAssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_role_assignments_total",
			Help: "Total number of role assignments by role and whether manual resolution is required",
		},
		[]string{"role", "manual"},
	)

	// SinkErrorsTotal 结果输出失败计数
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_sink_errors_total",
			Help: "Total number of chunk results a sink failed to accept",
		},
		[]string{"sink"},
	)

	// ActiveSessions 活跃会话数
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consult_active_sessions",
			Help: "Number of consultation sessions currently accepting chunks",
		},
	)
)

// RecordChunk 记录切片在某阶段的处理结果
func RecordChunk(stage, status string) {
	ChunksTotal.WithLabelValues(stage, status).Inc()
}

// ObserveContinuityConfidence 记录一次配对置信度
func ObserveContinuityConfidence(confidence float64) {
	ContinuityConfidence.Observe(confidence)
}

// RecordCanonicalSpeakers 记录新分配的规范说话人
func RecordCanonicalSpeakers(n int) {
	if n > 0 {
		CanonicalSpeakersCreated.Add(float64(n))
	}
}

// RecordRoleAssignment 记录角色分配
func RecordRoleAssignment(role string, requiresManual bool) {
	RoleAssignmentsTotal.WithLabelValues(role, strconv.FormatBool(requiresManual)).Inc()
}

// RecordSinkError 记录 sink 输出失败
func RecordSinkError(sink string) {
	SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// SessionStarted / SessionEnded 维护活跃会话量规
func SessionStarted() { ActiveSessions.Inc() }

func SessionEnded() { ActiveSessions.Dec() }
