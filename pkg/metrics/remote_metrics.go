// Package metrics provides Prometheus metrics for the consultation transcript pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Remote collaborator metrics
var (
	// remoteCallsTotal records calls to remote collaborators.
	// Labels:
	//   - service: Collaborator name (e.g., "diarization", "roles")
	//   - status: Call outcome (e.g., "success", "failed", "timeout")
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_remote_calls_total",
			Help: "Total number of calls to remote collaborators",
		},
		[]string{"service", "status"},
	)

	// remoteCallDuration records the latency of remote calls.
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 180s
	remoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consult_remote_call_duration_seconds",
			Help:    "Duration of remote collaborator calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 180},
		},
		[]string{"service"},
	)

	// degradationEventsTotal records diarizer switches.
	// Labels:
	//   - from: Diarizer name before the switch
	//   - to: Diarizer name after the switch
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_diarization_degradation_events_total",
			Help: "Total number of diarizer switches between primary and fallback",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(remoteCallsTotal)
	prometheus.MustRegister(remoteCallDuration)
	prometheus.MustRegister(degradationEventsTotal)
}

// RecordRemoteCall records one remote call outcome.
func RecordRemoteCall(service, status string) {
	remoteCallsTotal.WithLabelValues(service, status).Inc()
}

// RecordRemoteCallDuration records the duration of a remote call.
func RecordRemoteCallDuration(service string, durationSeconds float64) {
	remoteCallDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordDegradationEvent records a switch between diarizers.
func RecordDegradationEvent(from, to string) {
	degradationEventsTotal.WithLabelValues(from, to).Inc()
}
