package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordRemoteCall(t *testing.T) {
	// Reset metrics before test
	remoteCallsTotal.Reset()

	RecordRemoteCall("diarization", "success")

	metric := &dto.Metric{}
	if err := remoteCallsTotal.WithLabelValues("diarization", "success").Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("Expected counter value 1, got %f", metric.Counter.GetValue())
	}

	RecordRemoteCall("diarization", "success")
	metric = &dto.Metric{}
	if err := remoteCallsTotal.WithLabelValues("diarization", "success").Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestRecordRemoteCallDuration(t *testing.T) {
	remoteCallDuration.Reset()

	RecordRemoteCallDuration("roles", 1.5)
	RecordRemoteCallDuration("roles", 3.0)

	metric := &dto.Metric{}
	observer := remoteCallDuration.WithLabelValues("roles")
	if err := observer.(interface{ Write(*dto.Metric) error }).Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if got := metric.Histogram.GetSampleCount(); got != 2 {
		t.Errorf("Expected 2 samples, got %d", got)
	}
	if got := metric.Histogram.GetSampleSum(); got != 4.5 {
		t.Errorf("Expected sample sum 4.5, got %f", got)
	}
}

func TestRecordDegradationEvent(t *testing.T) {
	degradationEventsTotal.Reset()

	RecordDegradationEvent("http", "mock-degraded")

	metric := &dto.Metric{}
	if err := degradationEventsTotal.WithLabelValues("http", "mock-degraded").Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("Expected counter value 1, got %f", metric.Counter.GetValue())
	}
}

func TestRecordRoleAssignment(t *testing.T) {
	RoleAssignmentsTotal.Reset()

	RecordRoleAssignment("Doctor", false)
	RecordRoleAssignment("Unknown", true)
	RecordRoleAssignment("Unknown", true)

	metric := &dto.Metric{}
	if err := RoleAssignmentsTotal.WithLabelValues("Unknown", "true").Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	ActiveSessions.Set(0)

	SessionStarted()
	SessionStarted()
	SessionEnded()

	metric := &dto.Metric{}
	if err := ActiveSessions.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("Expected gauge value 1, got %f", metric.Gauge.GetValue())
	}
}

func TestRecordCanonicalSpeakersIgnoresNonPositive(t *testing.T) {
	before := &dto.Metric{}
	if err := CanonicalSpeakersCreated.Write(before); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	RecordCanonicalSpeakers(0)
	RecordCanonicalSpeakers(2)

	after := &dto.Metric{}
	if err := CanonicalSpeakersCreated.Write(after); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if diff := after.Counter.GetValue() - before.Counter.GetValue(); diff != 2 {
		t.Errorf("Expected delta 2, got %f", diff)
	}
}
