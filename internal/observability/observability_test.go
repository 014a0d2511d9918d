package observability

import "testing"

func TestNewRecorder(t *testing.T) {
	rec := NewRecorder("video")
	if rec == nil {
		t.Fatal("expected non-nil recorder")
	}
	if rec.track != "video" {
		t.Errorf("track = %s, want video", rec.track)
	}
}

func TestRecorderMethodsWithMetricsEnabled(t *testing.T) {
	if err := Setup(t.Context(), Config{Service: "test", Metrics: true}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer Shutdown(t.Context())

	rec := NewRecorder("test-track")

	rec.FrameReceived()
	rec.BytesReceived(1024)
	rec.GroupLost()
	rec.BufferEmpty()
	rec.Stall()
	rec.SetSyncRate(1.1)
	IncSessions()
	DecSessions()

	obs := rec.LatencyObs("receive")
	if obs == nil {
		t.Error("expected non-nil observer when metrics enabled")
	}
	obs.Observe(0.001)
}

func TestRecorderMethodsWithMetricsDisabled(t *testing.T) {
	if err := Setup(t.Context(), Config{Service: "test", Metrics: false}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer Shutdown(t.Context())

	rec := NewRecorder("test-track")

	rec.FrameReceived()
	rec.BytesReceived(1024)
	rec.GroupLost()
	rec.BufferEmpty()
	rec.Stall()
	rec.SetSyncRate(1.1)
	IncSessions()
	DecSessions()

	if obs := rec.LatencyObs("receive"); obs != nil {
		t.Error("expected nil observer when metrics disabled")
	}
}
