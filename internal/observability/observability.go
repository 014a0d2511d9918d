// Package observability records Prometheus metrics for the media pipeline
// (ambient stack, grounded on mpisat-qumo/observability.Recorder — the
// implementation file wasn't part of the retrieval pack, so this rebuilds
// the type from its own metrics_test.go: NewRecorder(track), Setup/Shutdown
// gating whether metrics are live, counters/gauges per recorder instance,
// and a LatencyObs(stage) histogram observer that returns nil when metrics
// are disabled. Fields are renamed from the relay's cache/broadcast
// vocabulary to this module's frame/group/sync vocabulary).
package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config controls metrics registration.
type Config struct {
	Service string
	Metrics bool
}

var (
	setupOnce sync.Once
	mu        sync.Mutex
	enabled   bool

	framesReceived   *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	groupsLost       *prometheus.CounterVec
	bufferEmptyTotal *prometheus.CounterVec
	stallTotal       *prometheus.CounterVec
	syncRate         *prometheus.GaugeVec
	latencySeconds   *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
)

// Setup registers the package's collectors with the default Prometheus
// registerer. Calling it more than once is safe; collectors are registered
// once, on the first call with cfg.Metrics set, and enabled tracks the most
// recent call so tests can flip it off again.
func Setup(_ context.Context, cfg Config) error {
	mu.Lock()
	enabled = cfg.Metrics
	mu.Unlock()

	if !cfg.Metrics {
		return nil
	}

	var err error
	setupOnce.Do(func() {
		labels := []string{"service", "track"}
		framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moqplay_frames_received_total",
			Help: "Frames received per track.",
		}, labels)
		bytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moqplay_bytes_received_total",
			Help: "Bytes received per track.",
		}, labels)
		groupsLost = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moqplay_groups_lost_total",
			Help: "Groups cancelled by the transport per track.",
		}, labels)
		bufferEmptyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moqplay_buffer_empty_total",
			Help: "Transitions into an empty buffer state per track.",
		}, labels)
		stallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moqplay_sync_stall_total",
			Help: "Sync clock stall events per track.",
		}, labels)
		syncRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moqplay_sync_rate",
			Help: "Current Sync clock playback rate per track.",
		}, labels)
		latencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moqplay_latency_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "track", "stage"})
		activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "moqplay_active_sessions",
			Help: "Number of currently connected player sessions.",
		})
	})
	return err
}

// Shutdown is a no-op placeholder matching the ambient Setup/Shutdown
// lifecycle pair used elsewhere in the pack; Prometheus collectors have
// nothing to flush on shutdown.
func Shutdown(_ context.Context) error {
	return nil
}

// IncSessions/DecSessions track global session count, mirroring the
// pack's package-level IncTracks/DecTracks counters.
func IncSessions() {
	if !metricsEnabled() {
		return
	}
	activeSessions.Inc()
}

func DecSessions() {
	if !metricsEnabled() {
		return
	}
	activeSessions.Dec()
}

func metricsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Recorder records per-track metrics. The zero value is not usable; use
// NewRecorder.
type Recorder struct {
	service string
	track   string
}

// NewRecorder returns a Recorder scoped to one track name (e.g. a
// rendition or "audio"/"captions"). Its methods are safe to call whether or
// not Setup enabled metrics collection.
func NewRecorder(track string) *Recorder {
	return &Recorder{service: "moqplay", track: track}
}

func (r *Recorder) labels() prometheus.Labels {
	return prometheus.Labels{"service": r.service, "track": r.track}
}

func (r *Recorder) FrameReceived() {
	if !metricsEnabled() {
		return
	}
	framesReceived.With(r.labels()).Inc()
}

func (r *Recorder) BytesReceived(n int) {
	if !metricsEnabled() {
		return
	}
	bytesReceived.With(r.labels()).Add(float64(n))
}

func (r *Recorder) GroupLost() {
	if !metricsEnabled() {
		return
	}
	groupsLost.With(r.labels()).Inc()
}

func (r *Recorder) BufferEmpty() {
	if !metricsEnabled() {
		return
	}
	bufferEmptyTotal.With(r.labels()).Inc()
}

func (r *Recorder) Stall() {
	if !metricsEnabled() {
		return
	}
	stallTotal.With(r.labels()).Inc()
}

func (r *Recorder) SetSyncRate(rate float64) {
	if !metricsEnabled() {
		return
	}
	syncRate.With(r.labels()).Set(rate)
}

// LatencyObs returns a histogram observer for the named pipeline stage, or
// nil if metrics are disabled — callers must nil-check before Observe,
// exactly as the pack's Recorder.LatencyObs contract requires.
func (r *Recorder) LatencyObs(stage string) prometheus.Observer {
	if !metricsEnabled() {
		return nil
	}
	return latencySeconds.With(prometheus.Labels{
		"service": r.service,
		"track":   r.track,
		"stage":   stage,
	})
}
