// SPDX-License-Identifier: MIT
//
// Package metrics exposes capture session diagnostics to Prometheus: frame
// build times, resync outcomes, ring buffer fill and the overflow and
// starvation counts the core tracks instead of reporting as errors.
//
// All Record methods are safe on a nil *SessionMetrics, so callers can leave
// metrics disabled without branching.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spectrogram"

// SessionMetrics contains Prometheus metrics for capture sessions.
type SessionMetrics struct {
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	connectErrorsTotal *prometheus.CounterVec
	runtimeErrorsTotal *prometheus.CounterVec

	framesTotal   *prometheus.CounterVec
	frameDuration *prometheus.HistogramVec

	resyncTotal   *prometheus.CounterVec
	resyncLatency *prometheus.HistogramVec

	bufferReady       *prometheus.GaugeVec
	bufferCapacity    *prometheus.GaugeVec
	capturedFrames    *prometheus.CounterVec
	overwrittenTotal  *prometheus.CounterVec
	starvedTotal      *prometheus.CounterVec
	publishedTotal    *prometheus.CounterVec
	publishErrorTotal *prometheus.CounterVec
	gatedTotal        *prometheus.CounterVec
}

// NewSessionMetrics creates the session metrics and registers them with registry.
func NewSessionMetrics(registry *prometheus.Registry) (*SessionMetrics, error) {
	m := &SessionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SessionMetrics) initMetrics() {
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of connected capture sessions",
	})

	m.connectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_errors_total",
			Help:      "Failed session connects by cause",
		},
		[]string{"cause"}, // no_monitor_source, allocation, transport_connect, not_ready
	)

	m.runtimeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_errors_total",
			Help:      "Transport failures that tore a session down",
		},
		[]string{"source", "op"},
	)

	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Spectral frames built",
		},
		[]string{"source"},
	)

	m.frameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time to resync, window and transform one frame",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
		},
		[]string{"source"},
	)

	m.resyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_total",
			Help:      "Resync cycles by result",
		},
		[]string{"source", "result"}, // result: applied, skipped
	)

	m.resyncLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resync_latency_seconds",
			Help:      "Input latency reported by the transport at resync",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"source"},
	)

	m.bufferReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_ready_samples",
			Help:      "Unread samples in the ring buffer",
		},
		[]string{"source"},
	)

	m.bufferCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_capacity_samples",
			Help:      "Ring buffer capacity",
		},
		[]string{"source"},
	)

	m.capturedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_frames_total",
			Help:      "Stereo frames delivered by the transport",
		},
		[]string{"source"},
	)

	m.overwrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_overwritten_samples_total",
			Help:      "Unread samples lost to ring buffer overflow",
		},
		[]string{"source"},
	)

	m.starvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_starved_samples_total",
			Help:      "Samples zero-filled because the ring buffer ran dry",
		},
		[]string{"source"},
	)

	m.publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_frames_total",
			Help:      "Frames sent to publishers",
		},
		[]string{"transport"}, // websocket, udp
	)

	m.publishErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Frames a publisher failed to send",
		},
		[]string{"transport"},
	)

	m.gatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gated_frames_total",
			Help:      "Frames withheld by the noise gate",
		},
		[]string{"source"},
	)
}

// Registry returns the registry the metrics were registered with.
func (m *SessionMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionStarted records a successful connect.
func (m *SessionMetrics) SessionStarted(source string, capacity int) {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.bufferCapacity.WithLabelValues(source).Set(float64(capacity))
}

// SessionStopped records a disconnect or teardown.
func (m *SessionMetrics) SessionStopped(source string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.bufferReady.WithLabelValues(source).Set(0)
}

// RecordConnectError counts a failed connect.
func (m *SessionMetrics) RecordConnectError(cause string) {
	if m == nil {
		return
	}
	m.connectErrorsTotal.WithLabelValues(cause).Inc()
}

// RecordRuntimeError counts a transport failure.
func (m *SessionMetrics) RecordRuntimeError(source, op string) {
	if m == nil {
		return
	}
	m.runtimeErrorsTotal.WithLabelValues(source, op).Inc()
}

// RecordFrame records one built frame.
func (m *SessionMetrics) RecordFrame(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(source).Inc()
	m.frameDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordResync records the outcome of one resync cycle.
func (m *SessionMetrics) RecordResync(source string, skipped bool, latency time.Duration) {
	if m == nil {
		return
	}
	if skipped {
		m.resyncTotal.WithLabelValues(source, "skipped").Inc()
		return
	}
	m.resyncTotal.WithLabelValues(source, "applied").Inc()
	m.resyncLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordBuffer publishes the ring buffer state. The counts are deltas since
// the previous call.
func (m *SessionMetrics) RecordBuffer(source string, ready int, captured, overwritten, starved uint64) {
	if m == nil {
		return
	}
	m.bufferReady.WithLabelValues(source).Set(float64(ready))
	if captured > 0 {
		m.capturedFrames.WithLabelValues(source).Add(float64(captured))
	}
	if overwritten > 0 {
		m.overwrittenTotal.WithLabelValues(source).Add(float64(overwritten))
	}
	if starved > 0 {
		m.starvedTotal.WithLabelValues(source).Add(float64(starved))
	}
}

// RecordPublish counts one frame sent (or failed) by a publisher.
func (m *SessionMetrics) RecordPublish(transport string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishErrorTotal.WithLabelValues(transport).Inc()
		return
	}
	m.publishedTotal.WithLabelValues(transport).Inc()
}

// RecordGated counts a frame withheld by the noise gate.
func (m *SessionMetrics) RecordGated(source string) {
	if m == nil {
		return
	}
	m.gatedTotal.WithLabelValues(source).Inc()
}

// Describe implements the Collector interface
func (m *SessionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.sessionsActive.Describe(ch)
	m.connectErrorsTotal.Describe(ch)
	m.runtimeErrorsTotal.Describe(ch)
	m.framesTotal.Describe(ch)
	m.frameDuration.Describe(ch)
	m.resyncTotal.Describe(ch)
	m.resyncLatency.Describe(ch)
	m.bufferReady.Describe(ch)
	m.bufferCapacity.Describe(ch)
	m.capturedFrames.Describe(ch)
	m.overwrittenTotal.Describe(ch)
	m.starvedTotal.Describe(ch)
	m.publishedTotal.Describe(ch)
	m.publishErrorTotal.Describe(ch)
	m.gatedTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *SessionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.sessionsActive.Collect(ch)
	m.connectErrorsTotal.Collect(ch)
	m.runtimeErrorsTotal.Collect(ch)
	m.framesTotal.Collect(ch)
	m.frameDuration.Collect(ch)
	m.resyncTotal.Collect(ch)
	m.resyncLatency.Collect(ch)
	m.bufferReady.Collect(ch)
	m.bufferCapacity.Collect(ch)
	m.capturedFrames.Collect(ch)
	m.overwrittenTotal.Collect(ch)
	m.starvedTotal.Collect(ch)
	m.publishedTotal.Collect(ch)
	m.publishErrorTotal.Collect(ch)
	m.gatedTotal.Collect(ch)
}
