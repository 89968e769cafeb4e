// SPDX-License-Identifier: MIT
package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *SessionMetrics {
	t.Helper()
	m, err := NewSessionMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSessionMetrics error: %v", err)
	}
	return m
}

func TestRegisterTwiceFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewSessionMetrics(registry); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewSessionMetrics(registry); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRecordResync(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordResync("mon", false, 20*time.Millisecond)
	m.RecordResync("mon", false, 25*time.Millisecond)
	m.RecordResync("mon", true, 0)

	if got := testutil.ToFloat64(m.resyncTotal.WithLabelValues("mon", "applied")); got != 2 {
		t.Errorf("applied resyncs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resyncTotal.WithLabelValues("mon", "skipped")); got != 1 {
		t.Errorf("skipped resyncs = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.resyncLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestRecordBufferDeltas(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordBuffer("mon", 1500, 512, 0, 10)
	m.RecordBuffer("mon", 300, 512, 7, 0)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"ready", m.bufferReady.WithLabelValues("mon"), 300},
		{"captured", m.capturedFrames.WithLabelValues("mon"), 1024},
		{"overwritten", m.overwrittenTotal.WithLabelValues("mon"), 7},
		{"starved", m.starvedTotal.WithLabelValues("mon"), 10},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSessionLifecycleGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.SessionStarted("mon", 882000)
	m.RecordFrame("mon", time.Millisecond)
	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bufferCapacity.WithLabelValues("mon")); got != 882000 {
		t.Errorf("buffer_capacity = %v, want 882000", got)
	}

	m.SessionStopped("mon")
	if got := testutil.ToFloat64(m.sessionsActive); got != 0 {
		t.Errorf("sessions_active after stop = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.framesTotal.WithLabelValues("mon")); got != 1 {
		t.Errorf("frames_total = %v, want 1", got)
	}
}

func TestRecordPublishAndErrors(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPublish("udp", nil)
	m.RecordPublish("udp", errors.New("refused"))
	m.RecordConnectError("not_ready")
	m.RecordRuntimeError("mon", "peek")
	m.RecordGated("mon")
	m.RecordGated("mon")

	if got := testutil.ToFloat64(m.gatedTotal.WithLabelValues("mon")); got != 2 {
		t.Errorf("gated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.publishedTotal.WithLabelValues("udp")); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.publishErrorTotal.WithLabelValues("udp")); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectErrorsTotal.WithLabelValues("not_ready")); got != 1 {
		t.Errorf("connect errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runtimeErrorsTotal.WithLabelValues("mon", "peek")); got != 1 {
		t.Errorf("runtime errors = %v, want 1", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *SessionMetrics
	m.SessionStarted("mon", 1)
	m.RecordFrame("mon", time.Millisecond)
	m.RecordResync("mon", false, time.Millisecond)
	m.RecordBuffer("mon", 1, 1, 1, 1)
	m.RecordPublish("udp", nil)
	m.RecordConnectError("allocation")
	m.RecordRuntimeError("mon", "peek")
	m.RecordGated("mon")
	m.SessionStopped("mon")
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}
