// SPDX-License-Identifier: MIT
package miniaudio

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"spectrogram/internal/capture"
	"spectrogram/internal/session"
	"spectrogram/pkg/utils"

	"github.com/gen2brain/malgo"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDevice struct {
	cfg      malgo.DeviceConfig
	cb       malgo.DeviceCallbacks
	startErr error

	mu      sync.Mutex
	started bool
	stops   int
	uninits int
}

func (d *fakeDevice) Start() error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.stops++
	d.mu.Unlock()
	if d.cb.Stop != nil {
		d.cb.Stop() // miniaudio calls the stop callback for requested stops too
	}
	return nil
}

func (d *fakeDevice) Uninit() {
	d.mu.Lock()
	d.uninits++
	d.mu.Unlock()
}

func (d *fakeDevice) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

type fakeContext struct {
	devices []deviceInfo
	initErr error

	mu     sync.Mutex
	dev    *fakeDevice
	closes int
}

func (c *fakeContext) CaptureDevices() ([]deviceInfo, error) {
	return c.devices, nil
}

func (c *fakeContext) InitDevice(cfg malgo.DeviceConfig, cb malgo.DeviceCallbacks) (device, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dev = &fakeDevice{cfg: cfg, cb: cb}
	return c.dev, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeContext) device() *fakeDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

var testDevices = []deviceInfo{
	{name: "Built-in Audio Analog Stereo", isDefault: true},
	{name: "Monitor of Built-in Audio Analog Stereo"},
}

func useFakeContext(t *testing.T, fc *fakeContext) *[][]malgo.Backend {
	t.Helper()
	orig := initContext
	var seen [][]malgo.Backend
	initContext = func(backends []malgo.Backend) (deviceContext, error) {
		seen = append(seen, backends)
		return fc, nil
	}
	t.Cleanup(func() { initContext = orig })
	return &seen
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		name    string
		want    []malgo.Backend
		wantErr bool
	}{
		{"pulseaudio", []malgo.Backend{malgo.BackendPulseaudio}, false},
		{"Pulse", []malgo.Backend{malgo.BackendPulseaudio}, false},
		{"alsa", []malgo.Backend{malgo.BackendAlsa}, false},
		{"wasapi", []malgo.Backend{malgo.BackendWasapi}, false},
		{"coreaudio", []malgo.Backend{malgo.BackendCoreaudio}, false},
		{"jack", []malgo.Backend{malgo.BackendJack}, false},
		{"oss4", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBackend(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
				t.Errorf("ParseBackend(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if runtime.GOOS == "linux" {
		got, _ := ParseBackend("auto")
		if len(got) != 1 || got[0] != malgo.BackendPulseaudio {
			t.Errorf("auto on linux = %v, want pulseaudio", got)
		}
	}
}

func TestSourcesMarksMonitors(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	seen := useFakeContext(t, fc)

	sources, err := NewTransport(Options{Backend: "pulseaudio"}).Sources(context.Background())
	if err != nil {
		t.Fatalf("Sources error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	if sources[0].Monitor || !sources[1].Monitor {
		t.Errorf("monitor flags = %v, %v", sources[0].Monitor, sources[1].Monitor)
	}
	if sources[0].Description != "capture, default" {
		t.Errorf("default device description = %q", sources[0].Description)
	}
	if fc.closes != 1 {
		t.Errorf("context closed %d times, want 1", fc.closes)
	}
	if len(*seen) != 1 || (*seen)[0][0] != malgo.BackendPulseaudio {
		t.Errorf("context backends = %v", *seen)
	}
}

func TestOpenConfiguresDevice(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	tr := NewTransport(Options{Backend: "pulseaudio", PeriodMillis: 20, Periods: 4})
	// Index moved since enumeration; the name still matches.
	src := capture.Source{Index: 0, Name: "Monitor of Built-in Audio Analog Stereo"}
	st, err := tr.Open(context.Background(), src, capture.DefaultStreamSpec(), func(capture.Batch) {}, func(error) {})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	cfg := fc.device().cfg
	if cfg.Capture.Format != malgo.FormatS16 || cfg.Capture.Channels != 2 || cfg.SampleRate != 44100 {
		t.Errorf("device config format = %v/%d/%d", cfg.Capture.Format, cfg.Capture.Channels, cfg.SampleRate)
	}
	if cfg.PeriodSizeInMilliseconds != 20 || cfg.Periods != 4 {
		t.Errorf("device buffering = %d x %d ms", cfg.Periods, cfg.PeriodSizeInMilliseconds)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Run("Unknown source", func(t *testing.T) {
		fc := &fakeContext{devices: testDevices}
		useFakeContext(t, fc)
		_, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Name: "HDMI"}, capture.DefaultStreamSpec(), nil, nil)
		if !errors.Is(err, capture.ErrNoMonitorSource) {
			t.Errorf("Open error = %v, want ErrNoMonitorSource", err)
		}
		if fc.closes != 1 {
			t.Errorf("context closed %d times, want 1", fc.closes)
		}
	})

	t.Run("Init device failure", func(t *testing.T) {
		fc := &fakeContext{devices: testDevices, initErr: errors.New("busy")}
		useFakeContext(t, fc)
		_, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Index: 1, Name: testDevices[1].name}, capture.DefaultStreamSpec(), nil, nil)
		if err == nil {
			t.Fatal("Open returned nil error")
		}
		if fc.closes != 1 {
			t.Errorf("context closed %d times, want 1", fc.closes)
		}
	})

	t.Run("Bad backend", func(t *testing.T) {
		if _, err := NewTransport(Options{Backend: "oss4"}).Sources(context.Background()); err == nil {
			t.Error("Sources with unknown backend returned nil error")
		}
	})
}

func TestDataCallbackDeliversBatches(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	var got []byte
	var dropped bool
	st, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Index: 1, Name: testDevices[1].name}, capture.DefaultStreamSpec(),
		func(b capture.Batch) {
			data, _ := b.Peek()
			got = append(got[:0], data...)
			b.Drop()
			dropped = true
		}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Latency(context.Background()); !errors.Is(err, capture.ErrTimingUnavailable) {
		t.Errorf("Latency before data = %v, want ErrTimingUnavailable", err)
	}

	in := []byte{1, 0, 2, 0, 3, 0, 4, 0, 9, 9} // two frames plus padding
	fc.device().cb.Data(nil, in, 2)

	if string(got) != string(in[:8]) || !dropped {
		t.Errorf("handler saw %v (dropped %v), want %v", got, dropped, in[:8])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := st.Ready(ctx); err != nil {
		t.Errorf("Ready after data = %v", err)
	}
	lat, err := st.Latency(context.Background())
	if err != nil || lat != DefaultPeriods*DefaultPeriodMillis*time.Millisecond {
		t.Errorf("Latency = %v, %v", lat, err)
	}
}

func TestStopCallbackReportsOnlyUnexpectedStops(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	errc := make(chan error, 2)
	st, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Index: 1, Name: testDevices[1].name}, capture.DefaultStreamSpec(),
		func(capture.Batch) {}, func(err error) { errc <- err })
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Start(); err != nil {
		t.Fatal(err)
	}

	// The device dies underneath us.
	fc.device().cb.Stop()
	select {
	case err := <-errc:
		if !errors.Is(err, capture.ErrStreamStopped) {
			t.Errorf("reported %v, want ErrStreamStopped", err)
		}
	default:
		t.Fatal("unexpected stop was not reported")
	}

	// A requested stop stays quiet and is idempotent.
	for range 2 {
		if err := st.Stop(); err != nil {
			t.Errorf("Stop error: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Errorf("Close error: %v", err)
		}
	}
	select {
	case err := <-errc:
		t.Errorf("requested stop reported %v", err)
	default:
	}

	dev := fc.device()
	if dev.stops != 1 || dev.uninits != 1 || fc.closes != 1 {
		t.Errorf("stops=%d uninits=%d closes=%d, want 1 each", dev.stops, dev.uninits, fc.closes)
	}
	if err := st.Start(); !errors.Is(err, capture.ErrStreamStopped) {
		t.Errorf("Start after Close = %v, want ErrStreamStopped", err)
	}
}

func TestStartFailure(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	st, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Index: 1, Name: testDevices[1].name}, capture.DefaultStreamSpec(), func(capture.Batch) {}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	fc.device().startErr = errors.New("no such sink")
	if err := st.Start(); err == nil {
		t.Error("Start returned nil error")
	}
}

func TestDataCallbackNoAllocs(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	st, err := NewTransport(Options{}).Open(context.Background(), capture.Source{Index: 1, Name: testDevices[1].name}, capture.DefaultStreamSpec(), func(b capture.Batch) { b.Drop() }, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	in := make([]byte, capture.DefaultFramesPerBuffer*capture.BytesPerFrame)
	cb := fc.device().cb.Data

	allocs := testing.AllocsPerRun(100, func() {
		cb(nil, in, capture.DefaultFramesPerBuffer)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in data callback, got %.1f", allocs)
	}
}

func TestSessionOverMiniaudio(t *testing.T) {
	fc := &fakeContext{devices: testDevices}
	useFakeContext(t, fc)

	stop := make(chan struct{})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		// 44100 samples hold exactly 1000 cycles, so wrapping keeps phase.
		in := utils.Interleave(utils.GenerateSineWave(44100, 44100, 1000, 0.5))
		chunk := make([]int16, 2*capture.DefaultFramesPerBuffer)
		pos := 0
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
			dev := fc.device()
			if dev == nil || !dev.isStarted() {
				continue
			}
			for i := range chunk {
				chunk[i] = in[(pos+i)%len(in)]
			}
			pos = (pos + len(chunk)) % len(in)
			dev.cb.Data(nil, utils.StereoBytes(chunk), capture.DefaultFramesPerBuffer)
		}
	}()
	defer func() { close(stop); <-fed }()

	s, err := session.Connect(context.Background(), NewTransport(Options{}), session.Options{ReadyTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer s.Disconnect()

	deadline := time.Now().Add(time.Second)
	for s.Stats().CapturedFrames < 4096 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	frame, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	want := int(math.Round(1000 * 1024 / 44100.0))
	if got := utils.FindPeakBin(frame, 0, len(frame)-1); got < want-1 || got > want+1 {
		t.Errorf("peak bin = %d, want %d±1", got, want)
	}
}
