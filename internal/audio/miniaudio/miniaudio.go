// SPDX-License-Identifier: MIT
/*
Package miniaudio captures monitor sources through miniaudio (malgo).

On Linux the PulseAudio backend lists every sink's "Monitor of ..." source as
a capture device; on Windows WASAPI and on macOS CoreAudio are used. Data
callbacks hand the raw S16LE stereo bytes to the session as batches, and a
stop callback that was not requested is reported as a runtime error.
*/
package miniaudio

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"spectrogram/internal/capture"
	"spectrogram/internal/log"

	"github.com/gen2brain/malgo"
)

const (
	DefaultPeriodMillis = 10
	DefaultPeriods      = 3
)

// Options selects the backend and device buffering.
type Options struct {
	Backend      string // "auto", "pulseaudio", "alsa", "wasapi", "coreaudio", "jack"
	PeriodMillis int
	Periods      int
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = "auto"
	}
	if o.PeriodMillis <= 0 {
		o.PeriodMillis = DefaultPeriodMillis
	}
	if o.Periods <= 0 {
		o.Periods = DefaultPeriods
	}
	return o
}

// ParseBackend maps a backend name to the malgo backend list handed to
// InitContext. "auto" picks the platform's monitor-capable backend.
func ParseBackend(name string) ([]malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		switch runtime.GOOS {
		case "linux":
			return []malgo.Backend{malgo.BackendPulseaudio}, nil
		case "windows":
			return []malgo.Backend{malgo.BackendWasapi}, nil
		case "darwin":
			return []malgo.Backend{malgo.BackendCoreaudio}, nil
		}
		return nil, nil
	case "pulseaudio", "pulse":
		return []malgo.Backend{malgo.BackendPulseaudio}, nil
	case "alsa":
		return []malgo.Backend{malgo.BackendAlsa}, nil
	case "wasapi":
		return []malgo.Backend{malgo.BackendWasapi}, nil
	case "coreaudio":
		return []malgo.Backend{malgo.BackendCoreaudio}, nil
	case "jack":
		return []malgo.Backend{malgo.BackendJack}, nil
	default:
		return nil, fmt.Errorf("miniaudio: unknown backend %q", name)
	}
}

// deviceInfo is one enumerated capture device.
type deviceInfo struct {
	name      string
	id        unsafe.Pointer
	isDefault bool
}

type device interface {
	Start() error
	Stop() error
	Uninit()
}

// deviceContext is the slice of malgo the transport needs.
type deviceContext interface {
	CaptureDevices() ([]deviceInfo, error)
	InitDevice(cfg malgo.DeviceConfig, cb malgo.DeviceCallbacks) (device, error)
	Close() error
}

// initContext is replaced in tests.
var initContext = func(backends []malgo.Backend) (deviceContext, error) {
	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		log.Debugf("miniaudio: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

type malgoContext struct {
	ctx   *malgo.AllocatedContext
	infos []malgo.DeviceInfo // device IDs handed to InitDevice point into this slice
}

func (c *malgoContext) CaptureDevices() ([]deviceInfo, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list capture devices: %w", err)
	}
	c.infos = infos
	out := make([]deviceInfo, len(infos))
	for i := range infos {
		out[i] = deviceInfo{
			name:      infos[i].Name(),
			id:        infos[i].ID.Pointer(),
			isDefault: infos[i].IsDefault != 0,
		}
	}
	return out, nil
}

func (c *malgoContext) InitDevice(cfg malgo.DeviceConfig, cb malgo.DeviceCallbacks) (device, error) {
	dev, err := malgo.InitDevice(c.ctx.Context, cfg, cb)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (c *malgoContext) Close() error {
	err := c.ctx.Uninit()
	c.ctx.Free()
	return err
}

// Transport opens capture devices through miniaudio.
type Transport struct {
	opts Options
}

var _ capture.Transport = (*Transport)(nil)

func NewTransport(opts Options) *Transport {
	return &Transport{opts: opts.withDefaults()}
}

func (t *Transport) Name() string {
	return "miniaudio"
}

func (t *Transport) context() (deviceContext, error) {
	backends, err := ParseBackend(t.opts.Backend)
	if err != nil {
		return nil, err
	}
	return initContext(backends)
}

func (t *Transport) Sources(ctx context.Context) ([]capture.Source, error) {
	dc, err := t.context()
	if err != nil {
		return nil, err
	}
	defer dc.Close()

	infos, err := dc.CaptureDevices()
	if err != nil {
		return nil, err
	}
	sources := make([]capture.Source, 0, len(infos))
	for i, info := range infos {
		desc := "capture"
		if info.isDefault {
			desc = "capture, default"
		}
		sources = append(sources, capture.Source{
			Index:             i,
			Name:              info.name,
			Description:       desc,
			Monitor:           capture.IsMonitorName(info.name),
			MaxInputChannels:  capture.DefaultChannels,
			DefaultSampleRate: capture.DefaultSampleRate,
		})
	}
	return sources, nil
}

// Open initializes the device for src. The device list is re-enumerated, so
// src is matched by name when its index has moved.
func (t *Transport) Open(ctx context.Context, src capture.Source, spec capture.StreamSpec, handler capture.BatchHandler, onError func(error)) (capture.Stream, error) {
	dc, err := t.context()
	if err != nil {
		return nil, err
	}
	infos, err := dc.CaptureDevices()
	if err != nil {
		dc.Close()
		return nil, err
	}
	info, ok := findDevice(infos, src)
	if !ok {
		dc.Close()
		return nil, fmt.Errorf("miniaudio: source %s: %w", src, capture.ErrNoMonitorSource)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(spec.Channels)
	cfg.Capture.DeviceID = info.id
	cfg.SampleRate = uint32(spec.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(t.opts.PeriodMillis)
	cfg.Periods = uint32(t.opts.Periods)
	cfg.Alsa.NoMMap = 1

	s := &stream{
		ctx:     dc,
		name:    info.name,
		handler: handler,
		onError: onError,
		latency: time.Duration(t.opts.PeriodMillis*t.opts.Periods) * time.Millisecond,
		ready:   make(chan struct{}),
	}
	dev, err := dc.InitDevice(cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("miniaudio: init device %q: %w", info.name, err)
	}
	s.dev = dev

	log.Debugf("miniaudio: opened %q (%d Hz, %d ch, %d x %d ms)",
		info.name, spec.SampleRate, spec.Channels, t.opts.Periods, t.opts.PeriodMillis)
	return s, nil
}

func findDevice(infos []deviceInfo, src capture.Source) (deviceInfo, bool) {
	if src.Index >= 0 && src.Index < len(infos) && infos[src.Index].name == src.Name {
		return infos[src.Index], true
	}
	for _, info := range infos {
		if info.name == src.Name {
			return info, true
		}
	}
	return deviceInfo{}, false
}

type stream struct {
	ctx     deviceContext
	dev     device
	name    string
	handler capture.BatchHandler
	onError func(error)
	latency time.Duration

	batch capture.BytesBatch

	readyOnce sync.Once
	ready     chan struct{}

	started  atomic.Bool
	stopping atomic.Bool
	closed   atomic.Bool
	received atomic.Bool
}

// onData runs on the miniaudio thread.
func (s *stream) onData(_, in []byte, frameCount uint32) {
	n := min(int(frameCount)*capture.BytesPerFrame, len(in))
	s.batch.Reset(in[:n])
	s.handler(&s.batch)
	if !s.received.Load() {
		s.received.Store(true)
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *stream) onStop() {
	if s.stopping.Load() {
		return
	}
	log.Warnf("miniaudio: device %q stopped unexpectedly", s.name)
	s.onError(&capture.RuntimeError{Op: "device", Err: capture.ErrStreamStopped})
}

func (s *stream) Start() error {
	if s.closed.Load() {
		return fmt.Errorf("miniaudio: %s: %w", s.name, capture.ErrStreamStopped)
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("miniaudio: start %q: %w", s.name, err)
	}
	s.started.Store(true)
	return nil
}

func (s *stream) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latency is the configured device buffering once audio is flowing.
func (s *stream) Latency(ctx context.Context) (time.Duration, error) {
	if !s.started.Load() || s.stopping.Load() || !s.received.Load() {
		return 0, capture.ErrTimingUnavailable
	}
	return s.latency, nil
}

func (s *stream) Stop() error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if !s.started.Load() {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop %q: %w", s.name, err)
	}
	return nil
}

func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopping.Store(true)
	s.dev.Uninit()
	return s.ctx.Close()
}
