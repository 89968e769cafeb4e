// SPDX-License-Identifier: MIT
/*
Package audio implements the PortAudio capture transport:
- Device enumeration, with monitor sources flagged by name
- Interleaved int16 input streams delivered to a capture.BatchHandler
- Input latency from the callback's ADC timestamps, falling back to the
  latency PortAudio reports for the stream

Thread Safety:
- The stream callback runs on PortAudio's thread and locks it to the OS thread
- Buffers are pre-allocated at Open so the callback never allocates
- Stream state uses atomics; Stop and Close are safe to call more than once
*/
package audio

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"spectrogram/internal/capture"
	"spectrogram/internal/log"

	"github.com/gordonklaus/portaudio"
)

// paStream is the subset of *portaudio.Stream the transport drives.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Info() *portaudio.StreamInfo
}

// paInputCallback matches the stream callback signature PortAudio is given.
type paInputCallback = func(in []int16, timeInfo portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags)

var paOpenStream = func(p portaudio.StreamParameters, cb paInputCallback) (paStream, error) {
	return portaudio.OpenStream(p, cb)
}

// Transport captures through PortAudio. PortAudio must be initialized for
// the transport's lifetime.
type Transport struct {
	lowLatency bool
}

var _ capture.Transport = (*Transport)(nil)

// NewTransport returns a PortAudio transport. lowLatency selects the device's
// low input latency instead of the high one.
func NewTransport(lowLatency bool) *Transport {
	return &Transport{lowLatency: lowLatency}
}

func (t *Transport) Name() string {
	return "portaudio"
}

// Sources lists devices that can capture.
func (t *Transport) Sources(ctx context.Context) ([]capture.Source, error) {
	devices, err := HostDevices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: listing devices: %w", err)
	}
	sources := make([]capture.Source, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			sources = append(sources, d.Source())
		}
	}
	return sources, nil
}

// Open prepares an input stream on src. The stream starts delivering after
// Start. PortAudio reports no asynchronous stream failures through this
// binding, so onError is never called.
func (t *Transport) Open(ctx context.Context, src capture.Source, spec capture.StreamSpec, handler capture.BatchHandler, _ func(error)) (capture.Stream, error) {
	device, err := InputDevice(src.Index)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < spec.Channels {
		return nil, fmt.Errorf("portaudio: %s has %d input channels, need %d", device.Name, device.MaxInputChannels, spec.Channels)
	}

	latency := device.DefaultHighInputLatency
	if t.lowLatency {
		latency = device.DefaultLowInputLatency
	}

	s := &stream{
		name:    device.Name,
		handler: handler,
		ready:   make(chan struct{}),
		batch:   capture.NewSamplesBatch(spec.FramesPerBuffer * spec.Channels),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: spec.Channels,
			Device:   device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: spec.FramesPerBuffer,
		SampleRate:      float64(spec.SampleRate),
	}

	pa, err := paOpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("portaudio: opening %s: %w", device.Name, err)
	}
	s.pa = pa
	log.Debugf("Audio: opened %s (%d Hz, %d ch, %d frames/buffer, latency %v)",
		device.Name, spec.SampleRate, spec.Channels, spec.FramesPerBuffer, latency)
	return s, nil
}

// stream adapts a PortAudio input stream to capture.Stream.
type stream struct {
	name    string
	pa      paStream
	handler capture.BatchHandler

	batch *capture.SamplesBatch

	readyOnce sync.Once
	ready     chan struct{}

	latency   atomic.Int64 // nanoseconds, from callback timestamps
	overflows atomic.Uint64
	running   atomic.Bool
	closed    atomic.Bool
}

// process is the PortAudio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (s *stream) process(in []int16, timeInfo portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if flags&portaudio.InputOverflow != 0 {
		s.overflows.Add(1)
	}
	if lat := timeInfo.CurrentTime - timeInfo.InputBufferAdcTime; lat > 0 {
		s.latency.Store(int64(lat))
	}

	s.batch.Reset(in)
	s.handler(s.batch)

	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *stream) Start() error {
	if s.closed.Load() {
		return fmt.Errorf("portaudio: %s: %w", s.name, capture.ErrStreamStopped)
	}
	if err := s.pa.Start(); err != nil {
		return fmt.Errorf("portaudio: starting %s: %w", s.name, err)
	}
	s.running.Store(true)
	return nil
}

// Ready waits for the first callback.
func (s *stream) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latency prefers the measured callback latency and falls back to the latency
// PortAudio reports for the stream.
func (s *stream) Latency(ctx context.Context) (time.Duration, error) {
	if lat := s.latency.Load(); lat > 0 {
		return time.Duration(lat), nil
	}
	if !s.running.Load() {
		return 0, capture.ErrTimingUnavailable
	}
	if info := s.pa.Info(); info != nil && info.InputLatency > 0 {
		return info.InputLatency, nil
	}
	return 0, capture.ErrTimingUnavailable
}

// Overflows returns how many callbacks reported an input overflow.
func (s *stream) Overflows() uint64 {
	return s.overflows.Load()
}

func (s *stream) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if n := s.Overflows(); n > 0 {
		log.Warnf("Audio: %s reported %d input overflows", s.name, n)
	}
	return s.pa.Stop()
}

func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.pa.Close()
}
