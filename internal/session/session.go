// SPDX-License-Identifier: MIT
/*
Package session owns one live capture: the selected monitor source, its
stream, the ring buffer the stream feeds and the frame builder that reads it.

Lifecycle:
  - Connect selects a monitor source, allocates the ring buffer, opens and
    starts the stream and waits until audio flows. On failure everything
    already opened is released and a *ConnectError is returned.
  - Read builds one spectral frame from the newest audio.
  - Disconnect stops the stream and releases the buffer. It is idempotent.

A transport failure while capturing tears the session down in the
background. Done is closed, Err returns the *capture.RuntimeError and later
Reads return it too. Sessions never reconnect on their own.

Sessions hold no global state, so several may run side by side.
*/
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"spectrogram/internal/analysis"
	"spectrogram/internal/capture"
	"spectrogram/internal/log"
	"spectrogram/internal/metrics"
	"spectrogram/internal/resync"
	"spectrogram/internal/ringbuf"
)

const (
	DefaultBufferSeconds = 20
	DefaultReadyTimeout  = 5 * time.Second
)

// Options configures Connect. Zero fields take defaults.
type Options struct {
	NumBins         int // frame length n, default 512
	SampleRate      int // Hz, default 44100
	Channels        int // default 2
	FramesPerBuffer int // transport batch size hint
	BufferSeconds   int // ring buffer history, default 20 s
	DeviceName      string
	ReadyTimeout    time.Duration
	Frame           analysis.FrameOptions
	Metrics         *metrics.SessionMetrics
}

func (o Options) withDefaults() Options {
	if o.NumBins == 0 {
		o.NumBins = analysis.DefaultNumBins
	}
	if o.SampleRate == 0 {
		o.SampleRate = capture.DefaultSampleRate
	}
	if o.Channels == 0 {
		o.Channels = capture.DefaultChannels
	}
	if o.FramesPerBuffer == 0 {
		o.FramesPerBuffer = capture.DefaultFramesPerBuffer
	}
	if o.BufferSeconds == 0 {
		o.BufferSeconds = DefaultBufferSeconds
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	o.Frame.NumBins = o.NumBins
	o.Frame.SampleRate = o.SampleRate
	return o
}

// Session is a connected capture. All methods are safe for concurrent use.
type Session struct {
	opts    Options
	source  capture.Source
	buf     *ringbuf.Buffer
	feed    *capture.Feed
	stream  capture.Stream
	resync  *resync.Resynchronizer
	builder *analysis.FrameBuilder
	metrics *metrics.SessionMetrics

	mu     sync.Mutex // serializes Read, Flush and teardown
	closed bool

	// last counter values pushed to metrics
	lastFrames, lastOverwritten, lastStarved uint64

	done     chan struct{}
	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// Connect opens a session on the monitor source offered by transport.
func Connect(ctx context.Context, transport capture.Transport, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		opts:    opts,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}

	// Held across connect so a failure reported by an early callback waits
	// for the stream to be recorded before tearing it down.
	s.mu.Lock()
	err := s.connect(ctx, transport)
	if err != nil {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	if err != nil {
		var ce *ConnectError
		if errors.As(err, &ce) {
			s.metrics.RecordConnectError(ce.Cause.String())
		}
		log.Errorf("Session: %v", err)
		return nil, err
	}

	s.metrics.SessionStarted(s.source.Name, s.buf.Capacity())
	log.Infof("Session: capturing %q via %s (%d Hz, %d bins, %d samples of history)",
		s.source.Name, transport.Name(), opts.SampleRate, opts.NumBins, s.buf.Capacity())
	return s, nil
}

func (s *Session) connect(ctx context.Context, transport capture.Transport) error {
	opts := s.opts

	sources, err := transport.Sources(ctx)
	if err != nil {
		return &ConnectError{Cause: TransportConnect, Err: err}
	}
	src, err := capture.SelectMonitor(sources, opts.DeviceName)
	if err != nil {
		return &ConnectError{Cause: NoMonitorSource, Err: err}
	}
	s.source = src
	log.Debugf("Session: selected source %v", src)

	buf, err := ringbuf.New(opts.SampleRate * opts.BufferSeconds)
	if err != nil {
		return &ConnectError{Cause: Allocation, Err: err}
	}
	builder, err := analysis.NewFrameBuilder(opts.Frame)
	if err != nil {
		return &ConnectError{Cause: Allocation, Err: err}
	}
	s.buf = buf
	s.builder = builder
	s.feed = capture.NewFeed(buf, capture.DefaultChunkSize)

	spec := capture.StreamSpec{
		SampleRate:      opts.SampleRate,
		Channels:        opts.Channels,
		FramesPerBuffer: opts.FramesPerBuffer,
	}
	stream, err := transport.Open(ctx, src, spec, s.handleBatch, s.fail)
	if err != nil {
		buf.Release()
		return &ConnectError{Cause: TransportConnect, Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		buf.Release()
		return &ConnectError{Cause: TransportConnect, Err: err}
	}

	readyCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()
	if err := stream.Ready(readyCtx); err != nil {
		_ = stream.Stop()
		_ = stream.Close()
		buf.Release()
		return &ConnectError{Cause: NotReady, Err: err}
	}

	s.stream = stream
	s.resync = resync.New(buf, stream, opts.SampleRate)
	return nil
}

// handleBatch runs on the audio thread.
func (s *Session) handleBatch(b capture.Batch) {
	if err := s.feed.Consume(b); err != nil {
		s.fail(err)
	}
}

// fail records the first runtime error and tears the session down without
// blocking the caller, which may be the audio thread.
func (s *Session) fail(err error) {
	var rt *capture.RuntimeError
	if !errors.As(err, &rt) {
		rt = &capture.RuntimeError{Op: "stream", Err: err}
	}

	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = rt
		s.errMu.Unlock()

		s.metrics.RecordRuntimeError(s.source.Name, rt.Op)
		log.Errorf("Session: %v, tearing down", rt)

		go func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if err := s.closeLocked(); err != nil {
				log.Debugf("Session: teardown after failure: %v", err)
			}
		}()
	})
}

// Read builds one spectral frame from the newest audio.
func (s *Session) Read(ctx context.Context) ([]float64, error) {
	frame := make([]float64, s.opts.NumBins)
	if err := s.ReadInto(ctx, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// ReadInto is Read without allocation; dst must hold NumBins values.
func (s *Session) ReadInto(ctx context.Context, dst []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.closedErr()
	}

	start := time.Now()
	if err := s.builder.BuildInto(ctx, dst, s.buf, s); err != nil {
		return err
	}
	s.metrics.RecordFrame(s.source.Name, time.Since(start))
	s.recordBufferLocked()
	return nil
}

// Cycle runs one resync and records it. It lets the session stand in as the
// builder's Cycler.
func (s *Session) Cycle(ctx context.Context) (resync.Result, error) {
	res, err := s.resync.Cycle(ctx)
	if err == nil {
		s.metrics.RecordResync(s.source.Name, res.Skipped, res.Latency)
	}
	return res, err
}

func (s *Session) recordBufferLocked() {
	if s.metrics == nil {
		return
	}
	frames, over, starved := s.feed.Frames(), s.buf.Overwritten(), s.buf.Starved()
	s.metrics.RecordBuffer(s.source.Name, s.buf.Available(),
		frames-s.lastFrames, over-s.lastOverwritten, starved-s.lastStarved)
	s.lastFrames, s.lastOverwritten, s.lastStarved = frames, over, starved
}

// BufReady returns the number of unread samples, 0 once disconnected.
func (s *Session) BufReady() int {
	return s.buf.Available()
}

// SourceName returns the name of the captured monitor source.
func (s *Session) SourceName() string {
	return s.source.Name
}

// Source returns the captured monitor source.
func (s *Session) Source() capture.Source {
	return s.source
}

// NumBins returns the length of every frame.
func (s *Session) NumBins() int {
	return s.opts.NumBins
}

// Peak returns the absolute mono peak of the last captured batch.
func (s *Session) Peak() int32 {
	return s.feed.Peak()
}

// Level returns Peak scaled to 0.0-1.0.
func (s *Session) Level() float64 {
	return float64(s.feed.Peak()) / 32768
}

// FrequencyForBin returns the frequency (Hz) of bin i.
func (s *Session) FrequencyForBin(i int) float64 {
	return s.builder.GetFrequencyForBin(i)
}

// Flush drops the backlog, keeping the last 500 ms behind live.
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resync.Flush(0)
}

// Stats is a snapshot of session counters.
type Stats struct {
	Frames         uint64 // frames built
	CapturedFrames uint64 // stereo frames delivered by the transport
	Batches        uint64
	Overwritten    uint64
	Starved        uint64
	Resyncs        uint64
	SkippedResyncs uint64
	BufReady       int
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	total, skipped := s.resync.Cycles()
	return Stats{
		Frames:         s.builder.Frames(),
		CapturedFrames: s.feed.Frames(),
		Batches:        s.feed.Batches(),
		Overwritten:    s.buf.Overwritten(),
		Starved:        s.buf.Starved(),
		Resyncs:        total,
		SkippedResyncs: skipped,
		BufReady:       s.buf.Available(),
	}
}

// Disconnect stops the stream and releases the ring buffer. It waits for an
// in-flight Read to finish. Calling it again returns nil.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// Stop first: no callback may run once the buffer is released.
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	s.buf.Release()

	s.metrics.SessionStopped(s.source.Name)
	close(s.done)
	log.Infof("Session: disconnected from %q", s.source.Name)
	return errors.Join(stopErr, closeErr)
}

// Done is closed when the session has shut down, by Disconnect or by a
// runtime failure.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the runtime error that tore the session down, or nil.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}
