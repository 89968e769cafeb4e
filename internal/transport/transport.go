// SPDX-License-Identifier: MIT
/*
Package transport publishes spectral frames to consumers outside the process.

A Pump reads one frame per interval from a capture session and fans it out to
every Publisher (WebSocket broadcast, UDP packets, debug logging). Frames
withheld by the noise gate are counted but not sent.
*/
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spectrogram/internal/capture"
	applog "spectrogram/internal/log"
	"spectrogram/internal/metrics"
)

// DefaultInterval is the frame refresh period (~40 Hz).
const DefaultInterval = 25 * time.Millisecond

// Frame is one published spectral frame. Magnitudes is owned by the caller
// of Send and is only valid for the duration of the call.
type Frame struct {
	Sequence   uint64    `json:"seq"`
	Timestamp  time.Time `json:"ts"`
	Source     string    `json:"source"`
	BinHz      float64   `json:"bin_hz"`
	Magnitudes []float64 `json:"magnitudes"`
}

// Publisher sends frames to consumers. Implementations must be safe for
// concurrent use and must copy Magnitudes if they keep it.
type Publisher interface {
	Name() string
	Send(f Frame) error
	Close() error
}

// FrameSource is the slice of a capture session the pump reads.
type FrameSource interface {
	ReadInto(ctx context.Context, dst []float64) error
	NumBins() int
	SourceName() string
	FrequencyForBin(i int) float64
	Peak() int32
}

// Pump periodically reads frames from a source and publishes them.
type Pump struct {
	src      FrameSource
	pubs     []Publisher
	interval time.Duration
	gate     *capture.Gate
	metrics  *metrics.SessionMetrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}

	seq       uint64
	mags      []float64
	published atomic.Uint64
	gated     atomic.Uint64

	errMu sync.Mutex
	err   error
}

// NewPump returns an idle pump. A nil gate publishes every frame; a nil
// metrics disables instrumentation.
func NewPump(src FrameSource, interval time.Duration, gate *capture.Gate, m *metrics.SessionMetrics, pubs ...Publisher) (*Pump, error) {
	if src == nil {
		return nil, fmt.Errorf("Pump: frame source cannot be nil")
	}
	if len(pubs) == 0 {
		return nil, fmt.Errorf("Pump: at least one publisher is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
		applog.Warnf("Pump: Invalid interval provided, defaulting to %s", interval)
	}
	return &Pump{
		src:      src,
		pubs:     pubs,
		interval: interval,
		gate:     gate,
		metrics:  m,
		mags:     make([]float64, src.NumBins()),
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running pump
// is a no-op.
func (p *Pump) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		applog.Warnf("Pump: Start called but already running.")
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.finished = make(chan struct{})
	go p.run(ctx, p.finished)
}

func (p *Pump) run(ctx context.Context, finished chan struct{}) {
	defer close(finished)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	names := make([]string, len(p.pubs))
	for i, pub := range p.pubs {
		names[i] = pub.Name()
	}
	applog.Infof("Pump: publishing %q every %s to %v", p.src.SourceName(), p.interval, names)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.publishOne(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				applog.Errorf("Pump: stopping: %v", err)
				p.setErr(err)
			}
			return
		}
	}
}

// publishOne reads one frame and sends it to every publisher. Only a read
// failure is returned; publisher errors are logged and counted.
func (p *Pump) publishOne(ctx context.Context) error {
	if err := p.src.ReadInto(ctx, p.mags); err != nil {
		return err
	}
	if !p.gate.Open(p.src.Peak()) {
		p.gated.Add(1)
		p.metrics.RecordGated(p.src.SourceName())
		return nil
	}

	p.seq++
	frame := Frame{
		Sequence:   p.seq,
		Timestamp:  time.Now(),
		Source:     p.src.SourceName(),
		BinHz:      p.src.FrequencyForBin(1),
		Magnitudes: p.mags,
	}
	for _, pub := range p.pubs {
		err := pub.Send(frame)
		p.metrics.RecordPublish(pub.Name(), err)
		if err != nil {
			applog.Debugf("Pump: %s: %v", pub.Name(), err)
		}
	}
	p.published.Add(1)
	return nil
}

// Stop signals the goroutine to exit and waits for it. Publishers are not
// closed. It is safe to call Stop multiple times.
func (p *Pump) Stop() {
	p.mu.Lock()
	cancel, finished := p.cancel, p.finished
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-finished
	applog.Infof("Pump: stopped after %d frames (%d gated)", p.published.Load(), p.gated.Load())
}

// Done is closed when the publishing goroutine exits. It is nil before Start.
func (p *Pump) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Err returns the read error that stopped the pump, or nil.
func (p *Pump) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pump) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

// Published returns the number of frames sent.
func (p *Pump) Published() uint64 {
	return p.published.Load()
}

// Gated returns the number of frames withheld by the gate.
func (p *Pump) Gated() uint64 {
	return p.gated.Load()
}

// CloseAll closes every publisher and joins their errors.
func CloseAll(pubs ...Publisher) error {
	var errs []error
	for _, pub := range pubs {
		if err := pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}
