// SPDX-License-Identifier: MIT
/*
Package resync keeps the frame builder close to live audio.

Before every frame the resynchronizer asks the capture stream for its current
input latency, converts it to a sample count and moves the ring buffer's read
cursor that far behind the write cursor. The builder therefore analyzes the
audio that is playing now instead of working through a growing backlog.
*/
package resync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"spectrogram/internal/capture"
	"spectrogram/internal/log"
	"spectrogram/internal/ringbuf"
)

// DefaultFlushKeep is the history retained by Flush when keep is zero.
const DefaultFlushKeep = 500 * time.Millisecond

// TimingSource reports the capture stream's current input latency.
// capture.Stream satisfies it.
type TimingSource interface {
	Latency(ctx context.Context) (time.Duration, error)
}

// Result describes one resync cycle.
type Result struct {
	Skipped bool          // no timing answer, cursor untouched
	Latency time.Duration // reported latency when not skipped
	Samples int           // distance placed between read and write cursors
}

// Resynchronizer repositions the read cursor of one buffer.
type Resynchronizer struct {
	buf        *ringbuf.Buffer
	timing     TimingSource
	sampleRate int

	cycles  atomic.Uint64
	skipped atomic.Uint64
}

// New returns a resynchronizer for buf driven by timing.
func New(buf *ringbuf.Buffer, timing TimingSource, sampleRate int) *Resynchronizer {
	if sampleRate <= 0 {
		sampleRate = capture.DefaultSampleRate
	}
	return &Resynchronizer{
		buf:        buf,
		timing:     timing,
		sampleRate: sampleRate,
	}
}

// SamplesFor converts a latency to a whole number of samples at rate,
// truncating, and clamps the result to [0, limit].
func SamplesFor(latency time.Duration, rate, limit int) int {
	us := float64(latency.Microseconds())
	samples := int(us / 1_000_000 * float64(rate))
	return max(0, min(samples, limit))
}

// Cycle performs one resync. A timing failure is not fatal: the cycle is
// skipped and the read cursor stays where it is. Only a cancelled ctx is
// returned as an error.
func (r *Resynchronizer) Cycle(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r.cycles.Add(1)

	latency, err := r.timing.Latency(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		r.skipped.Add(1)
		if !errors.Is(err, capture.ErrTimingUnavailable) {
			log.Debugf("Resync: timing query failed, skipping: %v", err)
		}
		return Result{Skipped: true}, nil
	}

	samples := SamplesFor(latency, r.sampleRate, r.buf.Capacity())
	r.buf.SeekRelative(samples)
	return Result{Latency: latency, Samples: samples}, nil
}

// Flush discards the backlog and keeps only the most recent keep of audio.
// A zero keep uses DefaultFlushKeep.
func (r *Resynchronizer) Flush(keep time.Duration) int {
	if keep <= 0 {
		keep = DefaultFlushKeep
	}
	samples := SamplesFor(keep, r.sampleRate, r.buf.Capacity())
	r.buf.SeekRelative(samples)
	log.Debugf("Resync: flushed, keeping %d samples", samples)
	return samples
}

// Cycles returns the number of cycles run and how many of them were skipped.
func (r *Resynchronizer) Cycles() (total, skipped uint64) {
	return r.cycles.Load(), r.skipped.Load()
}
