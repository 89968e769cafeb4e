// SPDX-License-Identifier: MIT
package capture

import (
	"encoding/binary"
	"sync/atomic"

	"spectrogram/internal/ringbuf"
)

// DefaultChunkSize is the mono scratch length used between batch and ring.
const DefaultChunkSize = 1024

// Downmix folds one stereo frame to mono as l/2 + r/2 with truncating integer
// division. This is not a rounded average: (1, 1) yields 0.
func Downmix(l, r int16) int16 {
	return l/2 + r/2
}

// Feed is the capture callback adapter. It owns a fixed scratch buffer so the
// audio thread never allocates.
type Feed struct {
	buf     *ringbuf.Buffer
	scratch []int16

	frames  atomic.Uint64 // stereo frames folded into the ring
	batches atomic.Uint64
	peak    atomic.Int32 // mono peak of the last batch
}

// NewFeed returns a feed writing into buf, moving at most chunk mono samples
// per ring append.
func NewFeed(buf *ringbuf.Buffer, chunk int) *Feed {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Feed{
		buf:     buf,
		scratch: make([]int16, chunk),
	}
}

// Consume peeks a batch, downmixes every complete stereo frame into the ring
// buffer and drops the batch. A trailing partial frame is ignored. A
// SampleBatch is read through Samples.
//
// Hot path: no allocation, no logging.
func (f *Feed) Consume(b Batch) error {
	if sb, ok := b.(SampleBatch); ok {
		f.ConsumeFrames(sb.Samples())
		sb.Drop()
		return nil
	}

	data, err := b.Peek()
	if err != nil {
		return &RuntimeError{Op: "peek", Err: err}
	}
	defer b.Drop()

	f.batches.Add(1)

	frames := len(data) / BytesPerFrame
	n := 0
	var peak int32
	for i := range frames {
		off := i * BytesPerFrame
		l := int16(binary.LittleEndian.Uint16(data[off:]))
		r := int16(binary.LittleEndian.Uint16(data[off+2:]))
		m := Downmix(l, r)
		peak = maxAbs(peak, m)
		f.scratch[n] = m
		n++
		if n == len(f.scratch) {
			f.buf.Append(f.scratch)
			n = 0
		}
	}
	if n > 0 {
		f.buf.Append(f.scratch[:n])
	}

	f.frames.Add(uint64(frames))
	f.peak.Store(peak)
	return nil
}

// ConsumeFrames downmixes interleaved int16 stereo into the ring buffer. It
// serves SampleBatch deliveries (PortAudio).
func (f *Feed) ConsumeFrames(in []int16) {
	f.batches.Add(1)

	frames := len(in) / DefaultChannels
	n := 0
	var peak int32
	for i := range frames {
		m := Downmix(in[2*i], in[2*i+1])
		peak = maxAbs(peak, m)
		f.scratch[n] = m
		n++
		if n == len(f.scratch) {
			f.buf.Append(f.scratch)
			n = 0
		}
	}
	if n > 0 {
		f.buf.Append(f.scratch[:n])
	}

	f.frames.Add(uint64(frames))
	f.peak.Store(peak)
}

// Frames returns the number of stereo frames folded so far.
func (f *Feed) Frames() uint64 {
	return f.frames.Load()
}

// Peak returns the absolute mono peak of the most recent batch.
func (f *Feed) Peak() int32 {
	return f.peak.Load()
}

// Batches returns the number of batches consumed so far.
func (f *Feed) Batches() uint64 {
	return f.batches.Load()
}
