// SPDX-License-Identifier: MIT
/*
Package capture defines the boundary between the spectrogram core and the
audio subsystem, and the feed adapter that turns delivered stereo batches
into mono samples in the ring buffer.

Backends (PortAudio, miniaudio, WAV replay) implement Transport and Stream.
Each backend registers a BatchHandler with its own callback mechanism; the
handler is the only core code that runs on the audio thread.
*/
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultSampleRate      = 44100 // Hz, fixed for the capture session
	DefaultChannels        = 2     // interleaved stereo in, mono out
	DefaultFramesPerBuffer = 512
	BytesPerFrame          = DefaultChannels * 2 // S16LE stereo
)

var (
	// ErrTimingUnavailable is returned by Stream.Latency when the transport has
	// no timing answer yet.
	ErrTimingUnavailable = errors.New("capture: timing information unavailable")

	// ErrNoMonitorSource is returned when no source mirrors an output device.
	ErrNoMonitorSource = errors.New("capture: no monitor source found")

	// ErrStreamStopped reports a stream that stopped without being asked to.
	ErrStreamStopped = errors.New("capture: stream stopped unexpectedly")
)

// Source describes a capture source offered by a transport.
type Source struct {
	Index             int
	Name              string
	Description       string
	Monitor           bool // mirrors another device's output
	MaxInputChannels  int
	DefaultSampleRate float64
}

func (s Source) String() string {
	return fmt.Sprintf("[%d] %s", s.Index, s.Name)
}

// StreamSpec is the sample format requested from a transport.
type StreamSpec struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// DefaultStreamSpec returns 44.1 kHz interleaved stereo.
func DefaultStreamSpec() StreamSpec {
	return StreamSpec{
		SampleRate:      DefaultSampleRate,
		Channels:        DefaultChannels,
		FramesPerBuffer: DefaultFramesPerBuffer,
	}
}

// Batch is one notification from the audio subsystem. Peek exposes the
// interleaved S16LE stereo payload; Drop acknowledges it. A batch that is not
// dropped is considered unread by the transport.
type Batch interface {
	Peek() ([]byte, error)
	Drop()
}

// SampleBatch is a Batch that also hands over its payload as interleaved
// int16, sparing the feed the S16LE decode.
type SampleBatch interface {
	Batch
	Samples() []int16
}

// BatchHandler is registered with a transport and invoked on the audio thread.
type BatchHandler func(Batch)

// Stream is an open capture stream.
type Stream interface {
	Start() error
	// Ready blocks until the stream delivers audio or ctx is done.
	Ready(ctx context.Context) error
	// Latency reports the current input latency, or ErrTimingUnavailable.
	Latency(ctx context.Context) (time.Duration, error)
	Stop() error
	Close() error
}

// Transport is an audio subsystem able to enumerate sources and open streams.
type Transport interface {
	Name() string
	Sources(ctx context.Context) ([]Source, error)
	// Open prepares a stream for src. handler receives every batch; onError
	// receives runtime failures (stream died, device lost).
	Open(ctx context.Context, src Source, spec StreamSpec, handler BatchHandler, onError func(error)) (Stream, error)
}

// RuntimeError is a transport failure during capture. The session owning the
// stream is torn down when one is reported.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// BytesBatch adapts a byte slice delivered by a callback into a Batch.
// The zero value is an empty batch.
type BytesBatch struct {
	Data    []byte
	Err     error
	dropped bool
}

func (b *BytesBatch) Peek() ([]byte, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Data, nil
}

func (b *BytesBatch) Drop() {
	b.dropped = true
}

// Dropped reports whether the batch was acknowledged.
func (b *BytesBatch) Dropped() bool {
	return b.dropped
}

// Reset prepares the batch for reuse by a callback.
func (b *BytesBatch) Reset(data []byte) {
	b.Data = data
	b.Err = nil
	b.dropped = false
}

// SamplesBatch adapts an interleaved int16 slice delivered by a callback into
// a SampleBatch. Peek encodes S16LE lazily into a buffer kept across Resets.
type SamplesBatch struct {
	Data    []int16
	encoded []byte
	fresh   bool // encoded holds Data
	dropped bool
}

// NewSamplesBatch returns a batch whose S16LE buffer holds capacity samples
// without growing.
func NewSamplesBatch(capacity int) *SamplesBatch {
	return &SamplesBatch{encoded: make([]byte, 0, 2*capacity)}
}

func (b *SamplesBatch) Samples() []int16 {
	return b.Data
}

func (b *SamplesBatch) Peek() ([]byte, error) {
	if !b.fresh {
		b.encoded = b.encoded[:0]
		for _, v := range b.Data {
			b.encoded = binary.LittleEndian.AppendUint16(b.encoded, uint16(v))
		}
		b.fresh = true
	}
	return b.encoded, nil
}

func (b *SamplesBatch) Drop() {
	b.dropped = true
}

// Dropped reports whether the batch was acknowledged.
func (b *SamplesBatch) Dropped() bool {
	return b.dropped
}

// Reset prepares the batch for reuse by a callback.
func (b *SamplesBatch) Reset(data []int16) {
	b.Data = data
	b.fresh = false
	b.dropped = false
}
