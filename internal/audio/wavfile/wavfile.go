// SPDX-License-Identifier: MIT
/*
Package wavfile replays a WAV file as a capture transport.

The file is offered as a single monitor source and delivered in
FramesPerBuffer-sized stereo batches from a goroutine, paced at Speed times
real time (unpaced when Speed is 0). Mono files are duplicated to both
channels, extra channels are dropped and 8, 24 and 32-bit PCM is scaled to
16 bits. Reaching the end of the file reports a runtime error wrapping
ErrEndOfFile unless Loop is set.
*/
package wavfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"spectrogram/internal/capture"
	"spectrogram/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrEndOfFile   = errors.New("wavfile: end of file")
	ErrInvalidFile = errors.New("wavfile: not a readable PCM WAV file")
)

// Options controls replay.
type Options struct {
	Speed float64 // 1 is real time, 0 delivers as fast as the reader keeps up
	Loop  bool    // rewind at end of file instead of stopping
}

// Transport replays one WAV file.
type Transport struct {
	path string
	opts Options
}

var _ capture.Transport = (*Transport)(nil)

// NewTransport returns a transport replaying path.
func NewTransport(path string, opts Options) *Transport {
	return &Transport{path: path, opts: opts}
}

func (t *Transport) Name() string {
	return "wavfile"
}

// Format describes a WAV file's PCM layout.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Inspect reads the header of the WAV file at path.
func Inspect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	dur, _ := dec.Duration()
	return Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// Sources offers the file as one monitor source.
func (t *Transport) Sources(ctx context.Context) ([]capture.Source, error) {
	format, err := Inspect(t.path)
	if err != nil {
		return nil, err
	}
	return []capture.Source{{
		Index: 0,
		Name:  "Monitor of " + filepath.Base(t.path),
		Description: fmt.Sprintf("%d Hz, %d ch, %d-bit, %v",
			format.SampleRate, format.Channels, format.BitDepth, format.Duration.Round(time.Millisecond)),
		Monitor:           true,
		MaxInputChannels:  max(format.Channels, capture.DefaultChannels),
		DefaultSampleRate: float64(format.SampleRate),
	}}, nil
}

// Open prepares replay. The file's sample rate must match spec.
func (t *Transport) Open(ctx context.Context, src capture.Source, spec capture.StreamSpec, handler capture.BatchHandler, onError func(error)) (capture.Stream, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, t.path)
	}
	if int(dec.SampleRate) != spec.SampleRate {
		f.Close()
		return nil, fmt.Errorf("wavfile: %s is %d Hz, stream wants %d Hz", t.path, dec.SampleRate, spec.SampleRate)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavfile: seeking to PCM data: %w", err)
	}

	frames := spec.FramesPerBuffer
	if frames <= 0 {
		frames = capture.DefaultFramesPerBuffer
	}
	chans := int(dec.NumChans)

	s := &stream{
		file:     f,
		dec:      dec,
		name:     src.Name,
		opts:     t.opts,
		handler:  handler,
		onError:  onError,
		chans:    chans,
		depth:    int(dec.BitDepth),
		period:   time.Duration(float64(frames) / float64(spec.SampleRate) * float64(time.Second)),
		pcm:      &audio.IntBuffer{Data: make([]int, frames*chans), Format: dec.Format()},
		scratch:  make([]byte, frames*capture.BytesPerFrame),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	log.Debugf("WAV: opened %s (%d Hz, %d ch, %d-bit, batch %v)", t.path, dec.SampleRate, chans, dec.BitDepth, s.period)
	return s, nil
}

type stream struct {
	file    *os.File
	dec     *wav.Decoder
	name    string
	opts    Options
	handler capture.BatchHandler
	onError func(error)

	chans, depth int
	period       time.Duration

	pcm     *audio.IntBuffer
	scratch []byte
	batch   capture.BytesBatch

	readyOnce sync.Once
	ready     chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	finished chan struct{}
	closed   atomic.Bool
	batches  atomic.Uint64
}

func (s *stream) Start() error {
	if s.closed.Load() {
		return fmt.Errorf("wavfile: %s: %w", s.name, capture.ErrStreamStopped)
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	go s.run()
	return nil
}

func (s *stream) run() {
	defer close(s.finished)

	var ticker *time.Ticker
	if s.opts.Speed > 0 {
		ticker = time.NewTicker(time.Duration(float64(s.period) / s.opts.Speed))
		defer ticker.Stop()
	}

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := s.dec.PCMBuffer(s.pcm)
		if err != nil {
			s.onError(&capture.RuntimeError{Op: "read", Err: err})
			return
		}
		if n == 0 {
			if s.opts.Loop {
				if err := s.dec.Rewind(); err != nil {
					s.onError(&capture.RuntimeError{Op: "rewind", Err: err})
					return
				}
				continue
			}
			log.Debugf("WAV: %s finished after %d batches", s.name, s.batches.Load())
			s.onError(&capture.RuntimeError{Op: "read", Err: ErrEndOfFile})
			return
		}

		s.batch.Reset(s.encode(s.pcm.Data[:n]))
		s.handler(&s.batch)
		s.batches.Add(1)
		s.readyOnce.Do(func() { close(s.ready) })

		if ticker != nil {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}
}

// encode writes whole frames of pcm as S16LE stereo into scratch.
func (s *stream) encode(pcm []int) []byte {
	frames := len(pcm) / s.chans
	for i := range frames {
		l := to16(pcm[i*s.chans], s.depth)
		r := l
		if s.chans > 1 {
			r = to16(pcm[i*s.chans+1], s.depth)
		}
		off := i * capture.BytesPerFrame
		binary.LittleEndian.PutUint16(s.scratch[off:], uint16(l))
		binary.LittleEndian.PutUint16(s.scratch[off+2:], uint16(r))
	}
	return s.scratch[:frames*capture.BytesPerFrame]
}

// to16 scales a decoded sample of the given bit depth to signed 16 bits.
func to16(v, depth int) int16 {
	switch {
	case depth == 8:
		return int16((v - 128) << 8) // 8-bit WAV is unsigned
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}

func (s *stream) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.finished:
		select {
		case <-s.ready:
			return nil
		default:
		}
		return fmt.Errorf("wavfile: %s: %w", s.name, ErrEndOfFile)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latency is one batch period once replay has delivered audio.
func (s *stream) Latency(ctx context.Context) (time.Duration, error) {
	if s.batches.Load() == 0 {
		return 0, capture.ErrTimingUnavailable
	}
	return s.period, nil
}

func (s *stream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.finished
		}
	})
	return nil
}

func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.Stop()
	return s.file.Close()
}
