// SPDX-License-Identifier: MIT
package wavfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"spectrogram/internal/capture"
	"spectrogram/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmFormat = 1 // WAVE_FORMAT_PCM

// Recorder writes captured S16LE stereo batches to a 16-bit WAV file.
type Recorder struct {
	sampleRate      int
	channels        int
	framesPerBuffer int

	mu          sync.Mutex
	isRecording atomic.Bool
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer
	frames      atomic.Uint64
	writeErr    error
}

// NewRecorder returns an idle recorder for the given stream layout.
func NewRecorder(spec capture.StreamSpec) *Recorder {
	return &Recorder{
		sampleRate:      spec.SampleRate,
		channels:        spec.Channels,
		framesPerBuffer: spec.FramesPerBuffer,
	}
}

func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, 16, r.channels, pcmFormat)
	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.channels,
			SampleRate:  r.sampleRate,
		},
		Data:           make([]int, r.framesPerBuffer*r.channels),
		SourceBitDepth: 16,
	}
	r.frames.Store(0)
	r.writeErr = nil

	r.isRecording.Store(true)
	log.Infof("Recording to %s", filename)
	return nil
}

func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			r.outputFile.Close()
			r.wavEncoder, r.outputFile = nil, nil
			return err
		}
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			r.outputFile = nil
			return err
		}
		r.outputFile = nil
	}

	log.Infof("Recording stopped after %d frames", r.frames.Load())
	return r.writeErr
}

// Recording reports whether batches are currently written.
func (r *Recorder) Recording() bool {
	return r.isRecording.Load()
}

// Frames returns the number of frames written since StartRecording.
func (r *Recorder) Frames() uint64 {
	return r.frames.Load()
}

// Write appends interleaved S16LE samples. It is a no-op while idle. The
// first write error is kept and returned by StopRecording.
func (r *Recorder) Write(data []byte) {
	if !r.isRecording.Load() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil || r.writeErr != nil {
		return
	}

	frameBytes := r.channels * 2
	samples := (len(data) / frameBytes) * r.channels
	if cap(r.sampleBuf.Data) < samples {
		r.sampleBuf.Data = make([]int, samples)
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:samples]
	for i := range samples {
		r.sampleBuf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		r.writeErr = err
		log.Errorf("Recording write failed: %v", err)
		return
	}
	r.frames.Add(uint64(samples / r.channels))
}

// Tee wraps a transport so every batch it delivers is also recorded.
func Tee(inner capture.Transport, rec *Recorder) capture.Transport {
	return &teeTransport{Transport: inner, rec: rec}
}

type teeTransport struct {
	capture.Transport
	rec *Recorder
}

func (t *teeTransport) Open(ctx context.Context, src capture.Source, spec capture.StreamSpec, handler capture.BatchHandler, onError func(error)) (capture.Stream, error) {
	return t.Transport.Open(ctx, src, spec, func(b capture.Batch) {
		if data, err := b.Peek(); err == nil {
			t.rec.Write(data)
		}
		handler(b)
	}, onError)
}
