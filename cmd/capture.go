// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spectrogram/internal/audio"
	"spectrogram/internal/audio/miniaudio"
	"spectrogram/internal/audio/wavfile"
	"spectrogram/internal/capture"
	"spectrogram/internal/config"
	applog "spectrogram/internal/log"
	"spectrogram/internal/metrics"
	"spectrogram/internal/session"
)

// newTransport returns the configured backend and a cleanup to run once every
// stream opened through it is closed.
var newTransport = func(cfg *config.Config, replay wavfile.Options) (capture.Transport, func(), error) {
	switch cfg.Capture.Backend {
	case "portaudio":
		if err := audio.Initialize(); err != nil {
			return nil, nil, err
		}
		return audio.NewTransport(cfg.Capture.LowLatency), func() {
			if err := audio.Terminate(); err != nil {
				applog.Warnf("%v", err)
			}
		}, nil

	case "wavfile":
		return wavfile.NewTransport(cfg.Capture.File, replay), func() {}, nil

	case "miniaudio":
		if _, err := miniaudio.ParseBackend(cfg.Capture.Driver); err != nil {
			return nil, nil, err
		}
		return miniaudio.NewTransport(miniaudio.Options{
			Backend:      cfg.Capture.Driver,
			PeriodMillis: cfg.Capture.PeriodMillis,
			Periods:      cfg.Capture.Periods,
		}), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Capture.Backend)
}

// capturePipeline is a connected session plus the resources it depends on.
type capturePipeline struct {
	Session  *session.Session
	Recorder *wavfile.Recorder

	recordPath string
	cleanup    func()
}

// connect opens the backend, optionally tees it into a recorder and connects
// a session. m may be nil.
func (a *app) connect(ctx context.Context, replay wavfile.Options, m *metrics.SessionMetrics) (*capturePipeline, error) {
	cfg := a.cfg
	transport, cleanup, err := newTransport(cfg, replay)
	if err != nil {
		return nil, err
	}
	p := &capturePipeline{cleanup: cleanup}

	if cfg.Recording.Enabled {
		p.Recorder = wavfile.NewRecorder(cfg.StreamSpec())
		p.recordPath = a.recordingPath(time.Now())
		if err := os.MkdirAll(filepath.Dir(p.recordPath), 0o755); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
		if err := p.Recorder.StartRecording(p.recordPath); err != nil {
			cleanup()
			return nil, err
		}
		transport = wavfile.Tee(transport, p.Recorder)
	}

	opts := cfg.SessionOptions()
	opts.Metrics = m
	sess, err := session.Connect(ctx, transport, opts)
	if err != nil {
		p.stopRecording()
		cleanup()
		return nil, err
	}
	p.Session = sess
	return p, nil
}

func (a *app) recordingPath(now time.Time) string {
	name := a.opts.output
	if name == "" {
		name = recordingName(now)
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.cfg.Recording.OutputDir, name)
}

func (p *capturePipeline) stopRecording() {
	if p.Recorder == nil || !p.Recorder.Recording() {
		return
	}
	if err := p.Recorder.StopRecording(); err != nil {
		applog.Errorf("Error stopping recording: %v", err)
		return
	}
	applog.Infof("Recording saved to: %s (%d frames)", p.recordPath, p.Recorder.Frames())
}

// Close disconnects the session, finalizes any recording and releases the
// backend.
func (p *capturePipeline) Close() error {
	err := p.Session.Disconnect()
	p.stopRecording()
	p.cleanup()
	return err
}
