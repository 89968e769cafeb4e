// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"spectrogram/internal/analysis"
	"spectrogram/internal/capture"
	"spectrogram/internal/session"
)

// StreamSpec returns the stream format requested from the backend.
func (c *Config) StreamSpec() capture.StreamSpec {
	return capture.StreamSpec{
		SampleRate:      c.Capture.SampleRate,
		Channels:        c.Capture.Channels,
		FramesPerBuffer: c.Capture.FramesPerBuffer,
	}
}

// FrameOptions returns the frame builder settings. Validate must have passed.
func (c *Config) FrameOptions() analysis.FrameOptions {
	policy, _ := analysis.ParseWindowPolicy(c.Analysis.WindowPolicy)
	window, _ := analysis.ParseWindowFunc(c.Analysis.FFTWindow)
	return analysis.FrameOptions{
		NumBins:      c.Analysis.NumBins,
		SampleRate:   c.Capture.SampleRate,
		WindowLength: analysis.WindowLengthFor(time.Duration(c.Analysis.WindowMillis)*time.Millisecond, c.Capture.SampleRate),
		Policy:       policy,
		Window:       window,
	}
}

// SessionOptions returns the options for session.Connect, without metrics.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		NumBins:         c.Analysis.NumBins,
		SampleRate:      c.Capture.SampleRate,
		Channels:        c.Capture.Channels,
		FramesPerBuffer: c.Capture.FramesPerBuffer,
		BufferSeconds:   c.Capture.BufferSeconds,
		DeviceName:      c.Capture.Device,
		ReadyTimeout:    c.Capture.ReadyTimeout,
		Frame:           c.FrameOptions(),
	}
}

// FlushSamples converts the display flush threshold to samples, 0 when off.
func (c *Config) FlushSamples() int {
	return int(c.Display.FlushThreshold.Seconds() * float64(c.Capture.SampleRate))
}
