// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"spectrogram/internal/analysis"
	applog "spectrogram/internal/log"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Capture   CaptureConfig   `yaml:"capture"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Display   DisplayConfig   `yaml:"display"`
	Gate      GateConfig      `yaml:"gate"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// CaptureConfig selects the audio backend and monitor source.
type CaptureConfig struct {
	Backend         string        `yaml:"backend"`           // "miniaudio", "portaudio" or "wavfile".
	Driver          string        `yaml:"driver"`            // miniaudio backend: "auto", "pulseaudio", "alsa", "wasapi"...
	Device          string        `yaml:"device"`            // Preferred source name (exact, then substring). Empty picks the first monitor.
	File            string        `yaml:"file"`              // WAV file for the wavfile backend.
	SampleRate      int           `yaml:"sample_rate"`       // Hz.
	Channels        int           `yaml:"channels"`          // Interleaved channels requested from the device.
	FramesPerBuffer int           `yaml:"frames_per_buffer"` // Frames per capture callback.
	BufferSeconds   int           `yaml:"buffer_seconds"`    // Ring buffer history.
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`     // How long Connect waits for audio.
	LowLatency      bool          `yaml:"low_latency"`       // PortAudio: request the device's low input latency.
	PeriodMillis    int           `yaml:"period_ms"`         // miniaudio period size.
	Periods         int           `yaml:"periods"`           // miniaudio period count.
}

// AnalysisConfig shapes spectral frames.
type AnalysisConfig struct {
	NumBins         int           `yaml:"n_samples"`        // Frame length n; the transform size is 2n.
	WindowMillis    int           `yaml:"window_ms"`        // Fixed analysis window length.
	WindowPolicy    string        `yaml:"window_policy"`    // "fixed" or "adaptive".
	FFTWindow       string        `yaml:"fft_window"`       // Window function name, e.g. "hamming", "hann".
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Time between frames.
}

// DisplayConfig holds consumer-side rendering settings.
type DisplayConfig struct {
	DBOffset       float64       `yaml:"db_offset"`       // Added to every bin's dB value.
	DBMax          float64       `yaml:"db_max"`          // dB value rendered at full intensity.
	FlushThreshold time.Duration `yaml:"flush_threshold"` // Flush when more than this much audio is unread.
}

// GateConfig configures the noise gate applied before publishing.
type GateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"` // 0.0-1.0 of full scale.
}

// RecordingConfig holds settings for recording the captured monitor to WAV.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// TransportConfig holds settings for publishing frames over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`  // Also serves /metrics.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send frames as UDP packets.
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between packets.
	MetricsEnabled   bool          `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration from the YAML file at path. If path is empty
// it tries "config.yaml" and falls back to built-in defaults. Environment
// overrides are applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	cc := c.Capture
	check(slices.Contains(Backends, cc.Backend), "capture.backend %q must be one of %v", cc.Backend, Backends)
	check(cc.Backend != "wavfile" || cc.File != "", "capture.file must be set for the wavfile backend")
	check(cc.SampleRate >= MinSampleRate && cc.SampleRate <= MaxSampleRate,
		"capture.sample_rate %d outside [%d, %d]", cc.SampleRate, MinSampleRate, MaxSampleRate)
	check(cc.Channels == 2, "capture.channels must be 2 (stereo monitor), got %d", cc.Channels)
	check(cc.FramesPerBuffer > 0 && cc.FramesPerBuffer <= MaxBufferFrames,
		"capture.frames_per_buffer %d outside [1, %d]", cc.FramesPerBuffer, MaxBufferFrames)
	check(cc.BufferSeconds > 0, "capture.buffer_seconds must be positive")
	check(cc.ReadyTimeout > 0, "capture.ready_timeout must be positive")
	check(cc.PeriodMillis > 0 && cc.Periods > 0, "capture.period_ms and capture.periods must be positive")

	ac := c.Analysis
	check(ac.NumBins > 0 && ac.NumBins <= MaxNumBins, "analysis.n_samples %d outside [1, %d]", ac.NumBins, MaxNumBins)
	check(ac.WindowMillis > 0, "analysis.window_ms must be positive")
	if _, err := analysis.ParseWindowPolicy(ac.WindowPolicy); err != nil {
		errs = append(errs, fmt.Errorf("analysis.window_policy: %w", err))
	}
	if _, err := analysis.ParseWindowFunc(ac.FFTWindow); err != nil {
		errs = append(errs, fmt.Errorf("analysis.fft_window: %w", err))
	}
	check(ac.RefreshInterval > 0, "analysis.refresh_interval must be positive")

	dc := c.Display
	check(dc.DBOffset >= MinDBOffset && dc.DBOffset <= MaxDBOffset,
		"display.db_offset %.1f outside [%d, %d]", dc.DBOffset, MinDBOffset, MaxDBOffset)
	check(dc.DBMax > 0 && dc.DBMax <= MaxDBMax, "display.db_max %.1f outside (0, %d]", dc.DBMax, MaxDBMax)
	check(dc.FlushThreshold >= 0, "display.flush_threshold must not be negative")

	check(c.Gate.Threshold >= 0 && c.Gate.Threshold <= 1, "gate.threshold %.3f outside [0, 1]", c.Gate.Threshold)

	check(!c.Recording.Enabled || c.Recording.OutputDir != "", "recording.output_dir must be set when recording is enabled")

	tc := c.Transport
	if tc.WebSocketEnabled {
		if _, _, err := net.SplitHostPort(tc.WebSocketAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.websocket_address %q: %w", tc.WebSocketAddress, err))
		}
	}
	if tc.UDPEnabled {
		if _, _, err := net.SplitHostPort(tc.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address %q: %w", tc.UDPTargetAddress, err))
		}
		check(tc.UDPSendInterval > 0, "transport.udp_send_interval must be positive when UDP is enabled")
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Unparseable values are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	boolVar := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				applog.Warnf("configuration: ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = b
			applog.Debugf("configuration: Overriding from %s: %v", name, b)
		}
	}
	stringVar := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok {
			*dst = val
			applog.Debugf("configuration: Overriding from %s: %s", name, val)
		}
	}
	durationVar := func(name string, dst *time.Duration) {
		if val, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				applog.Warnf("configuration: ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = d
			applog.Debugf("configuration: Overriding from %s: %s", name, d)
		}
	}

	// ENV_{...} general overrides.
	boolVar("ENV_DEBUG", &c.Debug)
	stringVar("ENV_LOG_LEVEL", &c.LogLevel)

	// Capture.
	stringVar("ENV_BACKEND", &c.Capture.Backend)
	stringVar("ENV_DEVICE", &c.Capture.Device)

	// ENV_WS_{...} and ENV_UDP_{...} are specific to the transport layer.
	stringVar("ENV_WS_ADDRESS", &c.Transport.WebSocketAddress)
	boolVar("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	stringVar("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	durationVar("ENV_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
}
