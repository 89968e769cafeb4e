// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for the capture pipeline.
const (
	DefaultBackend          = "miniaudio" // lists PulseAudio monitor sources on Linux
	DefaultDriver           = "auto"      // miniaudio backend selection
	DefaultSampleRate       = 44100
	DefaultChannels         = 2
	DefaultFramesPerBuffer  = 512
	DefaultBufferSeconds    = 20
	DefaultReadyTimeout     = 5 * time.Second
	DefaultPeriodMillis     = 10
	DefaultPeriods          = 3
	DefaultNumBins          = 512
	DefaultWindowMillis     = 25
	DefaultWindowPolicy     = "fixed"
	DefaultFFTWindow        = "hamming"
	DefaultRefreshInterval  = 25 * time.Millisecond
	DefaultFlushThreshold   = 2500 * time.Millisecond
	DefaultDBOffset         = 0.0
	DefaultDBMax            = 18.0
	DefaultGateThreshold    = 0.001
	DefaultWebSocketAddress = ":8080"
	DefaultUDPTarget        = "127.0.0.1:9090"
	DefaultUDPInterval      = 33 * time.Millisecond
	DefaultRecordingDir     = "./recordings"

	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
	MaxNumBins      = 16384
	MinDBOffset     = -80
	MaxDBOffset     = 80
	MaxDBMax        = 100
)

// Backends accepted by capture.backend.
var Backends = []string{"miniaudio", "portaudio", "wavfile"}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			Backend:         DefaultBackend,
			Driver:          DefaultDriver,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			FramesPerBuffer: DefaultFramesPerBuffer,
			BufferSeconds:   DefaultBufferSeconds,
			ReadyTimeout:    DefaultReadyTimeout,
			PeriodMillis:    DefaultPeriodMillis,
			Periods:         DefaultPeriods,
		},
		Analysis: AnalysisConfig{
			NumBins:         DefaultNumBins,
			WindowMillis:    DefaultWindowMillis,
			WindowPolicy:    DefaultWindowPolicy,
			FFTWindow:       DefaultFFTWindow,
			RefreshInterval: DefaultRefreshInterval,
		},
		Display: DisplayConfig{
			DBOffset:       DefaultDBOffset,
			DBMax:          DefaultDBMax,
			FlushThreshold: DefaultFlushThreshold,
		},
		Gate: GateConfig{
			Threshold: DefaultGateThreshold,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
		},
		Transport: TransportConfig{
			WebSocketEnabled: true,
			WebSocketAddress: DefaultWebSocketAddress,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPInterval,
			MetricsEnabled:   true,
		},
	}
}
