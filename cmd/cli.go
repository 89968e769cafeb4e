// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"time"

	"spectrogram/internal/config"
	applog "spectrogram/internal/log"
	"spectrogram/pkg/build"

	"github.com/spf13/cobra"
)

// options holds command line values. Only flags the user set override the
// configuration file.
type options struct {
	configPath string

	backend         string
	driver          string
	device          string
	file            string
	sampleRate      int
	framesPerBuffer int
	lowLatency      bool

	numBins      int
	windowPolicy string
	fftWindow    string

	logLevel string
	verbose  bool

	record bool
	output string
}

// app is the state shared by the commands once flags are parsed.
type app struct {
	opts options
	cfg  *config.Config
}

// NewRootCommand builds the command tree. Commands run under ctx, which the
// caller cancels on SIGINT/SIGTERM.
func NewRootCommand(ctx context.Context) *cobra.Command {
	buildInfo := build.Current()
	a := &app{}
	opts := &a.opts

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(loaded, opts, cmd.Flags().Changed); err != nil {
				return err
			}
			if err := configureLogging(loaded); err != nil {
				return err
			}
			a.cfg = loaded
			return nil
		},
	}
	rootCmd.SetContext(ctx)
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.RunE = a.runLive
	rootCmd.Flags().Bool("pick", false, "Choose the capture source interactively")
	rootCmd.AddCommand(
		newListCommand(a),
		newServeCommand(a),
		newAnalyzeCommand(a),
	)

	// Configuration
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "C", "",
		"Path to a YAML configuration file (default: ./config.yaml if present)")

	// Capture
	flags.StringVarP(&opts.backend, "backend", "B", config.DefaultBackend,
		"Audio backend: miniaudio, portaudio or wavfile")
	flags.StringVar(&opts.driver, "driver", config.DefaultDriver,
		"miniaudio driver: auto, pulseaudio, alsa, wasapi, coreaudio, jack")
	flags.StringVarP(&opts.device, "device", "d", "",
		"Source name to capture (exact, then substring). Empty picks the first monitor. Use 'list' to see sources.")
	flags.StringVarP(&opts.file, "file", "f", "",
		"WAV file replayed by the wavfile backend")
	flags.IntVarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&opts.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.BoolVarP(&opts.lowLatency, "low-latency", "l", false,
		"PortAudio: use the device's low input latency")

	// Analysis
	flags.IntVarP(&opts.numBins, "bins", "n", config.DefaultNumBins,
		"Frequency bins per frame; the transform length is twice this")
	flags.StringVar(&opts.windowPolicy, "window-policy", config.DefaultWindowPolicy,
		"Analysis window sizing: fixed or adaptive")
	flags.StringVar(&opts.fftWindow, "fft-window", config.DefaultFFTWindow,
		"Window function: hamming, hann, blackman, ...")

	// Recording Configuration
	flags.BoolVarP(&opts.record, "record", "r", false,
		"Record the captured monitor to a WAV file")
	flags.StringVarP(&opts.output, "output", "o", "",
		"Recording file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in the output directory")

	// Debug Configuration
	flags.StringVar(&opts.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	return rootCmd
}

// applyFlags copies every flag the user set onto cfg and revalidates.
func applyFlags(cfg *config.Config, opts *options, changed func(name string) bool) error {
	if changed("backend") {
		cfg.Capture.Backend = opts.backend
	}
	if changed("driver") {
		cfg.Capture.Driver = opts.driver
	}
	if changed("device") {
		cfg.Capture.Device = opts.device
	}
	if changed("file") {
		cfg.Capture.File = opts.file
		if !changed("backend") {
			cfg.Capture.Backend = "wavfile"
		}
	}
	if changed("sample-rate") {
		cfg.Capture.SampleRate = opts.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Capture.FramesPerBuffer = opts.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Capture.LowLatency = opts.lowLatency
	}
	if changed("bins") {
		cfg.Analysis.NumBins = opts.numBins
	}
	if changed("window-policy") {
		cfg.Analysis.WindowPolicy = opts.windowPolicy
	}
	if changed("fft-window") {
		cfg.Analysis.FFTWindow = opts.fftWindow
	}
	if changed("record") {
		cfg.Recording.Enabled = opts.record
	}
	if changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if changed("verbose") && opts.verbose {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func configureLogging(cfg *config.Config) error {
	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
	return nil
}

// recordingName returns the default recording file name for t.
func recordingName(t time.Time) string {
	return "recording-" + t.UTC().Format("02-01-2006-150405") + ".wav"
}

// Execute runs the command line under ctx.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand(ctx)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
