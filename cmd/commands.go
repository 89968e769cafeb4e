// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"spectrogram/internal/audio"
	"spectrogram/internal/audio/wavfile"
	"spectrogram/internal/capture"
	applog "spectrogram/internal/log"
	"spectrogram/internal/metrics"
	"spectrogram/internal/transport"
	"spectrogram/internal/transport/udp"
	"spectrogram/internal/tui"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// liveReplay loops WAV files so the live views keep running.
var liveReplay = wavfile.Options{Speed: 1, Loop: true}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List capture sources, marking monitors of output devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.list(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) list(ctx context.Context, w io.Writer) error {
	if a.cfg.Capture.Backend == "portaudio" {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer func() {
			if err := audio.Terminate(); err != nil {
				applog.Warnf("%v", err)
			}
		}()
		return audio.ListDevices(w)
	}

	t, cleanup, err := newTransport(a.cfg, liveReplay)
	if err != nil {
		return err
	}
	defer cleanup()

	sources, err := t.Sources(ctx)
	if err != nil {
		return err
	}
	writeSources(w, t.Name(), sources)
	return nil
}

func writeSources(w io.Writer, backend string, sources []capture.Source) {
	fmt.Fprintf(w, "\nAvailable Capture Sources (%s)\n\n", backend)
	if len(sources) == 0 {
		fmt.Fprintln(w, "No capture sources found.")
		return
	}
	for _, src := range sources {
		kind := "Input"
		if src.Monitor {
			kind = "Monitor"
		}
		fmt.Fprintf(w, "%s (%s)\n", src, kind)
		if src.Description != "" && src.Description != src.Name {
			fmt.Fprintf(w, "    %s\n", src.Description)
		}
		fmt.Fprintf(w, "    Input channels: %d, Default sample rate: %.0f Hz\n",
			src.MaxInputChannels, src.DefaultSampleRate)
		fmt.Fprintln(w)
	}
}

// runLive draws the spectrogram in the terminal.
func (a *app) runLive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	// The TUI owns the terminal: logs go to a file in debug mode, nowhere
	// otherwise.
	logFile, err := redirectLogs(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() {
		applog.SetOutput(os.Stderr)
		if logFile != nil {
			logFile.Close()
		}
	}()

	if pick, _ := cmd.Flags().GetBool("pick"); pick {
		t, cleanup, err := newTransport(cfg, liveReplay)
		if err != nil {
			return err
		}
		src, ok, err := tui.PickSource(ctx, t)
		cleanup()
		if err != nil || !ok {
			return err
		}
		cfg.Capture.Device = src.Name
	}

	p, err := a.connect(ctx, liveReplay, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	return tui.RunSpectrogram(ctx, p.Session, tui.Options{
		DBOffset:        cfg.Display.DBOffset,
		DBMax:           cfg.Display.DBMax,
		FlushSamples:    cfg.FlushSamples(),
		RefreshInterval: cfg.Analysis.RefreshInterval,
		SampleRate:      cfg.Capture.SampleRate,
	})
}

func redirectLogs(debug bool) (*os.File, error) {
	if !debug {
		applog.SetOutput(io.Discard)
		return nil, nil
	}
	f, err := os.OpenFile("debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	applog.SetOutput(f)
	return f, nil
}

func newServeCommand(a *app) *cobra.Command {
	var (
		wsAddress string
		udpTarget string
		gate      float64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Publish spectral frames over WebSocket and UDP without a UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc := &a.cfg.Transport
			if cmd.Flags().Changed("ws-address") {
				tc.WebSocketEnabled = wsAddress != ""
				tc.WebSocketAddress = wsAddress
			}
			if cmd.Flags().Changed("udp-target") {
				tc.UDPEnabled = udpTarget != ""
				tc.UDPTargetAddress = udpTarget
			}
			if cmd.Flags().Changed("gate") {
				a.cfg.Gate.Enabled = gate > 0
				a.cfg.Gate.Threshold = gate
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&wsAddress, "ws-address", "w", "",
		"WebSocket listen address, also serving /metrics and /healthz. Empty disables.")
	cmd.Flags().StringVarP(&udpTarget, "udp-target", "u", "",
		"Send frames as UDP packets to this host:port. Empty disables.")
	cmd.Flags().Float64VarP(&gate, "gate", "g", 0,
		"Noise gate threshold, 0.0-1.0 of full scale. 0 disables.")
	return cmd
}

// serve runs the headless frame loop until ctx is cancelled or the session
// fails.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	var (
		registry *prometheus.Registry
		m        *metrics.SessionMetrics
	)
	if cfg.Transport.MetricsEnabled {
		registry = prometheus.NewRegistry()
		var err error
		if m, err = metrics.NewSessionMetrics(registry); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	pubs, err := a.publishers(registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.CloseAll(pubs...); err != nil {
			applog.Warnf("Error closing publishers: %v", err)
		}
	}()

	p, err := a.connect(ctx, liveReplay, m)
	if err != nil {
		return err
	}
	defer p.Close()

	g := capture.NewGate(cfg.Gate.Threshold)
	if !cfg.Gate.Enabled {
		g.Disable()
	}

	pump, err := transport.NewPump(p.Session, cfg.Analysis.RefreshInterval, g, m, pubs...)
	if err != nil {
		return err
	}
	pump.Start(ctx)
	defer pump.Stop()

	applog.Infof("Serving frames from %q", p.Session.SourceName())

	select {
	case <-ctx.Done():
	case <-p.Session.Done():
		return p.Session.Err()
	case <-pump.Done():
		return pump.Err()
	}
	return nil
}

// publishers builds every enabled publisher. A debug configuration adds the
// logging publisher.
func (a *app) publishers(registry *prometheus.Registry) ([]transport.Publisher, error) {
	tc := a.cfg.Transport
	var pubs []transport.Publisher

	if tc.WebSocketEnabled {
		ws := transport.NewWebSocketPublisher(tc.WebSocketAddress, registry)
		if err := ws.Start(); err != nil {
			ws.Close()
			return nil, err
		}
		applog.Infof("WebSocket: listening on %s", ws.Addr())
		pubs = append(pubs, ws)
	}

	if tc.UDPEnabled {
		sender, err := udp.NewSender(tc.UDPTargetAddress)
		if err == nil {
			var pub *udp.Publisher
			if pub, err = udp.NewPublisher(sender, tc.UDPSendInterval); err == nil {
				pubs = append(pubs, pub)
			}
		}
		if err != nil {
			transport.CloseAll(pubs...)
			return nil, err
		}
	}

	if a.cfg.Debug {
		pubs = append(pubs, transport.NewLoggingPublisher())
	}

	if len(pubs) == 0 {
		return nil, errors.New("no publisher enabled: set a WebSocket address or a UDP target")
	}
	return pubs, nil
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var speed float64

	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Replay a WAV file through the capture pipeline and print the dominant frequency per frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := wavfile.Inspect(args[0])
			if err != nil {
				return err
			}
			a.cfg.Capture.Backend = "wavfile"
			a.cfg.Capture.File = args[0]
			a.cfg.Capture.SampleRate = format.SampleRate
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return a.analyze(cmd.Context(), cmd.OutOrStdout(), speed)
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1, "Replay speed relative to real time")
	return cmd
}

// analyze prints one line per frame until the file ends, then the most
// common dominant frequency.
func (a *app) analyze(ctx context.Context, w io.Writer, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", speed)
	}

	p, err := a.connect(ctx, wavfile.Options{Speed: speed}, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	sess := p.Session
	frame := make([]float64, sess.NumBins())
	counts := make([]int, sess.NumBins())
	interval := time.Duration(float64(a.cfg.Analysis.RefreshInterval) / speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frames int
	for {
		if err := sess.ReadInto(ctx, frame); err != nil {
			if errors.Is(err, wavfile.ErrEndOfFile) {
				break
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		frames++

		if bin := transport.DominantBin(frame); bin > 0 && frame[bin] > 0 {
			counts[bin]++
			fmt.Fprintf(w, "frame %5d  %8.1f Hz  %.4f  level %.3f\n",
				frames, sess.FrequencyForBin(bin), frame[bin], sess.Level())
		} else {
			fmt.Fprintf(w, "frame %5d  silence\n", frames)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	mode := 0
	for bin, c := range counts {
		if c > counts[mode] {
			mode = bin
		}
	}
	if mode == 0 {
		fmt.Fprintf(w, "%d frames, no dominant frequency\n", frames)
		return nil
	}
	fmt.Fprintf(w, "%d frames, most common peak %.1f Hz (%d frames)\n",
		frames, sess.FrequencyForBin(mode), counts[mode])
	return nil
}
