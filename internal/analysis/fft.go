// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"
	"time"

	"spectrogram/internal/log"
	"spectrogram/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions. The zero value is Hamming.
const (
	Hamming WindowFunc = iota
	BartlettHann
	Blackman
	BlackmanNuttall
	Hann
	Lanczos
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case Hamming:
		return "hamming"
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// WindowPolicy selects how many samples each frame consumes.
type WindowPolicy int

const (
	// PolicyFixed consumes WindowLength samples per frame.
	PolicyFixed WindowPolicy = iota
	// PolicyAdaptive consumes min(max(available/40, 2n), 1200) samples, which
	// drains a backlog faster when the reader falls behind.
	PolicyAdaptive
)

func (p WindowPolicy) String() string {
	if p == PolicyAdaptive {
		return "adaptive"
	}
	return "fixed"
}

// ParseWindowPolicy converts "fixed" or "adaptive" (case-insensitive).
func ParseWindowPolicy(name string) (WindowPolicy, error) {
	switch strings.ToLower(name) {
	case "", "fixed":
		return PolicyFixed, nil
	case "adaptive":
		return PolicyAdaptive, nil
	default:
		return PolicyFixed, fmt.Errorf("unknown window policy: '%s'", name)
	}
}

const (
	DefaultNumBins = 512
	DefaultWindow  = 25 * time.Millisecond // audio per frame under PolicyFixed

	adaptiveDivisor = 40
	adaptiveMax     = 1200

	// Full-scale magnitude of a signed 16-bit sample.
	normFactor = 1.0 / 32768.0
)

var (
	ErrNumBins      = errors.New("analysis: number of bins must be positive")
	ErrSampleRate   = errors.New("analysis: sample rate must be positive")
	ErrWindowLength = errors.New("analysis: window length must be at least 2 samples")
	ErrFrameLength  = errors.New("analysis: destination length does not match number of bins")
)

// FrameOptions configures a FrameBuilder.
type FrameOptions struct {
	NumBins      int          // n; the transform length is 2n. Default 512.
	SampleRate   int          // Hz. Default 44100.
	WindowLength int          // samples consumed per frame under PolicyFixed. Default 25 ms of audio.
	Policy       WindowPolicy // fixed or adaptive window sizing
	Window       WindowFunc   // taper applied over the consumed samples. Default Hamming.
}

func (o FrameOptions) withDefaults() FrameOptions {
	if o.NumBins == 0 {
		o.NumBins = DefaultNumBins
	}
	if o.SampleRate == 0 {
		o.SampleRate = 44100
	}
	if o.WindowLength == 0 {
		o.WindowLength = int(DefaultWindow.Seconds() * float64(o.SampleRate))
	}
	return o
}

// WindowLengthFor converts a window duration to a sample count at rate.
func WindowLengthFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Pre-allocated buffers for one frame.
type frameWorkspace struct {
	samples   []int16      // consumed samples, sized for the largest window
	input     []float64    // transform input, length 2n
	fftOutput []complex128 // n+1 complex coefficients
	coeffs    []float64    // taper for the last window length, sized like samples
	coeffLen  int
}

// FrameBuilder turns the newest audio in a SampleSource into one spectral
// frame: n non-negative magnitudes spanning 0 Hz up to just below Nyquist.
//
// Each Build resyncs the source, consumes a window of samples, normalizes
// them to [-1, 1), applies the window taper, zero-pads to 2n and runs a real
// FFT. The Nyquist bin is dropped.
type FrameBuilder struct {
	opts          FrameOptions
	fftSize       int
	fftCalculator *fourier.FFT

	mu        sync.Mutex
	workspace frameWorkspace

	lastWindow int
	frames     uint64
}

// NewFrameBuilder validates opts, fills in defaults and pre-allocates every
// buffer a frame needs.
func NewFrameBuilder(opts FrameOptions) (*FrameBuilder, error) {
	opts = opts.withDefaults()
	if opts.NumBins < 0 {
		return nil, ErrNumBins
	}
	if opts.SampleRate < 0 {
		return nil, ErrSampleRate
	}
	if opts.WindowLength < 2 {
		return nil, ErrWindowLength
	}

	fftSize := 2 * opts.NumBins
	if !bitint.IsPowerOfTwo(fftSize) {
		log.Warnf("Analysis: transform length %d is not a power of two, FFT will be slower (try %d bins)",
			fftSize, bitint.FastBins(opts.NumBins))
	}

	maxWindow := opts.WindowLength
	if opts.Policy == PolicyAdaptive {
		maxWindow = max(fftSize, adaptiveMax)
	}

	b := &FrameBuilder{
		opts:          opts,
		fftSize:       fftSize,
		fftCalculator: fourier.NewFFT(fftSize),
		workspace: frameWorkspace{
			samples:   make([]int16, maxWindow),
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, opts.NumBins+1),
			coeffs:    make([]float64, maxWindow),
		},
	}
	// Fixed policy never needs another window length.
	b.windowFor(opts.WindowLength)

	log.Debugf("Analysis: frame builder ready (bins: %d, fft: %d, window: %s/%d, policy: %s)",
		opts.NumBins, fftSize, opts.Window, opts.WindowLength, opts.Policy)
	return b, nil
}

// windowFor returns the taper coefficients for length n, recomputing them in
// place when n differs from the previous frame's length.
func (b *FrameBuilder) windowFor(n int) []float64 {
	w := b.workspace.coeffs[:n]
	if b.workspace.coeffLen != n {
		applyWindow(w, b.opts.Window)
		b.workspace.coeffLen = n
	}
	return w
}

// windowLength picks how many samples the next frame consumes.
func (b *FrameBuilder) windowLength(available int) int {
	if b.opts.Policy != PolicyAdaptive {
		return b.opts.WindowLength
	}
	return AdaptiveWindowLength(available, b.opts.NumBins)
}

// AdaptiveWindowLength is min(max(available/40, 2n), 1200).
func AdaptiveWindowLength(available, numBins int) int {
	return min(max(available/adaptiveDivisor, 2*numBins), adaptiveMax)
}

// Build produces one frame in a freshly allocated slice.
func (b *FrameBuilder) Build(ctx context.Context, src SampleSource, rs Cycler) ([]float64, error) {
	frame := make([]float64, b.opts.NumBins)
	if err := b.BuildInto(ctx, frame, src, rs); err != nil {
		return nil, err
	}
	return frame, nil
}

// BuildInto writes one frame into dst, which must hold exactly NumBins values.
// It does not allocate.
func (b *FrameBuilder) BuildInto(ctx context.Context, dst []float64, src SampleSource, rs Cycler) error {
	if len(dst) != b.opts.NumBins {
		return fmt.Errorf("%w: got %d, want %d", ErrFrameLength, len(dst), b.opts.NumBins)
	}

	// --- 1. Resync ---
	if rs != nil {
		if _, err := rs.Cycle(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// --- 2. Consume ---
	n := b.windowLength(src.Available())
	samples := b.workspace.samples[:n]
	src.Consume(samples)
	coeffs := b.windowFor(n)

	// --- 3. Normalize, window, zero-pad ---
	input := b.workspace.input
	used := min(n, b.fftSize)
	for i := range used {
		input[i] = float64(samples[i]) * normFactor * coeffs[i]
	}
	clear(input[used:])

	// --- 4. Transform ---
	b.fftCalculator.Coefficients(b.workspace.fftOutput, input)

	// --- 5. Magnitudes, Nyquist dropped ---
	for i := range dst {
		dst[i] = cmplx.Abs(b.workspace.fftOutput[i])
	}

	b.lastWindow = n
	b.frames++
	return nil
}

// NumBins returns the frame length n.
func (b *FrameBuilder) NumBins() int {
	return b.opts.NumBins
}

// FFTSize returns the transform length 2n.
func (b *FrameBuilder) FFTSize() int {
	return b.fftSize
}

// GetFrequencyForBin returns the frequency (Hz) of bin i: i * rate / 2n.
func (b *FrameBuilder) GetFrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= b.opts.NumBins {
		return 0.0
	}
	return float64(binIndex) * float64(b.opts.SampleRate) / float64(b.fftSize)
}

// Options returns the effective options after defaults.
func (b *FrameBuilder) Options() FrameOptions {
	return b.opts
}

// LastWindowLength returns the number of samples consumed by the latest frame.
func (b *FrameBuilder) LastWindowLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastWindow
}

// Frames returns the number of frames built.
func (b *FrameBuilder) Frames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc.
// The empty name selects Hamming; an unknown name returns Hamming and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "", "hamming":
		return Hamming, nil
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hamming, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. gonum windows multiply
// in place, so the slice starts at 1.0.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case Hamming:
		window.Hamming(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("Analysis: Unknown window function type %d, defaulting to Hamming", windowType)
		window.Hamming(coeffs)
	}
}
