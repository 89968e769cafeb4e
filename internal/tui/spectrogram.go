// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	meterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)
)

// FrameSource is the part of a capture session the spectrogram view reads.
type FrameSource interface {
	ReadInto(ctx context.Context, dst []float64) error
	NumBins() int
	SourceName() string
	FrequencyForBin(i int) float64
	BufReady() int
	Flush()
	Level() float64
}

// Options configures the spectrogram view.
type Options struct {
	DBOffset        float64
	DBMax           float64
	FlushSamples    int           // flush the source when more than this is unread, 0 disables
	RefreshInterval time.Duration // time between frames
	SampleRate      int           // for the buffered-audio readout
}

type keyMap struct {
	Quit       key.Binding
	OffsetUp   key.Binding
	OffsetDown key.Binding
	MaxUp      key.Binding
	MaxDown    key.Binding
	Flush      key.Binding
	Pause      key.Binding
	Clear      key.Binding
}

var keys = keyMap{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c")),
	OffsetUp:   key.NewBinding(key.WithKeys("up", "k")),
	OffsetDown: key.NewBinding(key.WithKeys("down", "j")),
	MaxUp:      key.NewBinding(key.WithKeys("right", "l")),
	MaxDown:    key.NewBinding(key.WithKeys("left", "h")),
	Flush:      key.NewBinding(key.WithKeys("f")),
	Pause:      key.NewBinding(key.WithKeys("p", " ", "space")),
	Clear:      key.NewBinding(key.WithKeys("c")),
}

type frameMsg struct {
	err error
}

// headerLines and footerLines are the rows View draws around the history.
const (
	headerLines = 4
	footerLines = 3
)

// SpectrogramModel is the Bubble Tea model drawing a scrolling spectrogram,
// newest frame on top.
type SpectrogramModel struct {
	ctx   context.Context
	src   FrameSource
	opts  Options
	frame []float64

	rows    [][]uint8
	width   int
	height  int
	ready   bool
	paused  bool
	frames  uint64
	flushes uint64
	err     error
}

// NewSpectrogramModel returns a model reading frames from src.
func NewSpectrogramModel(ctx context.Context, src FrameSource, opts Options) SpectrogramModel {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 25 * time.Millisecond
	}
	if opts.DBMax < MinDBMax {
		opts.DBMax = MinDBMax
	}
	return SpectrogramModel{
		ctx:   ctx,
		src:   src,
		opts:  opts,
		frame: make([]float64, src.NumBins()),
	}
}

// Init schedules the first frame.
func (m SpectrogramModel) Init() tea.Cmd {
	return m.nextFrame()
}

// nextFrame waits one refresh interval then reads a frame into m.frame. Only
// one read is in flight: the next is scheduled after its result is drawn.
func (m SpectrogramModel) nextFrame() tea.Cmd {
	ctx, src, dst := m.ctx, m.src, m.frame
	return tea.Tick(m.opts.RefreshInterval, func(time.Time) tea.Msg {
		return frameMsg{err: src.ReadInto(ctx, dst)}
	})
}

func (m SpectrogramModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = max(msg.Height-headerLines-footerLines, 1)
		m.ready = true
		m.rows = nil

	case frameMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.err = msg.err
			}
			return m, tea.Quit
		}
		m.frames++
		if !m.paused {
			m.push()
		}
		if m.opts.FlushSamples > 0 && m.src.BufReady() > m.opts.FlushSamples {
			m.src.Flush()
			m.flushes++
		}
		return m, m.nextFrame()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.OffsetUp):
			m.opts.DBOffset = min(m.opts.DBOffset+1, MaxDBOffset)
		case key.Matches(msg, keys.OffsetDown):
			m.opts.DBOffset = max(m.opts.DBOffset-1, MinDBOffset)
		case key.Matches(msg, keys.MaxUp):
			m.opts.DBMax = min(m.opts.DBMax+1, MaxDBMax)
		case key.Matches(msg, keys.MaxDown):
			m.opts.DBMax = max(m.opts.DBMax-1, MinDBMax)
		case key.Matches(msg, keys.Flush):
			m.src.Flush()
			m.flushes++
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, keys.Clear):
			m.rows = nil
		}
	}

	return m, nil
}

// push shades the current frame into a new top row and trims the history to
// the visible height.
func (m *SpectrogramModel) push() {
	if !m.ready || m.width <= 0 {
		return
	}
	var row []uint8
	if len(m.rows) >= m.height {
		row = m.rows[len(m.rows)-1] // recycle the row scrolling off
		m.rows = m.rows[:len(m.rows)-1]
	}
	if len(row) != m.width {
		row = make([]uint8, m.width)
	}
	Columns(row, m.frame, m.opts.DBOffset, m.opts.DBMax)
	m.rows = append([][]uint8{row}, m.rows...)
}

// View renders the UI
func (m SpectrogramModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	if !m.ready {
		return "Initializing..."
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Spectrogram: " + m.src.SourceName()))
	sb.WriteString("\n\n")

	state := ""
	if m.paused {
		state = highlightStyle.Render("  PAUSED")
	}
	fmt.Fprintf(&sb, "offset %+.0f dB  max %.0f dB  buffered %s  level %s%s\n\n",
		m.opts.DBOffset, m.opts.DBMax, m.buffered(), renderMeter(m.src.Level(), 20), state)

	for i := range m.height {
		if i < len(m.rows) {
			sb.WriteString(renderRow(m.rows[i]))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(frequencyAxis(m.width, m.src.FrequencyForBin, m.src.NumBins()))
	sb.WriteString("\n\n")
	sb.WriteString(infoStyle.Render("↑/↓: Offset • ←/→: Max dB • f: Flush • p: Pause • c: Clear • q: Quit"))
	return sb.String()
}

func (m SpectrogramModel) buffered() string {
	if m.opts.SampleRate <= 0 {
		return fmt.Sprintf("%d", m.src.BufReady())
	}
	return fmt.Sprintf("%.2fs", float64(m.src.BufReady())/float64(m.opts.SampleRate))
}

// Err returns the read error that ended the view, if any.
func (m SpectrogramModel) Err() error {
	return m.err
}

// Frames returns the number of frames read.
func (m SpectrogramModel) Frames() uint64 {
	return m.frames
}

// Flushes returns how many times the source was flushed.
func (m SpectrogramModel) Flushes() uint64 {
	return m.flushes
}

// RunSpectrogram launches the spectrogram UI and blocks until the user quits,
// ctx is cancelled or a read fails.
func RunSpectrogram(ctx context.Context, src FrameSource, opts Options) error {
	p := tea.NewProgram(
		NewSpectrogramModel(ctx, src, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	if m, ok := final.(SpectrogramModel); ok {
		return m.Err()
	}
	return nil
}
