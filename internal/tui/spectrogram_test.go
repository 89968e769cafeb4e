// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"spectrogram/internal/capture"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeFrames struct {
	mu       sync.Mutex
	bins     int
	bufReady int
	flushes  int
	err      error
}

func (f *fakeFrames) ReadInto(_ context.Context, dst []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range dst {
		dst[i] = float64(i)
	}
	return f.err
}

func (f *fakeFrames) NumBins() int                  { return f.bins }
func (f *fakeFrames) SourceName() string            { return "Monitor of Test Sink" }
func (f *fakeFrames) FrequencyForBin(i int) float64 { return float64(i) * 44100 / float64(2*f.bins) }
func (f *fakeFrames) Level() float64                { return 0.25 }

func (f *fakeFrames) BufReady() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufReady
}

func (f *fakeFrames) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.bufReady = 0
}

func newTestModel(t *testing.T, src *fakeFrames, opts Options) SpectrogramModel {
	t.Helper()
	m := NewSpectrogramModel(context.Background(), src, opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 40, Height: 3 + headerLines + footerLines})
	return next.(SpectrogramModel)
}

func update(t *testing.T, m SpectrogramModel, msg tea.Msg) (SpectrogramModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	sm, ok := next.(SpectrogramModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return sm, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestSpectrogramFramesScrollHistory(t *testing.T) {
	src := &fakeFrames{bins: 64}
	m := newTestModel(t, src, Options{DBMax: 18})

	var cmd tea.Cmd
	for range 5 {
		m, cmd = update(t, m, frameMsg{})
		if cmd == nil {
			t.Fatal("frame did not schedule the next read")
		}
	}

	if m.Frames() != 5 {
		t.Errorf("Frames() = %d, want 5", m.Frames())
	}
	if len(m.rows) != 3 {
		t.Fatalf("history holds %d rows, want 3 (visible height)", len(m.rows))
	}
	for i, row := range m.rows {
		if len(row) != 40 {
			t.Errorf("row %d has %d columns, want 40", i, len(row))
		}
	}
}

func TestSpectrogramPauseKeepsReading(t *testing.T) {
	src := &fakeFrames{bins: 64}
	m := newTestModel(t, src, Options{DBMax: 18})

	m, _ = update(t, m, runeKey('p'))
	m, _ = update(t, m, frameMsg{})
	if len(m.rows) != 0 || m.Frames() != 1 {
		t.Errorf("paused: rows=%d frames=%d, want 0 and 1", len(m.rows), m.Frames())
	}
	if !strings.Contains(m.View(), "PAUSED") {
		t.Error("View does not show the paused state")
	}

	m, _ = update(t, m, runeKey('c'))
	m, _ = update(t, m, runeKey('p'))
	m, _ = update(t, m, frameMsg{})
	if len(m.rows) != 1 {
		t.Errorf("resumed: rows=%d, want 1", len(m.rows))
	}
}

func TestSpectrogramAutoFlush(t *testing.T) {
	tests := []struct {
		name        string
		bufReady    int
		threshold   int
		wantFlushes int
	}{
		{"Above threshold", 110251, 110250, 1},
		{"At threshold", 110250, 110250, 0},
		{"Disabled", 1 << 20, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeFrames{bins: 16, bufReady: tt.bufReady}
			m := newTestModel(t, src, Options{DBMax: 18, FlushSamples: tt.threshold})
			m, _ = update(t, m, frameMsg{})

			if src.flushes != tt.wantFlushes || int(m.Flushes()) != tt.wantFlushes {
				t.Errorf("flushes = %d/%d, want %d", src.flushes, m.Flushes(), tt.wantFlushes)
			}
		})
	}
}

func TestSpectrogramKeys(t *testing.T) {
	src := &fakeFrames{bins: 16}

	tests := []struct {
		name       string
		start      Options
		key        tea.KeyMsg
		wantOffset float64
		wantMax    float64
	}{
		{"Offset up", Options{DBMax: 18}, tea.KeyMsg{Type: tea.KeyUp}, 1, 18},
		{"Offset down", Options{DBMax: 18}, runeKey('j'), -1, 18},
		{"Offset clamps high", Options{DBOffset: MaxDBOffset, DBMax: 18}, tea.KeyMsg{Type: tea.KeyUp}, MaxDBOffset, 18},
		{"Offset clamps low", Options{DBOffset: MinDBOffset, DBMax: 18}, tea.KeyMsg{Type: tea.KeyDown}, MinDBOffset, 18},
		{"Max up", Options{DBMax: 18}, tea.KeyMsg{Type: tea.KeyRight}, 0, 19},
		{"Max down", Options{DBMax: 18}, runeKey('h'), 0, 17},
		{"Max clamps high", Options{DBMax: MaxDBMax}, runeKey('l'), 0, MaxDBMax},
		{"Max clamps low", Options{DBMax: MinDBMax}, tea.KeyMsg{Type: tea.KeyLeft}, 0, MinDBMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, src, tt.start)
			m, _ = update(t, m, tt.key)
			if m.opts.DBOffset != tt.wantOffset || m.opts.DBMax != tt.wantMax {
				t.Errorf("offset/max = %v/%v, want %v/%v", m.opts.DBOffset, m.opts.DBMax, tt.wantOffset, tt.wantMax)
			}
		})
	}
}

func TestSpectrogramManualFlushAndQuit(t *testing.T) {
	src := &fakeFrames{bins: 16, bufReady: 10}
	m := newTestModel(t, src, Options{DBMax: 18})

	m, _ = update(t, m, runeKey('f'))
	if src.flushes != 1 {
		t.Errorf("f key flushed %d times, want 1", src.flushes)
	}

	_, cmd := update(t, m, runeKey('q'))
	if !isQuit(cmd) {
		t.Error("q did not quit")
	}
}

func TestSpectrogramReadErrors(t *testing.T) {
	src := &fakeFrames{bins: 16}
	m := newTestModel(t, src, Options{DBMax: 18})

	cause := &capture.RuntimeError{Op: "device", Err: capture.ErrStreamStopped}
	failed, cmd := update(t, m, frameMsg{err: cause})
	if !isQuit(cmd) {
		t.Error("read error did not quit")
	}
	if !errors.Is(failed.Err(), capture.ErrStreamStopped) {
		t.Errorf("Err() = %v, want stream stopped", failed.Err())
	}
	if !strings.Contains(failed.View(), "stream stopped") {
		t.Errorf("View does not report the error: %q", failed.View())
	}

	cancelled, cmd := update(t, m, frameMsg{err: context.Canceled})
	if !isQuit(cmd) || cancelled.Err() != nil {
		t.Errorf("cancelled read: quit=%v err=%v, want quit and no error", isQuit(cmd), cancelled.Err())
	}
}

func TestSpectrogramView(t *testing.T) {
	src := &fakeFrames{bins: 512}
	m := NewSpectrogramModel(context.Background(), src, Options{DBMax: 18, SampleRate: 44100})
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View before sizing = %q", got)
	}

	m = newTestModel(t, src, Options{DBMax: 18, SampleRate: 44100})
	src.bufReady = 22050
	m, _ = update(t, m, frameMsg{})

	view := m.View()
	for _, want := range []string{"Monitor of Test Sink", "max 18 dB", "0.50s", "22.0kHz"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q:\n%s", want, view)
		}
	}
}

func TestNewSpectrogramModelDefaults(t *testing.T) {
	m := NewSpectrogramModel(context.Background(), &fakeFrames{bins: 32}, Options{})
	if m.opts.RefreshInterval <= 0 || m.opts.DBMax != MinDBMax {
		t.Errorf("defaults not applied: %+v", m.opts)
	}
	if len(m.frame) != 32 {
		t.Errorf("frame length = %d, want 32", len(m.frame))
	}
	if m.Init() == nil {
		t.Error("Init did not schedule a frame")
	}
}
