// SPDX-License-Identifier: MIT
package tui

import (
	"math"
	"strings"
	"testing"
)

func TestDB(t *testing.T) {
	tests := []struct {
		name      string
		m, offset float64
		want      float64
	}{
		{"Silent bin", 0, 0, FloorDB},
		{"Silent bin ignores offset", 0, 20, FloorDB},
		{"Negative magnitude", -1, 0, FloorDB},
		{"Unity", 1, 0, 0},
		{"Ten", 10, 0, 10},
		{"Hundred with offset", 100, 5, 25},
		{"Quiet bin", 0.001, 0, -30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DB(tt.m, tt.offset); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DB(%v, %v) = %v, want %v", tt.m, tt.offset, got, tt.want)
			}
		})
	}
}

func TestIntensity(t *testing.T) {
	tests := []struct {
		name             string
		m, offset, dbMax float64
		want             float64
	}{
		{"Silence clamps to zero", 0, 0, 18, 0},
		{"Below 0 dB", 0.5, 0, 18, 0},
		{"Half scale", math.Pow(10, 0.9), 0, 18, 0.5},
		{"At max", math.Pow(10, 1.8), 0, 18, 1},
		{"Above max clamps", 1e6, 0, 18, 1},
		{"Offset lifts quiet bins", 1, 9, 18, 0.5},
		{"Zero max", 10, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Intensity(tt.m, tt.offset, tt.dbMax); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Intensity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShade(t *testing.T) {
	top := uint8(len(palette) - 1)
	tests := map[float64]uint8{0: 0, 1: top, 0.5: 6}
	for in, want := range tests {
		if got := Shade(in); got != want {
			t.Errorf("Shade(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestColumns(t *testing.T) {
	top := uint8(len(palette) - 1)
	frame := []float64{1, 10, 1, 1, math.Sqrt(10), 1, 0, 0}

	t.Run("Fewer columns than bins", func(t *testing.T) {
		dst := make([]uint8, 4)
		Columns(dst, frame, 0, 10)
		want := []uint8{top, 0, 6, 0}
		for i := range want {
			if dst[i] != want[i] {
				t.Errorf("column %d = %d, want %d", i, dst[i], want[i])
			}
		}
	})

	t.Run("More columns than bins", func(t *testing.T) {
		dst := make([]uint8, 16)
		Columns(dst, frame, 0, 10)
		if dst[2] != top || dst[3] != top {
			t.Errorf("bin 1 not repeated across columns 2 and 3: %v", dst)
		}
		if dst[0] != 0 || dst[8] != 6 || dst[9] != 6 {
			t.Errorf("unexpected shades %v", dst)
		}
	})

	t.Run("Empty frame", func(t *testing.T) {
		dst := []uint8{3, 3}
		Columns(dst, nil, 0, 10)
		if dst[0] != 0 || dst[1] != 0 {
			t.Errorf("Columns on empty frame = %v, want zeros", dst)
		}
	})
}

func TestRenderRow(t *testing.T) {
	out := renderRow([]uint8{0, 0, 3, 3, 11})
	if !strings.HasPrefix(out, "  ") {
		t.Errorf("silent cells not rendered as spaces: %q", out)
	}
	if got := strings.Count(out, "█"); got != 3 {
		t.Errorf("rendered %d cells, want 3", got)
	}
}

func TestRenderMeter(t *testing.T) {
	tests := []struct {
		level      float64
		width      int
		wantFilled int
	}{
		{0, 20, 0},
		{0.5, 20, 10},
		{1, 20, 20},
		{2, 10, 10},
		{-1, 10, 0},
	}
	for _, tt := range tests {
		out := renderMeter(tt.level, tt.width)
		if got := strings.Count(out, "█"); got != tt.wantFilled {
			t.Errorf("renderMeter(%v, %d) filled %d, want %d", tt.level, tt.width, got, tt.wantFilled)
		}
		if got := strings.Count(out, "·"); got != tt.width-tt.wantFilled {
			t.Errorf("renderMeter(%v, %d) empty %d, want %d", tt.level, tt.width, got, tt.width-tt.wantFilled)
		}
	}
	if renderMeter(1, 0) != "" {
		t.Error("zero-width meter is not empty")
	}
}

func TestFrequencyAxis(t *testing.T) {
	freq := func(bin int) float64 { return float64(bin) * 44100 / 1024 }

	axis := frequencyAxis(40, freq, 512)
	if len(axis) != 40 {
		t.Errorf("axis length = %d, want 40: %q", len(axis), axis)
	}
	for _, label := range []string{"0Hz", "11.0kHz", "22.0kHz"} {
		if !strings.Contains(axis, label) {
			t.Errorf("axis %q missing %s", axis, label)
		}
	}

	if narrow := frequencyAxis(8, freq, 512); narrow != "0Hz 22.0kHz" {
		t.Errorf("narrow axis = %q", narrow)
	}
}
