// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Display limits for the dB controls.
const (
	FloorDB     = -80.0 // rendered for bins with no energy
	MinDBOffset = -80.0
	MaxDBOffset = 80.0
	MinDBMax    = 1.0
	MaxDBMax    = 100.0
)

// palette runs from background to full intensity, 256-colour codes.
var palette = []string{"16", "17", "19", "55", "91", "127", "163", "199", "203", "209", "221", "231"}

var cellStyles = func() []lipgloss.Style {
	styles := make([]lipgloss.Style, len(palette))
	for i, c := range palette {
		styles[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
	return styles
}()

// DB converts a linear magnitude to decibels and applies offset. Bins with no
// energy render at FloorDB without the offset.
func DB(m, offset float64) float64 {
	if m <= 0 {
		return FloorDB
	}
	return 10*math.Log10(m) + offset
}

// Intensity maps a magnitude to [0, 1] as dB / dbMax.
func Intensity(m, offset, dbMax float64) float64 {
	if dbMax <= 0 {
		return 0
	}
	v := DB(m, offset) / dbMax
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Shade quantizes an intensity to a palette index.
func Shade(intensity float64) uint8 {
	return uint8(math.Round(intensity * float64(len(palette)-1)))
}

// Columns folds a frame into width shades. Each column takes the loudest bin
// it covers; when there are more columns than bins, bins repeat.
func Columns(dst []uint8, frame []float64, offset, dbMax float64) {
	n := len(frame)
	w := len(dst)
	if n == 0 {
		clear(dst)
		return
	}
	for c := range w {
		lo := c * n / w
		hi := (c + 1) * n / w
		if hi <= lo {
			hi = lo + 1
		}
		peak := frame[lo]
		for _, m := range frame[lo+1 : hi] {
			peak = max(peak, m)
		}
		dst[c] = Shade(Intensity(peak, offset, dbMax))
	}
}

// renderRow draws one history row, styling runs of equal shade together.
func renderRow(row []uint8) string {
	var sb strings.Builder
	for i := 0; i < len(row); {
		j := i + 1
		for j < len(row) && row[j] == row[i] {
			j++
		}
		if row[i] == 0 {
			sb.WriteString(strings.Repeat(" ", j-i))
		} else {
			sb.WriteString(cellStyles[row[i]].Render(strings.Repeat("█", j-i)))
		}
		i = j
	}
	return sb.String()
}

// renderMeter draws a level bar of the given width for level in [0, 1].
func renderMeter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	level = min(max(level, 0), 1)
	filled := int(math.Round(level * float64(width)))
	return meterStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("·", width-filled)
}

// frequencyAxis labels the low, middle and high edge of a row of width
// columns.
func frequencyAxis(width int, freq func(bin int) float64, numBins int) string {
	if width <= 0 || numBins <= 0 {
		return ""
	}
	left := formatHz(freq(0))
	mid := formatHz(freq(numBins / 2))
	right := formatHz(freq(numBins - 1))

	gap := width - len(left) - len(mid) - len(right)
	if gap < 2 {
		return left + " " + right
	}
	return left + strings.Repeat(" ", gap/2) + mid + strings.Repeat(" ", gap-gap/2) + right
}

func formatHz(hz float64) string {
	if hz >= 1000 {
		return fmt.Sprintf("%.1fkHz", hz/1000)
	}
	return fmt.Sprintf("%.0fHz", hz)
}
