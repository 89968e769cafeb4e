// SPDX-License-Identifier: MIT
package capture

import (
	"math"
	"sync/atomic"
)

// DefaultGateThreshold is ~0.1% of full scale.
const DefaultGateThreshold = 0.001

// PeakLevel returns the largest absolute sample value, branchless.
// The result is in [0, 32768].
func PeakLevel(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		peak = maxAbs(peak, s)
	}
	return peak
}

func maxAbs(peak int32, s int16) int32 {
	v := int32(s)
	mask := v >> 31
	amplitude := (v ^ mask) - mask
	diff := amplitude - peak
	return peak + ((diff & (diff >> 31)) ^ diff)
}

// Gate is a noise gate over batch peak levels. A disabled gate is always open.
// All methods are safe for concurrent use.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Int32 // absolute amplitude (0-32768)
}

// NewGate returns an enabled gate at the given threshold.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	g.Enable()
	return g
}

func (g *Gate) Enable() {
	g.enabled.Store(true)
}

func (g *Gate) Disable() {
	g.enabled.Store(false)
}

func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	threshold = min(max(threshold, 0), 1)
	g.threshold.Store(int32(math.Round(threshold * -math.MinInt16)))
}

// Threshold returns the current threshold in the range 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(g.threshold.Load()) / -math.MinInt16
}

// Open reports whether a batch with the given peak passes the gate.
func (g *Gate) Open(peak int32) bool {
	if g == nil || !g.enabled.Load() {
		return true
	}
	return peak >= g.threshold.Load() && peak > 0
}
