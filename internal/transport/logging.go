// SPDX-License-Identifier: MIT
package transport

import (
	applog "spectrogram/internal/log"
)

// LoggingPublisher logs the dominant bin of every frame at debug level.
type LoggingPublisher struct{}

// NewLoggingPublisher creates a new LoggingPublisher instance.
func NewLoggingPublisher() *LoggingPublisher {
	applog.Infof("Transport: Using LoggingPublisher")
	return &LoggingPublisher{}
}

func (lp *LoggingPublisher) Name() string {
	return "log"
}

// Send logs the peak bin and its frequency. It never fails.
func (lp *LoggingPublisher) Send(f Frame) error {
	peak := DominantBin(f.Magnitudes)
	if peak < 0 {
		return nil
	}
	applog.Debugf("Frame %d from %q: peak bin %d (%.1f Hz) magnitude %.4f",
		f.Sequence, f.Source, peak, float64(peak)*f.BinHz, f.Magnitudes[peak])
	return nil
}

// Close is a no-op for LoggingPublisher.
func (lp *LoggingPublisher) Close() error {
	return nil
}

// DominantBin returns the index of the largest magnitude, skipping DC, or -1
// when mags has no bin above DC.
func DominantBin(mags []float64) int {
	best := -1
	for i := 1; i < len(mags); i++ {
		if best < 0 || mags[i] > mags[best] {
			best = i
		}
	}
	return best
}

// Ensure LoggingPublisher satisfies the interface at compile time.
var _ Publisher = (*LoggingPublisher)(nil)
