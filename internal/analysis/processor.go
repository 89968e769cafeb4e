// SPDX-License-Identifier: MIT
package analysis

import (
	"context"

	"spectrogram/internal/resync"
)

// SampleSource is the mono history a frame is read from. *ringbuf.Buffer
// implements it.
type SampleSource interface {
	// Consume fills dst, zero-filling past the unread data, and returns the
	// number of real samples copied.
	Consume(dst []int16) int
	// Available returns the number of unread samples.
	Available() int
}

// Cycler repositions a SampleSource before each frame. *resync.Resynchronizer
// implements it; a nil Cycler disables resynchronization.
type Cycler interface {
	Cycle(ctx context.Context) (resync.Result, error)
}
