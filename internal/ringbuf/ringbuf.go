// SPDX-License-Identifier: MIT
/*
Package ringbuf implements the fixed-capacity sample history shared by the
capture callback (single writer) and the frame builder (single reader).

Overflow Policy:
- Appending more than the free space silently overwrites the oldest unread
  samples; the read cursor is dragged forward so a reader always sees the most
  recent Capacity() samples in order
- Reading more than Available() zero-fills the remainder (silence)

Neither case is an error. Both are counted for diagnostics.

Thread Safety:
- A single mutex guards cursors and storage
- The lock is held only for the copy itself, never across I/O
*/
package ringbuf

import (
	"errors"
	"sync"
)

// ErrCapacity is returned by New for a non-positive capacity.
var ErrCapacity = errors.New("ringbuf: capacity must be positive")

// Buffer is a circular buffer of mono 16-bit samples.
type Buffer struct {
	mu   sync.Mutex
	data []int16 // nil after Release
	size int     // capacity, fixed at creation

	w     int // write cursor
	r     int // read cursor
	avail int // unread samples, 0..size

	overwritten uint64 // unread samples lost to overflow
	starved     uint64 // samples zero-filled on consume
}

// New allocates a buffer holding capacity samples.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	return &Buffer{
		data: make([]int16, capacity),
		size: capacity,
	}, nil
}

// Capacity returns the fixed number of samples the buffer can hold.
func (b *Buffer) Capacity() int {
	return b.size
}

// Available returns the number of unread samples.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.avail
}

// Append writes samples at the write cursor, wrapping at the end of storage.
// Called from the capture callback: no allocation, no blocking beyond the lock.
func (b *Buffer) Append(samples []int16) {
	n := len(samples)
	if n == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}

	// Only the newest size samples can survive a single oversized append.
	if n > b.size {
		skip := n - b.size
		b.w = (b.w + skip) % b.size
		samples = samples[skip:]
	}

	copied := copy(b.data[b.w:], samples)
	if copied < len(samples) {
		copy(b.data, samples[copied:])
	}
	b.w = (b.w + len(samples)) % b.size

	b.avail += n
	if b.avail > b.size {
		b.overwritten += uint64(b.avail - b.size)
		b.avail = b.size
		b.r = b.w // oldest surviving sample sits right after the newest one
	}
}

// Consume fills dst starting at the read cursor and advances it. Positions past
// the unread data are zero-filled. It returns the number of real samples copied.
func (b *Buffer) Consume(dst []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(dst), b.avail)
	if b.data == nil {
		n = 0
	}

	if n > 0 {
		copied := copy(dst[:n], b.data[b.r:])
		if copied < n {
			copy(dst[copied:n], b.data)
		}
		b.r = (b.r + n) % b.size
		b.avail -= n
	}

	if missing := len(dst) - n; missing > 0 {
		clear(dst[n:])
		b.starved += uint64(missing)
	}
	return n
}

// SeekRelative places the read cursor offset samples behind the write cursor
// and marks exactly those samples as unread. Offsets are clamped to [0, Capacity()].
func (b *Buffer) SeekRelative(offset int) {
	offset = max(0, min(offset, b.size))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.r = ((b.w-offset)%b.size + b.size) % b.size
	b.avail = offset
}

// Reset clears both cursors and the unread count, keeping the storage.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.w, b.r, b.avail = 0, 0, 0
	if b.data != nil {
		clear(b.data)
	}
}

// Release drops the backing storage. Later appends are ignored and consumes
// return silence. Safe to call more than once.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = nil
	b.w, b.r, b.avail = 0, 0, 0
}

// Overwritten returns the total number of unread samples lost to overflow.
func (b *Buffer) Overwritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overwritten
}

// Starved returns the total number of samples zero-filled by Consume.
func (b *Buffer) Starved() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starved
}
