// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-2 helpers used to size FFT transforms.

A spectral frame of n bins is computed from a real transform of length 2n,
which is fastest when 2n is a power of 2. Frame setup checks the configured
bin count and suggests the nearest fast one.

Usage:

	if !bitint.IsPowerOfTwo(2 * bins) {
		bins = bitint.FastBins(bins) // 500 -> 512
	}

All functions are allocation free and constant time.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size. Zero and negative sizes
// return 1. Subtracting 1 first keeps exact powers of 2 unchanged: for 8,
// bits.Len(7) is 3 and 1<<3 is 8, where bits.Len(8) would give 16.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. Powers of 2 have
// exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// FastBins returns the smallest bin count >= bins whose transform length
// 2*bins is a power of 2.
func FastBins(bins int) int {
	return NextPowerOfTwo(bins)
}
