// SPDX-License-Identifier: MIT
//
// Package utils holds signal generators and small helpers shared by tests
// across the module.
package utils

import (
	"encoding/binary"
	"math"
)

// GenerateComplexWave returns a 440 Hz tone with two harmonics as 16-bit PCM
// at 90% of full scale.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a mono sine at frequency Hz with the given peak
// amplitude (0..1 of full scale).
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * math.MaxInt16 * amplitude)
	}
	return buffer
}

// Interleave duplicates a mono signal into interleaved stereo. Downmixing the
// result gives s/2 + s/2, which equals s only for even samples.
func Interleave(mono []int16) []int16 {
	out := make([]int16, 2*len(mono))
	for i, s := range mono {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// StereoBytes encodes interleaved samples as S16LE bytes.
func StereoBytes(interleaved []int16) []byte {
	out := make([]byte, 2*len(interleaved))
	for i, s := range interleaved {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
