// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// GetBit returns the value of a given bit in a byte, bit 0 being the LSB
func GetBit(b byte, bitIndex uint) bool {
	return b&(1<<bitIndex) != 0
}

// SetBit sets or clears a given bit in a byte, bit 0 being the LSB
func SetBit(b byte, bitIndex uint, value bool) byte {
	if value {
		return b | (1 << bitIndex)
	}
	return b &^ (1 << bitIndex)
}

// SecsToDuration converts a number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}
