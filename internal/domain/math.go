package domain

import "math"

// NaN is the sentinel for "value not computable". Consumers must check with
// IsFinite before using any float field that can legally be missing.
func NaN() float64 { return math.NaN() }

// IsFinite reports whether v is a usable numeric value.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isFinite(v float64) bool { return IsFinite(v) }

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
