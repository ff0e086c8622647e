// Package heading provides compass heading math: normalization, smoothing,
// compass-point classification and wrap-safe animation targets
package heading

import "math"

// Normalize maps any angle in degrees into [0, 360)
func Normalize(angle float64) float64 {
	n := math.Mod(math.Mod(angle, 360)+360, 360)
	if n >= 360 {
		// Tiny negative inputs round up to exactly 360
		return 0
	}
	return n
}

// ShortestDelta returns target-current adjusted by ±360 so that the result
// lies in (-180, 180]
func ShortestDelta(target, current float64) float64 {
	d := Normalize(target - current)
	if d > 180 {
		d -= 360
	}
	return d
}
