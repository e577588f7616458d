package bitstream

import "math"

// maxQuantized returns the largest quantized value representable in the
// given bit width.
func maxQuantized(bits int) uint64 {
	return uint64(1)<<uint(bits) - 1
}

// Quantize maps v to a uniform grid of 2^bits steps over [lo, hi]:
// the scaled value is rounded to the nearest step with ties away from
// zero, then clamped into range. NaN maps to the lower bound. bits must be
// in 1..64 and lo < hi; both are enforced by schema construction.
func Quantize(v, lo, hi float64, bits int) uint64 {
	steps := maxQuantized(bits)
	if math.IsNaN(v) {
		return 0
	}
	step := (hi - lo) / float64(steps)
	q := math.Round((v - lo) / step)
	if q <= 0 || math.IsNaN(q) {
		return 0
	}
	if q >= float64(steps) {
		return steps
	}
	return uint64(q)
}

// Dequantize maps a quantized value back into [lo, hi]. It is the exact
// inverse of Quantize over already-quantized inputs: requantizing the
// result yields the same value.
func Dequantize(q uint64, lo, hi float64, bits int) float64 {
	steps := maxQuantized(bits)
	if q > steps {
		q = steps
	}
	step := (hi - lo) / float64(steps)
	return lo + float64(q)*step
}
