package vm

import "math"

// Word encodings of float values. f64 occupies the full word; f32 occupies
// the low 32 bits.

func wordFromFloat64(v float64) uint64 {
	return math.Float64bits(v)
}

func float64FromWord(w uint64) float64 {
	return math.Float64frombits(w)
}

func wordFromFloat32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

func float32FromWord(w uint64) float32 {
	return math.Float32frombits(uint32(w))
}
