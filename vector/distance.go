package vector

import "math"

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	magnitude := float32(math.Sqrt(float64(Dot(v, v))))
	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}

// Dot returns the dot product over the common length of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range min(len(a), len(b)) {
		sum += a[i] * b[i]
	}
	return sum
}

// CosineDistance returns 1 - cos(a, b) for unit vectors, in [0, 2].
func CosineDistance(a, b []float32) float32 {
	d := 1 - Dot(a, b)
	return max(0, min(2, d))
}
