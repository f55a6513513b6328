package cluster

import "math"

// DistanceFunc measures the distance between two signature vectors.
//
// Implementations must satisfy the metric axioms: non-negativity, symmetry,
// and identity of indiscernibles. Vectors of different lengths are
// incomparable and must return +Inf so they can never be neighbors.
type DistanceFunc func(a, b []float32) float64

// EuclideanDistance is the default metric over signature vectors.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance is 1 - cosine similarity, for callers whose signatures
// are direction-encoded rather than magnitude-encoded.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var dot, magA, magB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		magA += va * va
		magB += vb * vb
	}
	if magA == 0 || magB == 0 {
		return math.Inf(1)
	}
	return 1.0 - dot/(math.Sqrt(magA)*math.Sqrt(magB))
}

// Centroid computes the element-wise average of a set of vectors.
// Returns nil for an empty input.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	size := len(vectors[0])
	centroid := make([]float32, size)
	for _, vec := range vectors {
		if len(vec) != size {
			continue
		}
		for i := 0; i < size; i++ {
			centroid[i] += vec[i]
		}
	}
	count := float32(len(vectors))
	for i := 0; i < size; i++ {
		centroid[i] /= count
	}
	return centroid
}
