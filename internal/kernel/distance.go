package kernel

import "math"

// DistanceFunc scores two equal-length float32 vectors. Every distance
// in this module is larger-is-worse: a smaller score means a closer
// match, so inner product is negated to fit the same max-heap-friendly
// convention as the other metrics.
type DistanceFunc func(a, b []float32) float32

// innerProductDistance returns -<a,b>, the canonical larger-is-worse
// form of inner product similarity.
func innerProductDistance(a, b []float32) float32 {
	return -Dot(a, b)
}

// squaredEuclideanDistance returns sum((a_i-b_i)^2), already larger-is-worse.
func squaredEuclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// cosineDistance returns 1-cos(a,b); callers are expected to have
// normalized a and b via the Cosine metric's query preprocessor /
// add-time normalization, but this also normalizes defensively.
func cosineDistance(a, b []float32) float32 {
	dot := Dot(a, b)
	na := float32(math.Sqrt(float64(Dot(a, a))))
	nb := float32(math.Sqrt(float64(Dot(b, b))))
	if na == 0 || nb == 0 {
		return 1.0
	}
	cos := dot / (na * nb)
	if cos > 1.0 {
		cos = 1.0
	} else if cos < -1.0 {
		cos = -1.0
	}
	return 1.0 - cos
}

// mipsSquaredEuclideanDistance implements the asymmetric MIPS lift: the
// stored vector carries an extra appended dimension (the residual
// sqrt(U^2*MaxL2Norm^2 - ||v||^2)), and at query time the query is
// zero-extended by the same arity so a plain squared-Euclidean
// comparison over the lifted space recovers a monotone transform of
// inner product. The lift itself is applied by the Metric's query/add
// preprocessors (the lift and queryLift closures in metric.go); by
// the time vectors reach this function they are already lifted and
// equal length.
func mipsSquaredEuclideanDistance(a, b []float32) float32 {
	return squaredEuclideanDistance(a, b)
}

// Dot is the shared dot-product primitive used by every metric that
// needs it; it is the one hot path dispatched through the ISA selector
// (see simd.go).
func Dot(a, b []float32) float32 {
	return dispatchDot(a, b)
}

// Norm1 returns the L1 norm (sum of absolute values).
func Norm1(v []float32) float32 {
	var sum float32
	for _, x := range v {
		if x < 0 {
			sum -= x
		} else {
			sum += x
		}
	}
	return sum
}

// Norm2 returns the Euclidean (L2) norm.
func Norm2(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}
