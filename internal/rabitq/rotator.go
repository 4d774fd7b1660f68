// Package rabitq implements the RaBitQ variant: a deterministic
// rotation, a 1-bit-plus-residual quantizer, and a vector provider used
// to rerank the top-k candidates HNSW returns over the compressed
// representation against their original vectors.
//
// Grounded on original_source/src/core/algorithm/hnsw-rabitq (the
// rotate-then-quantize split) and on internal/quant
// package for the Go shape of a trainable quantizer, generalized from
// product/scalar quantizers to the rotate+1-bit+residual
// scheme this spec requires.
package rabitq

import (
	"math"
	"math/rand"
)

// Rotator is a fixed orthonormal transform over D dimensions, applied
// to stored vectors by Index.Add and to queries by Index.Search, per
// the rule above. Deterministic given a seed.
type Rotator struct {
	dim int
	matrix [][]float32 // dim x dim orthonormal rotation
}

// NewRotator builds a dense random rotation matrix for dimension d,
// deterministic given seed, via Gram-Schmidt orthonormalization of a
// seeded random Gaussian matrix.
func NewRotator(d int, seed uint64) *Rotator {
	rng := rand.New(rand.NewSource(int64(seed)))
	rows := make([][]float64, d)
	for i := range rows {
		rows[i] = make([]float64, d)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	gramSchmidt(rows)

	matrix := make([][]float32, d)
	for i := range matrix {
		matrix[i] = make([]float32, d)
		for j := range matrix[i] {
			matrix[i][j] = float32(rows[i][j])
		}
	}
	return &Rotator{dim: d, matrix: matrix}
}

func gramSchmidt(rows [][]float64) {
	for i := range rows {
		for k := 0; k < i; k++ {
			dot := dotF64(rows[i], rows[k])
			for j := range rows[i] {
				rows[i][j] -= dot * rows[k][j]
			}
		}
		norm := 0.0
		for _, x := range rows[i] {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for j := range rows[i] {
			rows[i][j] /= norm
		}
	}
}

func dotF64(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Apply rotates v (length dim) into a freshly allocated output vector.
func (r *Rotator) Apply(v []float32) []float32 {
	out := make([]float32, r.dim)
	for i := 0; i < r.dim; i++ {
		var sum float32
		row := r.matrix[i]
		for j := 0; j < r.dim; j++ {
			sum += row[j] * v[j]
		}
		out[i] = sum
	}
	return out
}

// Dim reports the rotator's dimensionality.
func (r *Rotator) Dim() int { return r.dim }
