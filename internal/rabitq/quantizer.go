package rabitq

import (
	"math"
	"math/rand"

	"github.com/codingwatching/zvec-sub004/internal/kernel"
)

// Code is one vector's compressed representation: a 1-bit sign code
// over the rotated vector, an ex_bits-wide fixed-point residual
// correction (packed per dimension, scaled per vector), and an
// optional cluster assignment .
type Code struct {
	Signs []uint32 // packed sign bits, kernel.BinaryWordCount(dim) words
	ResidualPacked []byte // dim values packed exBits-wide, two's complement
	ResidualScale float32 // 0 when exBits <= 0 or the residual is all-zero
	Cluster int // -1 if num_clusters == 0
}

// Quantizer implements the 1-bit + residual scheme of : after
// rotation, a vector splits into a sign-bit vector (threshold-0 binary
// quantization, grounded on kernel.BinaryQuantizer /
// original_source/src/ailego/algorithm/binary_quantizer.h) and an
// ex_bits-bit residual, optionally scaled/offset per a k-means cluster.
type Quantizer struct {
	dim int
	exBits int
	binary *kernel.BinaryQuantizer
	numClusters int
	centroids [][]float32 // len == numClusters, each length dim
}

// NewQuantizer returns an untrained quantizer for rotated vectors of
// dimension d with exBits residual bits and numClusters optional
// k-means centroids (0 disables clustering; scale/offset default to
// the identity).
func NewQuantizer(d, exBits, numClusters int) *Quantizer {
	return &Quantizer{
		dim: d,
		exBits: exBits,
		binary: kernel.NewBinaryQuantizer(),
		numClusters: numClusters,
	}
}

// Train fits numClusters k-means centroids over a reservoir sample of
// rotated training vectors, per 's "optional k-means centroids" and
// SPEC_FULL's adoption of original_source's reservoir-sampling idiom
// (src/ailego/container/reservoir.h) for subsampling an unknown-length
// stream, in place of fixed-stride sampleVectors.
func (q *Quantizer) Train(vectors [][]float32, sampleSize int, seed uint64) {
	if q.numClusters <= 0 || len(vectors) == 0 {
		return
	}
	sample := reservoirSample(vectors, sampleSize, seed)
	q.centroids = kMeans(sample, q.numClusters, seed)
}

// reservoirSample picks up to k vectors from stream uniformly at
// random in one pass, deterministic given seed.
func reservoirSample(stream [][]float32, k int, seed uint64) [][]float32 {
	if k <= 0 || k >= len(stream) {
		out := make([][]float32, len(stream))
		copy(out, stream)
		return out
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	out := make([][]float32, k)
	copy(out, stream[:k])
	for i := k; i < len(stream); i++ {
		j := rng.Intn(i + 1)
		if j < k {
			out[j] = stream[i]
		}
	}
	return out
}

// kMeans runs a fixed number of Lloyd iterations over sample, seeded
// deterministically for centroid initialization.
func kMeans(sample [][]float32, k int, seed uint64) [][]float32 {
	if len(sample) == 0 {
		return nil
	}
	if k > len(sample) {
		k = len(sample)
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	centroids := make([][]float32, k)
	perm := rng.Perm(len(sample))
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32{}, sample[perm[i]]...)
	}

	const iterations = 10
	dim := len(sample[0])
	for iter := 0; iter < iterations; iter++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, v := range sample {
			best, bestDist := 0, math.MaxFloat64
			for ci, c := range centroids {
				d := sqDist(v, c)
				if d < bestDist {
					best, bestDist = ci, d
				}
			}
			counts[best]++
			for j, x := range v {
				sums[best][j] += float64(x)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for j := range centroids[i] {
				centroids[i][j] = float32(sums[i][j] / float64(counts[i]))
			}
		}
	}
	return centroids
}

func sqDist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// nearestCluster returns the index of the centroid closest to v, or -1
// if no centroids are trained.
func (q *Quantizer) nearestCluster(v []float32) int {
	if len(q.centroids) == 0 {
		return -1
	}
	best, bestDist := 0, math.MaxFloat64
	for i, c := range q.centroids {
		d := sqDist(v, c)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Encode quantizes a rotated vector v into a Code: a sign-bit vector
// plus the per-dimension residual (v - decode(signs)) truncated to an
// exBits-wide fixed-point code, optionally relative to its nearest
// cluster centroid.
func (q *Quantizer) Encode(rotated []float32) Code {
	cluster := q.nearestCluster(rotated)
	base := rotated
	if cluster >= 0 {
		centroid := q.centroids[cluster]
		base = make([]float32, len(rotated))
		for i := range rotated {
			base[i] = rotated[i] - centroid[i]
		}
	}
	signs := q.binary.Encode(base)
	decodedSign := q.binary.Decode(signs, q.dim)
	residual := make([]float32, q.dim)
	for i := range base {
		residual[i] = base[i] - decodedSign[i]
	}
	packed, scale := quantizeResidual(residual, q.exBits)
	return Code{Signs: signs, ResidualPacked: packed, ResidualScale: scale, Cluster: cluster}
}

// Decode reconstructs an approximate rotated vector from code.
func (q *Quantizer) Decode(code Code) []float32 {
	decodedSign := q.binary.Decode(code.Signs, q.dim)
	residual := dequantizeResidual(code.ResidualPacked, code.ResidualScale, q.dim, q.exBits)
	out := make([]float32, q.dim)
	for i := range out {
		out[i] = decodedSign[i] + residual[i]
	}
	if code.Cluster >= 0 && code.Cluster < len(q.centroids) {
		centroid := q.centroids[code.Cluster]
		for i := range out {
			out[i] += centroid[i]
		}
	}
	return out
}

// quantizeResidual maps residual to a shared per-vector scale (the
// largest-magnitude component divided into 2^(exBits-1) positive
// levels) and an exBits-wide signed fixed-point code per dimension,
// the "ex_bits residual" compression the RaBitQ variant actually
// needs. exBits <= 0 disables residual correction entirely (the
// quantizer degrades to pure 1-bit + cluster offset).
func quantizeResidual(residual []float32, exBits int) ([]byte, float32) {
	if exBits <= 0 {
		return nil, 0
	}
	var maxAbs float32
	for _, x := range residual {
		a := x
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}
	levels := int32(1) << uint(exBits-1)
	packedLen := (len(residual)*exBits + 7) / 8
	if maxAbs == 0 {
		return make([]byte, packedLen), 0
	}
	scale := maxAbs / float32(levels)
	codes := make([]int32, len(residual))
	for i, x := range residual {
		c := int32(math.Round(float64(x / scale)))
		if c > levels-1 {
			c = levels - 1
		} else if c < -levels {
			c = -levels
		}
		codes[i] = c
	}
	return packSigned(codes, exBits), scale
}

// dequantizeResidual is quantizeResidual's inverse.
func dequantizeResidual(packed []byte, scale float32, d, exBits int) []float32 {
	out := make([]float32, d)
	if exBits <= 0 || scale == 0 {
		return out
	}
	codes := unpackSigned(packed, d, exBits)
	for i, c := range codes {
		out[i] = float32(c) * scale
	}
	return out
}

// packSigned packs n two's-complement values (each representable in
// bits bits) into a byte slice, LSB-first within each value and
// values placed back-to-back across byte boundaries, generalizing
// kernel.PackInt4 to an arbitrary bit width.
func packSigned(vals []int32, bits int) []byte {
	out := make([]byte, (len(vals)*bits+7)/8)
	mask := uint32(1)<<uint(bits) - 1
	for i, v := range vals {
		uv := uint32(v) & mask
		bitOffset := i * bits
		for b := 0; b < bits; b++ {
			if uv&(1<<uint(b)) != 0 {
				pos := bitOffset + b
				out[pos/8] |= 1 << uint(pos%8)
			}
		}
	}
	return out
}

// unpackSigned is packSigned's inverse, sign-extending each bits-wide
// field back to a signed int32.
func unpackSigned(data []byte, n, bits int) []int32 {
	out := make([]int32, n)
	signBit := int32(1) << uint(bits-1)
	mask := int32(1)<<uint(bits) - 1
	for i := 0; i < n; i++ {
		bitOffset := i * bits
		var uv int32
		for b := 0; b < bits; b++ {
			pos := bitOffset + b
			if data[pos/8]&(1<<uint(pos%8)) != 0 {
				uv |= 1 << uint(b)
			}
		}
		uv &= mask
		if uv&signBit != 0 {
			uv -= mask + 1
		}
		out[i] = uv
	}
	return out
}

// EstimateDistance scores a rotated query against code using the
// decoded approximate vector and distance, the cheap estimate the
// searcher uses before reranking the survivors against exact vectors.
func (q *Quantizer) EstimateDistance(rotatedQuery []float32, code Code, distance kernel.DistanceFunc) float32 {
	return distance(rotatedQuery, q.Decode(code))
}
