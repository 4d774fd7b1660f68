package kernel

import "math"

// BinaryQuantizer implements the 1-bit quantizer described in
// original_source/src/ailego/algorithm/binary_quantizer.h: each
// dimension encodes to a single sign bit relative to a threshold,
// packed 32-per-u32-word, matching BinaryWordCount. Decode recovers
// +/-1.0 per the round-trip law:
//
//	dequantize(quantize(v))_i = sign(v_i - threshold) * 1.0
type BinaryQuantizer struct {
	Threshold float32
}

// NewBinaryQuantizer returns a quantizer with the default threshold (0),
// matching the original's BinaryQuantizer default constructor.
func NewBinaryQuantizer() *BinaryQuantizer {
	return &BinaryQuantizer{Threshold: 0}
}

// Encode packs sign(v_i - threshold) into ceil(d/32) little-endian u32
// words, one bit per dimension, LSB-first within each word.
func (q *BinaryQuantizer) Encode(v []float32) []uint32 {
	words := make([]uint32, BinaryWordCount(len(v)))
	for i, x := range v {
		if x-q.Threshold >= 0 {
			words[i/32] |= 1 << uint(i%32)
		}
	}
	return words
}

// Decode expands d sign bits back into +1.0/-1.0 float32 values.
func (q *BinaryQuantizer) Decode(words []uint32, d int) []float32 {
	out := make([]float32, d)
	for i := 0; i < d; i++ {
		bit := (words[i/32] >> uint(i%32)) & 1
		if bit == 1 {
			out[i] = 1.0
		} else {
			out[i] = -1.0
		}
	}
	return out
}

// ScalarQuantizer implements per-dimension linear INT8 quantization,
// grounded on internal/quant/scalar.go ScalarQuantizer
// (min/max scan, linear dequantization offset+quantized*scale), adapted
// to this module's dedicated quantize/dequantize kernel surface instead
// of pluggable Quantizer interface.
type ScalarQuantizer struct {
	dim int
	minVals []float32
	scales []float32
	trained bool
}

// NewScalarQuantizer returns an untrained quantizer for vectors of
// dimension d.
func NewScalarQuantizer(d int) *ScalarQuantizer {
	return &ScalarQuantizer{dim: d}
}

// Train scans vectors to fix a per-dimension [min,max] range mapped to
// the full uint8 range [0,255].
func (q *ScalarQuantizer) Train(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}
	d := q.dim
	minV := make([]float32, d)
	maxV := make([]float32, d)
	copy(minV, vectors[0])
	copy(maxV, vectors[0])
	for _, v := range vectors[1:] {
		for i := 0; i < d; i++ {
			if v[i] < minV[i] {
				minV[i] = v[i]
			}
			if v[i] > maxV[i] {
				maxV[i] = v[i]
			}
		}
	}
	scales := make([]float32, d)
	for i := 0; i < d; i++ {
		span := maxV[i] - minV[i]
		if span == 0 {
			scales[i] = 1
		} else {
			scales[i] = span / 255.0
		}
	}
	q.minVals = minV
	q.scales = scales
	q.trained = true
}

// IsTrained reports whether Train has run.
func (q *ScalarQuantizer) IsTrained() bool { return q.trained }

// Quantize maps each dimension of v to the nearest of 256 linear levels
// 0..255.
func (q *ScalarQuantizer) Quantize(v []float32) []byte {
	out := make([]byte, len(v))
	for i, x := range v {
		bucket := (x - q.minVals[i]) / q.scales[i]
		if bucket < 0 {
			bucket = 0
		} else if bucket > 255 {
			bucket = 255
		}
		out[i] = byte(math.Round(float64(bucket)))
	}
	return out
}

// Dequantize is the inverse linear map; the round-trip law requires
// |dequantize(quantize(v))_i - v_i| <= scale_per_dim.
func (q *ScalarQuantizer) Dequantize(in []byte) []float32 {
	out := make([]float32, len(in))
	for i, b := range in {
		out[i] = q.minVals[i] + float32(b)*q.scales[i]
	}
	return out
}

// ScalePerDim exposes the per-dimension quantization step, the bound
// used by the round-trip property test.
func (q *ScalarQuantizer) ScalePerDim(i int) float32 { return q.scales[i] }

// PackInt4 packs signed 4-bit values (range [-8,7]) two per byte.
func PackInt4(vals []int8) []byte {
	out := make([]byte, (len(vals)+1)/2)
	for i, v := range vals {
		nibble := byte(v) & 0x0F
		if i%2 == 0 {
			out[i/2] = nibble
		} else {
			out[i/2] |= nibble << 4
		}
	}
	return out
}

// UnpackInt4 expands d packed 4-bit values back to signed bytes.
func UnpackInt4(packed []byte, d int) []int8 {
	out := make([]int8, d)
	for i := 0; i < d; i++ {
		b := packed[i/2]
		var nibble byte
		if i%2 == 0 {
			nibble = b & 0x0F
		} else {
			nibble = (b >> 4) & 0x0F
		}
		if nibble >= 8 {
			out[i] = int8(nibble) - 16
		} else {
			out[i] = int8(nibble)
		}
	}
	return out
}
