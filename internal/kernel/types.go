// Package kernel implements the element-type and metric distance
// kernels of /: scalar and tiled distance functions, query
// preprocessing, norms, and quantize/dequantize primitives, with a
// runtime ISA dispatcher selecting the fastest available implementation.
package kernel

import "fmt"

// ElementType names the on-disk representation of one vector dimension.
type ElementType int

const (
	FP32 ElementType = iota
	FP16
	INT8
	INT4 // packed 2 values per byte
	BF16
	BINARY32 // packed 32 sign bits per u32 word
)

func (e ElementType) String() string {
	switch e {
	case FP32:
		return "FP32"
	case FP16:
		return "FP16"
	case INT8:
		return "INT8"
	case INT4:
		return "INT4"
	case BF16:
		return "BF16"
	case BINARY32:
		return "BINARY32"
	default:
		return fmt.Sprintf("ElementType(%d)", int(e))
	}
}

// BytesPerElement returns the on-disk size, in bytes, of dimension count
// d vectors of element type e. INT4 packs two values per byte; BINARY32
// packs 32 sign bits per little-endian u32 word.
func BytesPerElement(e ElementType, d int) int {
	switch e {
	case FP32:
		return d * 4
	case FP16, BF16:
		return d * 2
	case INT8:
		return d
	case INT4:
		return (d + 1) / 2
	case BINARY32:
		return BinaryWordCount(d) * 4
	default:
		return 0
	}
}

// BinaryWordCount is the number of u32 words needed to hold d sign bits,
// matching the original C++ BinaryQuantizer::EncodedSizeInBinary32.
func BinaryWordCount(d int) int {
	return (d + 31) / 32
}

// VectorBytes is an alias of BytesPerElement kept for readability at
// call sites that already know the element type from a header.
func VectorBytes(e ElementType, d int) int {
	return BytesPerElement(e, d)
}
