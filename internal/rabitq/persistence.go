package rabitq

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/codingwatching/zvec-sub004/internal/chunkstore"
	"github.com/codingwatching/zvec-sub004/internal/format"
	"github.com/codingwatching/zvec-sub004/internal/hnsw"
	"github.com/codingwatching/zvec-sub004/internal/kernel"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Segment names, per 's "rabitq.converter (header + rotator +
// centroids) when present" catalog entry. rabitq.raw_vectors is this
// module's own companion segment: the original (pre-rotation) vectors
// the reranking pass needs, which has no equivalent in the plain HNSW
// graph segments.
const (
	segConverter = "rabitq.converter"
	segRawVectors = "rabitq.raw_vectors"
)

// Dump writes idx to w as a complete footer'd index file: the
// underlying HNSW graph (over rotated/quantized approximations) via
// hnsw.DumpToStore, plus the rotator/quantizer state and the original
// vectors reranking needs, all in one container.
func Dump(idx *Index, w io.Writer) error {
	if idx.readOnly {
		return zvecerr.New("rabitq.Dump", zvecerr.Unsupported).WithContext("reason", "index opened read-only")
	}
	store, err := chunkstore.Open("", chunkstore.OpenOptions{Storage: chunkstore.MEMORY})
	if err != nil {
		return zvecerr.Wrap("rabitq.Dump", zvecerr.IO, err)
	}
	defer store.Close()

	if err := hnsw.DumpToStore(idx.builder, store); err != nil {
		return err
	}
	if err := writeConverterSegment(idx, store); err != nil {
		return err
	}
	if err := writeRawVectorsSegment(idx, store); err != nil {
		return err
	}
	return format.Dump(store, w)
}

func writeConverterSegment(idx *Index, store *chunkstore.Store) error {
	dim := idx.rotator.dim
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint32(idx.quantizer.exBits))
	binary.Write(buf, binary.LittleEndian, uint32(len(idx.quantizer.centroids)))
	binary.Write(buf, binary.LittleEndian, uint32(dim))
	for _, row := range idx.rotator.matrix {
		for _, x := range row {
			binary.Write(buf, binary.LittleEndian, x)
		}
	}
	for _, c := range idx.quantizer.centroids {
		for _, x := range c {
			binary.Write(buf, binary.LittleEndian, x)
		}
	}

	chunk, err := store.AllocChunk(segConverter, chunkstore.TypeOther, buf.Len())
	if err != nil {
		return zvecerr.Wrap("rabitq.Dump", zvecerr.IO, err)
	}
	if _, err := chunk.Write(0, buf.Bytes()); err != nil {
		return zvecerr.Wrap("rabitq.Dump", zvecerr.IO, err)
	}
	return nil
}

func writeRawVectorsSegment(idx *Index, store *chunkstore.Store) error {
	dim := idx.meta.Dimension
	docCount := len(idx.raw)
	chunk, err := store.AllocChunk(segRawVectors, chunkstore.TypeOther, docCount*dim*4)
	if err != nil {
		return zvecerr.Wrap("rabitq.Dump", zvecerr.IO, err)
	}
	for n, v := range idx.raw {
		vbuf := make([]byte, dim*4)
		for i, x := range v {
			binary.LittleEndian.PutUint32(vbuf[i*4:i*4+4], math.Float32bits(x))
		}
		if _, err := chunk.Write(int64(n)*int64(dim)*4, vbuf); err != nil {
			return zvecerr.Wrap("rabitq.Dump", zvecerr.IO, err)
		}
	}
	return nil
}

// Load reconstructs a read-only Index from a footer'd file previously
// written by Dump: the HNSW graph via hnsw.Load, and the rotator,
// quantizer, and original vectors from their own segments.
func Load(r io.ReaderAt, size int64, bruteForceThreshold int, rerankMultiplier int) (*Index, error) {
	entity, err := hnsw.Load(r, size)
	if err != nil {
		return nil, err
	}
	segments, err := format.Load(r, size)
	if err != nil {
		return nil, err
	}

	conv, ok := segments[segConverter]
	if !ok {
		return nil, zvecerr.New("rabitq.Load", zvecerr.InvalidFormat).WithContext("reason", "missing rabitq.converter segment")
	}
	br := bytes.NewReader(conv.Data)
	var exBits, numClusters, dim uint32
	binary.Read(br, binary.LittleEndian, &exBits)
	binary.Read(br, binary.LittleEndian, &numClusters)
	binary.Read(br, binary.LittleEndian, &dim)

	matrix := make([][]float32, dim)
	for i := range matrix {
		matrix[i] = make([]float32, dim)
		for j := range matrix[i] {
			binary.Read(br, binary.LittleEndian, &matrix[i][j])
		}
	}
	centroids := make([][]float32, numClusters)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
		for j := range centroids[i] {
			binary.Read(br, binary.LittleEndian, &centroids[i][j])
		}
	}

	rawSeg, ok := segments[segRawVectors]
	if !ok {
		return nil, zvecerr.New("rabitq.Load", zvecerr.InvalidFormat).WithContext("reason", "missing rabitq.raw_vectors segment")
	}
	docCount := int(entity.DocCount())
	raw := make([][]float32, docCount)
	for n := 0; n < docCount; n++ {
		v := make([]float32, dim)
		base := n * int(dim) * 4
		for i := range v {
			off := base + i*4
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(rawSeg.Data[off : off+4]))
		}
		raw[n] = v
	}

	rerankK := rerankMultiplier
	if rerankK <= 0 {
		rerankK = 4
	}
	idx := &Index{
		meta: entity.Meta(),
		rotator: &Rotator{dim: int(dim), matrix: matrix},
		quantizer: &Quantizer{dim: int(dim), exBits: int(exBits), binary: kernel.NewBinaryQuantizer(), numClusters: int(numClusters), centroids: centroids},
		roEntity: entity,
		readOnly: true,
		raw: raw,
		rerankK: rerankK,
		searcher: hnsw.NewSearcher(entity, bruteForceThreshold),
	}
	idx.provider = &nodeBoundProvider{index: idx}
	return idx, nil
}
