package hnsw

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/codingwatching/zvec-sub004/internal/chunkstore"
	"github.com/codingwatching/zvec-sub004/internal/format"
	"github.com/codingwatching/zvec-sub004/internal/kernel"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Segment names, per 's segment catalog.
const (
	segHeader = "hnsw.header"
	segKeys = "hnsw.keys"
	segVectors = "hnsw.vectors"
	segNeighborsL0 = "hnsw.neighbors.L0"
	segNeighborsUp = "hnsw.neighbors.Lk"
	segNeighborsIdx = "hnsw.neighbors.index"
)

// nodeStride computes align_up(vector_bytes, 32), with one extra byte
// of padding forced if that would land on a multiple of 1024, per the rule above.
func nodeStride(vectorBytes int) int {
	s := alignUpInt(vectorBytes, 32)
	if s%1024 == 0 {
		s++
	}
	return s
}

func alignUpInt(n, align int) int {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// neighborStrideL0 is (count: u32, neighbors: [N; M0]).
func neighborStrideL0(m0 int) int { return 4 + 4*m0 }

// neighborStrideUpper is (count: u32, neighbors: [N; M]) per level slot.
func neighborStrideUpper(m int) int { return 4 + 4*m }

// DumpToStore materializes builder's Entity into store's segments in
// the layout, ready for format.Dump to serialize to a footer'd
// file. The store is expected to be empty (a fresh writer-mode or
// MEMORY-mode chunkstore.Store).
func DumpToStore(b *Builder, store *chunkstore.Store) error {
	e := b.entity
	e.mu.RLock()
	defer e.mu.RUnlock()

	dim := e.meta.Dimension
	storedDim := dim
	if e.metric.OutputDimension != nil {
		storedDim = e.metric.OutputDimension(dim)
	}
	vecBytes := kernel.BytesPerElement(e.meta.ElementType, storedDim)
	nStride := nodeStride(vecBytes)
	l0Stride := neighborStrideL0(e.meta.M0)
	upStride := neighborStrideUpper(e.meta.M)
	docCount := len(e.nodes)

	headerBuf := &bytes.Buffer{}
	headerBuf.WriteString(format.Magic)
	binary.Write(headerBuf, binary.LittleEndian, format.Version)
	binary.Write(headerBuf, binary.LittleEndian, uint32(e.meta.ElementType))
	writeString(headerBuf, e.meta.MetricName)
	binary.Write(headerBuf, binary.LittleEndian, uint32(dim))
	binary.Write(headerBuf, binary.LittleEndian, uint32(storedDim))
	binary.Write(headerBuf, binary.LittleEndian, uint32(e.meta.M))
	binary.Write(headerBuf, binary.LittleEndian, uint32(e.meta.M0))
	binary.Write(headerBuf, binary.LittleEndian, uint32(e.meta.EfConstruction))
	binary.Write(headerBuf, binary.LittleEndian, uint32(docCount))
	binary.Write(headerBuf, binary.LittleEndian, e.epNode)
	binary.Write(headerBuf, binary.LittleEndian, int32(e.epLevel))
	binary.Write(headerBuf, binary.LittleEndian, uint32(nStride))
	binary.Write(headerBuf, binary.LittleEndian, uint32(l0Stride))
	binary.Write(headerBuf, binary.LittleEndian, uint32(upStride))

	hChunk, err := store.AllocChunk(segHeader, chunkstore.TypeHeader, headerBuf.Len())
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}
	if _, err := hChunk.Write(0, headerBuf.Bytes()); err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}

	keysChunk, err := store.AllocChunk(segKeys, chunkstore.TypeKeys, docCount*8)
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}
	vecChunk, err := store.AllocChunk(segVectors, chunkstore.TypeVectors, docCount*nStride)
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}
	l0Chunk, err := store.AllocChunk(segNeighborsL0, chunkstore.TypeNeighborsL0, docCount*l0Stride)
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}
	idxChunk, err := store.AllocChunk(segNeighborsIdx, chunkstore.TypeNeighborsIndex, docCount*9)
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}

	// The keys, vectors, and level-0 neighbor segments encode
	// independently per node, so they fan out across an errgroup; the
	// upper-level segment keeps its own goroutine because its offsets
	// accumulate sequentially across nodes.
	var g errgroup.Group
	g.Go(func() error { return writeKeysSegment(e.nodes, keysChunk) })
	g.Go(func() error { return writeVectorsSegment(e.nodes, e.meta.ElementType, nStride, vecChunk) })
	g.Go(func() error { return writeL0Segment(e.nodes, l0Stride, l0Chunk) })
	g.Go(func() error { return writeUpperSegment(e.nodes, upStride, idxChunk, store) })
	return g.Wait()
}

func writeKeysSegment(nodes []*node, keysChunk *chunkstore.Handle) error {
	for n, nd := range nodes {
		var keyBuf [8]byte
		binary.LittleEndian.PutUint64(keyBuf[:], nd.key)
		if _, err := keysChunk.Write(int64(n)*8, keyBuf[:]); err != nil {
			return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
		}
	}
	return nil
}

func writeVectorsSegment(nodes []*node, et kernel.ElementType, nStride int, vecChunk *chunkstore.Handle) error {
	for n, nd := range nodes {
		vbuf := encodeVector(et, nd.vector, nStride)
		if _, err := vecChunk.Write(int64(n)*int64(nStride), vbuf); err != nil {
			return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
		}
	}
	return nil
}

func writeL0Segment(nodes []*node, l0Stride int, l0Chunk *chunkstore.Handle) error {
	for n, nd := range nodes {
		l0 := &bytes.Buffer{}
		binary.Write(l0, binary.LittleEndian, uint32(len(nd.neighborsL0)))
		for _, nb := range nd.neighborsL0 {
			binary.Write(l0, binary.LittleEndian, nb)
		}
		padded := make([]byte, l0Stride)
		copy(padded, l0.Bytes())
		if _, err := l0Chunk.Write(int64(n)*int64(l0Stride), padded); err != nil {
			return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
		}
	}
	return nil
}

// writeUpperSegment encodes the per-level neighbor lists above level 0
// and the per-node (offset, level) index pointing into them. Offsets
// accumulate across nodes in iteration order, so this runs single
// threaded against its own idxChunk/upChunk pair.
func writeUpperSegment(nodes []*node, upStride int, idxChunk *chunkstore.Handle, store *chunkstore.Store) error {
	var upperBuf bytes.Buffer
	for n, nd := range nodes {
		offset := uint64(upperBuf.Len())
		for lvl := 1; lvl <= nd.level; lvl++ {
			nbs := nd.neighborsUp[lvl-1]
			slot := &bytes.Buffer{}
			binary.Write(slot, binary.LittleEndian, uint32(len(nbs)))
			for _, nb := range nbs {
				binary.Write(slot, binary.LittleEndian, nb)
			}
			slotPadded := make([]byte, upStride)
			copy(slotPadded, slot.Bytes())
			upperBuf.Write(slotPadded)
		}
		var idxBuf [9]byte
		binary.LittleEndian.PutUint64(idxBuf[0:8], offset)
		idxBuf[8] = byte(nd.level)
		if _, err := idxChunk.Write(int64(n)*9, idxBuf[:]); err != nil {
			return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
		}
	}

	upChunk, err := store.AllocChunk(segNeighborsUp, chunkstore.TypeNeighborsUpper, upperBuf.Len())
	if err != nil {
		return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
	}
	if upperBuf.Len() > 0 {
		if _, err := upChunk.Write(0, upperBuf.Bytes()); err != nil {
			return zvecerr.Wrap("hnsw.DumpToStore", zvecerr.IO, err)
		}
	}
	return nil
}

// Dump writes b's entity to w as a complete footer'd index file, per
// : DumpToStore populates an anonymous MEMORY-mode chunk store,
// then format.Dump serializes its segments with the directory/footer.
func Dump(b *Builder, w io.Writer) error {
	store, err := chunkstore.Open("", chunkstore.OpenOptions{Storage: chunkstore.MEMORY})
	if err != nil {
		return zvecerr.Wrap("hnsw.Dump", zvecerr.IO, err)
	}
	defer store.Close()
	if err := DumpToStore(b, store); err != nil {
		return err
	}
	return format.Dump(store, w)
}

// Load reconstructs a read-only Entity from a footer'd file previously
// written by Dump, per 's searcher-mode lifecycle.
func Load(r io.ReaderAt, size int64) (*Entity, error) {
	segments, err := format.Load(r, size)
	if err != nil {
		return nil, err
	}
	header, ok := segments[segHeader]
	if !ok {
		return nil, zvecerr.New("hnsw.Load", zvecerr.InvalidFormat).WithContext("reason", "missing hnsw.header segment")
	}
	br := bytes.NewReader(header.Data)

	magic := make([]byte, 8)
	io.ReadFull(br, magic)
	var version uint32
	binary.Read(br, binary.LittleEndian, &version)
	var elementType uint32
	binary.Read(br, binary.LittleEndian, &elementType)
	metricName, err := readString(br)
	if err != nil {
		return nil, zvecerr.Wrap("hnsw.Load", zvecerr.InvalidFormat, err)
	}
	var dim, storedDim, mVal, m0Val, efc, docCount uint32
	var epNode uint32
	var epLevel int32
	var nStride, l0Stride, upStride uint32
	binary.Read(br, binary.LittleEndian, &dim)
	binary.Read(br, binary.LittleEndian, &storedDim)
	binary.Read(br, binary.LittleEndian, &mVal)
	binary.Read(br, binary.LittleEndian, &m0Val)
	binary.Read(br, binary.LittleEndian, &efc)
	binary.Read(br, binary.LittleEndian, &docCount)
	binary.Read(br, binary.LittleEndian, &epNode)
	binary.Read(br, binary.LittleEndian, &epLevel)
	binary.Read(br, binary.LittleEndian, &nStride)
	binary.Read(br, binary.LittleEndian, &l0Stride)
	binary.Read(br, binary.LittleEndian, &upStride)

	meta := Meta{
		ElementType: kernel.ElementType(elementType),
		MetricName: metricName,
		Dimension: int(dim),
		M: int(mVal),
		M0: int(m0Val),
		EfConstruction: int(efc),
	}
	e, err := NewBuilderEntity(meta)
	if err != nil {
		return nil, err
	}
	e.readOnly = true
	e.epNode = epNode
	e.epLevel = int(epLevel)

	keysSeg := segments[segKeys].Data
	vecSeg := segments[segVectors].Data
	l0Seg := segments[segNeighborsL0].Data
	idxSeg := segments[segNeighborsIdx].Data
	upSeg := segments[segNeighborsUp].Data

	e.nodes = make([]*node, docCount)
	for n := uint32(0); n < docCount; n++ {
		key := binary.LittleEndian.Uint64(keysSeg[n*8 : n*8+8])
		vbuf := vecSeg[int(n)*int(nStride) : int(n)*int(nStride)+int(nStride)]
		vec := decodeVector(meta.ElementType, vbuf, int(storedDim))

		l0slot := l0Seg[int(n)*int(l0Stride) : int(n)*int(l0Stride)+int(l0Stride)]
		count := binary.LittleEndian.Uint32(l0slot[0:4])
		l0 := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			l0[i] = binary.LittleEndian.Uint32(l0slot[4+4*i : 8+4*i])
		}

		idxOff := int64(n) * 9
		offset := binary.LittleEndian.Uint64(idxSeg[idxOff : idxOff+8])
		level := int(idxSeg[idxOff+8])
		up := make([][]uint32, level)
		cursor := offset
		for lvl := 1; lvl <= level; lvl++ {
			slot := upSeg[cursor : cursor+uint64(upStride)]
			c := binary.LittleEndian.Uint32(slot[0:4])
			nbs := make([]uint32, c)
			for i := uint32(0); i < c; i++ {
				nbs[i] = binary.LittleEndian.Uint32(slot[4+4*i : 8+4*i])
			}
			up[lvl-1] = nbs
			cursor += uint64(upStride)
		}

		e.nodes[n] = &node{key: key, level: level, vector: vec, neighborsL0: l0, neighborsUp: up}
		if key != InvalidKey {
			e.keyIndex[key] = n
			e.live.Set(uint(n))
		}
	}

	return e, nil
}

func writeString(w io.Writer, s string) {
	binary.Write(w, binary.LittleEndian, uint32(len(s)))
	io.WriteString(w, s)
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// encodeVector serializes v into strideBytes of on-disk element-type
// bytes, zero-padded. BINARY32 goes through the threshold-0
// BinaryQuantizer and INT8 through a fixed [-1,1] symmetric scale
// suitable for already-normalized vectors; every other type, FP32
// included, is written as a direct little-endian FP32 cast.
func encodeVector(et kernel.ElementType, v []float32, strideBytes int) []byte {
	out := make([]byte, strideBytes)
	switch et {
	case kernel.BINARY32:
		words := kernel.NewBinaryQuantizer().Encode(v)
		for i, w := range words {
			binary.LittleEndian.PutUint32(out[i*4:i*4+4], w)
		}
	case kernel.INT8:
		for i, x := range v {
			if x > 1 {
				x = 1
			} else if x < -1 {
				x = -1
			}
			out[i] = byte(int8(x * 127))
		}
	default: // FP32 and the remaining types fall back to a direct FP32 cast
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(x))
		}
	}
	return out
}

func decodeVector(et kernel.ElementType, buf []byte, d int) []float32 {
	out := make([]float32, d)
	switch et {
	case kernel.BINARY32:
		words := make([]uint32, kernel.BinaryWordCount(d))
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		}
		return kernel.NewBinaryQuantizer().Decode(words, d)
	case kernel.INT8:
		for i := 0; i < d; i++ {
			out[i] = float32(int8(buf[i])) / 127
		}
		return out
	default:
		for i := 0; i < d; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
		}
		return out
	}
}
