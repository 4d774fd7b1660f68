package chunkstore

import (
	"fmt"
	"sync/atomic"
)

// Handle is a reference-counted view over one chunk's byte range. Plain
// Read/Write are copying accessors; AsBytes returns a pinned zero-copy
// borrow that must be released, and that borrow blocks the owning
// segment from being truncated or remapped while it is outstanding.
type Handle struct {
	store *Store
	seg *segment
	segmentName string
	ordinal int
	offset int64
	length int64
}

// Ordinal reports this chunk's position within its segment.
func (h *Handle) Ordinal() int { return h.ordinal }

// Len reports the chunk's byte length.
func (h *Handle) Len() int64 { return h.length }

func (h *Handle) bounds(offset int64, ln int) (int64, int64, error) {
	start := h.offset + offset
	end := start + int64(ln)
	if offset < 0 || int64(ln) < 0 || end > h.offset+h.length {
		return 0, 0, fmt.Errorf("chunkstore: out-of-range access [%d,%d) in chunk of length %d", offset, offset+int64(ln), h.length)
	}
	return start, end, nil
}

// Read copies len(dst) bytes starting at offset into dst.
func (h *Handle) Read(offset int64, dst []byte) (int, error) {
	start, end, err := h.bounds(offset, len(dst))
	if err != nil {
		return 0, err
	}
	n := copy(dst, h.seg.back.Data()[start:end])
	return n, nil
}

// Write copies src into the chunk starting at offset.
func (h *Handle) Write(offset int64, src []byte) (int, error) {
	start, end, err := h.bounds(offset, len(src))
	if err != nil {
		return 0, err
	}
	n := copy(h.seg.back.Data()[start:end], src)
	return n, nil
}

// Pinned is a zero-copy borrow returned by AsBytes. While it is alive
// the owning segment will not be truncated or remapped; callers must
// call Release when done.
type Pinned struct {
	Bytes []byte
	release func()
	done int32
}

// Release returns the pin; safe to call more than once.
func (p *Pinned) Release() {
	if atomic.CompareAndSwapInt32(&p.done, 0, 1) {
		p.release()
	}
}

// AsBytes returns a pinned borrow of len bytes starting at offset,
// valid until Release is called.
func (h *Handle) AsBytes(offset int64, ln int) (*Pinned, error) {
	start, end, err := h.bounds(offset, ln)
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&h.seg.pinned, 1)
	return &Pinned{
		Bytes: h.seg.back.Data()[start:end],
		release: func() {
			atomic.AddInt32(&h.seg.pinned, -1)
		},
	}, nil
}
