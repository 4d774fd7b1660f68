// Package chunkstore implements the append-only, segment-backed chunk
// allocator described in : a logical index is a named file (or
// an anonymous region), split into named segments, each a growable list
// of fixed-size chunks addressable by ordinal.
package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// OpenMode selects how segment bytes are backed.
type OpenMode int

const (
	MMAP OpenMode = iota
	MEMORY
)

// Advise hints how mapped pages will be accessed; carried through to
// directory metadata and used to choose whether to pre-populate.
type Advise int

const (
	AdviseNormal Advise = iota
	AdviseRandom
	AdviseSequential
)

// OpenOptions configures a Store per the rule above.
type OpenOptions struct {
	Storage OpenMode
	ReadOnly bool
	Populate bool
	Advise Advise
	// LRUSegments sizes the LRU of recently used MMAP segments; 0 picks
	// a sensible default. A segment evicted from the LRU is synced to
	// disk but stays mapped, so this does not cap how many segments are
	// resident. MEMORY-mode stores ignore this.
	LRUSegments int
}

// TypeTag records a chunk's logical kind, used by consistency checks at
// load time (e.g. a vectors chunk must never be read back as neighbors).
type TypeTag int

const (
	TypeVectors TypeTag = iota
	TypeKeys
	TypeNeighborsL0
	TypeNeighborsUpper
	TypeNeighborsIndex
	TypeHeader
	TypeOther
)

func (t TypeTag) String() string {
	switch t {
	case TypeVectors:
		return "vectors"
	case TypeKeys:
		return "keys"
	case TypeNeighborsL0:
		return "neighbors-level-0"
	case TypeNeighborsUpper:
		return "neighbors-upper"
	case TypeNeighborsIndex:
		return "neighbors-index"
	case TypeHeader:
		return "header"
	default:
		return "other"
	}
}

// backing abstracts the byte storage underneath one segment: either a
// memory-mapped file (MMAP mode) or a plain heap buffer (MEMORY mode).
type backing interface {
	Data() []byte
	Size() int64
	Resize(newSize int64) error
	Sync() error
	Close() error
}

type memoryBacking struct {
	mu sync.RWMutex
	data []byte
}

func newMemoryBacking() *memoryBacking { return &memoryBacking{} }

func (m *memoryBacking) Data() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

func (m *memoryBacking) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (m *memoryBacking) Resize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int64(len(m.data)) >= newSize {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *memoryBacking) Sync() error { return nil }
func (m *memoryBacking) Close() error { m.data = nil; return nil }

type chunkMeta struct {
	offset int64
	length int64
	typeTag TypeTag
}

type segment struct {
	name string
	back backing
	chunks []chunkMeta
	pinned int32 // atomic
	mu sync.Mutex
}

// Store is the open handle to one logical index's chunk-backed storage.
type Store struct {
	mu sync.RWMutex
	path string
	opts OpenOptions
	segments map[string]*segment
	lock *flock.Flock // writer-mode single-writer advisory lock
	lru *lru.Cache[string, *segment]
	closed bool
}

// Open creates or opens a logical index at path under opts. For MEMORY
// mode, path is used only as a logical namespace (nothing touches disk).
func Open(path string, opts OpenOptions) (*Store, error) {
	s := &Store{
		path: path,
		opts: opts,
		segments: make(map[string]*segment),
	}

	if opts.Storage == MMAP && !opts.ReadOnly {
		// One whole-store advisory lock taken at open time, not one per
		// chunk: original_source/src/ailego/io/file_lock.h confirms the
		// writer lock is file-scoped, resolving spec invariant (b).
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		fl := flock.New(filepath.Join(path, ".writer.lock"))
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire writer lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("store %s already has a writer", path)
		}
		s.lock = fl
	}

	if opts.Storage == MMAP {
		capacity := opts.LRUSegments
		if capacity <= 0 {
			capacity = 64
		}
		cache, err := lru.NewWithEvict[string, *segment](capacity, s.onEvict)
		if err != nil {
			return nil, fmt.Errorf("create segment LRU: %w", err)
		}
		s.lru = cache
	}

	return s, nil
}

// onEvict is the LRU eviction callback: it msyncs an unpinned MMAP
// segment and leaves a pinned one untouched ( invariant c). No
// segment is unmapped here; every segment stays mapped until Close.
func (s *Store) onEvict(name string, seg *segment) {
	if atomic.LoadInt32(&seg.pinned) > 0 {
		return
	}
	if mm, ok := seg.back.(*segmentMap); ok {
		_ = mm.Sync()
	}
}

func (s *Store) segmentPath(name string) string {
	return filepath.Join(s.path, name+".seg")
}

func (s *Store) getOrCreateSegment(name string) (*segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg, ok := s.segments[name]; ok {
		if s.lru != nil {
			s.lru.Add(name, seg)
		}
		return seg, nil
	}

	var back backing
	var err error
	switch s.opts.Storage {
	case MEMORY:
		back = newMemoryBacking()
	case MMAP:
		back, err = openSegmentMap(s.segmentPath(name), 0, s.opts.ReadOnly)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage mode %d", s.opts.Storage)
	}

	seg := &segment{name: name, back: back}
	s.segments[name] = seg
	if s.lru != nil {
		s.lru.Add(name, seg)
	}
	return seg, nil
}

// AllocChunk grows segment name by size bytes and returns a writable
// handle over the new region. typeTag records the chunk's logical kind.
func (s *Store) AllocChunk(segmentName string, typeTag TypeTag, size int) (*Handle, error) {
	if s.opts.ReadOnly {
		return nil, fmt.Errorf("alloc_chunk on a read-only store")
	}
	seg, err := s.getOrCreateSegment(segmentName)
	if err != nil {
		return nil, err
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()

	if atomic.LoadInt32(&seg.pinned) > 0 {
		return nil, fmt.Errorf("cannot grow segment %s: chunk is pinned", segmentName)
	}

	offset := seg.back.Size()
	newSize := offset + int64(size)
	if err := seg.back.Resize(newSize); err != nil {
		return nil, fmt.Errorf("grow segment %s: %w", segmentName, err)
	}

	ordinal := len(seg.chunks)
	seg.chunks = append(seg.chunks, chunkMeta{offset: offset, length: int64(size), typeTag: typeTag})

	return &Handle{store: s, seg: seg, segmentName: segmentName, ordinal: ordinal, offset: offset, length: int64(size)}, nil
}

// GetChunk returns a read-only handle to an existing chunk. Per 
// this panics on a missing segment/ordinal: callers are expected to
// have validated the directory before requesting a chunk by ordinal.
func (s *Store) GetChunk(segmentName string, ordinal int) *Handle {
	s.mu.RLock()
	seg, ok := s.segments[segmentName]
	s.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("chunkstore: unknown segment %q", segmentName))
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if ordinal < 0 || ordinal >= len(seg.chunks) {
		panic(fmt.Sprintf("chunkstore: segment %q has no chunk %d", segmentName, ordinal))
	}
	cm := seg.chunks[ordinal]
	return &Handle{store: s, seg: seg, segmentName: segmentName, ordinal: ordinal, offset: cm.offset, length: cm.length}
}

// Flush syncs every mapped segment; a no-op for MEMORY-mode stores.
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, seg := range s.segments {
		if err := seg.back.Sync(); err != nil {
			return fmt.Errorf("flush segment %s: %w", name, err)
		}
	}
	return nil
}

// SegmentInfo describes one segment for the directory listing used by dump.
type SegmentInfo struct {
	Name string
	Length int64
	ChunkCount int
	TypeTags []TypeTag
}

// Directory enumerates segments and sizes, in a deterministic order.
func (s *Store) Directory() []SegmentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]SegmentInfo, 0, len(s.segments))
	for name, seg := range s.segments {
		seg.mu.Lock()
		tags := make([]TypeTag, len(seg.chunks))
		for i, c := range seg.chunks {
			tags[i] = c.typeTag
		}
		infos = append(infos, SegmentInfo{
			Name: name,
			Length: seg.back.Size(),
			ChunkCount: len(seg.chunks),
			TypeTags: tags,
		})
		seg.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RawSegmentBytes returns the full current contents of a segment,
// used by the dump path to copy segment bytes into the footer'd file.
func (s *Store) RawSegmentBytes(name string) []byte {
	s.mu.RLock()
	seg, ok := s.segments[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return seg.back.Data()
}

// LoadSegment materializes a segment's bytes (read back from a dumped
// file, see internal/format) as one pre-sized chunk of the given type,
// used by load paths that already know the segment's full length.
func (s *Store) LoadSegment(name string, data []byte, typeTag TypeTag) error {
	seg, err := s.getOrCreateSegment(name)
	if err != nil {
		return err
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if err := seg.back.Resize(int64(len(data))); err != nil {
		return err
	}
	copy(seg.back.Data(), data)
	seg.chunks = append(seg.chunks, chunkMeta{offset: 0, length: int64(len(data)), typeTag: typeTag})
	return nil
}

// Close releases every segment and the writer lock, if held.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, seg := range s.segments {
		if err := seg.back.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
