// Package hnsw implements the hierarchical navigable small-world graph
// family of : the entity (layout/accessors), the
// concurrent builder (insert), and the read-only searcher.
//
// Grounded on internal/index/hnsw package for the overall
// shape (a layered adjacency list keyed by dense node ids with a single
// entry point) and on original_source/src/core/algorithm/hnsw/hnsw_builder_entity.cc
// for splitting "entity" (this file) from "builder" (builder.go) as two
// collaborating types, per SPEC_FULL's package layout.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/codingwatching/zvec-sub004/internal/kernel"
)

// InvalidKey is the sentinel marking a deleted/unassigned slot .
const InvalidKey uint64 = 0

// InvalidNode is the sentinel "no node" id .
const InvalidNode uint32 = 0xFFFFFFFF

// lockBuckets is the fixed size of the per-node lock array : large
// enough that two concurrently-inserted nodes rarely share a bucket,
// small enough to avoid one mutex per node at 10^8-node scale.
const lockBuckets = 4096

// Meta is the immutable build-time configuration of one HNSW index,
// the union of the dumped header fields and the builder
// parameters needed to reconstruct them.
type Meta struct {
	ElementType kernel.ElementType
	MetricName string
	MetricParams any
	Dimension int
	M int
	M0 int
	EfConstruction int
	MaxLevel int
	Seed uint64
}

func (m Meta) mL() float64 { return 1.0 / math.Log(float64(m.M)) }

// node is one vector's full record: its key, assigned level, (already
// metric-preprocessed) vector, and per-level neighbor lists. Level 0's
// list is capped at M0; level ell in [1, level] is capped at M.
type node struct {
	key uint64
	level int
	vector []float32
	neighborsL0 []uint32
	neighborsUp [][]uint32 // neighborsUp[i] is the level-(i+1) neighbor list
}

// Entity is the in-memory representation of one HNSW graph: vectors,
// per-level adjacency, entry point, and (during build) the level
// distribution draw. A searcher-mode Entity is the same layout
// re-materialized by Load (persistence.go); see "Lifecycle".
type Entity struct {
	meta Meta
	metric *kernel.Metric

	mu sync.RWMutex // protects node slice growth, keyIndex, (ep, epLevel), live
	nodes []*node
	keyIndex map[uint64]uint32
	live *bitset.BitSet // live[n] set iff nodes[n].key != InvalidKey; mirrors keyIndex for O(words) LiveCount

	epNode uint32
	epLevel int

	locks [lockBuckets]sync.Mutex

	rngMu sync.Mutex
	rng *rand.Rand

	readOnly bool
}

// NewBuilderEntity creates an empty, writable Entity for the given
// metadata, per 's builder-mode lifecycle.
func NewBuilderEntity(meta Meta) (*Entity, error) {
	metric, err := kernel.Lookup(meta.MetricName, meta.MetricParams)
	if err != nil {
		return nil, err
	}
	if meta.M <= 0 {
		return nil, fmt.Errorf("hnsw: M must be positive")
	}
	if meta.M0 <= 0 {
		meta.M0 = 2 * meta.M
	}
	seed := meta.Seed
	return &Entity{
		meta: meta,
		metric: metric,
		keyIndex: make(map[uint64]uint32),
		live: bitset.New(0),
		epNode: InvalidNode,
		epLevel: -1,
		rng: rand.New(rand.NewSource(int64(seed))),
	}, nil
}

// Reserve grows internal capacity hints for docs upcoming inserts. It
// is advisory only in this in-memory representation; memory quota
// accounting happens in Builder.Add, which checks its memoryLimitBytes
// against estimatedFootprintBytes (builder.go).
func (e *Entity) Reserve(docs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cap(e.nodes) < docs {
		grown := make([]*node, len(e.nodes), docs)
		copy(grown, e.nodes)
		e.nodes = grown
	}
}

// Metric returns the entity's distance kernel.
func (e *Entity) Metric() *kernel.Metric { return e.metric }

// Meta returns the entity's build configuration.
func (e *Entity) Meta() Meta { return e.meta }

// DocCount returns the number of assigned node slots, live or
// tombstoned, per 's "observable doc-count" definition (tombstones
// counted).
func (e *Entity) DocCount() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint32(len(e.nodes))
}

// LiveCount returns the number of nodes whose key is not INVALID_KEY.
func (e *Entity) LiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int(e.live.Count())
}

// EntryPoint returns the current (node, level) entry point under a
// shared lock, as step 1 / "searchers acquire a read lock to
// snapshot (ep, epLevel) once per query".
func (e *Entity) EntryPoint() (uint32, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epNode, e.epLevel
}

// setEntryPointIfHigher atomically raises the entry point to (n, level)
// iff level exceeds the current entry level, as step 5. Returns
// true if it did so.
func (e *Entity) setEntryPointIfHigher(n uint32, level int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if level > e.epLevel {
		e.epNode = n
		e.epLevel = level
		return true
	}
	return false
}

// lockFor returns the bucketed node lock guarding n's neighbor lists,
// per 's bucketed-lock-array design.
func (e *Entity) lockFor(n uint32) *sync.Mutex {
	return &e.locks[int(n)%lockBuckets]
}

// drawLevel draws a level per : floor(-ln(U(0,1)) * mL), deterministic
// given the entity's seeded rng. The draw is serialized by rngMu so
// concurrent builder goroutines still produce a reproducible sequence
// when inserts are themselves serialized ( scenario 6: "a
// single-threaded rebuild with the same seed sequence ... yields the
// same graph").
func (e *Entity) drawLevel() int {
	e.rngMu.Lock()
	u := e.rng.Float64()
	e.rngMu.Unlock()
	for u <= 0 {
		e.rngMu.Lock()
		u = e.rng.Float64()
		e.rngMu.Unlock()
	}
	level := int(math.Floor(-math.Log(u) * e.meta.mL()))
	if e.meta.MaxLevel > 0 && level > e.meta.MaxLevel {
		level = e.meta.MaxLevel
	}
	return level
}

// allocNode appends a new node under the write lock and returns its id.
// Per 's ordering rule, the caller must finish populating the node
// (vector, key, empty neighbor lists) before any other goroutine can
// observe this id through EntryPoint/KeyIndex, which this function
// itself establishes by holding mu for the whole append.
func (e *Entity) allocNode(key uint64, vector []float32, level int) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uint32(len(e.nodes))
	e.nodes = append(e.nodes, &node{
		key: key,
		level: level,
		vector: vector,
		neighborsL0: make([]uint32, 0, e.meta.M0),
		neighborsUp: make([][]uint32, level),
	})
	if key != InvalidKey {
		e.keyIndex[key] = id
		e.live.Set(uint(id))
	}
	return id
}

// Vector returns node n's stored (already metric-preprocessed) vector.
func (e *Entity) Vector(n uint32) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodes[n].vector
}

// Key returns node n's key, or InvalidKey if tombstoned.
func (e *Entity) Key(n uint32) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodes[n].key
}

// Level returns node n's assigned level.
func (e *Entity) Level(n uint32) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodes[n].level
}

// NodeForKey resolves a live key to its node id, per search_by_keys.
func (e *Entity) NodeForKey(key uint64) (uint32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.keyIndex[key]
	return id, ok
}

// MarkDeleted tombstones key: clears its key mapping but leaves its
// vector and edges untouched, per 's resolution of the mark_deleted
// open question. If key was the entry point node, the next search call
// must re-derive a live entry point (searcher.go handles that).
func (e *Entity) MarkDeleted(key uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.keyIndex[key]
	if !ok {
		return false
	}
	e.nodes[id].key = InvalidKey
	delete(e.keyIndex, key)
	e.live.Clear(uint(id))
	return true
}

// MAt returns the per-level neighbor cap: M0 at level 0, M above it.
func (e *Entity) MAt(level int) int {
	if level == 0 {
		return e.meta.M0
	}
	return e.meta.M
}

// ForEachLive calls fn for every node whose key is live, used by the
// searcher's brute-force fallback and live entry-point scan and by the
// RaBitQ facade's Train.
func (e *Entity) ForEachLive(fn func(n uint32, key uint64, vector []float32)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, nd := range e.nodes {
		if nd.key != InvalidKey {
			fn(uint32(i), nd.key, nd.vector)
		}
	}
}
