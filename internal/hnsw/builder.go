package hnsw

import (
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Builder wraps a writable Entity with the insert algorithm, a
// memory-quota check backed by a footprint estimator, and the public
// operations named in : init/reserve/add/dump/mark_deleted.
//
// Grounded on internal/index/hnsw/insert.go for the
// overall greedy-descent-then-layered-search shape, restructured around
// this module's Entity/query.Context split and the robust-pruning
// heuristic simpler "keep M closest" insert lacks.
type Builder struct {
	entity *Entity
	memoryLimitBytes int64
	allowDuplicates bool
}

// NewBuilder creates a Builder over a fresh empty Entity for meta, per
// init(meta).
func NewBuilder(meta Meta, memoryLimitBytes int64, allowDuplicates bool) (*Builder, error) {
	e, err := NewBuilderEntity(meta)
	if err != nil {
		return nil, err
	}
	return &Builder{entity: e, memoryLimitBytes: memoryLimitBytes, allowDuplicates: allowDuplicates}, nil
}

// Entity exposes the underlying graph, e.g. for Dump.
func (b *Builder) Entity() *Entity { return b.entity }

// Reserve grows capacity hints for docs upcoming inserts.
func (b *Builder) Reserve(docs int) { b.entity.Reserve(docs) }

// estimatedFootprintBytes approximates the builder's current memory use
// per : node_stride*docs + neighbor_stride*docs + index_overhead. The
// per-node constants mirror the dumped on-disk layout of even
// though this Entity keeps vectors/neighbors as Go slices rather than
// raw chunk-store bytes.
func (b *Builder) estimatedFootprintBytes() int64 {
	docs := int64(b.entity.DocCount())
	dim := int64(b.entity.meta.Dimension)
	nodeStride := alignUp(dim*4, 32)
	neighborStrideL0 := int64(4 + 4*b.entity.meta.M0)
	const indexOverheadPerDoc = 64
	return docs*(nodeStride+neighborStrideL0+indexOverheadPerDoc)
}

func alignUp(n, align int64) int64 {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Add inserts key/vector , drawing a level, descending greedily
// to it, running an ef-bounded layered search at each level down to 0,
// and wiring symmetric edges under per-node locks. Returns the new
// node id.
func (b *Builder) Add(key uint64, vector []float32, efConstruction int) (uint32, error) {
	if len(vector) != b.entity.meta.Dimension {
		return InvalidNode, zvecerr.New("hnsw.Builder.Add", zvecerr.Mismatch).
			WithContext("want_dim", b.entity.meta.Dimension).WithContext("got_dim", len(vector))
	}
	if key == InvalidKey {
		return InvalidNode, zvecerr.New("hnsw.Builder.Add", zvecerr.InvalidArgument).WithContext("reason", "key must not be INVALID_KEY")
	}
	if !b.allowDuplicates {
		if _, exists := b.entity.NodeForKey(key); exists {
			return InvalidNode, zvecerr.New("hnsw.Builder.Add", zvecerr.AlreadyExists).WithContext("key", key)
		}
	}
	if b.memoryLimitBytes > 0 && b.estimatedFootprintBytes() > b.memoryLimitBytes {
		return InvalidNode, zvecerr.New("hnsw.Builder.Add", zvecerr.OutOfMemory)
	}
	if efConstruction <= 0 {
		efConstruction = b.entity.meta.EfConstruction
	}

	metric := b.entity.metric
	stored := vector
	if metric.AddPreprocess != nil {
		stored = metric.AddPreprocess(vector)
	}

	level := b.entity.drawLevel()

	// Step 1: capture the entry point. The very first insert becomes it.
	epNode, epLevel := b.entity.EntryPoint()
	if epNode == InvalidNode {
		u := b.entity.allocNode(key, stored, level)
		b.entity.setEntryPointIfHigher(u, level)
		return u, nil
	}

	u := b.entity.allocNode(key, stored, level)
	q := stored

	// Step 2: greedy descent from epLevel down to min(epLevel, level)+1.
	cur := epNode
	curDist := b.entity.metric.Distance(q, b.entity.Vector(cur))
	for lvl := epLevel; lvl > level; lvl-- {
		improved := true
		for improved {
			improved = false
			for _, nb := range b.entity.Neighbors(lvl, cur) {
				d := b.entity.metric.Distance(q, b.entity.Vector(nb))
				if d < curDist || (d == curDist && nb < cur) {
					cur = nb
					curDist = d
					improved = true
				}
			}
		}
	}

	// Step 3: layered ef-bounded search, then heuristic pruning, from
	// min(epLevel, level) down to 0.
	startLevel := epLevel
	if level < startLevel {
		startLevel = level
	}
	for lvl := startLevel; lvl >= 0; lvl-- {
		results := b.searchLayer(q, cur, lvl, efConstruction)
		if len(results) > 0 {
			cur = results[0].Node
		}
		m := b.entity.MAt(lvl)
		chosen := SelectNeighborsHeuristic(b.entity, u, results, m)
		b.setSymmetric(lvl, u, chosen, m)
	}

	// Step 5: raise the entry point if u's level exceeds it.
	b.entity.setEntryPointIfHigher(u, level)

	return u, nil
}

// setSymmetric writes u's neighbor list at level and, for each chosen
// neighbor v, appends u back under v's own lock, re-pruning v's list
// with the heuristic if it now exceeds m. This is step 4's
// "symmetric edge update".
func (b *Builder) setSymmetric(level int, u uint32, chosen []uint32, m int) {
	uLock := b.entity.lockFor(u)
	uLock.Lock()
	b.entity.setNeighborsLocked(level, u, chosen)
	uLock.Unlock()

	for _, v := range chosen {
		vLock := b.entity.lockFor(v)
		vLock.Lock()
		updated := b.entity.appendNeighborLocked(level, v, u)
		if len(updated) > m {
			cands := make([]query.Candidate, len(updated))
			for i, id := range updated {
				cands[i] = query.Candidate{Node: id, Key: b.entity.Key(id), Score: b.entity.distanceBetween(v, id)}
			}
			pruned := SelectNeighborsHeuristic(b.entity, v, cands, m)
			b.entity.setNeighborsLocked(level, v, pruned)
		}
		vLock.Unlock()
	}
}

// searchLayer runs the best-first search at one level: a min-heap
// frontier and a max-heap results pool of capacity ef, terminating when
// the frontier's minimum exceeds the results pool's worst member (once
// full). Returns the results pool contents, ascending by score.
func (b *Builder) searchLayer(q []float32, entry uint32, level int, ef int) []query.Candidate {
	e := b.entity
	vs := getVisitedSet(int(e.DocCount()))
	defer putVisitedSet(vs)

	frontier := query.NewFrontier(ef)
	results := query.NewBoundedHeap(ef)

	entryDist := e.metric.Distance(q, e.Vector(entry))
	vs.visit(entry)
	frontier.Push(query.Candidate{Node: entry, Key: e.Key(entry), Score: entryDist})
	results.Push(query.Candidate{Node: entry, Key: e.Key(entry), Score: entryDist})

	for frontier.Len() > 0 {
		top, _ := frontier.Peek()
		if worst, ok := results.Worst(); ok && results.Full() && top.Score > worst.Score {
			break
		}
		cur := frontier.Pop()
		for _, nb := range e.Neighbors(level, cur.Node) {
			if vs.visit(nb) {
				continue
			}
			d := e.metric.Distance(q, e.Vector(nb))
			if worst, ok := results.Worst(); !ok || !results.Full() || d < worst.Score {
				cand := query.Candidate{Node: nb, Key: e.Key(nb), Score: d}
				frontier.Push(cand)
				results.Push(cand)
			}
		}
	}
	return results.Snapshot()
}

// MarkDeleted tombstones key per : clears the key, leaves edges
// intact. If key was the entry point, the next search re-derives one.
func (b *Builder) MarkDeleted(key uint64) bool { return b.entity.MarkDeleted(key) }
