package hnsw

import (
	"sort"

	"github.com/codingwatching/zvec-sub004/internal/query"
)

// Neighbors returns node n's neighbor list at level. It is the live
// underlying slice, not a copy, but safe to read after this call
// returns: writers only ever replace a node's neighbor slice wholesale
// (setSymmetric), never mutate one in place, so a slice obtained here
// never changes under the caller.
func (e *Entity) Neighbors(level int, n uint32) []uint32 {
	lock := e.lockFor(n)
	lock.Lock()
	defer lock.Unlock()
	return e.neighborsLocked(level, n)
}

// neighborsLocked returns the live slice for level/n. Callers must hold
// n's bucketed lock. Level 0's list is direct; upper levels are indexed
// through neighborsUp[level-1], which may be nil/short if n's build
// hasn't reached that level yet ( "cache misses on an optional
// upper-level neighbor ... treated as end-of-level").
func (e *Entity) neighborsLocked(level int, n uint32) []uint32 {
	nd := e.nodes[n]
	if level == 0 {
		return nd.neighborsL0
	}
	idx := level - 1
	if idx >= len(nd.neighborsUp) {
		return nil
	}
	return nd.neighborsUp[idx]
}

// setNeighborsLocked overwrites n's neighbor list at level. Per 's
// ordering rule, readers only ever observe a whole slot rewritten
// atomically: this module achieves that by requiring every writer to
// hold n's bucketed lock, which also serializes readers that go through
// Neighbors.
func (e *Entity) setNeighborsLocked(level int, n uint32, neighbors []uint32) {
	nd := e.nodes[n]
	if level == 0 {
		nd.neighborsL0 = neighbors
		return
	}
	idx := level - 1
	for idx >= len(nd.neighborsUp) {
		nd.neighborsUp = append(nd.neighborsUp, nil)
	}
	nd.neighborsUp[idx] = neighbors
}

// appendNeighborLocked appends a candidate neighbor id to n's list at
// level, under n's bucketed lock. Returns the resulting list so the
// caller can decide whether to prune it.
func (e *Entity) appendNeighborLocked(level int, n uint32, candidate uint32) []uint32 {
	cur := e.neighborsLocked(level, n)
	for _, x := range cur {
		if x == candidate {
			return cur
		}
	}
	updated := append(append([]uint32{}, cur...), candidate)
	e.setNeighborsLocked(level, n, updated)
	return updated
}

// distanceBetween scores two stored vectors by node id.
func (e *Entity) distanceBetween(a, b uint32) float32 {
	return e.metric.Distance(e.Vector(a), e.Vector(b))
}

// SelectNeighborsHeuristic implements the robust-pruning rule: from
// candidates sorted ascending by distance to pivot, accept v iff no
// already-accepted w satisfies d(v,w) < d(v,pivot). This is the
// diversity-preserving step required for search correctness, and is a
// fixed point when re-run on an already-pruned list with the same pivot
// ('s idempotence invariant).
func SelectNeighborsHeuristic(e *Entity, pivot uint32, candidates []query.Candidate, m int) []uint32 {
	sorted := make([]query.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score < sorted[j].Score
		}
		return sorted[i].Node < sorted[j].Node
	})

	accepted := make([]uint32, 0, m)
	for _, cand := range sorted {
		if len(accepted) >= m {
			break
		}
		if cand.Node == pivot {
			continue
		}
		keep := true
		for _, w := range accepted {
			if e.distanceBetween(cand.Node, w) < cand.Score {
				keep = false
				break
			}
		}
		if keep {
			accepted = append(accepted, cand.Node)
		}
	}
	return accepted
}
