// Package query implements the per-query search context of :
// a bounded top-k heap, an optional group-by heap, a filter predicate,
// and the cancellation/deadline checks shared by every searcher.
package query

import "container/heap"

// InvalidNode is the 32-bit sentinel for "no node", per spec .
const InvalidNode uint32 = 0xFFFFFFFF

// Candidate is one scored node: a search hit, a build-time frontier
// entry, or a results-heap member. Distances are larger-is-worse per
// , so "worst" means highest Score.
//
// Adapted from internal/util/heap.go Candidate/MinHeap/
// MaxHeap, generalized with the node-id tie-break requires for
// deterministic rebuilds ("ties in distance are broken by smaller node
// id") and with a Key field so results can be drained without a second
// lookup.
type Candidate struct {
	Node uint32
	Key uint64
	Score float32
}

// less reports whether a sorts before b in ascending-score order with
// the node-id tie-break.
func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Node < b.Node
}

// minHeap is a plain ascending-score heap, used as the best-first
// search frontier (/): the node with the smallest distance to
// the query is always popped first.
type minHeap []Candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Frontier is the best-first search's visit queue: a min-heap ordered
// by ascending score.
type Frontier struct{ h minHeap }

// NewFrontier returns an empty frontier with capacity hint cap.
func NewFrontier(cap int) *Frontier {
	return &Frontier{h: make(minHeap, 0, cap)}
}

func (f *Frontier) Push(c Candidate) { heap.Push(&f.h, c) }
func (f *Frontier) Len() int { return f.h.Len() }
func (f *Frontier) Pop() Candidate { return heap.Pop(&f.h).(Candidate) }

// Peek returns the minimum-score entry without removing it.
func (f *Frontier) Peek() (Candidate, bool) {
	if f.h.Len() == 0 {
		return Candidate{}, false
	}
	return f.h[0], true
}

// maxHeap orders by descending score, so the worst-so-far candidate is
// always at the root: exactly what a bounded results pool needs to
// decide whether a new candidate displaces the current worst member.
type maxHeap []Candidate

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool { return less(h[j], h[i]) }
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BoundedHeap is a fixed-capacity max-heap keyed by score: the results
// pool of a best-first search and a group-by bucket .
// Pushing past capacity evicts the current worst member iff the new
// candidate scores better.
type BoundedHeap struct {
	h maxHeap
	cap int
}

// NewBoundedHeap returns an empty heap that holds at most capacity
// candidates.
func NewBoundedHeap(capacity int) *BoundedHeap {
	return &BoundedHeap{h: make(maxHeap, 0, capacity), cap: capacity}
}

// Len reports the number of candidates currently held.
func (b *BoundedHeap) Len() int { return b.h.Len() }

// Full reports whether the heap is at capacity.
func (b *BoundedHeap) Full() bool { return b.h.Len() >= b.cap }

// Worst returns the current worst (highest-score) member, if any.
func (b *BoundedHeap) Worst() (Candidate, bool) {
	if b.h.Len() == 0 {
		return Candidate{}, false
	}
	return b.h[0], true
}

// Push inserts c, evicting the current worst member if the heap is
// already full and c improves on it. Returns true iff c was kept.
func (b *BoundedHeap) Push(c Candidate) bool {
	if b.cap <= 0 {
		return false
	}
	if b.h.Len() < b.cap {
		heap.Push(&b.h, c)
		return true
	}
	worst := b.h[0]
	if !less(c, worst) {
		return false
	}
	b.h[0] = c
	heap.Fix(&b.h, 0)
	return true
}

// Drain empties the heap into ascending-score order (best first).
func (b *BoundedHeap) Drain() []Candidate {
	out := make([]Candidate, b.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&b.h).(Candidate)
	}
	return out
}

// Snapshot returns the current members in ascending-score order
// without mutating the heap.
func (b *BoundedHeap) Snapshot() []Candidate {
	cp := make(maxHeap, len(b.h))
	copy(cp, b.h)
	out := make([]Candidate, len(cp))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&cp).(Candidate)
	}
	return out
}
