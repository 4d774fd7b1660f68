package hnsw

import "sync"

// visitedSet is the versioned-bitmap visited tracker of : an epoch
// counter paired with one u32 "last seen epoch" slot per node beats
// repeated clear on a bitset, since starting a new search just bumps
// the epoch instead of zeroing memory. One set is used per in-flight
// query/insert and recycled through a pool to avoid per-call
// allocation.
type visitedSet struct {
	epoch uint32
	seen []uint32
}

func newVisitedSet() *visitedSet { return &visitedSet{} }

// reset grows seen to at least n slots (zero-valued slots are always
// "older" than epoch 1) and bumps the epoch so every prior Visit is
// forgotten in O(1).
func (v *visitedSet) reset(n int) {
	if cap(v.seen) < n {
		grown := make([]uint32, n)
		copy(grown, v.seen)
		v.seen = grown
	} else {
		v.seen = v.seen[:n]
	}
	v.epoch++
	if v.epoch == 0 { // wrapped around; force a real clear this one time
		for i := range v.seen {
			v.seen[i] = 0
		}
		v.epoch = 1
	}
}

// visit marks id seen for the current epoch and reports whether it was
// already marked.
func (v *visitedSet) visit(id uint32) bool {
	if int(id) >= len(v.seen) {
		grown := make([]uint32, id+1)
		copy(grown, v.seen)
		v.seen = grown
	}
	if v.seen[id] == v.epoch {
		return true
	}
	v.seen[id] = v.epoch
	return false
}

var visitedPool = sync.Pool{New: func() any { return newVisitedSet() }}

func getVisitedSet(n int) *visitedSet {
	vs := visitedPool.Get().(*visitedSet)
	vs.reset(n)
	return vs
}

func putVisitedSet(vs *visitedSet) { visitedPool.Put(vs) }
