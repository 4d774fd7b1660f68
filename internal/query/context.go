package query

import (
	"context"
	"sync/atomic"
	"time"
)

// KeyPredicate decides whether key is eligible to appear in results.
// Returning false causes the searcher to skip the candidate when
// forming results while still traversing through it, matching the
// tombstone semantics of 's open question on mark_deleted.
type KeyPredicate func(key uint64) bool

// GroupByFunc maps a key to the group bucket it belongs to, for the
// group-by aggregation.
type GroupByFunc func(key uint64) uint64

// Params mirrors the query parameter set.
type Params struct {
	TopK uint32
	EfSearch uint32
	FetchVector bool
	Filter KeyPredicate
	GroupBy GroupByFunc
	GroupTopK uint32
	GroupNum uint32
	DeadlineMicros uint64 // 0 means no deadline
}

// Hit is one result slot: a key, its score, the originating node id,
// and (if requested) its raw vector.
type Hit struct {
	Key uint64
	Score float32
	Node uint32
	Vector []float32
}

// group holds one group-by bucket's bounded heap and is keyed by
// GroupByFunc's return value.
type group struct {
	id uint64
	heap *BoundedHeap
}

// Context is the per-query state described by : the bounded top-k
// heap, an optional group-by heap, the filter predicate, and the
// cancellation/deadline checks every searcher consults at its outer
// loop boundaries.
type Context struct {
	topk uint32
	results *BoundedHeap
	filter KeyPredicate
	groupBy GroupByFunc
	groupCap uint32
	groupNum uint32
	groups map[uint64]*group
	groupOrd []uint64

	cancelled int32 // atomic
	deadline time.Time
	hasDeadline bool
}

// NewContext builds a Context from the query parameters. group_topk
// of 0 with a non-nil GroupBy is rejected, per the spec's resolution of
// the open question: "no per-group cap" is not accepted silently.
func NewContext(p Params) (*Context, error) {
	if p.GroupBy != nil && p.GroupTopK == 0 {
		return nil, errGroupTopKZero
	}
	c := &Context{
		topk: p.TopK,
		results: NewBoundedHeap(maxInt(int(p.TopK), 1)),
		filter: p.Filter,
		groupBy: p.GroupBy,
		groupCap: p.GroupTopK,
		groupNum: p.GroupNum,
	}
	if p.GroupBy != nil {
		c.groups = make(map[uint64]*group)
	}
	if p.DeadlineMicros > 0 {
		c.deadline = time.Now().Add(time.Duration(p.DeadlineMicros) * time.Microsecond)
		c.hasDeadline = true
	}
	return c, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Reset clears heap state for reuse with a new topk, matching 's
// reset(topk) contract; filter/group-by/cancellation state persist
// across a reset since they describe the query, not the in-flight pool.
func (c *Context) Reset(topk uint32) {
	c.topk = topk
	c.results = NewBoundedHeap(maxInt(int(topk), 1))
	c.groups = nil
	c.groupOrd = nil
	if c.groupBy != nil {
		c.groups = make(map[uint64]*group)
	}
}

// Filter returns the configured key predicate, or nil if none.
func (c *Context) Filter() KeyPredicate { return c.filter }

// GroupBy returns the configured group-by function, or nil if none.
func (c *Context) GroupBy() GroupByFunc { return c.groupBy }

// GroupTopK returns the per-group cap.
func (c *Context) GroupTopK() uint32 { return c.groupCap }

// GroupNum returns the number of groups retained in the final result.
func (c *Context) GroupNum() uint32 { return c.groupNum }

// ResultHeap exposes the internal top-k heap directly to searcher code,
// per 's "yields the internal heap ... without copying".
func (c *Context) ResultHeap() *BoundedHeap { return c.results }

// Push inserts a scored candidate. If a filter is set and rejects key,
// the candidate is dropped before it ever reaches a heap, matching
// "reject candidates whose key the filter excludes before pushing into
// results" . With group-by configured, the candidate is pushed
// into that group's bucket instead of the flat top-k heap.
func (c *Context) Push(key uint64, score float32, node uint32) bool {
	if c.filter != nil && !c.filter(key) {
		return false
	}
	cand := Candidate{Node: node, Key: key, Score: score}
	if c.groupBy != nil {
		return c.pushGroup(cand)
	}
	return c.results.Push(cand)
}

func (c *Context) pushGroup(cand Candidate) bool {
	gid := c.groupBy(cand.Key)
	g, ok := c.groups[gid]
	if !ok {
		g = &group{id: gid, heap: NewBoundedHeap(maxInt(int(c.groupCap), 1))}
		c.groups[gid] = g
		c.groupOrd = append(c.groupOrd, gid)
	}
	return g.heap.Push(cand)
}

// TopKToResult drains the context into a top-k result slice, sorted by
// ascending score. With group-by active, the groupNum groups with the
// smallest best (lowest) score are selected and their members merged,
// per the rule above.
func (c *Context) TopKToResult() []Hit {
	if c.groupBy != nil {
		return c.drainGroups()
	}
	cands := c.results.Drain()
	out := make([]Hit, len(cands))
	for i, cd := range cands {
		out[i] = Hit{Key: cd.Key, Score: cd.Score, Node: cd.Node}
	}
	return out
}

func (c *Context) drainGroups() []Hit {
	type scored = struct {
		g *group
		best float32
	}
	ranked := make([]scored, 0, len(c.groupOrd))
	for _, gid := range c.groupOrd {
		g := c.groups[gid]
		if g.heap.Len() == 0 {
			continue
		}
		// Worst on a max-heap returns the highest (worst) score; the
		// group's rank key is its best (lowest) score, the first entry
		// of the already ascending-ordered Snapshot.
		snap := g.heap.Snapshot()
		ranked = append(ranked, scored{g: g, best: snap[0].Score})
	}
	sortScored(ranked)
	n := int(c.groupNum)
	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}
	out := make([]Hit, 0, n*int(c.groupCap))
	for _, r := range ranked[:n] {
		for _, cd := range r.g.heap.Snapshot() {
			out = append(out, Hit{Key: cd.Key, Score: cd.Score, Node: cd.Node})
		}
	}
	return out
}

func sortScored(xs []struct {
	g *group
	best float32
}) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j].best < xs[j-1].best; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// Cancel marks the context cancelled; the next Cancelled check by the
// running search observes it.
func (c *Context) Cancel() { atomic.StoreInt32(&c.cancelled, 1) }

// Cancelled reports whether the search has been cancelled or its
// deadline has passed, checked at the top of each outer search loop and
// at each brute-force tile boundary per the rule above.
func (c *Context) Cancelled() bool {
	if atomic.LoadInt32(&c.cancelled) != 0 {
		return true
	}
	if c.hasDeadline && time.Now().After(c.deadline) {
		return true
	}
	return false
}

// CheckContext is a convenience wrapper for call sites that already
// hold a context.Context and want a single cancellation check covering
// both sources.
func (c *Context) CheckContext(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.Cancelled()
}

var errGroupTopKZero = &paramError{msg: "group_topk must be > 0 when group_by is set"}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }
