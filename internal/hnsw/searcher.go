package hnsw

import (
	"context"

	"github.com/codingwatching/zvec-sub004/internal/kernel"
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Searcher is a read-only view over a loaded Entity, implementing the
// search algorithm: greedy top-1 descent, ef-bounded bottom-layer
// search, optional filtering/group-by via query.Context, and a
// brute-force fallback for small graphs.
type Searcher struct {
	entity *Entity
	bruteForceThreshold int
}

// NewSearcher wraps entity for querying. bruteForceThreshold is the
// hnsw.searcher.brute_force_threshold: live-node counts at or
// below it bypass the graph entirely.
func NewSearcher(entity *Entity, bruteForceThreshold int) *Searcher {
	return &Searcher{entity: entity, bruteForceThreshold: bruteForceThreshold}
}

// Search runs one top-k query against qc's parameters, per the rule above.
func (s *Searcher) Search(ctx context.Context, queryVec []float32, qc *query.Context, efSearch int) ([]query.Hit, error) {
	if len(queryVec) != s.entity.meta.Dimension {
		return nil, zvecerr.New("hnsw.Searcher.Search", zvecerr.Mismatch)
	}

	live := s.entity.LiveCount()
	if live == 0 {
		return nil, nil
	}

	metric := s.entity.metric
	q := queryVec
	if metric.QueryPreprocess != nil {
		q = metric.QueryPreprocess(append([]float32{}, queryVec...))
	}

	// Entry-point snapshot under a shared lock , re-derived if the
	// recorded entry point has been tombstoned ( mark_deleted note).
	epNode, epLevel := s.liveEntryPoint()
	if epNode == InvalidNode {
		return nil, nil
	}

	if live <= s.bruteForceThreshold {
		return s.bruteForce(ctx, q, qc)
	}

	// Greedy descent from epLevel down to level 1.
	cur := epNode
	curDist := metric.Distance(q, s.entity.Vector(cur))
	for lvl := epLevel; lvl >= 1; lvl-- {
		improved := true
		for improved {
			improved = false
			if qc.Cancelled() || ctx.Err() != nil {
				return nil, zvecerr.New("hnsw.Searcher.Search", zvecerr.Cancelled)
			}
			for _, nb := range s.entity.Neighbors(lvl, cur) {
				d := metric.Distance(q, s.entity.Vector(nb))
				if d < curDist || (d == curDist && nb < cur) {
					cur = nb
					curDist = d
					improved = true
				}
			}
		}
	}

	// Ef-bounded search at level 0.
	results := s.searchBottomLayer(ctx, q, cur, efSearch, qc)
	for _, r := range results {
		qc.Push(r.Key, r.Score, r.Node)
	}

	return qc.TopKToResult(), nil
}

// liveEntryPoint returns the recorded entry point if it is still live,
// otherwise scans for the highest-level live node and returns that,
// per 's mark_deleted resolution: "mark_deleted of the entry point
// forces a new entry point on next search".
func (s *Searcher) liveEntryPoint() (uint32, int) {
	ep, lvl := s.entity.EntryPoint()
	if ep == InvalidNode {
		return InvalidNode, -1
	}
	if s.entity.Key(ep) != InvalidKey {
		return ep, lvl
	}
	var bestNode uint32 = InvalidNode
	bestLevel := -1
	s.entity.ForEachLive(func(n uint32, key uint64, vector []float32) {
		l := s.entity.Level(n)
		if l > bestLevel {
			bestLevel = l
			bestNode = n
		}
	})
	return bestNode, bestLevel
}

// searchBottomLayer runs the same best-first search as the builder's
// searchLayer, but stops early on cancellation/deadline , and
// tracks the query context's filter only for the *result* decision
// (candidates keep traversing through tombstoned/filtered nodes, only
// excluded from the results pool, per ).
func (s *Searcher) searchBottomLayer(ctx context.Context, q []float32, entry uint32, ef int, qc *query.Context) []query.Candidate {
	e := s.entity
	vs := getVisitedSet(int(e.DocCount()))
	defer putVisitedSet(vs)

	frontier := query.NewFrontier(ef)
	results := query.NewBoundedHeap(ef)

	entryDist := e.metric.Distance(q, e.Vector(entry))
	vs.visit(entry)
	cand := query.Candidate{Node: entry, Key: e.Key(entry), Score: entryDist}
	frontier.Push(cand)
	if e.Key(entry) != InvalidKey {
		results.Push(cand)
	}

	for frontier.Len() > 0 {
		if qc.Cancelled() || ctx.Err() != nil {
			break
		}
		top, _ := frontier.Peek()
		if worst, ok := results.Worst(); ok && results.Full() && top.Score > worst.Score {
			break
		}
		cur := frontier.Pop()
		for _, nb := range e.Neighbors(0, cur.Node) {
			if vs.visit(nb) {
				continue
			}
			d := e.metric.Distance(q, e.Vector(nb))
			c := query.Candidate{Node: nb, Key: e.Key(nb), Score: d}
			frontier.Push(c)
			if e.Key(nb) == InvalidKey {
				continue // tombstoned: traversed through, never a result 
			}
			if worst, ok := results.Worst(); !ok || !results.Full() || d < worst.Score {
				results.Push(c)
			}
		}
	}
	return results.Snapshot()
}

// bruteForce scans every live node with the tile batch distance
// function, per : used when live <= brute_force_threshold. Produces
// the same ordering rules as the graph search.
func (s *Searcher) bruteForce(ctx context.Context, q []float32, qc *query.Context) ([]query.Hit, error) {
	e := s.entity
	const tileSize = 64
	var batch [][]float32
	var nodes []uint32
	var keys []uint64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out := make([]float32, len(batch))
		e.metric.Tile([][]float32{q}, batch, out)
		for i, d := range out {
			qc.Push(keys[i], d, nodes[i])
		}
		batch = batch[:0]
		nodes = nodes[:0]
		keys = keys[:0]
		return nil
	}

	var iterErr error
	e.ForEachLive(func(n uint32, key uint64, vector []float32) {
		if iterErr != nil {
			return
		}
		if qc.Cancelled() || ctx.Err() != nil {
			iterErr = zvecerr.New("hnsw.Searcher.bruteForce", zvecerr.Cancelled)
			return
		}
		batch = append(batch, vector)
		nodes = append(nodes, n)
		keys = append(keys, key)
		if len(batch) >= tileSize {
			_ = flush()
		}
	})
	if iterErr != nil {
		return nil, iterErr
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return qc.TopKToResult(), nil
}

// DistanceKernel exposes the entity's metric, used by callers (e.g. the
// RaBitQ reranking pass) that need the exact original-space distance.
func (s *Searcher) DistanceKernel() *kernel.Metric { return s.entity.metric }

// Entity exposes the underlying read-only graph.
func (s *Searcher) Entity() *Entity { return s.entity }
