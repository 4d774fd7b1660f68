package rabitq

import "github.com/codingwatching/zvec-sub004/internal/kernel"

// VectorProvider fetches a node's original (pre-rotation,
// pre-quantization) vector for the exact reranking pass of . Index
// always uses its own provider, which reads an in-memory copy of the
// original vectors (filled by Add, or by Load from the
// rabitq.raw_vectors segment); no provider reads the chunk store per
// query.
type VectorProvider interface {
	Vector(node uint32) []float32
}

// SliceProvider is an in-memory VectorProvider over a dense node-id ->
// vector slice. Index does not use it.
type SliceProvider struct {
	Vectors [][]float32
}

func (p *SliceProvider) Vector(node uint32) []float32 { return p.Vectors[node] }

// Candidate is one approximate-distance hit awaiting exact reranking.
type Candidate struct {
	Node uint32
	Key uint64
	ApproxScore float32
}

// Reranked is a candidate after exact recomputation.
type Reranked struct {
	Node uint32
	Key uint64
	Score float32
}

// Rerank recomputes the exact metric distance for every candidate
// using provider-fetched original vectors, per : "a reranking pass
// recomputes exact distance over the top-k candidates from the
// original vectors".
func Rerank(candidates []Candidate, query []float32, metric *kernel.Metric, provider VectorProvider) []Reranked {
	out := make([]Reranked, len(candidates))
	for i, c := range candidates {
		exact := metric.Distance(query, provider.Vector(c.Node))
		out[i] = Reranked{Node: c.Node, Key: c.Key, Score: exact}
	}
	return out
}
