package rabitq

import (
	"context"

	"github.com/codingwatching/zvec-sub004/internal/hnsw"
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Index wraps an HNSW builder/searcher pair so the graph is built and
// traversed over rotated, 1-bit+residual-quantized vectors, with a
// VectorProvider supplying original vectors for the final reranking
// pass, per the rule above. It is the "HnswRabitq" algorithm named in .
type Index struct {
	meta hnsw.Meta
	rotator *Rotator
	quantizer *Quantizer
	builder *hnsw.Builder
	searcher *hnsw.Searcher
	roEntity *hnsw.Entity // set instead of builder for a read-only loaded index
	readOnly bool
	provider VectorProvider
	raw [][]float32 // original vectors, keyed by node id; backs the default provider
	rerankK int
}

// Options configures the RaBitQ wrapper.
type Options struct {
	ExBits int
	NumClusters int
	Seed uint64
	RerankMultiplier int // how many approx candidates to fetch per requested topk before reranking
	MemoryLimitBytes int64
	BruteForceThreshold int
}

// NewIndex builds an empty, writable RaBitQ-wrapped HNSW index over
// meta's element type/metric, with a fresh deterministic rotator and
// quantizer.
func NewIndex(meta hnsw.Meta, opts Options) (*Index, error) {
	rotator := NewRotator(meta.Dimension, opts.Seed)
	quantizer := NewQuantizer(meta.Dimension, opts.ExBits, opts.NumClusters)

	builder, err := hnsw.NewBuilder(meta, opts.MemoryLimitBytes, false)
	if err != nil {
		return nil, err
	}
	rerankK := opts.RerankMultiplier
	if rerankK <= 0 {
		rerankK = 4
	}
	idx := &Index{
		meta: meta,
		rotator: rotator,
		quantizer: quantizer,
		builder: builder,
		rerankK: rerankK,
	}
	idx.provider = &nodeBoundProvider{index: idx}
	return idx, nil
}

// nodeBoundProvider defers to Index.raw so the provider stays correct
// across appends without callers re-wrapping a fresh slice each time.
type nodeBoundProvider struct{ index *Index }

func (p *nodeBoundProvider) Vector(node uint32) []float32 { return p.index.raw[node] }

// entity returns the underlying HNSW entity, whichever of builder/load
// mode produced it.
func (idx *Index) entity() *hnsw.Entity {
	if idx.readOnly {
		return idx.roEntity
	}
	return idx.builder.Entity()
}

// Add rotates and quantizes vector, inserts the decoded approximation
// into the HNSW graph (so traversal happens in the compressed space),
// and retains the original vector for reranking.
func (idx *Index) Add(key uint64, vector []float32, efConstruction int) (uint32, error) {
	if idx.readOnly {
		return hnsw.InvalidNode, zvecerr.New("rabitq.Index.Add", zvecerr.Unsupported).WithContext("reason", "index opened read-only")
	}
	if len(vector) != idx.meta.Dimension {
		return hnsw.InvalidNode, zvecerr.New("rabitq.Index.Add", zvecerr.Mismatch)
	}
	rotated := idx.rotator.Apply(vector)
	code := idx.quantizer.Encode(rotated)
	approx := idx.quantizer.Decode(code)

	node, err := idx.builder.Add(key, approx, efConstruction)
	if err != nil {
		return hnsw.InvalidNode, err
	}
	if int(node) >= len(idx.raw) {
		grown := make([][]float32, node+1)
		copy(grown, idx.raw)
		idx.raw = grown
	}
	idx.raw[node] = vector
	return node, nil
}

// ensureSearcher lazily builds a Searcher over the builder's current
// entity; RaBitQ search is read-heavy enough that this is cheap and
// keeps the wrapper usable in builder mode without a separate load.
func (idx *Index) ensureSearcher(bruteForceThreshold int) *hnsw.Searcher {
	if idx.searcher == nil {
		idx.searcher = hnsw.NewSearcher(idx.entity(), bruteForceThreshold)
	}
	return idx.searcher
}

// Search rotates the query, runs an ef-bounded HNSW search in the
// compressed space to gather rerankK*topk approximate candidates, then
// reranks them against original vectors via VectorProvider, per the rule above.
func (idx *Index) Search(ctx context.Context, queryVec []float32, params query.Params, bruteForceThreshold int) ([]query.Hit, error) {
	rotatedQuery := idx.rotator.Apply(queryVec)

	approxParams := params
	approxParams.TopK = params.TopK * uint32(idx.rerankK)
	if approxParams.TopK < params.TopK {
		approxParams.TopK = params.TopK
	}
	qc, err := query.NewContext(approxParams)
	if err != nil {
		return nil, err
	}

	searcher := idx.ensureSearcher(bruteForceThreshold)
	hits, err := searcher.Search(ctx, rotatedQuery, qc, int(approxParams.EfSearch))
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{Node: h.Node, Key: h.Key, ApproxScore: h.Score}
	}
	reranked := Rerank(cands, queryVec, idx.entity().Metric(), idx.provider)

	final, err := query.NewContext(params)
	if err != nil {
		return nil, err
	}
	for _, r := range reranked {
		final.Push(r.Key, r.Score, r.Node)
	}
	out := final.TopKToResult()
	if params.FetchVector {
		for i := range out {
			out[i].Vector = idx.provider.Vector(out[i].Node)
		}
	}
	return out, nil
}

// MarkDeleted tombstones key in the underlying graph.
func (idx *Index) MarkDeleted(key uint64) bool {
	if idx.readOnly {
		return idx.roEntity.MarkDeleted(key)
	}
	return idx.builder.MarkDeleted(key)
}

// DocCount returns the underlying entity's doc count.
func (idx *Index) DocCount() uint32 { return idx.entity().DocCount() }

// Rotator exposes the fitted rotation, e.g. for persistence.
func (idx *Index) Rotator() *Rotator { return idx.rotator }

// Quantizer exposes the fitted quantizer, e.g. for persistence.
func (idx *Index) Quantizer() *Quantizer { return idx.quantizer }

// Entity exposes the underlying HNSW entity (over approximate
// vectors), e.g. for dump.
func (idx *Index) Entity() *hnsw.Entity { return idx.entity() }

// ReadOnly reports whether the index was reconstructed via Load.
func (idx *Index) ReadOnly() bool { return idx.readOnly }

// RawVector returns the original (pre-rotation) vector for node, used
// by persistence to dump the rabitq.converter segment's companion
// vector data.
func (idx *Index) RawVector(node uint32) []float32 { return idx.raw[node] }
