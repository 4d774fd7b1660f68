package zvec

import (
	"context"
	"os"

	"github.com/codingwatching/zvec-sub004/internal/config"
	"github.com/codingwatching/zvec-sub004/internal/hnsw"
	"github.com/codingwatching/zvec-sub004/internal/kernel"
	"github.com/codingwatching/zvec-sub004/internal/obs"
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// hnswIndex is the plain-HNSW Index implementation.
type hnswIndex struct {
	cfg *config.Config
	builder *hnsw.Builder
	searcher *hnsw.Searcher
	readOnly bool
	metrics *obs.Metrics
	file *os.File // non-nil only for a read-only loaded file handle
}

func newHNSWIndex(opts OpenOptions) (Index, error) {
	cfg := opts.Config
	meta := hnsw.Meta{
		ElementType: cfg.ElementType,
		MetricName: cfg.MetricName,
		Dimension: cfg.Dimension,
		M: cfg.M,
		M0: cfg.M0,
		EfConstruction: cfg.EfConstruction,
		MaxLevel: cfg.MaxLevel,
		Seed: cfg.Seed,
	}
	builder, err := hnsw.NewBuilder(meta, cfg.MemoryLimitBytes, false)
	if err != nil {
		return nil, zvecerr.Wrap("zvec.Open", zvecerr.Internal, err)
	}
	return &hnswIndex{cfg: cfg, builder: builder, metrics: obs.NewMetrics()}, nil
}

func loadHNSWIndex(f *os.File, size int64, opts OpenOptions) (Index, error) {
	entity, err := hnsw.Load(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	searcher := hnsw.NewSearcher(entity, opts.Config.BruteForceThreshold)
	return &hnswIndex{cfg: opts.Config, searcher: searcher, readOnly: true, file: f, metrics: obs.NewMetrics()}, nil
}

func (h *hnswIndex) entity() *hnsw.Entity {
	if h.readOnly {
		return h.searcher.Entity()
	}
	return h.builder.Entity()
}

func (h *hnswIndex) Add(vector []float32, key uint64) (uint32, error) {
	if h.readOnly {
		return hnsw.InvalidNode, zvecerr.New("zvec.Index.Add", zvecerr.Unsupported).WithContext("reason", "index opened read-only")
	}
	n, err := h.builder.Add(key, vector, h.cfg.EfConstruction)
	if err != nil {
		return hnsw.InvalidNode, err
	}
	h.metrics.VectorInserts.Inc()
	return n, nil
}

func (h *hnswIndex) Remove(key uint64) error {
	if h.readOnly {
		return zvecerr.New("zvec.Index.Remove", zvecerr.Unsupported)
	}
	if !h.builder.MarkDeleted(key) {
		return zvecerr.New("zvec.Index.Remove", zvecerr.NoExist).WithContext("key", key)
	}
	h.metrics.VectorTombstone.Inc()
	return nil
}

// Train is a no-op for plain HNSW, per the rule above.
func (h *hnswIndex) Train() error { return nil }

func (h *hnswIndex) Search(ctx context.Context, queryVec []float32, params query.Params) ([]query.Hit, error) {
	if params.TopK == 0 {
		return nil, nil
	}
	searcher := h.searcher
	if searcher == nil {
		searcher = hnsw.NewSearcher(h.builder.Entity(), h.cfg.BruteForceThreshold)
	}
	efSearch := int(params.EfSearch)
	if efSearch <= 0 {
		efSearch = h.cfg.EfSearch
	}
	if efSearch < int(params.TopK) {
		efSearch = int(params.TopK)
	}
	qc, err := query.NewContext(params)
	if err != nil {
		h.metrics.SearchErrors.Inc()
		return nil, zvecerr.Wrap("zvec.Index.Search", zvecerr.InvalidArgument, err)
	}
	h.metrics.SearchQueries.Inc()
	hits, err := searcher.Search(ctx, queryVec, qc, efSearch)
	if err != nil {
		h.metrics.SearchErrors.Inc()
		return nil, err
	}
	if params.FetchVector {
		e := h.entity()
		for i := range hits {
			hits[i].Vector = e.Vector(hits[i].Node)
		}
	}
	return hits, nil
}

func (h *hnswIndex) SearchByKeys(keys []uint64, fetchVector bool) ([]query.Hit, error) {
	e := h.entity()
	out := make([]query.Hit, 0, len(keys))
	for _, k := range keys {
		n, ok := e.NodeForKey(k)
		if !ok {
			continue
		}
		hit := query.Hit{Key: k, Node: n}
		if fetchVector {
			hit.Vector = e.Vector(n)
		}
		out = append(out, hit)
	}
	return out, nil
}

func (h *hnswIndex) GetDocCount() uint64 { return uint64(h.entity().DocCount()) }

func (h *hnswIndex) Dump(path string) error {
	if h.readOnly {
		return zvecerr.New("zvec.Index.Dump", zvecerr.Unsupported)
	}
	f, err := os.Create(path)
	if err != nil {
		return zvecerr.Wrap("zvec.Index.Dump", zvecerr.IO, err)
	}
	defer f.Close()
	return hnsw.Dump(h.builder, f)
}

func (h *hnswIndex) Stats() Stats {
	e := h.entity()
	return Stats{
		DocCount: uint64(e.DocCount()),
		LiveCount: uint64(e.LiveCount()),
		ISATier: kernel.SelectedTier(),
	}
}

func (h *hnswIndex) Close() error {
	if h.file != nil {
		return h.file.Close()
	}
	return nil
}
