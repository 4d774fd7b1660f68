package zvec

import (
	"context"
	"os"

	"github.com/codingwatching/zvec-sub004/internal/config"
	"github.com/codingwatching/zvec-sub004/internal/hnsw"
	"github.com/codingwatching/zvec-sub004/internal/kernel"
	"github.com/codingwatching/zvec-sub004/internal/obs"
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/rabitq"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// rabitqIndex is the RaBitQ-quantized HNSW Index implementation
// (Algorithm: AlgorithmHNSWRaBitQ).
type rabitqIndex struct {
	cfg *config.Config
	inner *rabitq.Index
	trained bool
	metrics *obs.Metrics
	file *os.File // non-nil only for a read-only loaded file handle
}

func newRaBitQIndex(opts OpenOptions) (Index, error) {
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
	exBits := opts.RaBitQ.ExBits
	if exBits <= 0 {
		exBits = 4
	}
	rerank := opts.RaBitQ.RerankMultiplier
	if rerank <= 0 {
		rerank = 4
	}
	inner, err := rabitq.NewIndex(meta, rabitq.Options{
		ExBits: exBits,
		NumClusters: opts.RaBitQ.NumClusters,
		Seed: cfg.Seed,
		RerankMultiplier: rerank,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		BruteForceThreshold: cfg.BruteForceThreshold,
	})
	if err != nil {
		return nil, zvecerr.Wrap("zvec.Open", zvecerr.Internal, err)
	}
	return &rabitqIndex{cfg: cfg, inner: inner, metrics: obs.NewMetrics()}, nil
}

func loadRaBitQIndex(f *os.File, size int64, opts OpenOptions) (Index, error) {
	inner, err := rabitq.Load(f, size, opts.Config.BruteForceThreshold, opts.RaBitQ.RerankMultiplier)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rabitqIndex{cfg: opts.Config, inner: inner, trained: true, metrics: obs.NewMetrics(), file: f}, nil
}

func (r *rabitqIndex) Add(vector []float32, key uint64) (uint32, error) {
	n, err := r.inner.Add(key, vector, r.cfg.EfConstruction)
	if err != nil {
		return hnsw.InvalidNode, err
	}
	r.metrics.VectorInserts.Inc()
	return n, nil
}

func (r *rabitqIndex) Remove(key uint64) error {
	if !r.inner.MarkDeleted(key) {
		return zvecerr.New("zvec.Index.Remove", zvecerr.NoExist).WithContext("key", key)
	}
	r.metrics.VectorTombstone.Inc()
	return nil
}

// Train fits the k-means cluster centroids over the vectors inserted so
// far, per 's "optional k-means centroids"; a no-op if NumClusters
// was left at 0.
func (r *rabitqIndex) Train() error {
	if r.inner.ReadOnly() {
		return zvecerr.New("zvec.Index.Train", zvecerr.Unsupported).WithContext("reason", "index opened read-only")
	}
	vectors := make([][]float32, 0, r.inner.Entity().DocCount())
	r.inner.Entity().ForEachLive(func(n uint32, key uint64, vector []float32) {
		vectors = append(vectors, r.inner.Rotator().Apply(r.inner.RawVector(n)))
	})
	r.inner.Quantizer().Train(vectors, len(vectors), r.cfg.Seed)
	r.trained = true
	return nil
}

func (r *rabitqIndex) Search(ctx context.Context, queryVec []float32, params query.Params) ([]query.Hit, error) {
	if params.TopK == 0 {
		return nil, nil
	}
	r.metrics.SearchQueries.Inc()
	hits, err := r.inner.Search(ctx, queryVec, params, r.cfg.BruteForceThreshold)
	if err != nil {
		r.metrics.SearchErrors.Inc()
		return nil, err
	}
	return hits, nil
}

func (r *rabitqIndex) SearchByKeys(keys []uint64, fetchVector bool) ([]query.Hit, error) {
	e := r.inner.Entity()
	out := make([]query.Hit, 0, len(keys))
	for _, k := range keys {
		n, ok := e.NodeForKey(k)
		if !ok {
			continue
		}
		hit := query.Hit{Key: k, Node: n}
		if fetchVector {
			hit.Vector = r.inner.RawVector(n)
		}
		out = append(out, hit)
	}
	return out, nil
}

func (r *rabitqIndex) GetDocCount() uint64 { return uint64(r.inner.DocCount()) }

func (r *rabitqIndex) Dump(path string) error {
	if r.inner.ReadOnly() {
		return zvecerr.New("zvec.Index.Dump", zvecerr.Unsupported)
	}
	f, err := os.Create(path)
	if err != nil {
		return zvecerr.Wrap("zvec.Index.Dump", zvecerr.IO, err)
	}
	defer f.Close()
	return rabitq.Dump(r.inner, f)
}

func (r *rabitqIndex) Stats() Stats {
	e := r.inner.Entity()
	return Stats{
		DocCount: uint64(e.DocCount()),
		LiveCount: uint64(e.LiveCount()),
		ISATier: kernel.SelectedTier(),
	}
}

func (r *rabitqIndex) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
