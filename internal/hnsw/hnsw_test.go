package hnsw

import (
	"context"
	"math/rand"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/codingwatching/zvec-sub004/internal/query"
)

func testMeta(dim int) Meta {
	return Meta{
		ElementType: 0,
		MetricName: "SquaredEuclidean",
		Dimension: dim,
		M: 8,
		M0: 16,
		EfConstruction: 64,
		MaxLevel: 8,
		Seed: 42,
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func buildTestGraph(t *testing.T, n, dim int) (*Builder, [][]float32) {
	t.Helper()
	b, err := NewBuilder(testMeta(dim), 0, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := randomVector(rng, dim)
		vecs[i] = v
		if _, err := b.Add(uint64(i+1), v, 0); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	return b, vecs
}

func TestBuilderAddRejectsWrongDimension(t *testing.T) {
	b, err := NewBuilder(testMeta(4), 0, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Add(1, []float32{1, 2, 3}, 0); err == nil {
		t.Fatalf("expected a dimension-mismatch error")
	}
}

func TestBuilderAddRejectsDuplicateKeyByDefault(t *testing.T) {
	b, err := NewBuilder(testMeta(4), 0, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Add(1, []float32{1, 2, 3, 4}, 0); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := b.Add(1, []float32{5, 6, 7, 8}, 0); err == nil {
		t.Fatalf("expected a duplicate-key error")
	}
}

func TestBuilderAddRejectsInvalidKey(t *testing.T) {
	b, err := NewBuilder(testMeta(4), 0, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Add(InvalidKey, []float32{1, 2, 3, 4}, 0); err == nil {
		t.Fatalf("expected INVALID_KEY to be rejected")
	}
}

func TestSearcherFindsExactNearestNeighbor(t *testing.T) {
	const dim = 8
	b, vecs := buildTestGraph(t, 200, dim)
	s := NewSearcher(b.Entity(), 0)

	target := vecs[50]
	qc, err := query.NewContext(query.Params{TopK: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	hits, err := s.Search(context.Background(), target, qc, 64)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Key != uint64(51) {
		t.Errorf("expected the query vector's own key 51 as nearest neighbor, got %d", hits[0].Key)
	}
	if hits[0].Score != 0 {
		t.Errorf("expected zero distance to an indexed point equal to the query, got %f", hits[0].Score)
	}
}

func TestSearcherUsesBruteForceBelowThreshold(t *testing.T) {
	const dim = 4
	b, vecs := buildTestGraph(t, 10, dim)
	// bruteForceThreshold well above live count forces the exact path.
	s := NewSearcher(b.Entity(), 1000)

	qc, err := query.NewContext(query.Params{TopK: 3})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	hits, err := s.Search(context.Background(), vecs[0], qc, 16)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Key != 1 {
		t.Errorf("expected exact nearest neighbor to be key 1, got %d", hits[0].Key)
	}
}

func TestMarkDeletedExcludesFromLiveCount(t *testing.T) {
	b, _ := buildTestGraph(t, 20, 4)
	before := b.Entity().LiveCount()
	if !b.MarkDeleted(5) {
		t.Fatalf("expected MarkDeleted to find key 5")
	}
	after := b.Entity().LiveCount()
	if after != before-1 {
		t.Errorf("expected LiveCount to drop by 1, got %d -> %d", before, after)
	}
	if b.MarkDeleted(5) {
		t.Errorf("expected a second MarkDeleted on the same key to report not-found")
	}
}

func TestDumpLoadRoundTripPreservesSearchResults(t *testing.T) {
	const dim = 6
	b, vecs := buildTestGraph(t, 100, dim)

	var buf dumpBuffer
	if err := Dump(b, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	entity, err := Load(&buf, int64(buf.Len()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entity.DocCount() != b.Entity().DocCount() {
		t.Fatalf("doc count mismatch: got %d, want %d", entity.DocCount(), b.Entity().DocCount())
	}

	loadedSearcher := NewSearcher(entity, 0)
	qc, err := query.NewContext(query.Params{TopK: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	hits, err := loadedSearcher.Search(context.Background(), vecs[10], qc, 64)
	if err != nil {
		t.Fatalf("Search after load: %v", err)
	}
	if len(hits) != 1 || hits[0].Key != 11 {
		t.Errorf("expected reloaded graph to still find key 11 as nearest, got %+v", hits)
	}
}

// TestConcurrentAddIsSafeUnderContention inserts from many goroutines at
// once via an errgroup and checks that every key ends up findable and
// that no insert corrupts another's neighbor lists, exercising the
// bucketed per-node lock array under real contention.
func TestConcurrentAddIsSafeUnderContention(t *testing.T) {
	const dim = 12
	const n = 300
	b, err := NewBuilder(testMeta(dim), 0, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	rng := rand.New(rand.NewSource(77))
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = randomVector(rng, dim)
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := b.Add(uint64(i+1), vecs[i], 0)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Add: %v", err)
	}

	e := b.Entity()
	if got := e.DocCount(); got != n {
		t.Fatalf("expected %d docs, got %d", n, got)
	}
	for i := 0; i < n; i++ {
		if _, ok := e.NodeForKey(uint64(i + 1)); !ok {
			t.Errorf("key %d missing after concurrent insert", i+1)
		}
	}

	s := NewSearcher(e, 0)
	qc, err := query.NewContext(query.Params{TopK: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	hits, err := s.Search(context.Background(), vecs[42], qc, 64)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Key != 43 {
		t.Errorf("expected concurrently built graph to still resolve exact matches, got %+v", hits)
	}
}

// dumpBuffer is a minimal io.Writer + io.ReaderAt over an in-memory byte
// slice, avoiding a dependency on bytes.Buffer (which isn't a ReaderAt).
type dumpBuffer struct{ data []byte }

func (d *dumpBuffer) Write(p []byte) (int, error) {
	d.data = append(d.data, p...)
	return len(p), nil
}

func (d *dumpBuffer) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *dumpBuffer) Len() int { return len(d.data) }
