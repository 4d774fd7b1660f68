// Package zvec is the public facade of : Index is the
// polymorphic entry point over the concrete algorithm implementations
// (HNSW, HnswRabitq, ...), exposing open/close/add/train/search/
// remove/dump/stats with the tagged return-code convention.
//
// Grounded on libravdb/database.go and libravdb/collection.go
// for the overall functional-options-configured, method-per-operation
// facade shape, narrowed from multi-collection database
// abstraction to this spec's single-Index-per-open-file model ,
// and on 's "closed enum or tagged dispatch at the facade boundary"
// guidance in place of interface-heavy polymorphism.
package zvec

import (
	"context"
	"os"

	"github.com/codingwatching/zvec-sub004/internal/chunkstore"
	"github.com/codingwatching/zvec-sub004/internal/config"
	"github.com/codingwatching/zvec-sub004/internal/query"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

// Algorithm names a concrete Index implementation, per 's "closed
// enum ... at the facade boundary" guidance in place of deep
// inheritance.
type Algorithm int

const (
	AlgorithmHNSW Algorithm = iota
	AlgorithmHNSWRaBitQ
)

// Storage mirrors 's open-mode options.
type Storage = chunkstore.OpenMode

const (
	MMAP = chunkstore.MMAP
	MEMORY = chunkstore.MEMORY
)

// Advise mirrors 's mmap access pattern hint.
type Advise = chunkstore.Advise

const (
	AdviseNormal = chunkstore.AdviseNormal
	AdviseRandom = chunkstore.AdviseRandom
	AdviseSequential = chunkstore.AdviseSequential
)

// OpenOptions configures Open per the rule above.
type OpenOptions struct {
	Algorithm Algorithm
	Storage Storage
	ReadOnly bool
	Populate bool
	Advise Advise
	Config *config.Config
	RaBitQ RaBitQOptions
}

// RaBitQOptions configures the HnswRabitq variant when Algorithm is
// AlgorithmHNSWRaBitQ.
type RaBitQOptions struct {
	ExBits int
	NumClusters int
	RerankMultiplier int
}

// Stats reports index-level counters for diagnostics, per 's
// stats.
type Stats struct {
	DocCount uint64
	LiveCount uint64
	SegmentBytes int64
	ISATier string
}

// Index is the public facade named in . Every failing operation
// returns a Go error carrying a tagged Code; callers that want the raw
// negative-integer convention call zvecerr.CodeOf(err).
type Index interface {
	// Add inserts vector under key, returning the assigned node id.
	Add(vector []float32, key uint64) (uint32, error)
	// Remove tombstones key.
	Remove(key uint64) error
	// Train runs any required training pass; a no-op for plain HNSW.
	Train() error
	// Search runs a top-k query.
	Search(ctx context.Context, queryVec []float32, params query.Params) ([]query.Hit, error)
	// SearchByKeys resolves keys directly, bypassing graph traversal.
	SearchByKeys(keys []uint64, fetchVector bool) ([]query.Hit, error)
	// GetDocCount reports the number of assigned node slots.
	GetDocCount() uint64
	// Dump serializes the index to path.
	Dump(path string) error
	// Stats reports index-level counters.
	Stats() Stats
	// Close releases any held resources.
	Close() error
}

// Open loads the index file at path when opts.ReadOnly is set.
// Otherwise it creates an empty in-memory index and ignores path and
// opts.Storage; Dump writes such an index to a file.
func Open(path string, opts OpenOptions) (Index, error) {
	if opts.Config == nil {
		return nil, zvecerr.New("zvec.Open", zvecerr.InvalidArgument).WithContext("reason", "Config is required")
	}
	if opts.ReadOnly {
		return openReadOnly(path, opts)
	}
	switch opts.Algorithm {
	case AlgorithmHNSW:
		return newHNSWIndex(opts)
	case AlgorithmHNSWRaBitQ:
		return newRaBitQIndex(opts)
	default:
		return nil, zvecerr.New("zvec.Open", zvecerr.Unsupported).WithContext("algorithm", int(opts.Algorithm))
	}
}

func openReadOnly(path string, opts OpenOptions) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, zvecerr.Wrap("zvec.Open", zvecerr.IO, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, zvecerr.Wrap("zvec.Open", zvecerr.IO, err)
	}
	switch opts.Algorithm {
	case AlgorithmHNSW:
		return loadHNSWIndex(f, stat.Size(), opts)
	case AlgorithmHNSWRaBitQ:
		return loadRaBitQIndex(f, stat.Size(), opts)
	default:
		f.Close()
		return nil, zvecerr.New("zvec.Open", zvecerr.Unsupported).WithContext("algorithm", int(opts.Algorithm))
	}
}
