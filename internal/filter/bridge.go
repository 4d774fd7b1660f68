package filter

import (
	"context"
	"strconv"

	"github.com/codingwatching/zvec-sub004/internal/query"
)

// MetadataResolver looks up the stored metadata for a live key, letting
// a rich Filter expression evaluate against it during graph traversal.
// The concrete implementation goes to whatever side-table the caller
// keeps keys' metadata in; it is intentionally decoupled from the hnsw
// package so the filter expression language never needs to know about
// node ids or vectors.
type MetadataResolver interface {
	Metadata(key uint64) (map[string]interface{}, bool)
}

// AsKeyPredicate adapts a Filter into the query.KeyPredicate shape the
// searcher consumes, per 's filter-predicate traversal semantics: a
// key with no resolvable metadata, or one the filter rejects, is
// traversed through but excluded from results.
func AsKeyPredicate(f Filter, resolver MetadataResolver) query.KeyPredicate {
	return func(key uint64) bool {
		meta, ok := resolver.Metadata(key)
		if !ok {
			return false
		}
		entry := &VectorEntry{ID: strconv.FormatUint(key, 10), Metadata: meta}
		matched, err := f.Apply(context.Background(), []*VectorEntry{entry})
		if err != nil {
			return false
		}
		return len(matched) == 1
	}
}
