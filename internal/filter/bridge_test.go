package filter

import "testing"

type mapResolver map[uint64]map[string]interface{}

func (m mapResolver) Metadata(key uint64) (map[string]interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func TestAsKeyPredicateMatchesResolvedMetadata(t *testing.T) {
	f := NewEqualityFilter("category", "shoes")
	resolver := mapResolver{
		1: {"category": "shoes"},
		2: {"category": "hats"},
	}
	pred := AsKeyPredicate(f, resolver)

	if !pred(1) {
		t.Errorf("expected key 1 to match")
	}
	if pred(2) {
		t.Errorf("expected key 2 to be excluded")
	}
}

func TestAsKeyPredicateExcludesUnresolvedKey(t *testing.T) {
	f := NewEqualityFilter("category", "shoes")
	pred := AsKeyPredicate(f, mapResolver{})

	if pred(99) {
		t.Errorf("expected unresolved key to be excluded, not matched")
	}
}
