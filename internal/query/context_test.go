package query

import (
	"context"
	"testing"
	"time"
)

func TestNewContextRejectsZeroGroupTopKWithGroupBy(t *testing.T) {
	_, err := NewContext(Params{
		TopK: 10,
		GroupBy: func(key uint64) uint64 { return key % 2 },
	})
	if err == nil {
		t.Fatal("expected an error for group_by set with group_topk == 0")
	}
}

func TestContextPushAndTopKToResultOrdersAscending(t *testing.T) {
	c, err := NewContext(Params{TopK: 2})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c.Push(1, 0.8, 1)
	c.Push(2, 0.2, 2)
	c.Push(3, 0.5, 3)

	out := c.TopKToResult()
	if len(out) != 2 {
		t.Fatalf("expected top-2 results, got %d", len(out))
	}
	if out[0].Key != 2 || out[1].Key != 3 {
		t.Errorf("unexpected result order: %+v", out)
	}
}

func TestContextFilterRejectsBeforeHeap(t *testing.T) {
	allowed := map[uint64]bool{1: true}
	c, err := NewContext(Params{
		TopK: 5,
		Filter: func(key uint64) bool { return allowed[key] },
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if c.Push(2, 0.1, 2) {
		t.Errorf("expected filtered-out key to be rejected")
	}
	if !c.Push(1, 0.1, 1) {
		t.Errorf("expected allowed key to be accepted")
	}
	if c.ResultHeap().Len() != 1 {
		t.Errorf("expected only the allowed key to reach the heap, got %d entries", c.ResultHeap().Len())
	}
}

func TestContextGroupByMergesBestGroups(t *testing.T) {
	c, err := NewContext(Params{
		TopK: 10,
		GroupBy: func(key uint64) uint64 { return key % 2 },
		GroupTopK: 2,
		GroupNum: 1,
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	c.Push(1, 0.9, 1) // group 1
	c.Push(2, 0.1, 2) // group 0, best
	c.Push(4, 0.2, 4) // group 0
	c.Push(3, 0.5, 3) // group 1

	out := c.TopKToResult()
	for _, hit := range out {
		if hit.Key%2 != 0 {
			t.Errorf("expected only group 0 members in top-1-group output, got key %d", hit.Key)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected both group-0 members, got %d", len(out))
	}
}

func TestContextCancelIsObservedImmediately(t *testing.T) {
	c, err := NewContext(Params{TopK: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if c.Cancelled() {
		t.Fatalf("expected fresh context to not be cancelled")
	}
	c.Cancel()
	if !c.Cancelled() {
		t.Fatalf("expected Cancel to be observed by Cancelled")
	}
}

func TestContextDeadlineExpires(t *testing.T) {
	c, err := NewContext(Params{TopK: 1, DeadlineMicros: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	time.Sleep(time.Millisecond)
	if !c.Cancelled() {
		t.Fatalf("expected an expired deadline to be observed as cancelled")
	}
}

func TestContextCheckContextHonorsStdlibContext(t *testing.T) {
	c, err := NewContext(Params{TopK: 1})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !c.CheckContext(ctx) {
		t.Fatalf("expected a cancelled context.Context to be observed")
	}
}
