package state

import (
	"reflect"
	"sync"
	"testing"
)

type item struct {
	ID   string
	Name string
}

func newItems() *List[item] {
	return NewList(func(i item) string { return i.ID })
}

func TestListApply(t *testing.T) {
	t.Run("offset zero replaces", func(t *testing.T) {
		l := newItems()
		l.Apply([]item{{ID: "a"}, {ID: "b"}}, 0)
		l.Apply([]item{{ID: "c"}}, 0)
		if got := l.IDs(); !reflect.DeepEqual(got, []string{"c"}) {
			t.Fatalf("ids = %v", got)
		}
	})

	t.Run("later page appends without duplicates", func(t *testing.T) {
		l := newItems()
		l.Apply([]item{{ID: "a"}, {ID: "b"}}, 0)
		l.Apply([]item{{ID: "b"}, {ID: "c"}}, 2)
		if got := l.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Fatalf("ids = %v", got)
		}
	})

	t.Run("empty page at offset zero clears", func(t *testing.T) {
		l := newItems()
		l.Apply([]item{{ID: "a"}}, 0)
		l.Apply(nil, 0)
		if l.Len() != 0 {
			t.Fatalf("len = %d", l.Len())
		}
	})
}

func TestListAppendUniqueIsIdempotent(t *testing.T) {
	l := newItems()
	if !l.AppendUnique(item{ID: "m1"}) {
		t.Fatal("first append should add")
	}
	for i := 0; i < 3; i++ {
		if l.AppendUnique(item{ID: "m1", Name: "again"}) {
			t.Fatal("duplicate append should be a no-op")
		}
	}
	got, _ := l.Get("m1")
	if l.Len() != 1 || got.Name != "" {
		t.Fatalf("list changed by duplicate: %+v", l.Items())
	}
}

func TestListMutations(t *testing.T) {
	l := newItems()
	l.Apply([]item{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 0)

	l.Prepend(item{ID: "c", Name: "moved"})
	if got := l.IDs(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("after prepend ids = %v", got)
	}

	if !l.Update("a", func(i item) item { i.Name = "updated"; return i }) {
		t.Fatal("update should find a")
	}
	if got, _ := l.Get("a"); got.Name != "updated" {
		t.Fatalf("a = %+v", got)
	}
	if l.Update("zzz", func(i item) item { return i }) {
		t.Fatal("update of missing id should report false")
	}

	if !l.Remove("a") || l.Has("a") {
		t.Fatal("remove failed")
	}
	if got, _ := l.Get("b"); got.ID != "b" {
		t.Fatal("index not rebuilt after remove")
	}

	l.Sort(func(x, y item) bool { return x.ID < y.ID })
	if got := l.IDs(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("after sort ids = %v", got)
	}
}

func TestListCheckpointItem(t *testing.T) {
	l := newItems()
	l.Apply([]item{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 0)

	t.Run("re-inserts removed item at its position", func(t *testing.T) {
		restore := l.CheckpointItem("b")
		l.Remove("b")
		l.AppendUnique(item{ID: "live"})
		restore()
		if got := l.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c", "live"}) {
			t.Fatalf("ids = %v", got)
		}
	})

	t.Run("restores an updated item in place", func(t *testing.T) {
		restore := l.CheckpointItem("a")
		l.Update("a", func(i item) item { i.Name = "changed"; return i })
		l.Update("c", func(i item) item { i.Name = "other"; return i })
		restore()
		if got, _ := l.Get("a"); got.Name != "" {
			t.Fatalf("a = %+v", got)
		}
		if got, _ := l.Get("c"); got.Name != "other" {
			t.Fatalf("c should keep its concurrent update, got %+v", got)
		}
	})

	t.Run("removes an item that was absent", func(t *testing.T) {
		restore := l.CheckpointItem("x")
		l.Prepend(item{ID: "x"})
		restore()
		if l.Has("x") {
			t.Fatal("x should be gone")
		}
	})
}

func TestItemsIsACopy(t *testing.T) {
	l := newItems()
	l.Apply([]item{{ID: "a"}}, 0)
	items := l.Items()
	items[0].Name = "mutated"
	if got, _ := l.Get("a"); got.Name != "" {
		t.Fatal("Items must not alias internal storage")
	}
}

func TestCountersFloor(t *testing.T) {
	c := NewCounters()
	if got := c.Add("conv", -1); got != 0 {
		t.Fatalf("decrement from zero = %d", got)
	}
	c.Set("conv", 2)
	c.Add("conv", -5)
	if got := c.Get("conv"); got != 0 {
		t.Fatalf("floored value = %d", got)
	}
	c.Set("other", -3)
	if c.Total() != 0 {
		t.Fatalf("total = %d", c.Total())
	}
}

func TestCountersTotalAndUndo(t *testing.T) {
	c := NewCounters()
	c.Replace(map[string]int{"a": 2, "b": 3})
	if c.Total() != 5 {
		t.Fatalf("total = %d", c.Total())
	}

	undoClear := c.Clear("a")
	c.Add("a", 1)
	undoClear()
	if got := c.Get("a"); got != 3 {
		t.Fatalf("a after undo = %d, want 3", got)
	}

	// A decrement floored at zero only takes back what it applied.
	undoShift := c.Shift("c", -1)
	undoShift()
	if got := c.Get("c"); got != 0 {
		t.Fatalf("c after undo = %d, want 0", got)
	}

	undoShift = c.Shift("b", 1)
	c.Add("b", 2)
	undoShift()
	if got := c.Snapshot(); !reflect.DeepEqual(got, map[string]int{"a": 3, "b": 5}) {
		t.Fatalf("counts = %v", got)
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := newItems()
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.AppendUnique(item{ID: string(rune('a' + n%10))})
			c.Add("k", 1)
			_ = l.Items()
		}(i)
	}
	wg.Wait()
	if l.Len() != 10 {
		t.Fatalf("len = %d, want 10", l.Len())
	}
	if c.Get("k") != 50 {
		t.Fatalf("counter = %d", c.Get("k"))
	}
}
