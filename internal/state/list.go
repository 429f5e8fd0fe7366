// Package state holds the client-side list and counter containers the
// stores keep per screen.
package state

import (
	"slices"
	"sort"
	"sync"
)

// List is a goroutine-safe ordered collection keyed by id.
type List[T any] struct {
	mu    sync.RWMutex
	items []T
	index map[string]int
	id    func(T) string
}

// NewList creates an empty list. id extracts the key of an item.
func NewList[T any](id func(T) string) *List[T] {
	return &List[T]{index: make(map[string]int), id: id}
}

// Apply merges one fetched page. Offset 0 replaces the contents; a later
// page is appended, skipping items already present.
func (l *List[T]) Apply(page []T, offset int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset == 0 {
		l.items = l.items[:0:0]
		l.index = make(map[string]int, len(page))
	}
	for _, item := range page {
		l.appendLocked(item)
	}
}

// Prepend inserts item at the front. An item already present is moved.
func (l *List[T]) Prepend(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(l.id(item))
	l.items = append([]T{item}, l.items...)
	l.reindexLocked()
}

// AppendUnique adds item at the end unless its id is already present, and
// reports whether it was added.
func (l *List[T]) AppendUnique(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(item)
}

// Update replaces the item with the given id by fn(item). It reports
// whether the id was found.
func (l *List[T]) Update(id string, fn func(T) T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items[i] = fn(l.items[i])
	return true
}

// Remove deletes the item with the given id.
func (l *List[T]) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(id)
}

func (l *List[T]) Get(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return l.items[i], true
}

func (l *List[T]) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Items returns a copy of the items in order.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List[T]) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.items))
	for i, item := range l.items {
		out[i] = l.id(item)
	}
	return out
}

func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List[T]) Reset() {
	l.Apply(nil, 0)
}

// Sort reorders the items. The sort is stable.
func (l *List[T]) Sort(less func(a, b T) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sort.SliceStable(l.items, func(i, j int) bool { return less(l.items[i], l.items[j]) })
	l.reindexLocked()
}

// CheckpointItem records the item with the given id, or its absence.
// Calling the returned func puts back that one item: it is restored in
// place, re-inserted at its old position, or removed if it did not exist.
// Other items, including ones added since, are left alone.
func (l *List[T]) CheckpointItem(id string) func() {
	l.mu.RLock()
	pos, existed := l.index[id]
	var saved T
	if existed {
		saved = l.items[pos]
	}
	l.mu.RUnlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !existed {
			l.removeLocked(id)
			return
		}
		if i, ok := l.index[id]; ok {
			l.items[i] = saved
			return
		}
		l.items = slices.Insert(l.items, min(pos, len(l.items)), saved)
		l.reindexLocked()
	}
}

func (l *List[T]) appendLocked(item T) bool {
	id := l.id(item)
	if _, ok := l.index[id]; ok {
		return false
	}
	l.index[id] = len(l.items)
	l.items = append(l.items, item)
	return true
}

func (l *List[T]) removeLocked(id string) bool {
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.reindexLocked()
	return true
}

func (l *List[T]) reindexLocked() {
	l.index = make(map[string]int, len(l.items))
	for i, item := range l.items {
		l.index[l.id(item)] = i
	}
}
