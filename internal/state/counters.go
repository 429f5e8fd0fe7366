package state

import (
	"sort"
	"sync"
)

// Counters is a goroutine-safe set of named non-negative counts, such as
// unread messages per conversation.
type Counters struct {
	mu     sync.RWMutex
	values map[string]int
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]int)}
}

// Set stores n (floored at 0) for key.
func (c *Counters) Set(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, n)
}

// Add adjusts key by delta, never going below zero, and returns the new value.
func (c *Counters) Add(key string, delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, c.values[key]+delta)
	return c.values[key]
}

func (c *Counters) Get(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Replace discards all counts and installs values.
func (c *Counters) Replace(values map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]int, len(values))
	for k, v := range values {
		c.setLocked(k, v)
	}
}

func (c *Counters) Reset() {
	c.Replace(nil)
}

// Total sums every count.
func (c *Counters) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, v := range c.values {
		n += v
	}
	return n
}

// Snapshot returns a copy of the non-zero counts.
func (c *Counters) Snapshot() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Keys returns the keys with a non-zero count, sorted.
func (c *Counters) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Shift adds delta to key like Add and returns a func that takes back
// exactly the amount applied. Changes made to key in between are kept.
func (c *Counters) Shift(key string, delta int) (undo func()) {
	c.mu.Lock()
	before := c.values[key]
	c.setLocked(key, before+delta)
	applied := c.values[key] - before
	c.mu.Unlock()
	return func() { c.Add(key, -applied) }
}

// Clear zeroes key and returns a func that adds the cleared amount back.
func (c *Counters) Clear(key string) (undo func()) {
	c.mu.Lock()
	cleared := c.values[key]
	delete(c.values, key)
	c.mu.Unlock()
	return func() { c.Add(key, cleared) }
}

func (c *Counters) setLocked(key string, n int) {
	if n <= 0 {
		delete(c.values, key)
		return
	}
	c.values[key] = n
}
