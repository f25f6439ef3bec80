package tree

import (
	"github.com/google/btree"
)

// Snapshot is an immutable view of the tree. It is safe for concurrent use.
type Snapshot[K, V any] struct {
	root *btree.BTreeG[item[K, V]]
}

// Len returns the number of entries.
func (s *Snapshot[K, V]) Len() int { return s.root.Len() }

// Get returns the value stored for k.
func (s *Snapshot[K, V]) Get(k K) (V, bool) {
	it, ok := s.root.Get(item[K, V]{key: k})
	return it.value, ok
}

// Ascend calls fn for every entry in key order until fn returns false.
func (s *Snapshot[K, V]) Ascend(fn func(K, V) bool) {
	s.root.Ascend(func(it item[K, V]) bool { return fn(it.key, it.value) })
}

// AscendFrom calls fn for every entry with key >= pivot in key order until
// fn returns false.
func (s *Snapshot[K, V]) AscendFrom(pivot K, fn func(K, V) bool) {
	s.root.AscendGreaterOrEqual(item[K, V]{key: pivot}, func(it item[K, V]) bool {
		return fn(it.key, it.value)
	})
}
