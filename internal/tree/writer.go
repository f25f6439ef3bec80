package tree

import (
	"github.com/google/btree"
)

// Writer mutates a private clone of the tree. Nothing it does is visible to
// snapshots until Close publishes it.
type Writer[K, V any] struct {
	t      *Tree[K, V]
	root   *btree.BTreeG[item[K, V]]
	closed bool
}

// Put inserts or replaces the entry for k and reports whether k existed.
func (w *Writer[K, V]) Put(k K, v V) (bool, error) {
	if w.closed {
		return false, ErrWriterClosed
	}
	_, replaced := w.root.ReplaceOrInsert(item[K, V]{key: k, value: v})
	return replaced, nil
}

// Remove deletes the entry for k and reports whether it existed.
func (w *Writer[K, V]) Remove(k K) (bool, error) {
	if w.closed {
		return false, ErrWriterClosed
	}
	_, removed := w.root.Delete(item[K, V]{key: k})
	return removed, nil
}

// Close publishes the changes and releases the writer lock.
func (w *Writer[K, V]) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	w.t.publish(w.root)
	w.root = nil
	w.t.writerMu.Unlock()
	return nil
}
