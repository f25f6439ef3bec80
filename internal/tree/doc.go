// Package tree implements the ordered key-value structure behind a number
// index.
//
// A Tree keeps its entries in a copy-on-write B-tree. A single Writer mutates
// a private clone and publishes it on Close; snapshots are clones of the last
// published root and never observe later changes.
//
// Checkpoint persists the published root into the backing file as a run of
// pages holding a block stream, then flips one of two state slots. Open picks
// the valid slot with the highest generation, so a crash at any point leaves
// either the previous or the new checkpoint visible.
package tree
