package numindex

import (
	"github.com/hupe1980/numindex/internal/tree"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/hupe1980/numindex/layout"
)

// indexTree is the part of the tree the accessor depends on.
type indexTree interface {
	Writer() (treeWriter, error)
	Snapshot() (treeSnapshot, error)
	Checkpoint(limiter *iolimit.Limiter) (tree.CheckpointStats, error)
	LockCheckpoints() func()
	Info() tree.Info
	Close() error
}

type treeWriter interface {
	Put(k layout.NumberKey, v layout.NumberValue) (bool, error)
	Remove(k layout.NumberKey) (bool, error)
	Close() error
}

type treeSnapshot interface {
	Len() int
	Get(k layout.NumberKey) (layout.NumberValue, bool)
	Ascend(fn func(layout.NumberKey, layout.NumberValue) bool)
	AscendFrom(pivot layout.NumberKey, fn func(layout.NumberKey, layout.NumberValue) bool)
}

// numberTree adapts the generic tree to indexTree.
type numberTree struct {
	*tree.Tree[layout.NumberKey, layout.NumberValue]
}

func (t numberTree) Writer() (treeWriter, error) {
	w, err := t.Tree.Writer()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (t numberTree) Snapshot() (treeSnapshot, error) {
	s, err := t.Tree.Snapshot()
	if err != nil {
		return nil, err
	}
	return s, nil
}
