package numindex

import (
	"iter"
	"time"

	"github.com/hupe1980/numindex/layout"
)

// AllEntriesReader yields the entity id of every entry present when it was
// created, in index order, exactly once. It is not safe for concurrent use
// and must be closed.
type AllEntriesReader struct {
	maxCount int64
	next     func() (layout.NumberKey, layout.NumberValue, bool)
	stop     func()
	count    int64
	start    time.Time
	metrics  MetricsCollector
	done     bool
}

func newAllEntriesReader(snap treeSnapshot, metrics MetricsCollector) *AllEntriesReader {
	next, stop := iter.Pull2(iter.Seq2[layout.NumberKey, layout.NumberValue](snap.Ascend))
	return &AllEntriesReader{
		maxCount: int64(snap.Len()),
		next:     next,
		stop:     stop,
		start:    time.Now(),
		metrics:  metrics,
	}
}

// MaxCount returns the number of entries the reader yields at most.
func (r *AllEntriesReader) MaxCount() int64 { return r.maxCount }

// Next returns the next entity id.
func (r *AllEntriesReader) Next() (uint64, bool) {
	if r.done {
		return 0, false
	}
	k, _, ok := r.next()
	if !ok {
		r.finish()
		return 0, false
	}
	r.count++
	return k.EntityID, true
}

// Close releases the reader. Calling Close more than once is a no-op.
func (r *AllEntriesReader) Close() error {
	r.finish()
	return nil
}

func (r *AllEntriesReader) finish() {
	if r.done {
		return
	}
	r.done = true
	r.stop()
	r.metrics.RecordRead(ReadScan, r.count, time.Since(r.start))
}
