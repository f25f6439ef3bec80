package numindex

import (
	"iter"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/numindex/layout"
)

// ValueRange bounds a range query. A zero bound is open.
type ValueRange struct {
	From          layout.Number
	FromInclusive bool
	To            layout.Number
	ToInclusive   bool
}

// RangeAll matches every value.
func RangeAll() ValueRange { return ValueRange{} }

// RangeBetween matches values between from and to.
func RangeBetween(from layout.Number, fromInclusive bool, to layout.Number, toInclusive bool) ValueRange {
	return ValueRange{From: from, FromInclusive: fromInclusive, To: to, ToInclusive: toInclusive}
}

// RangeFrom matches values above from.
func RangeFrom(from layout.Number, inclusive bool) ValueRange {
	return ValueRange{From: from, FromInclusive: inclusive}
}

// RangeTo matches values below to.
func RangeTo(to layout.Number, inclusive bool) ValueRange {
	return ValueRange{To: to, ToInclusive: inclusive}
}

// Contains reports whether v lies in the range.
func (r ValueRange) Contains(v layout.Number) bool {
	return !r.belowFrom(v) && !r.aboveTo(v)
}

func (r ValueRange) belowFrom(v layout.Number) bool {
	if r.From.IsZero() {
		return false
	}
	c := v.Compare(r.From)
	return c < 0 || (c == 0 && !r.FromInclusive)
}

func (r ValueRange) aboveTo(v layout.Number) bool {
	if r.To.IsZero() {
		return false
	}
	c := v.Compare(r.To)
	return c > 0 || (c == 0 && !r.ToInclusive)
}

// IndexSample summarizes the content of an index.
type IndexSample struct {
	IndexSize    int64
	UniqueValues int64
	SampleSize   int64
}

// Reader queries one snapshot of the index. It is safe for concurrent use.
// Queries after Close return empty results.
type Reader struct {
	snap    treeSnapshot
	metrics MetricsCollector
	closed  atomic.Bool
}

// Lookup returns the entities holding exactly v.
func (r *Reader) Lookup(v layout.Number) *roaring64.Bitmap {
	start := time.Now()
	ids := roaring64.New()
	if r.closed.Load() || v.IsZero() {
		return ids
	}
	r.snap.AscendFrom(layout.LowestKey(v), func(k layout.NumberKey, _ layout.NumberValue) bool {
		if !k.Value.Equal(v) {
			return false
		}
		ids.Add(k.EntityID)
		return true
	})
	r.metrics.RecordRead(ReadLookup, int64(ids.GetCardinality()), time.Since(start))
	return ids
}

// Range returns the entries in vr ordered by value, then entity id.
func (r *Reader) Range(vr ValueRange) *EntityIterator {
	if r.closed.Load() {
		return newEntityIterator(func(func(layout.NumberKey, layout.NumberValue) bool) {}, nil)
	}
	seq := func(yield func(layout.NumberKey, layout.NumberValue) bool) {
		visit := func(k layout.NumberKey, v layout.NumberValue) bool {
			if vr.belowFrom(k.Value) {
				return true
			}
			if vr.aboveTo(k.Value) {
				return false
			}
			return yield(k, v)
		}
		if vr.From.IsZero() {
			r.snap.Ascend(visit)
			return
		}
		r.snap.AscendFrom(layout.LowestKey(vr.From), visit)
	}
	return newEntityIterator(seq, r.metrics)
}

// CountIndexedEntities returns how many entries hold v for entityID: 0 or 1.
func (r *Reader) CountIndexedEntities(entityID uint64, v layout.Number) int64 {
	start := time.Now()
	if r.closed.Load() || v.IsZero() {
		return 0
	}
	var n int64
	if _, ok := r.snap.Get(layout.NumberKey{Value: v, EntityID: entityID}); ok {
		n = 1
	}
	r.metrics.RecordRead(ReadCount, n, time.Since(start))
	return n
}

// Sample scans the snapshot and reports its size and number of distinct
// values.
func (r *Reader) Sample() IndexSample {
	start := time.Now()
	if r.closed.Load() {
		return IndexSample{}
	}
	var (
		s    IndexSample
		prev layout.Number
	)
	r.snap.Ascend(func(k layout.NumberKey, _ layout.NumberValue) bool {
		if s.IndexSize == 0 || !k.Value.Equal(prev) {
			s.UniqueValues++
			prev = k.Value
		}
		s.IndexSize++
		return true
	})
	s.SampleSize = s.IndexSize
	r.metrics.RecordRead(ReadSample, s.IndexSize, time.Since(start))
	return s
}

// Close releases the snapshot.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrReaderClosed
	}
	return nil
}

// EntityIterator walks the result of a range query. It is not safe for
// concurrent use. Close it when abandoning it early.
type EntityIterator struct {
	next    func() (layout.NumberKey, layout.NumberValue, bool)
	stop    func()
	current layout.NumberKey
	count   int64
	start   time.Time
	metrics MetricsCollector
	done    bool
}

func newEntityIterator(seq iter.Seq2[layout.NumberKey, layout.NumberValue], metrics MetricsCollector) *EntityIterator {
	next, stop := iter.Pull2(seq)
	return &EntityIterator{next: next, stop: stop, start: time.Now(), metrics: metrics}
}

// Next advances to the next entry and returns its entity id.
func (it *EntityIterator) Next() (uint64, bool) {
	if it.done {
		return 0, false
	}
	k, _, ok := it.next()
	if !ok {
		it.finish()
		return 0, false
	}
	it.current = k
	it.count++
	return k.EntityID, true
}

// Value returns the value of the entry Next returned last.
func (it *EntityIterator) Value() layout.Number { return it.current.Value }

// Close stops the iteration.
func (it *EntityIterator) Close() error {
	it.finish()
	return nil
}

func (it *EntityIterator) finish() {
	if it.done {
		return
	}
	it.done = true
	it.stop()
	if it.metrics != nil {
		it.metrics.RecordRead(ReadRange, it.count, time.Since(it.start))
	}
}
