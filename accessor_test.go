package numindex

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hupe1980/numindex/internal/fs"
	"github.com/hupe1980/numindex/internal/tree"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/hupe1980/numindex/layout"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/hupe1980/numindex/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestAccessor(t *testing.T, l *layout.NumberLayout, opts ...Option) (*Accessor, *pagecache.PageCache, string) {
	t.Helper()
	pc := pagecache.New(pagecache.WithPageSize(pagecache.MinPageSize))
	path := filepath.Join(t.TempDir(), "number.idx")
	acc, err := Open(pc, path, l, recovery.Immediate(), opts...)
	require.NoError(t, err)
	return acc, pc, path
}

func apply(t *testing.T, acc *Accessor, mode UpdateMode, updates ...IndexEntryUpdate) {
	t.Helper()
	u, err := acc.NewUpdater(mode)
	require.NoError(t, err)
	for _, up := range updates {
		require.NoError(t, u.Process(up))
	}
	require.NoError(t, u.Close())
}

func allEntities(t *testing.T, acc *Accessor) []uint64 {
	t.Helper()
	r, err := acc.NewAllEntriesReader()
	require.NoError(t, err)
	defer r.Close()
	var ids []uint64
	for id, ok := r.Next(); ok; id, ok = r.Next() {
		ids = append(ids, id)
	}
	return ids
}

func rangeEntities(r *Reader, vr ValueRange) []uint64 {
	it := r.Range(vr)
	defer it.Close()
	var ids []uint64
	for id, ok := it.Next(); ok; id, ok = it.Next() {
		ids = append(ids, id)
	}
	return ids
}

func TestAccessor_SameValueScenario(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	apply(t, acc, UpdateOnline, Add(1, layout.Int64(5)), Add(2, layout.Int64(5)))

	r, err := acc.NewReader()
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []uint64{1, 2}, r.Lookup(layout.Int64(5)).ToArray())
	assert.Equal(t, []uint64{1, 2}, allEntities(t, acc))
}

func TestAccessor_ReopenAfterForce(t *testing.T) {
	acc, pc, path := openTestAccessor(t, layout.NonUnique())

	apply(t, acc, UpdateOnline,
		Add(1, layout.Int64(10)),
		Add(2, layout.Float64(2.5)),
		Add(3, layout.Int64(-7)),
		Add(4, layout.Int64(10)),
	)
	apply(t, acc, UpdateOnline,
		Remove(2, layout.Float64(2.5)),
		Change(4, layout.Int64(10), layout.Int64(11)),
	)
	require.NoError(t, acc.Force(nil))

	// Published after the last Force; lost on restart.
	apply(t, acc, UpdateOnline, Add(9, layout.Int64(99)))
	require.NoError(t, acc.Close())

	acc, err := Open(pc, path, layout.NonUnique(), recovery.Immediate(), WithCreate(false))
	require.NoError(t, err)
	defer acc.Close()

	assert.Equal(t, []uint64{3, 1, 4}, allEntities(t, acc))

	info, err := acc.Info()
	require.NoError(t, err)
	assert.True(t, info.WasClean)
	assert.Equal(t, int64(3), info.Entries)
	assert.Equal(t, path, info.Path)
}

func TestAccessor_ForceWithLimiter(t *testing.T) {
	limiter := iolimit.New(iolimit.Config{BytesPerSec: 1 << 30})
	metrics := &BasicMetricsCollector{}
	acc, _, _ := openTestAccessor(t, layout.NonUnique(),
		WithCheckpointLimiter(limiter),
		WithMetricsCollector(metrics),
		WithCompression(CompressionNone),
	)
	defer acc.Close()

	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)))
	require.NoError(t, acc.Force(nil))
	require.NoError(t, acc.Force(iolimit.Unlimited()))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.CheckpointCount)
	assert.Equal(t, int64(1), stats.CheckpointPages, "second force has nothing to write")
	assert.Equal(t, int64(1), stats.SessionCount)
	assert.Equal(t, int64(1), stats.UpdatesProcessed)

	info, err := acc.Info()
	require.NoError(t, err)
	assert.Equal(t, "none", info.Codec)
}

func TestAccessor_AllEntriesSnapshotExcludesLaterInserts(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)), Add(2, layout.Int64(2)))

	r, err := acc.NewAllEntriesReader()
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(2), r.MaxCount())

	apply(t, acc, UpdateOnline, Add(3, layout.Int64(0)), Add(4, layout.Int64(3)))

	var ids []uint64
	for id, ok := r.Next(); ok; id, ok = r.Next() {
		ids = append(ids, id)
	}
	assert.Equal(t, []uint64{1, 2}, ids)

	_, ok := r.Next()
	assert.False(t, ok)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestAccessor_DropThenOpenWithoutCreate(t *testing.T) {
	acc, pc, path := openTestAccessor(t, layout.NonUnique())
	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)))
	require.NoError(t, acc.Force(nil))

	require.NoError(t, acc.Drop())
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(pc, path, layout.NonUnique(), recovery.Immediate(), WithCreate(false))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, err, ErrIO)
}

func TestAccessor_DropDeletionFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("number.idx", fs.Fault{FailAfterBytes: -1, FailOnRemove: true})
	pc := pagecache.New(pagecache.WithFileSystem(ffs), pagecache.WithPageSize(pagecache.MinPageSize))
	path := filepath.Join(t.TempDir(), "number.idx")

	acc, err := Open(pc, path, layout.NonUnique(), recovery.Immediate())
	require.NoError(t, err)

	err = acc.Drop()
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorIs(t, acc.Close(), ErrAccessorClosed)

	// Released: the file can be mapped again.
	acc, err = Open(pc, path, layout.NonUnique(), recovery.Immediate(), WithCreate(false))
	require.NoError(t, err)
	require.NoError(t, acc.Close())
}

func TestAccessor_SnapshotFiles(t *testing.T) {
	acc, _, path := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	it, err := acc.SnapshotFiles()
	require.NoError(t, err)
	defer it.Close()

	var files []string
	for f, ok := it.Next(); ok; f, ok = it.Next() {
		files = append(files, f)
	}
	assert.Equal(t, []string{path}, files)

	// Writers are not blocked while the iterator is open.
	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)))
}

func TestAccessor_OperationsAfterClose(t *testing.T) {
	for _, terminal := range []string{"close", "drop"} {
		t.Run(terminal, func(t *testing.T) {
			acc, _, _ := openTestAccessor(t, layout.Unique())
			u, err := acc.NewUpdater(UpdateOnline)
			require.NoError(t, err)

			if terminal == "close" {
				require.NoError(t, acc.Close())
			} else {
				require.NoError(t, acc.Drop())
			}

			assert.ErrorIs(t, acc.Close(), ErrAccessorClosed)
			assert.ErrorIs(t, acc.Drop(), ErrAccessorClosed)
			assert.ErrorIs(t, acc.Force(nil), ErrAccessorClosed)
			_, err = acc.NewUpdater(UpdateOnline)
			assert.ErrorIs(t, err, ErrAccessorClosed)
			_, err = acc.NewReader()
			assert.ErrorIs(t, err, ErrAccessorClosed)
			_, err = acc.NewAllEntriesReader()
			assert.ErrorIs(t, err, ErrAccessorClosed)
			_, err = acc.SnapshotFiles()
			assert.ErrorIs(t, err, ErrAccessorClosed)
			_, err = acc.LockCheckpoints()
			assert.ErrorIs(t, err, ErrAccessorClosed)
			_, err = acc.Info()
			assert.ErrorIs(t, err, ErrAccessorClosed)
			assert.ErrorIs(t, acc.VerifyDeferredConstraints(nil), ErrAccessorClosed)
			assert.ErrorIs(t, u.Process(Add(1, layout.Int64(1))), ErrAccessorClosed)
			assert.ErrorIs(t, u.Close(), ErrAccessorClosed)
		})
	}
}

func TestAccessor_VerifyNonUniqueUnsupported(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	apply(t, acc, UpdateOnline, Add(1, layout.Int64(5)), Add(2, layout.Int64(5)))

	failing := PropertyAccessorFunc(func(uint64) (layout.Number, bool, error) {
		return layout.Number{}, false, errors.New("must not be called")
	})
	for _, pa := range []PropertyAccessor{nil, failing} {
		err := acc.VerifyDeferredConstraints(pa)
		var unsupported *UnsupportedOperationError
		require.ErrorAs(t, err, &unsupported)
		assert.ErrorIs(t, err, errors.ErrUnsupported)
		assert.Equal(t, "VerifyDeferredConstraints", unsupported.Op)
	}
}

func TestAccessor_VerifyUnique(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.Unique())
	defer acc.Close()

	apply(t, acc, UpdateRecovery,
		Add(1, layout.Int64(5)),
		Add(2, layout.Int64(5)),
		Add(3, layout.Float64(5)),
		Add(4, layout.Int64(6)),
		Add(5, layout.Int64(7)),
		Add(6, layout.Int64(7)),
	)

	current := map[uint64]layout.Number{
		1: layout.Int64(5),
		2: layout.Int64(5),
		3: layout.Int64(5),
		4: layout.Int64(6),
		5: layout.Int64(7),
		// 6 changed since it was indexed.
		6: layout.Int64(8),
	}
	pa := PropertyAccessorFunc(func(id uint64) (layout.Number, bool, error) {
		v, ok := current[id]
		return v, ok, nil
	})

	err := acc.VerifyDeferredConstraints(pa)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.Equal(t, []EntryConflict{
		{Value: layout.Int64(5), ExistingEntityID: 1, AddedEntityID: 2},
		{Value: layout.Int64(5), ExistingEntityID: 1, AddedEntityID: 3},
	}, conflict.Conflicts)

	delete(current, 2)
	delete(current, 3)
	assert.NoError(t, acc.VerifyDeferredConstraints(pa))

	boom := errors.New("boom")
	err = acc.VerifyDeferredConstraints(PropertyAccessorFunc(func(uint64) (layout.Number, bool, error) {
		return layout.Number{}, false, boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestUpdater_SingleSession(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	u, err := acc.NewUpdater(UpdateOnline)
	require.NoError(t, err)
	require.NoError(t, u.Process(Add(1, layout.Int64(1))))

	_, err = acc.NewUpdater(UpdateRecovery)
	assert.ErrorIs(t, err, ErrUpdaterActive)
	assert.Equal(t, UpdateOnline, u.Mode(), "rejected request has no side effect")

	require.NoError(t, u.Close())
	assert.ErrorIs(t, u.Close(), ErrUpdaterClosed)
	assert.ErrorIs(t, u.Process(Add(2, layout.Int64(2))), ErrUpdaterClosed)

	again, err := acc.NewUpdater(UpdateRecovery)
	require.NoError(t, err)
	assert.Same(t, u, again)
	assert.Equal(t, UpdateRecovery, again.Mode())
	require.NoError(t, again.Close())
}

func TestUpdater_Modes(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	u, err := acc.NewUpdater(UpdateOnline)
	require.NoError(t, err)
	assert.ErrorIs(t, u.Process(Remove(1, layout.Int64(1))), ErrEntryNotFound)
	assert.ErrorIs(t, u.Process(Change(1, layout.Int64(1), layout.Int64(2))), ErrEntryNotFound)
	assert.ErrorIs(t, u.Process(IndexEntryUpdate{Kind: Added, EntityID: 1}), ErrInvalidUpdate)
	// The session stays usable.
	require.NoError(t, u.Process(Add(1, layout.Int64(1))))
	require.NoError(t, u.Close())

	for _, mode := range []UpdateMode{UpdateOnlineIdempotent, UpdateRecovery} {
		apply(t, acc, mode,
			Remove(7, layout.Int64(7)),
			Change(8, layout.Int64(7), layout.Int64(8)),
			Add(1, layout.Int64(1)),
		)
	}

	r, err := acc.NewReader()
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []uint64{1, 8}, rangeEntities(r, RangeAll()))
}

func TestReader_IsolationFromOpenSession(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)))

	u, err := acc.NewUpdater(UpdateOnline)
	require.NoError(t, err)
	require.NoError(t, u.Process(Add(2, layout.Int64(1))))

	during, err := acc.NewReader()
	require.NoError(t, err)
	defer during.Close()

	// A checkpoint does not capture the open session either.
	require.NoError(t, acc.Force(nil))
	info, err := acc.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Entries)

	require.NoError(t, u.Close())
	after, err := acc.NewReader()
	require.NoError(t, err)
	defer after.Close()

	assert.Equal(t, []uint64{1}, during.Lookup(layout.Int64(1)).ToArray())
	assert.Equal(t, []uint64{1, 2}, after.Lookup(layout.Int64(1)).ToArray())
}

func TestReader_Queries(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	apply(t, acc, UpdateOnline,
		Add(1, layout.Int64(1)),
		Add(2, layout.Float64(1.5)),
		Add(3, layout.Int64(2)),
		Add(4, layout.Float64(2)),
		Add(5, layout.Int64(3)),
		Add(6, layout.Float64(-1)),
	)

	r, err := acc.NewReader()
	require.NoError(t, err)

	// Int64(2) and Float64(2) are the same value.
	assert.Equal(t, []uint64{3, 4}, r.Lookup(layout.Float64(2)).ToArray())
	assert.True(t, r.Lookup(layout.Int64(42)).IsEmpty())

	assert.Equal(t, []uint64{6, 1, 2, 3, 4, 5}, rangeEntities(r, RangeAll()))
	assert.Equal(t, []uint64{1, 2, 3, 4}, rangeEntities(r, RangeBetween(layout.Int64(1), true, layout.Int64(2), true)))
	assert.Equal(t, []uint64{2}, rangeEntities(r, RangeBetween(layout.Int64(1), false, layout.Int64(2), false)))
	assert.Equal(t, []uint64{3, 4, 5}, rangeEntities(r, RangeFrom(layout.Float64(1.5), false)))
	assert.Equal(t, []uint64{6, 1}, rangeEntities(r, RangeTo(layout.Float64(1.5), false)))

	it := r.Range(RangeFrom(layout.Int64(2), true))
	id, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(3), id)
	assert.True(t, it.Value().Equal(layout.Int64(2)))
	require.NoError(t, it.Close())
	_, ok = it.Next()
	assert.False(t, ok)

	assert.Equal(t, int64(1), r.CountIndexedEntities(4, layout.Int64(2)))
	assert.Equal(t, int64(0), r.CountIndexedEntities(4, layout.Int64(3)))

	assert.Equal(t, IndexSample{IndexSize: 6, UniqueValues: 5, SampleSize: 6}, r.Sample())

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), ErrReaderClosed)
	assert.True(t, r.Lookup(layout.Int64(1)).IsEmpty())
}

func TestReader_ConcurrentWithWriter(t *testing.T) {
	acc, _, _ := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	var (
		wg        sync.WaitGroup
		writeErrs []error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < 50; i++ {
			u, err := acc.NewUpdater(UpdateOnline)
			if err != nil {
				writeErrs = append(writeErrs, err)
				continue
			}
			writeErrs = append(writeErrs, u.Process(Add(i, layout.Int64(int64(i%5)))), u.Close())
		}
	}()

	for i := 0; i < 50; i++ {
		r, err := acc.NewReader()
		if !assert.NoError(t, err) {
			break
		}
		s := r.Sample()
		assert.LessOrEqual(t, s.UniqueValues, int64(5))
		assert.NoError(t, r.Close())
	}
	wg.Wait()
	assert.NoError(t, errors.Join(writeErrs...))
	assert.Len(t, allEntities(t, acc), 50)
}

func TestOpen_Exclusive(t *testing.T) {
	acc, pc, path := openTestAccessor(t, layout.NonUnique())
	defer acc.Close()

	_, err := Open(pc, path, layout.NonUnique(), recovery.Immediate())
	assert.ErrorIs(t, err, pagecache.ErrAlreadyMapped)
}

func TestOpen_LayoutMismatchLeavesNothingMapped(t *testing.T) {
	acc, pc, path := openTestAccessor(t, layout.NonUnique())
	require.NoError(t, acc.Close())

	_, err := Open(pc, path, layout.Unique(), recovery.Immediate())
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	acc, err = Open(pc, path, layout.NonUnique(), recovery.Immediate())
	require.NoError(t, err)
	require.NoError(t, acc.Close())
}

func TestOpen_PageSizeMismatch(t *testing.T) {
	acc, _, path := openTestAccessor(t, layout.NonUnique())
	require.NoError(t, acc.Close())

	pc := pagecache.New(pagecache.WithPageSize(4 * pagecache.MinPageSize))
	defer pc.Close()
	_, err := Open(pc, path, layout.NonUnique(), recovery.Immediate(), WithCreate(false))
	assert.ErrorIs(t, err, ErrPageSizeMismatch)
	assert.NotErrorIs(t, err, ErrIO)
}

func TestOpen_UncleanShutdownRecovers(t *testing.T) {
	pc := pagecache.New(pagecache.WithPageSize(pagecache.MinPageSize))
	path := filepath.Join(t.TempDir(), "number.idx")

	acc, err := Open(pc, path, layout.NonUnique(), recovery.Immediate())
	require.NoError(t, err)
	apply(t, acc, UpdateOnline, Add(1, layout.Int64(1)))
	require.NoError(t, acc.Force(nil))
	apply(t, acc, UpdateOnline, Add(2, layout.Int64(2)))

	// Crash: drop the mapping without writing a clean state.
	require.NoError(t, acc.unmap())

	group := recovery.NewGroup(1, nil)
	acc, err = Open(pc, path, layout.NonUnique(), group)
	require.NoError(t, err)
	defer acc.Close()

	info, err := acc.Info()
	require.NoError(t, err)
	assert.False(t, info.WasClean)
	assert.Equal(t, 1, group.Pending())

	// Usable before cleanup ran.
	assert.Equal(t, []uint64{1}, allEntities(t, acc))
	group.Start(t.Context())
	require.NoError(t, group.Wait())
	require.NoError(t, acc.Force(nil))
}

// fakeTree is an indexTree with injectable failures.
type fakeTree struct {
	writerErr     error
	checkpointErr error
	closeErr      error
	closed        bool
}

func (f *fakeTree) Writer() (treeWriter, error) {
	if f.writerErr != nil {
		return nil, f.writerErr
	}
	return &fakeWriter{}, nil
}

func (f *fakeTree) Snapshot() (treeSnapshot, error) { return emptySnapshot{}, nil }

func (f *fakeTree) Checkpoint(*iolimit.Limiter) (tree.CheckpointStats, error) {
	return tree.CheckpointStats{}, f.checkpointErr
}

func (f *fakeTree) LockCheckpoints() func() { return func() {} }
func (f *fakeTree) Info() tree.Info         { return tree.Info{} }

func (f *fakeTree) Close() error {
	f.closed = true
	return f.closeErr
}

type fakeWriter struct{}

func (fakeWriter) Put(layout.NumberKey, layout.NumberValue) (bool, error) { return false, nil }
func (fakeWriter) Remove(layout.NumberKey) (bool, error)                  { return false, nil }
func (fakeWriter) Close() error { return nil }

type emptySnapshot struct{}

func (emptySnapshot) Len() int                                              { return 0 }
func (emptySnapshot) Get(layout.NumberKey) (layout.NumberValue, bool)       { return layout.NumberValue{}, false }
func (emptySnapshot) Ascend(func(layout.NumberKey, layout.NumberValue) bool) {}
func (emptySnapshot) AscendFrom(layout.NumberKey, func(layout.NumberKey, layout.NumberValue) bool) {
}

func TestAccessor_FailuresAreWrapped(t *testing.T) {
	diskFull := errors.New("disk full")
	ft := &fakeTree{
		writerErr:     diskFull,
		checkpointErr: diskFull,
		closeErr:      diskFull,
	}
	unmapped := false
	acc := newAccessor("fake.idx", layout.NonUnique(), ft,
		func() error { unmapped = true; return nil },
		func() error { return nil },
		applyOptions(nil),
	)

	_, err := acc.NewUpdater(UpdateOnline)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, diskFull)

	// A failed acquisition leaves the updater idle.
	ft.writerErr = nil
	u, err := acc.NewUpdater(UpdateOnline)
	require.NoError(t, err)
	require.NoError(t, u.Close())

	err = acc.Force(nil)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, diskFull)

	err = acc.Close()
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, ft.closed)
	assert.True(t, unmapped, "released despite the tree failure")
	assert.ErrorIs(t, acc.Close(), ErrAccessorClosed)
}

func TestAccessor_ForceAfterFailedCleanup(t *testing.T) {
	ft := &fakeTree{checkpointErr: tree.ErrCleanupFailed}
	acc := newAccessor("fake.idx", layout.NonUnique(), ft,
		func() error { return nil },
		func() error { return nil },
		applyOptions(nil),
	)
	defer acc.Close()

	err := acc.Force(nil)
	assert.ErrorIs(t, err, ErrCleanupFailed)
	assert.ErrorIs(t, err, ErrIO)
}
