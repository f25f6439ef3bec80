package tree

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/numindex/internal/fs"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/hupe1980/numindex/layout"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/hupe1980/numindex/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type numberTree = Tree[layout.NumberKey, layout.NumberValue]

type harness struct {
	t    *testing.T
	pc   *pagecache.PageCache
	path string
}

func newHarness(t *testing.T, opts ...pagecache.Option) *harness {
	t.Helper()
	opts = append([]pagecache.Option{pagecache.WithPageSize(pagecache.MinPageSize)}, opts...)
	return &harness{
		t:    t,
		pc:   pagecache.New(opts...),
		path: filepath.Join(t.TempDir(), "index.db"),
	}
}

func (h *harness) open(l *layout.NumberLayout, collector recovery.Collector, opts ...Option) (*numberTree, *pagecache.PagedFile) {
	h.t.Helper()
	pf, err := h.pc.Map(h.path, true)
	require.NoError(h.t, err)
	tr, err := Open(pf, l, collector, opts...)
	if err != nil {
		require.NoError(h.t, h.pc.Unmap(pf))
		require.NoError(h.t, err)
	}
	return tr, pf
}

// shutdown closes cleanly.
func (h *harness) shutdown(tr *numberTree, pf *pagecache.PagedFile) {
	h.t.Helper()
	require.NoError(h.t, tr.Close())
	require.NoError(h.t, h.pc.Unmap(pf))
}

// crash drops the mapping without writing a clean state.
func (h *harness) crash(pf *pagecache.PagedFile) {
	h.t.Helper()
	require.NoError(h.t, h.pc.Unmap(pf))
}

func key(v int64, id uint64) layout.NumberKey {
	return layout.NumberKey{Value: layout.Int64(v), EntityID: id}
}

func insert(t *testing.T, tr *numberTree, keys ...layout.NumberKey) {
	t.Helper()
	w, err := tr.Writer()
	require.NoError(t, err)
	for _, k := range keys {
		_, err := w.Put(k, layout.NumberValue{})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func collect(t *testing.T, tr *numberTree) []layout.NumberKey {
	t.Helper()
	snap, err := tr.Snapshot()
	require.NoError(t, err)
	var keys []layout.NumberKey
	snap.Ascend(func(k layout.NumberKey, _ layout.NumberValue) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func TestOpen_FreshFile(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())

	info := tr.Info()
	assert.Equal(t, uint64(1), info.Generation)
	assert.True(t, info.WasClean)
	assert.Zero(t, info.Entries)

	count, err := pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	h.shutdown(tr, pf)
}

func TestCheckpoint_Reopen(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())

	insert(t, tr, key(5, 1), key(5, 2), key(-3, 7))
	stats, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, int64(3), stats.Entries)

	// Published but never checkpointed.
	insert(t, tr, key(9, 9))
	h.shutdown(tr, pf)

	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	assert.True(t, tr.Info().WasClean)
	assert.Equal(t, []layout.NumberKey{key(-3, 7), key(5, 1), key(5, 2)}, collect(t, tr))
}

func TestCheckpoint_ManyBlocks(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate(), WithCodec(CodecLZ4))

	w, err := tr.Writer()
	require.NoError(t, err)
	for i := 0; i < 3*blockEntries+17; i++ {
		_, err := w.Put(key(int64(i%97), uint64(i)), layout.NumberValue{})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = tr.Checkpoint(iolimit.Unlimited())
	require.NoError(t, err)
	h.shutdown(tr, pf)

	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	keys := collect(t, tr)
	require.Len(t, keys, 3*blockEntries+17)
	assert.Equal(t, int64(len(keys)), tr.Info().Entries)
	assert.Equal(t, CodecLZ4, tr.Info().Codec)
}

func TestCheckpoint_SkipsWhenUnchanged(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	stats, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)

	insert(t, tr, key(1, 1))
	_, err = tr.Checkpoint(nil)
	require.NoError(t, err)
	gen := tr.Info().Generation

	stats, err = tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Equal(t, gen, tr.Info().Generation)
}

func TestCheckpoint_ExcludesOpenWriter(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())

	insert(t, tr, key(1, 1))

	w, err := tr.Writer()
	require.NoError(t, err)
	_, err = w.Put(key(2, 2), layout.NumberValue{})
	require.NoError(t, err)

	stats, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	require.NoError(t, w.Close())
	h.crash(pf)

	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)
	assert.Equal(t, []layout.NumberKey{key(1, 1)}, collect(t, tr))
}

func TestCheckpoint_Placement(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate(), WithCodec(CodecNone))
	defer h.shutdown(tr, pf)

	keys := make([]layout.NumberKey, 100)
	for i := range keys {
		keys[i] = key(int64(i), uint64(i))
	}
	insert(t, tr, keys...)

	// 100 entries of 17 bytes plus a block header span 4 pages of 508 bytes.
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tr.Info().FirstPage)
	assert.Equal(t, int64(4), tr.Info().PageCount)

	insert(t, tr, key(100, 100))
	_, err = tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), tr.Info().FirstPage)
	count, err := pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	insert(t, tr, key(101, 101))
	_, err = tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tr.Info().FirstPage)
	count, err = pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestWriter_Exclusive(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	w, err := tr.Writer()
	require.NoError(t, err)

	_, err = tr.Writer()
	assert.ErrorIs(t, err, ErrWriterActive)

	existed, err := w.Put(key(1, 1), layout.NumberValue{})
	require.NoError(t, err)
	assert.False(t, existed)
	existed, err = w.Put(key(1, 1), layout.NumberValue{})
	require.NoError(t, err)
	assert.True(t, existed)

	removed, err := w.Remove(key(2, 2))
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWriterClosed)
	_, err = w.Put(key(3, 3), layout.NumberValue{})
	assert.ErrorIs(t, err, ErrWriterClosed)

	w, err = tr.Writer()
	require.NoError(t, err)
	removed, err = w.Remove(key(1, 1))
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, w.Close())
}

func TestSnapshot_Isolation(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	insert(t, tr, key(1, 1))
	before, err := tr.Snapshot()
	require.NoError(t, err)

	w, err := tr.Writer()
	require.NoError(t, err)
	_, err = w.Put(key(2, 2), layout.NumberValue{})
	require.NoError(t, err)
	_, err = w.Remove(key(1, 1))
	require.NoError(t, err)

	during, err := tr.Snapshot()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	after, err := tr.Snapshot()
	require.NoError(t, err)

	for _, snap := range []*Snapshot[layout.NumberKey, layout.NumberValue]{before, during} {
		assert.Equal(t, 1, snap.Len())
		_, ok := snap.Get(key(1, 1))
		assert.True(t, ok)
	}
	assert.Equal(t, 1, after.Len())
	assert.Equal(t, []layout.NumberKey{key(2, 2)}, collect(t, tr))

	var from []uint64
	after.AscendFrom(layout.LowestKey(layout.Int64(2)), func(k layout.NumberKey, _ layout.NumberValue) bool {
		from = append(from, k.EntityID)
		return true
	})
	assert.Equal(t, []uint64{2}, from)
}

func TestOpen_LayoutMismatch(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	h.shutdown(tr, pf)

	pf, err := h.pc.Map(h.path, false)
	require.NoError(t, err)
	defer h.pc.Unmap(pf)

	_, err = Open(pf, layout.Unique(), recovery.Immediate())
	assert.ErrorIs(t, err, ErrLayoutMismatch)
}

func TestOpen_CorruptFile(t *testing.T) {
	h := newHarness(t)
	pf, err := h.pc.Map(h.path, true)
	require.NoError(t, err)
	defer h.pc.Unmap(pf)

	_, err = pf.File().WriteAt([]byte("garbage"), 0)
	require.NoError(t, err)

	_, err = Open(pf, layout.NonUnique(), recovery.Immediate())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRecovery_UncleanShutdownTruncatesOrphans(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(1, 1), key(2, 2))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	end := tr.Info().FirstPage + tr.Info().PageCount

	// Pages of a checkpoint that never reached its state flip.
	for id := end; id < end+3; id++ {
		require.NoError(t, pf.WritePage(id, []byte("orphan")))
	}
	h.crash(pf)

	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	assert.False(t, tr.Info().WasClean)
	count, err := pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, end, count)
	assert.Equal(t, []layout.NumberKey{key(1, 1), key(2, 2)}, collect(t, tr))
}

func TestRecovery_TornStateFallsBack(t *testing.T) {
	h := newHarness(t, pagecache.WithCacheCapacity(0))
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())

	insert(t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	insert(t, tr, key(2, 2))
	_, err = tr.Checkpoint(nil)
	require.NoError(t, err)
	latest := tr.Info().Generation
	h.crash(pf)

	// Tear the newest state slot.
	pf, err = h.pc.Map(h.path, false)
	require.NoError(t, err)
	_, err = pf.File().WriteAt([]byte{0xff, 0xff}, slot(latest)*int64(pagecache.MinPageSize)+10)
	require.NoError(t, err)
	require.NoError(t, h.pc.Unmap(pf))

	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	assert.Equal(t, latest, tr.Info().Generation, "fallback generation plus the in-use state")
	assert.Equal(t, []layout.NumberKey{key(1, 1)}, collect(t, tr))
}

func TestRecovery_FailedCleanupFailsCheckpoint(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	h := newHarness(t, pagecache.WithFileSystem(ffs))
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	end := tr.Info().FirstPage + tr.Info().PageCount
	require.NoError(t, pf.WritePage(end, []byte("orphan")))
	h.crash(pf)

	ffs.AddRule("index.db", fs.Fault{FailAfterBytes: -1, FailOnTruncate: true})
	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	_, err = tr.Checkpoint(nil)
	assert.ErrorIs(t, err, ErrCleanupFailed)
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestRecovery_DeferredCleanupAfterCloseIsNoop(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	end := tr.Info().FirstPage + tr.Info().PageCount
	require.NoError(t, pf.WritePage(end, []byte("orphan")))
	h.crash(pf)

	group := recovery.NewGroup(2, nil)
	tr, pf = h.open(layout.NonUnique(), group)
	assert.Equal(t, 1, group.Pending())
	h.shutdown(tr, pf)

	group.Start(context.Background())
	require.NoError(t, group.Wait())

	pf, err = h.pc.Map(h.path, false)
	require.NoError(t, err)
	defer h.pc.Unmap(pf)
	count, err := pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, end+1, count, "cleanup must not touch a closed tree")
}

func TestCheckpoint_WriteFailureKeepsPreviousState(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	h := newHarness(t, pagecache.WithFileSystem(ffs))
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	h.shutdown(tr, pf)

	// Room for the in-use state page only.
	ffs.AddRule("index.db", fs.Fault{FailAfterBytes: pagecache.MinPageSize})
	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(2, 2))
	_, err = tr.Checkpoint(nil)
	assert.ErrorIs(t, err, fs.ErrInjected)
	h.crash(pf)

	ffs.ClearRules()
	tr, pf = h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)
	assert.False(t, tr.Info().WasClean)
	assert.Equal(t, []layout.NumberKey{key(1, 1)}, collect(t, tr))
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Close(), ErrClosed)

	_, err := tr.Writer()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Checkpoint(nil)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, h.pc.Unmap(pf))
}

func TestLockCheckpoints(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	release := tr.LockCheckpoints()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = tr.Checkpoint(nil)
	}()

	// Writers proceed while checkpoints are held off.
	insert(t, tr, key(1, 1))
	select {
	case <-done:
		t.Fatal("checkpoint ran while locked")
	default:
	}
	release()
	release()
	<-done
}

type failingJob struct{ err error }

func (j failingJob) Run(context.Context) error { return j.err }
func (j failingJob) Description() string       { return "failing" }

type jobList struct{ jobs []recovery.Job }

func (l *jobList) Add(job recovery.Job) { l.jobs = append(l.jobs, job) }

// uncleanFile leaves a checkpointed file with an orphan page behind a crash.
func uncleanFile(h *harness) int64 {
	h.t.Helper()
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(h.t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(h.t, err)
	end := tr.Info().FirstPage + tr.Info().PageCount
	require.NoError(h.t, pf.WritePage(end, []byte("orphan")))
	h.crash(pf)
	return end
}

func TestRecovery_FailedJobDoesNotAffectOtherTrees(t *testing.T) {
	h := newHarness(t)
	end := uncleanFile(h)

	boom := errors.New("other index cleanup failed")
	group := recovery.NewGroup(1, nil)
	group.Add(failingJob{err: boom})
	tr, pf := h.open(layout.NonUnique(), group)
	defer h.shutdown(tr, pf)

	group.Start(context.Background())
	assert.ErrorIs(t, group.Wait(), boom)

	count, err := pf.PageCount()
	require.NoError(t, err)
	assert.Equal(t, end, count)

	insert(t, tr, key(2, 2))
	stats, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries)
}

func TestRecovery_InterruptedCleanupIsRetried(t *testing.T) {
	h := newHarness(t)
	uncleanFile(h)

	jobs := &jobList{}
	tr, pf := h.open(layout.NonUnique(), jobs)
	defer h.shutdown(tr, pf)
	require.Len(t, jobs.jobs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, jobs.jobs[0].Run(ctx), context.Canceled)
	assert.True(t, tr.needsCleanup)
	assert.NoError(t, tr.cleanupErr)

	require.NoError(t, jobs.jobs[0].Run(context.Background()))
	assert.False(t, tr.needsCleanup)

	insert(t, tr, key(2, 2))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
}

func TestOpen_PageSizeMismatch(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	insert(t, tr, key(1, 1))
	_, err := tr.Checkpoint(nil)
	require.NoError(t, err)
	h.shutdown(tr, pf)

	pc := pagecache.New(pagecache.WithPageSize(2 * pagecache.MinPageSize))
	pf, err = pc.Map(h.path, false)
	require.NoError(t, err)
	defer pc.Unmap(pf)

	_, err = Open(pf, layout.NonUnique(), recovery.Immediate())
	assert.ErrorIs(t, err, ErrPageSizeMismatch)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestInfo_DoesNotWaitForCheckpointLock(t *testing.T) {
	h := newHarness(t)
	tr, pf := h.open(layout.NonUnique(), recovery.Immediate())
	defer h.shutdown(tr, pf)

	release := tr.LockCheckpoints()
	defer release()

	done := make(chan Info, 1)
	go func() { done <- tr.Info() }()
	select {
	case info := <-done:
		assert.Equal(t, uint64(1), info.Generation)
		assert.True(t, info.WasClean)
	case <-time.After(5 * time.Second):
		t.Fatal("Info blocked while checkpoints were locked")
	}
}
