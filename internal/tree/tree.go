package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/hupe1980/numindex/recovery"
)

// btreeDegree is the node degree of the in-memory tree.
const btreeDegree = 32

// Layout is the fixed-size codec and ordering of keys and values.
type Layout[K, V any] interface {
	Identifier() uint64
	KeySize() int
	ValueSize() int
	CompareKeys(a, b K) int
	WriteKey(dst []byte, k K)
	ReadKey(src []byte) K
	WriteValue(dst []byte, v V)
	ReadValue(src []byte) V
}

type item[K, V any] struct {
	key   K
	value V
}

type options struct {
	logger *slog.Logger
	codec  Codec
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec sets the block codec used by checkpoints. Defaults to CodecLZ4.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// Info describes the persisted state of a tree.
type Info struct {
	Generation uint64
	FirstPage  int64
	PageCount  int64
	DataBytes  int64
	Entries    int64
	Codec      Codec
	// WasClean reports whether the previous session shut down cleanly.
	WasClean bool
}

// CheckpointStats describes one checkpoint.
type CheckpointStats struct {
	// Skipped is set when nothing changed since the last checkpoint.
	Skipped   bool
	Entries   int64
	Pages     int64
	DataBytes int64
}

// Tree is an opened ordered structure over one backing file.
type Tree[K, V any] struct {
	pf     *pagecache.PagedFile
	layout Layout[K, V]
	logger *slog.Logger
	codec  Codec

	writerMu sync.Mutex

	mu        sync.Mutex // guards root, version and published
	root      *btree.BTreeG[item[K, V]]
	version   uint64
	persisted uint64
	published state

	checkpointMu sync.Mutex // guards the fields below
	state        state
	wasClean     bool
	needsCleanup bool
	cleanupErr   error

	closed atomic.Bool
}

// Open loads the tree stored in pf, or initializes an empty file. It writes a
// state marking the file in use and hands the tree's cleanup job to
// collector. The cleanup job only does work after an unclean shutdown.
func Open[K, V any](pf *pagecache.PagedFile, l Layout[K, V], collector recovery.Collector, optFns ...Option) (*Tree[K, V], error) {
	o := options{
		logger: slog.New(slog.DiscardHandler),
		codec:  CodecLZ4,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	t := &Tree[K, V]{
		pf:     pf,
		layout: l,
		logger: o.logger,
		codec:  o.codec,
		root: btree.NewG(btreeDegree, func(a, b item[K, V]) bool {
			return l.CompareKeys(a.key, b.key) < 0
		}),
	}

	size, err := pf.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := t.initialize(); err != nil {
			return nil, err
		}
	} else if err := t.load(); err != nil {
		return nil, err
	}

	// Mark the file in use. A crash before Close leaves clean == false.
	next := t.state
	next.generation++
	next.clean = false
	if err := t.writeState(next); err != nil {
		return nil, err
	}

	if collector == nil {
		collector = recovery.Ignore()
	}
	collector.Add(&cleanupJob[K, V]{t: t})
	return t, nil
}

func (t *Tree[K, V]) initialize() error {
	// Generation 0 is never written; the in-use state written by Open
	// becomes generation 1 in slot 1.
	t.state = state{
		layoutID:  t.layout.Identifier(),
		keySize:   uint32(t.layout.KeySize()),
		valueSize: uint32(t.layout.ValueSize()),
		firstPage: statePages,
		codec:     t.codec,
		clean:     true,
		pageSize:  uint32(t.pf.PageSize()),
	}
	t.wasClean = true
	return nil
}

func (t *Tree[K, V]) load() error {
	var (
		best  state
		found bool
		errs  []error
	)
	for id := int64(0); id < statePages; id++ {
		page, err := t.pf.ReadPage(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("state slot %d: %w", id, err))
			continue
		}
		s, err := unmarshalState(page)
		if err != nil {
			errs = append(errs, fmt.Errorf("state slot %d: %w", id, err))
			continue
		}
		if !found || s.generation > best.generation {
			best, found = s, true
		}
	}
	if !found {
		if size, ok := probePageSize(t.pf.File()); ok && int(size) != t.pf.PageSize() {
			return fmt.Errorf("%w: file written with %d byte pages, opened with %d", ErrPageSizeMismatch, size, t.pf.PageSize())
		}
		return fmt.Errorf("%w: no valid state slot: %w", ErrCorrupt, errors.Join(errs...))
	}
	if best.pageSize != uint32(t.pf.PageSize()) {
		return fmt.Errorf("%w: file written with %d byte pages, opened with %d", ErrPageSizeMismatch, best.pageSize, t.pf.PageSize())
	}

	if best.layoutID != t.layout.Identifier() ||
		best.keySize != uint32(t.layout.KeySize()) ||
		best.valueSize != uint32(t.layout.ValueSize()) {
		return fmt.Errorf("%w: file layout %016x, requested %016x", ErrLayoutMismatch, best.layoutID, t.layout.Identifier())
	}

	if err := t.loadRun(best); err != nil {
		return err
	}

	t.state = best
	t.wasClean = best.clean
	t.needsCleanup = !best.clean
	t.logger.Debug("tree loaded",
		"path", t.pf.Path(),
		"generation", best.generation,
		"entries", best.entries,
		"clean", best.clean,
	)
	return nil
}

func (t *Tree[K, V]) loadRun(s state) error {
	if s.pageCount == 0 {
		if s.entries != 0 {
			return fmt.Errorf("%w: %d entries without data pages", ErrCorrupt, s.entries)
		}
		return nil
	}

	stream := make([]byte, 0, s.dataLen)
	for id := s.firstPage; id < s.end(); id++ {
		page, err := t.pf.ReadPage(id)
		if err != nil {
			return fmt.Errorf("data page %d: %w", id, err)
		}
		stream = append(stream, page[:min(int64(len(page)), s.dataLen-int64(len(stream)))]...)
	}
	if int64(len(stream)) != s.dataLen {
		return fmt.Errorf("%w: data run holds %d bytes, want %d", ErrCorrupt, len(stream), s.dataLen)
	}

	ks, vs := t.layout.KeySize(), t.layout.ValueSize()
	entrySize := ks + vs
	var count int64
	for len(stream) > 0 {
		raw, rest, err := nextBlock(stream)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(raw)%entrySize != 0 {
			return fmt.Errorf("%w: block of %d bytes is not a multiple of %d", ErrCorrupt, len(raw), entrySize)
		}
		for off := 0; off < len(raw); off += entrySize {
			t.root.ReplaceOrInsert(item[K, V]{
				key:   t.layout.ReadKey(raw[off : off+ks]),
				value: t.layout.ReadValue(raw[off+ks : off+entrySize]),
			})
			count++
		}
		stream = rest
	}
	if count != s.entries || int64(t.root.Len()) != s.entries {
		return fmt.Errorf("%w: decoded %d entries, want %d", ErrCorrupt, count, s.entries)
	}
	return nil
}

// writeState durably writes s into its slot and makes it current.
// Callers hold checkpointMu or have exclusive access.
func (t *Tree[K, V]) writeState(s state) error {
	if err := t.pf.WritePage(slot(s.generation), s.marshal()); err != nil {
		return err
	}
	if err := t.pf.Sync(); err != nil {
		return err
	}
	t.state = s
	t.mu.Lock()
	t.published = s
	t.mu.Unlock()
	return nil
}

// Info returns the persisted state. It does not wait for a running
// checkpoint.
func (t *Tree[K, V]) Info() Info {
	t.mu.Lock()
	s := t.published
	t.mu.Unlock()
	return Info{
		Generation: s.generation,
		FirstPage:  s.firstPage,
		PageCount:  s.pageCount,
		DataBytes:  s.dataLen,
		Entries:    s.entries,
		Codec:      s.codec,
		WasClean:   t.wasClean,
	}
}

// Writer returns the single writer. It fails with ErrWriterActive while
// another writer is open.
func (t *Tree[K, V]) Writer() (*Writer[K, V], error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if !t.writerMu.TryLock() {
		return nil, ErrWriterActive
	}

	t.mu.Lock()
	root := t.root.Clone()
	t.mu.Unlock()

	return &Writer[K, V]{t: t, root: root}, nil
}

// Snapshot returns an immutable view of the last published state.
func (t *Tree[K, V]) Snapshot() (*Snapshot[K, V], error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.mu.Lock()
	root := t.root.Clone()
	t.mu.Unlock()
	return &Snapshot[K, V]{root: root}, nil
}

func (t *Tree[K, V]) publish(root *btree.BTreeG[item[K, V]]) {
	t.mu.Lock()
	t.root = root
	t.version++
	t.mu.Unlock()
}

// LockCheckpoints blocks checkpoints and cleanup until release is called.
// Writers are not affected.
func (t *Tree[K, V]) LockCheckpoints() (release func()) {
	t.checkpointMu.Lock()
	var once sync.Once
	return func() { once.Do(t.checkpointMu.Unlock) }
}

// Checkpoint durably persists the last published state. Data page writes are
// paced by limiter; nil means unlimited. Mutations of an open writer are not
// included.
func (t *Tree[K, V]) Checkpoint(limiter *iolimit.Limiter) (CheckpointStats, error) {
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	if t.closed.Load() {
		return CheckpointStats{}, ErrClosed
	}
	if t.cleanupErr != nil {
		return CheckpointStats{}, fmt.Errorf("%w: %w", ErrCleanupFailed, t.cleanupErr)
	}

	t.mu.Lock()
	if t.version == t.persisted {
		t.mu.Unlock()
		return CheckpointStats{Skipped: true, Entries: t.state.entries}, nil
	}
	snap := t.root.Clone()
	version := t.version
	t.mu.Unlock()

	stream, err := t.encode(snap)
	if err != nil {
		return CheckpointStats{}, err
	}

	payload := int64(t.pf.PayloadSize())
	pages := (int64(len(stream)) + payload - 1) / payload

	// Never overwrite the live run: reuse the space in front of it when the
	// new run fits, otherwise append behind it.
	first := int64(statePages)
	if t.state.pageCount > 0 && first+pages > t.state.firstPage {
		first = t.state.end()
	}

	w := iolimit.NewWriterAt(context.Background(), t.pf.File(), limiter)
	for i := int64(0); i < pages; i++ {
		chunk := stream[i*payload : min((i+1)*payload, int64(len(stream)))]
		if err := t.pf.WritePageTo(w, first+i, chunk); err != nil {
			return CheckpointStats{}, err
		}
	}
	if pages > 0 {
		if err := t.pf.Sync(); err != nil {
			return CheckpointStats{}, err
		}
	}

	next := t.state
	next.generation++
	next.firstPage = first
	next.pageCount = pages
	next.dataLen = int64(len(stream))
	next.entries = int64(snap.Len())
	next.codec = t.codec
	next.clean = false
	if err := t.writeState(next); err != nil {
		return CheckpointStats{}, err
	}

	t.mu.Lock()
	t.persisted = version
	t.mu.Unlock()

	stats := CheckpointStats{Entries: next.entries, Pages: pages, DataBytes: next.dataLen}
	if err := t.pf.Truncate(next.end()); err != nil {
		return stats, err
	}
	return stats, nil
}

func (t *Tree[K, V]) encode(snap *btree.BTreeG[item[K, V]]) ([]byte, error) {
	ks, vs := t.layout.KeySize(), t.layout.ValueSize()
	entrySize := ks + vs

	var (
		stream []byte
		err    error
	)
	raw := make([]byte, 0, blockEntries*entrySize)
	flush := func() bool {
		stream, err = appendBlock(stream, raw, t.codec)
		raw = raw[:0]
		return err == nil
	}

	buf := make([]byte, entrySize)
	snap.Ascend(func(it item[K, V]) bool {
		t.layout.WriteKey(buf[:ks], it.key)
		t.layout.WriteValue(buf[ks:], it.value)
		raw = append(raw, buf...)
		if len(raw) == cap(raw) {
			return flush()
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && !flush() {
		return nil, err
	}
	return stream, nil
}

// Close writes a state marking a clean shutdown. It does not checkpoint:
// mutations published since the last checkpoint are lost. The backing file
// stays mapped; the caller unmaps it.
func (t *Tree[K, V]) Close() error {
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	if !t.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	next := t.state
	next.generation++
	next.clean = true
	return t.writeState(next)
}

// cleanupJob repairs what an unclean shutdown may have left behind: pages
// past the live run from an interrupted checkpoint, and unverified live pages.
type cleanupJob[K, V any] struct {
	t *Tree[K, V]
}

func (j *cleanupJob[K, V]) Description() string {
	return "cleanup " + j.t.pf.Path()
}

func (j *cleanupJob[K, V]) Run(ctx context.Context) error {
	t := j.t
	t.checkpointMu.Lock()
	defer t.checkpointMu.Unlock()

	if t.closed.Load() || !t.needsCleanup {
		return nil
	}
	t.needsCleanup = false

	err := t.cleanup(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Interrupted, not failed. Running the job again resumes it.
		t.needsCleanup = true
		t.logger.Warn("tree cleanup interrupted", "path", t.pf.Path(), "error", err)
		return err
	}
	if err != nil {
		t.cleanupErr = err
		t.logger.Error("tree cleanup failed", "path", t.pf.Path(), "error", err)
		return err
	}
	t.logger.Info("tree cleanup completed", "path", t.pf.Path(), "generation", t.state.generation)
	return nil
}

func (t *Tree[K, V]) cleanup(ctx context.Context) error {
	end := t.state.end()
	count, err := t.pf.PageCount()
	if err != nil {
		return err
	}
	if count > end {
		if err := t.pf.Truncate(end); err != nil {
			return err
		}
		if err := t.pf.Sync(); err != nil {
			return err
		}
	}
	for id := t.state.firstPage; id < end && t.state.pageCount > 0; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.pf.VerifyPage(id); err != nil {
			return err
		}
	}
	return nil
}
