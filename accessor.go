package numindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/numindex/internal/tree"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/hupe1980/numindex/layout"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/hupe1980/numindex/recovery"
)

type lifecycle uint8

const (
	stateOpen lifecycle = iota
	stateClosed
	stateDropped
)

func (s lifecycle) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	default:
		return "dropped"
	}
}

// Info describes an open index.
type Info struct {
	Path       string
	Unique     bool
	Generation uint64
	// Entries counts entries of the last checkpoint.
	Entries   int64
	FirstPage int64
	PageCount int64
	DataBytes int64
	Codec     string
	// WasClean reports whether the previous session shut down cleanly.
	WasClean bool
}

// Accessor owns one on-disk number index.
type Accessor struct {
	path    string
	layout  *layout.NumberLayout
	opts    options
	logger  *Logger
	metrics MetricsCollector

	mu      sync.RWMutex
	state   lifecycle
	tree    indexTree
	unmap   func() error
	remove  func() error
	updater *Updater
}

// Open maps the backing file at path through pc, creating it unless
// WithCreate(false) is given, and opens the index on it. The tree's cleanup
// job is handed to collector; Open does not wait for it.
//
// On failure nothing stays mapped.
func Open(pc *pagecache.PageCache, path string, l *layout.NumberLayout, collector recovery.Collector, optFns ...Option) (*Accessor, error) {
	o := applyOptions(optFns)
	logger := o.logger.WithPath(path)
	ctx := context.Background()

	pf, err := pc.Map(path, o.create)
	if err != nil {
		err = translateError(err)
		logger.LogOpen(ctx, 0, 0, err)
		return nil, err
	}

	t, err := tree.Open(pf, l, collector,
		tree.WithLogger(logger.Logger),
		tree.WithCodec(o.compression.codec()),
	)
	if err != nil {
		err = translateError(errors.Join(err, pc.Unmap(pf)))
		logger.LogOpen(ctx, 0, 0, err)
		return nil, err
	}

	info := t.Info()
	if !info.WasClean {
		logger.LogRecovery(ctx, info.Generation)
	}
	logger.LogOpen(ctx, info.Entries, info.Generation, nil)

	return newAccessor(path, l, numberTree{t},
		func() error { return pc.Unmap(pf) },
		func() error { return pc.Delete(path) },
		o,
	), nil
}

func newAccessor(path string, l *layout.NumberLayout, t indexTree, unmap, remove func() error, o options) *Accessor {
	a := &Accessor{
		path:    path,
		layout:  l,
		opts:    o,
		logger:  o.logger.WithPath(path),
		metrics: o.metricsCollector,
		state:   stateOpen,
		tree:    t,
		unmap:   unmap,
		remove:  remove,
	}
	a.updater = &Updater{acc: a}
	return a
}

// Path returns the backing file path.
func (a *Accessor) Path() string { return a.path }

// Layout returns the index layout.
func (a *Accessor) Layout() *layout.NumberLayout { return a.layout }

// Info describes the persisted state of the index.
func (a *Accessor) Info() (Info, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return Info{}, ErrAccessorClosed
	}
	ti := a.tree.Info()
	return Info{
		Path:       a.path,
		Unique:     a.layout.IsUnique(),
		Generation: ti.Generation,
		Entries:    ti.Entries,
		FirstPage:  ti.FirstPage,
		PageCount:  ti.PageCount,
		DataBytes:  ti.DataBytes,
		Codec:      ti.Codec.String(),
		WasClean:   ti.WasClean,
	}, nil
}

// NewUpdater opens a write session. It returns the accessor's single
// Updater each time; while a session is open it fails with ErrUpdaterActive.
func (a *Accessor) NewUpdater(mode UpdateMode) (*Updater, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return nil, ErrAccessorClosed
	}
	if err := a.updater.begin(mode); err != nil {
		return nil, err
	}
	return a.updater, nil
}

// Force durably checkpoints everything published so far. Data page writes
// are paced by limiter; nil selects the limiter configured with
// WithCheckpointLimiter, or none. Failures are returned, never retried.
func (a *Accessor) Force(limiter *iolimit.Limiter) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return ErrAccessorClosed
	}
	if limiter == nil {
		limiter = a.opts.checkpointLimiter
	}

	start := time.Now()
	stats, err := a.tree.Checkpoint(limiter)
	err = translateError(err)
	duration := time.Since(start)

	a.logger.LogCheckpoint(context.Background(), stats.Entries, stats.Pages, stats.Skipped, duration, err)
	a.metrics.RecordCheckpoint(stats.Pages, stats.DataBytes, duration, err)
	return err
}

// LockCheckpoints holds off checkpoints, including Force, until release is
// called. Writers and readers are not affected. Backups use it to copy a
// stable file.
func (a *Accessor) LockCheckpoints() (release func(), err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return nil, ErrAccessorClosed
	}
	return a.tree.LockCheckpoints(), nil
}

// snapshot returns a read snapshot of the last published state.
func (a *Accessor) snapshot() (treeSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return nil, ErrAccessorClosed
	}
	snap, err := a.tree.Snapshot()
	if err != nil {
		return nil, translateError(err)
	}
	return snap, nil
}

// NewReader returns a reader over the state published at this point.
func (a *Accessor) NewReader() (*Reader, error) {
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	return &Reader{snap: snap, metrics: a.metrics}, nil
}

// NewAllEntriesReader returns a single-pass iterator over the entity ids of
// every entry published at this point. The caller must close it.
func (a *Accessor) NewAllEntriesReader() (*AllEntriesReader, error) {
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	return newAllEntriesReader(snap, a.metrics), nil
}

// SnapshotFiles returns the files a backup has to copy: the backing file.
func (a *Accessor) SnapshotFiles() (*FileIterator, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateOpen {
		return nil, ErrAccessorClosed
	}
	return newFileIterator(a.path), nil
}

// Close releases the tree and the file mapping. It does not checkpoint. An
// open updater session is abandoned.
func (a *Accessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateOpen {
		return ErrAccessorClosed
	}
	a.state = stateClosed

	err := a.release()
	a.logger.LogClose(context.Background(), err)
	return err
}

// Drop releases the index like Close and deletes the backing file. The
// accessor is released even when deletion fails.
func (a *Accessor) Drop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateOpen {
		return ErrAccessorClosed
	}
	a.state = stateDropped

	err := a.release()
	if rerr := a.remove(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("%w: delete %s: %w", ErrIO, a.path, rerr))
	}
	a.logger.LogDrop(context.Background(), err)
	return err
}

func (a *Accessor) release() error {
	a.updater.abandon()
	var errs []error
	if err := a.tree.Close(); err != nil {
		errs = append(errs, translateError(err))
	}
	if err := a.unmap(); err != nil {
		errs = append(errs, translateError(err))
	}
	return errors.Join(errs...)
}
