package pagecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/numindex/internal/fs"
	"github.com/hupe1980/numindex/internal/hash"
)

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 8 << 10
	// MinPageSize is the smallest accepted page size.
	MinPageSize = 512
	// DefaultCacheCapacity bounds cached page payloads, in bytes.
	DefaultCacheCapacity = 32 << 20

	trailerSize = 4
)

type options struct {
	fs            fs.FileSystem
	pageSize      int
	cacheCapacity int64
}

// Option configures a PageCache.
type Option func(*options)

// WithFileSystem sets the filesystem backing files are opened on.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithPageSize sets the page size. Values below MinPageSize are raised to it.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = max(size, MinPageSize)
	}
}

// WithCacheCapacity sets the cache capacity in bytes. 0 disables caching.
func WithCacheCapacity(bytes int64) Option {
	return func(o *options) {
		o.cacheCapacity = max(bytes, 0)
	}
}

// PageCache maps backing files and caches their pages.
type PageCache struct {
	fs       fs.FileSystem
	pageSize int
	pages    *pageLRU

	mu     sync.Mutex
	mapped map[string]*PagedFile
	nextID uint64
	closed bool
}

// New creates a PageCache.
func New(optFns ...Option) *PageCache {
	o := options{
		fs:            fs.Default,
		pageSize:      DefaultPageSize,
		cacheCapacity: DefaultCacheCapacity,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &PageCache{
		fs:       o.fs,
		pageSize: o.pageSize,
		pages:    newPageLRU(o.cacheCapacity),
		mapped:   make(map[string]*PagedFile),
	}
}

// PageSize returns the size of a page on disk.
func (pc *PageCache) PageSize() int { return pc.pageSize }

// PayloadSize returns the usable bytes per page.
func (pc *PageCache) PayloadSize() int { return pc.pageSize - trailerSize }

// FileSystem returns the filesystem files are mapped from.
func (pc *PageCache) FileSystem() fs.FileSystem { return pc.fs }

// Stats returns cache hits, misses and cached bytes.
func (pc *PageCache) Stats() (hits, misses, bytes int64) {
	return pc.pages.hits.Load(), pc.pages.misses.Load(), pc.pages.bytes()
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Map opens path for paged access. With create set, a missing file is
// created empty; otherwise a missing file fails with an error satisfying
// errors.Is(err, os.ErrNotExist).
func (pc *PageCache) Map(path string, create bool) (*PagedFile, error) {
	key := canonical(path)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.closed {
		return nil, ErrClosed
	}
	if _, ok := pc.mapped[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMapped, path)
	}

	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := pc.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	unlock, err := lockFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	pc.nextID++
	pf := &PagedFile{
		pc:     pc,
		key:    key,
		path:   path,
		f:      f,
		id:     pc.nextID,
		unlock: unlock,
	}
	pc.mapped[key] = pf
	return pf, nil
}

// Unmap drops cached pages of pf, releases its lock and closes the file.
func (pc *PageCache) Unmap(pf *PagedFile) error {
	if pf == nil {
		return nil
	}
	if !pf.closed.CompareAndSwap(false, true) {
		return ErrUnmapped
	}

	pc.mu.Lock()
	if pc.mapped[pf.key] == pf {
		delete(pc.mapped, pf.key)
	}
	pc.mu.Unlock()

	pc.pages.invalidate(func(k pageKey) bool { return k.file == pf.id })
	pf.unlock()
	return pf.f.Close()
}

// Delete removes an unmapped file from durable storage.
func (pc *PageCache) Delete(path string) error {
	pc.mu.Lock()
	_, mapped := pc.mapped[canonical(path)]
	pc.mu.Unlock()
	if mapped {
		return fmt.Errorf("%w: %s", ErrFileMapped, path)
	}

	if err := pc.fs.Remove(path); err != nil {
		return err
	}
	return fs.SyncDir(pc.fs, filepath.Dir(path))
}

// Close unmaps every file still mapped.
func (pc *PageCache) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return ErrClosed
	}
	pc.closed = true
	files := make([]*PagedFile, 0, len(pc.mapped))
	for _, pf := range pc.mapped {
		files = append(files, pf)
	}
	pc.mu.Unlock()

	var errs []error
	for _, pf := range files {
		if err := pc.Unmap(pf); err != nil && !errors.Is(err, ErrUnmapped) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PagedFile is a mapped backing file.
type PagedFile struct {
	pc     *PageCache
	key    string
	path   string
	f      fs.File
	id     uint64
	unlock func()
	closed atomic.Bool
}

// Path returns the path the file was mapped with.
func (pf *PagedFile) Path() string { return pf.path }

// PageSize returns the size of a page on disk.
func (pf *PagedFile) PageSize() int { return pf.pc.pageSize }

// PayloadSize returns the usable bytes per page.
func (pf *PagedFile) PayloadSize() int { return pf.pc.pageSize - trailerSize }

// Size returns the file size in bytes.
func (pf *PagedFile) Size() (int64, error) {
	if pf.closed.Load() {
		return 0, ErrUnmapped
	}
	st, err := pf.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// PageCount returns the number of complete pages in the file.
// A torn trailing partial page is not counted.
func (pf *PagedFile) PageCount() (int64, error) {
	size, err := pf.Size()
	if err != nil {
		return 0, err
	}
	return size / int64(pf.pc.pageSize), nil
}

// ReadPage returns the verified payload of page id.
// The returned slice is shared with the cache and must not be modified.
func (pf *PagedFile) ReadPage(id int64) ([]byte, error) {
	if pf.closed.Load() {
		return nil, ErrUnmapped
	}
	key := pageKey{file: pf.id, page: id}
	if payload, ok := pf.pc.pages.get(key); ok {
		return payload, nil
	}

	payload, err := pf.readPage(id)
	if err != nil {
		return nil, err
	}
	pf.pc.pages.set(key, payload)
	return payload, nil
}

// VerifyPage reads page id from the file, bypassing the cache, and checks
// its trailer.
func (pf *PagedFile) VerifyPage(id int64) error {
	if pf.closed.Load() {
		return ErrUnmapped
	}
	_, err := pf.readPage(id)
	return err
}

func (pf *PagedFile) readPage(id int64) ([]byte, error) {
	pageSize := pf.pc.pageSize
	buf := make([]byte, pageSize)
	n, err := pf.f.ReadAt(buf, id*int64(pageSize))
	if n < pageSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: page %d", ErrPageOutOfRange, id)
		}
		return nil, fmt.Errorf("%w: page %d torn (%d bytes)", ErrChecksum, id, n)
	}

	payload := buf[:pageSize-trailerSize]
	want := binary.LittleEndian.Uint32(buf[pageSize-trailerSize:])
	if got := hash.CRC32C(payload); got != want {
		return nil, fmt.Errorf("%w: page %d (got %08x, want %08x)", ErrChecksum, id, got, want)
	}
	return payload, nil
}

// WritePage writes payload, zero padded, into page id and updates the cache.
// The write is not durable until Sync.
func (pf *PagedFile) WritePage(id int64, payload []byte) error {
	return pf.WritePageTo(pf.f, id, payload)
}

// WritePageTo is WritePage through w, which must write to this file. It lets
// callers interpose a rate limited writer.
func (pf *PagedFile) WritePageTo(w io.WriterAt, id int64, payload []byte) error {
	if pf.closed.Load() {
		return ErrUnmapped
	}
	pageSize := pf.pc.pageSize
	if len(payload) > pageSize-trailerSize {
		return fmt.Errorf("%w: %d > %d", ErrPageOverflow, len(payload), pageSize-trailerSize)
	}

	buf := make([]byte, pageSize)
	copy(buf, payload)
	binary.LittleEndian.PutUint32(buf[pageSize-trailerSize:], hash.CRC32C(buf[:pageSize-trailerSize]))

	key := pageKey{file: pf.id, page: id}
	if _, err := w.WriteAt(buf, id*int64(pageSize)); err != nil {
		pf.pc.pages.invalidate(func(k pageKey) bool { return k == key })
		return err
	}
	pf.pc.pages.set(key, buf[:pageSize-trailerSize])
	return nil
}

// File returns the underlying file for positional writes.
func (pf *PagedFile) File() fs.File { return pf.f }

// Truncate shrinks the file to pages pages and drops cached pages beyond it.
func (pf *PagedFile) Truncate(pages int64) error {
	if pf.closed.Load() {
		return ErrUnmapped
	}
	pf.pc.pages.invalidate(func(k pageKey) bool { return k.file == pf.id && k.page >= pages })
	return pf.pc.fs.Truncate(pf.path, pages*int64(pf.pc.pageSize))
}

// Sync flushes written pages to durable storage.
func (pf *PagedFile) Sync() error {
	if pf.closed.Load() {
		return ErrUnmapped
	}
	return pf.f.Sync()
}
