package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hupe1980/numindex"
	"github.com/hupe1980/numindex/blobstore"
	"github.com/hupe1980/numindex/internal/fs"
	"github.com/hupe1980/numindex/internal/hash"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/klauspost/compress/zstd"
)

// Source is what Run backs up. *numindex.Accessor implements it.
type Source interface {
	SnapshotFiles() (*numindex.FileIterator, error)
	LockCheckpoints() (release func(), err error)
}

// Options configures Run.
type Options struct {
	// Name groups backups of one index in the store. Required.
	Name string
	// Catalog publishes the manifest. Defaults to a BlobCatalog on the store.
	Catalog blobstore.Catalog
	// Level is the zstd encoder level. Defaults to zstd.SpeedDefault.
	Level zstd.EncoderLevel
	// FileSystem the snapshot files are read from. Defaults to the local one.
	FileSystem fs.FileSystem
	// Logger receives progress records. Defaults to discarding them.
	Logger *slog.Logger
	// Now stamps the backup. Defaults to time.Now.
	Now func() time.Time
	// Limiter paces compressed bytes written to the store. Nil means unlimited.
	Limiter *iolimit.Limiter
}

func (o Options) withDefaults(store blobstore.Store) Options {
	if o.Catalog == nil {
		o.Catalog = blobstore.NewBlobCatalog(store)
	}
	if o.Level == 0 {
		o.Level = zstd.SpeedDefault
	}
	if o.FileSystem == nil {
		o.FileSystem = fs.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Limiter == nil {
		o.Limiter = iolimit.Unlimited()
	}
	return o
}

// Result describes a committed backup.
type Result struct {
	Manifest     *Manifest
	ManifestBlob string
	Version      uint64
	Duration     time.Duration
}

// Run backs up src into store and commits the manifest to the catalog.
//
// The snapshot file list is taken before checkpoints are locked: Close waits
// for the checkpoint lock, and SnapshotFiles fails on a closed accessor.
func Run(ctx context.Context, src Source, store blobstore.Store, opts Options) (*Result, error) {
	if opts.Name == "" {
		return nil, ErrNameRequired
	}
	o := opts.withDefaults(store)
	start := time.Now()

	files, err := src.SnapshotFiles()
	if err != nil {
		return nil, err
	}
	defer func() { _ = files.Close() }()

	release, err := src.LockCheckpoints()
	if err != nil {
		return nil, err
	}
	defer release()

	now := o.Now()
	prefix := backupPrefix(o.Name, now)
	m := &Manifest{
		Version:   CurrentVersion,
		Name:      o.Name,
		CreatedAt: now.UTC(),
	}

	written := make([]string, 0, 2)
	fail := func(err error) (*Result, error) {
		cleanup := context.WithoutCancel(ctx)
		for _, blob := range written {
			_ = store.Delete(cleanup, blob)
		}
		o.Logger.ErrorContext(ctx, "backup failed", "name", o.Name, "error", err)
		return nil, err
	}

	for {
		p, ok := files.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		base := filepath.Base(p)
		blob := path.Join(prefix, base+blobSuffix)
		written = append(written, blob)

		f, err := uploadFile(ctx, o, store, p, blob)
		if err != nil {
			return fail(fmt.Errorf("backup %s: %w", p, err))
		}
		f.Name = base
		m.Files = append(m.Files, f)
		o.Logger.DebugContext(ctx, "backed up file", "path", p, "blob", blob, "size", f.Size)
	}

	data, err := encodeManifest(m)
	if err != nil {
		return fail(err)
	}
	manifestBlob := path.Join(prefix, ManifestFileName)
	written = append(written, manifestBlob)
	if err := store.Put(ctx, manifestBlob, data); err != nil {
		return fail(err)
	}

	version, err := o.Catalog.Commit(ctx, o.Name, manifestBlob)
	if err != nil {
		return fail(err)
	}

	res := &Result{
		Manifest:     m,
		ManifestBlob: manifestBlob,
		Version:      version,
		Duration:     time.Since(start),
	}
	o.Logger.InfoContext(ctx, "backup committed",
		"name", o.Name,
		"version", version,
		"files", len(m.Files),
		"bytes", m.TotalSize(),
		"bytes_per_sec", o.Limiter.BytesPerSec(),
		"duration", res.Duration,
	)
	return res, nil
}

func uploadFile(ctx context.Context, o Options, store blobstore.Store, p, blob string) (File, error) {
	in, err := o.FileSystem.OpenFile(p, os.O_RDONLY, 0)
	if err != nil {
		return File{}, err
	}
	defer func() { _ = in.Close() }()

	wb, err := store.Create(ctx, blob)
	if err != nil {
		return File{}, err
	}
	var out io.Writer = wb
	if !o.Limiter.IsUnlimited() {
		out = iolimit.NewWriter(ctx, wb, o.Limiter)
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(o.Level))
	if err != nil {
		_ = wb.Close()
		return File{}, err
	}

	crc := hash.NewCRC32C()
	n, err := io.Copy(enc, io.TeeReader(in, crc))
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if cerr := wb.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return File{}, err
	}
	return File{Blob: blob, Size: n, CRC32C: crc.Sum32()}, nil
}

// Latest returns the newest committed manifest of name.
func Latest(ctx context.Context, store blobstore.Store, catalog blobstore.Catalog, name string) (*Manifest, error) {
	if catalog == nil {
		catalog = blobstore.NewBlobCatalog(store)
	}
	manifestBlob, _, err := catalog.Latest(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q: %w", ErrNoBackup, name, err)
		}
		return nil, err
	}
	data, err := blobstore.ReadAll(ctx, store, manifestBlob)
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}
