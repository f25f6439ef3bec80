package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/numindex/blobstore"
	"github.com/hupe1980/numindex/internal/fs"
	"github.com/hupe1980/numindex/internal/hash"
	"github.com/klauspost/compress/zstd"
)

const restoreSuffix = ".restore"

// Restore writes the files of the newest backup of name into dir. A nil
// catalog reads the BlobCatalog on store. Existing files are replaced only
// after every file was decompressed and verified.
func Restore(ctx context.Context, store blobstore.Store, catalog blobstore.Catalog, name, dir string) (*Manifest, error) {
	m, err := Latest(ctx, store, catalog, name)
	if err != nil {
		return nil, err
	}
	for _, f := range m.Files {
		if f.Name == "" || f.Name != filepath.Base(f.Name) || f.Name == "." || f.Name == ".." {
			return nil, fmt.Errorf("%w: file name %q", ErrInvalidManifest, f.Name)
		}
	}

	fsys := fs.Default
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var staged []string
	discard := func() {
		for _, tmp := range staged {
			_ = fsys.Remove(tmp)
		}
	}

	for _, f := range m.Files {
		tmp := filepath.Join(dir, f.Name+restoreSuffix)
		staged = append(staged, tmp)
		if err := restoreFile(ctx, fsys, store, f, tmp); err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.Name, err)
		}
	}

	for i, f := range m.Files {
		if err := fsys.Rename(staged[i], filepath.Join(dir, f.Name)); err != nil {
			discard()
			return nil, err
		}
	}
	if err := fs.SyncDir(fsys, dir); err != nil {
		return nil, err
	}
	return m, nil
}

func restoreFile(ctx context.Context, fsys fs.FileSystem, store blobstore.Store, f File, tmp string) error {
	b, err := store.Open(ctx, f.Blob)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	crc := hash.NewCRC32C()
	n, err := io.Copy(io.MultiWriter(out, crc), dec)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if n != f.Size || crc.Sum32() != f.CRC32C {
		return fmt.Errorf("%w: got %d bytes crc %08x, want %d bytes crc %08x",
			ErrChecksumMismatch, n, crc.Sum32(), f.Size, f.CRC32C)
	}
	return nil
}

