package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Catalog records the latest committed manifest per backup name.
type Catalog interface {
	// Latest returns the manifest path and version of the newest commit for
	// name. A name without commits fails with ErrNotFound.
	Latest(ctx context.Context, name string) (manifest string, version uint64, err error)
	// Commit records manifest as the newest commit for name and returns the
	// version it was assigned.
	Commit(ctx context.Context, name, manifest string) (uint64, error)
}

// LatestFile is the pointer blob a BlobCatalog keeps per backup name.
const LatestFile = "LATEST"

// BlobCatalog is a Catalog keeping a LATEST pointer in a Store. It offers no
// protection against concurrent committers to the same name.
type BlobCatalog struct {
	store Store
}

// NewBlobCatalog creates a catalog on store.
func NewBlobCatalog(store Store) *BlobCatalog {
	return &BlobCatalog{store: store}
}

// Latest reads the LATEST pointer of name.
func (c *BlobCatalog) Latest(ctx context.Context, name string) (string, uint64, error) {
	data, err := ReadAll(ctx, c.store, path.Join(name, LatestFile))
	if err != nil {
		return "", 0, err
	}
	version, manifest, ok := strings.Cut(strings.TrimSpace(string(data)), " ")
	if !ok {
		return "", 0, fmt.Errorf("blobstore: malformed %s for %q", LatestFile, name)
	}
	v, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: malformed %s for %q: %w", LatestFile, name, err)
	}
	return manifest, v, nil
}

// Commit overwrites the LATEST pointer of name.
func (c *BlobCatalog) Commit(ctx context.Context, name, manifest string) (uint64, error) {
	_, current, err := c.Latest(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	next := current + 1
	line := strconv.FormatUint(next, 10) + " " + manifest + "\n"
	if err := c.store.Put(ctx, path.Join(name, LatestFile), []byte(line)); err != nil {
		return 0, err
	}
	return next, nil
}
