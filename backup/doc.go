// Package backup copies an index's backing files into a blobstore.Store and
// restores them.
//
// Run holds off checkpoints while it streams every file returned by
// Accessor.SnapshotFiles, zstd compressed, to
//
//	<name>/<unix-nanos>/<file>.zst
//
// and then writes a JSON manifest carrying the size and CRC32-C of every
// uncompressed file next to them. The manifest is published through a
// blobstore.Catalog; a backup without a catalog commit is invisible to
// Restore.
//
// Restore reads the newest manifest, decompresses every file next to its
// destination and verifies size and checksum before renaming anything into
// place.
package backup
