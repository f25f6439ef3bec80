package backup

import "errors"

var (
	// ErrNoBackup is returned by Restore when the catalog has no commit for
	// the requested name. It also matches blobstore.ErrNotFound.
	ErrNoBackup = errors.New("backup: no backup found")
	// ErrInvalidManifest is returned when a manifest cannot be decoded.
	ErrInvalidManifest = errors.New("backup: invalid manifest")
	// ErrChecksumMismatch is returned when a restored file does not match
	// its manifest entry.
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")
	// ErrNameRequired is returned by Run without Options.Name.
	ErrNameRequired = errors.New("backup: name required")
)
