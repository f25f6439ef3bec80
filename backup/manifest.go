package backup

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"
)

const (
	// ManifestFileName is the name of the manifest blob inside a backup.
	ManifestFileName = "manifest.json"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1

	blobSuffix = ".zst"
)

// Manifest describes one backup.
type Manifest struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Files     []File    `json:"files"`
}

// File describes one backed up file.
type File struct {
	Name   string `json:"name"` // Base name on restore
	Blob   string `json:"blob"` // Blob holding the compressed contents
	Size   int64  `json:"size"` // Uncompressed size in bytes
	CRC32C uint32 `json:"crc32c"`
}

// TotalSize returns the uncompressed size of all files.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func backupPrefix(name string, at time.Time) string {
	return path.Join(name, strconv.FormatInt(at.UnixNano(), 10))
}

func encodeManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidManifest, m.Version)
	}
	return &m, nil
}
