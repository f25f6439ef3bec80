package tree

import "errors"

var (
	// ErrClosed is returned when operating on a closed tree.
	ErrClosed = errors.New("tree closed")

	// ErrWriterActive is returned when a writer is requested while another is open.
	ErrWriterActive = errors.New("tree writer already active")

	// ErrWriterClosed is returned when using a writer after Close.
	ErrWriterClosed = errors.New("tree writer closed")

	// ErrLayoutMismatch is returned when the file was written with another layout.
	ErrLayoutMismatch = errors.New("layout mismatch")

	// ErrPageSizeMismatch is returned when the file was written with another
	// page size.
	ErrPageSizeMismatch = errors.New("page size mismatch")

	// ErrCorrupt is returned when the file holds no usable state or data.
	ErrCorrupt = errors.New("tree corrupt")

	// ErrCleanupFailed is returned by Checkpoint after recovery cleanup failed.
	ErrCleanupFailed = errors.New("recovery cleanup failed")
)
