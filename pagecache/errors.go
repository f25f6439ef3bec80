package pagecache

import "errors"

var (
	// ErrAlreadyMapped is returned by Map when the path is already mapped.
	ErrAlreadyMapped = errors.New("pagecache: file already mapped")

	// ErrFileMapped is returned by Delete when the path is still mapped.
	ErrFileMapped = errors.New("pagecache: file is mapped")

	// ErrChecksum is returned when a page trailer does not match its payload.
	ErrChecksum = errors.New("pagecache: page checksum mismatch")

	// ErrPageOverflow is returned when a payload does not fit into one page.
	ErrPageOverflow = errors.New("pagecache: payload exceeds page")

	// ErrPageOutOfRange is returned when reading past the end of the file.
	ErrPageOutOfRange = errors.New("pagecache: page out of range")

	// ErrUnmapped is returned when using a PagedFile after Unmap.
	ErrUnmapped = errors.New("pagecache: file unmapped")

	// ErrClosed is returned after the PageCache was closed.
	ErrClosed = errors.New("pagecache: closed")
)
