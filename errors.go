package numindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/numindex/internal/tree"
	"github.com/hupe1980/numindex/layout"
)

var (
	// ErrAccessorClosed is returned by every operation after Close or Drop.
	ErrAccessorClosed = errors.New("index accessor closed")

	// ErrUpdaterActive is returned by NewUpdater while a session is open.
	ErrUpdaterActive = errors.New("index updater already active")

	// ErrUpdaterClosed is returned when using an updater with no open session.
	ErrUpdaterClosed = errors.New("index updater closed")

	// ErrReaderClosed is returned when closing a reader twice.
	ErrReaderClosed = errors.New("index reader closed")

	// ErrIO wraps failures of the page cache and filesystem.
	ErrIO = errors.New("index I/O failure")

	// ErrEntryNotFound is returned by strict updates that touch a missing entry.
	ErrEntryNotFound = errors.New("index entry not found")

	// ErrInvalidUpdate is returned for updates that carry no value.
	ErrInvalidUpdate = errors.New("invalid index update")

	// ErrConstraintViolation is matched by *ConflictError.
	ErrConstraintViolation = errors.New("index constraint violation")

	// ErrLayoutMismatch is returned by Open when the file was written with
	// another layout.
	ErrLayoutMismatch = tree.ErrLayoutMismatch

	// ErrPageSizeMismatch is returned by Open when the page cache page size
	// differs from the one the file was written with.
	ErrPageSizeMismatch = tree.ErrPageSizeMismatch

	// ErrCorrupt is returned by Open when the file holds no usable state.
	ErrCorrupt = tree.ErrCorrupt

	// ErrCleanupFailed is returned by Force after recovery cleanup failed.
	ErrCleanupFailed = tree.ErrCleanupFailed
)

// UnsupportedOperationError is returned for operations the index layout does
// not support. It matches errors.ErrUnsupported.
type UnsupportedOperationError struct {
	Op     string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: unsupported: %s", e.Op, e.Reason)
}

func (e *UnsupportedOperationError) Unwrap() error { return errors.ErrUnsupported }

// EntryConflict is a pair of entities that hold the same value in a unique
// index.
type EntryConflict struct {
	Value            layout.Number
	ExistingEntityID uint64
	AddedEntityID    uint64
}

func (c EntryConflict) String() string {
	return fmt.Sprintf("value %s held by entities %d and %d", c.Value, c.ExistingEntityID, c.AddedEntityID)
}

// ConflictError collects every conflict found by one verification.
type ConflictError struct {
	Conflicts []EntryConflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return "index constraint violation: " + e.Conflicts[0].String()
	}
	return fmt.Sprintf("index constraint violation: %d conflicts, first: %s", len(e.Conflicts), e.Conflicts[0])
}

func (e *ConflictError) Unwrap() error { return ErrConstraintViolation }

// translateError maps tree and page cache failures onto the package errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrAccessorClosed), errors.Is(err, ErrIO):
		return err
	case errors.Is(err, tree.ErrClosed):
		return fmt.Errorf("%w: %w", ErrAccessorClosed, err)
	case errors.Is(err, tree.ErrWriterActive):
		return fmt.Errorf("%w: %w", ErrUpdaterActive, err)
	case errors.Is(err, ErrLayoutMismatch), errors.Is(err, ErrPageSizeMismatch):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}
