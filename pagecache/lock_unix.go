//go:build unix

package pagecache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type fdFile interface {
	Fd() uintptr
}

// lockFile takes a non-blocking exclusive advisory lock when the file exposes
// a descriptor. Wrapped test files do not, and stay unlocked.
func lockFile(f any) (func(), error) {
	fd, ok := f.(fdFile)
	if !ok {
		return func() {}, nil
	}
	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: locked by another process", ErrAlreadyMapped)
		}
		return nil, err
	}
	return func() { _ = unix.Flock(int(fd.Fd()), unix.LOCK_UN) }, nil
}
