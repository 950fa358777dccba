package vfs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// All methods are passthroughs to the [os] package and [golang.org/x/sys/unix],
// with identical error semantics.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// A passthrough wrapper for [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Remove deletes path. Unlike [os.Remove], a missing file is not an error,
// matching the "delete any existing sibling" use at open time (spec §4.6).
func (r *Real) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// A passthrough wrapper for [os.Rename].
func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// BlockSize statvfs(2)s path and returns its preferred I/O block size
// (f_bsize, falling back to f_frsize if zero). path must exist - callers
// that need the block size of a file that may not exist yet should pass
// its containing directory instead.
func (r *Real) BlockSize(path string) (uint64, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(path, &stat)
	if err != nil {
		return 0, fmt.Errorf("statvfs %q: %w", path, err)
	}

	if stat.Bsize > 0 {
		return uint64(stat.Bsize), nil //nolint:unconvert // Bsize is int64 on some GOARCH
	}

	return stat.Frsize, nil
}

// Flock acquires or releases a whole-file advisory lock via flock(2),
// retrying on EINTR. See [FS.Flock].
func (r *Real) Flock(fd uintptr, exclusive, nonblocking, unlock bool) error {
	how := unix.LOCK_SH

	switch {
	case unlock:
		how = unix.LOCK_UN
	case exclusive:
		how = unix.LOCK_EX
	}

	if nonblocking {
		how |= unix.LOCK_NB
	}

	for {
		err := unix.Flock(int(fd), how)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return err
	}
}
