// Package vfs provides the filesystem abstraction the store uses for all
// I/O, so tests can substitute fault-injecting behavior for the real thing.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [*os.File])
//   - [Real]: production implementation backed by the [os] package
package vfs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [*os.File]. The store relies on Fd
// returning a valid descriptor usable with [unix.Flock] for the lifetime of
// the handle, and on Truncate/Sync matching ftruncate(2)/fsync(2) semantics.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the OS file descriptor, used for flock.
	Fd() uintptr

	// Stat returns file metadata, including current size.
	Stat() (os.FileInfo, error)

	// Truncate changes the size of the file, per ftruncate(2).
	Truncate(size int64) error

	// Sync commits the file's contents to stable storage, per fsync(2).
	Sync() error
}

// FS defines the filesystem operations the store depends on.
//
// Paths use OS semantics, like the [os] package.
type FS interface {
	// OpenFile opens path with the given flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info for path. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove deletes the file at path. Returns nil if path does not exist.
	Remove(path string) error

	// Rename moves oldpath to newpath, atomically on the same filesystem.
	Rename(oldpath, newpath string) error

	// BlockSize returns the preferred I/O block size of the filesystem
	// backing path (statvfs f_bsize/f_frsize). path itself is queried and
	// must exist; for a file that may not exist yet, pass its directory.
	BlockSize(path string) (uint64, error)

	// Flock acquires or releases a whole-file advisory lock on fd.
	// exclusive selects LOCK_EX vs LOCK_SH; nonblocking adds LOCK_NB.
	// unlock releases any lock held on fd regardless of the other flags.
	Flock(fd uintptr, exclusive, nonblocking, unlock bool) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
