package kvstore

import (
	"fmt"
	"io"
	"os"

	"github.com/azsphere/kvstore/internal/vfs"
)

// ReplicaMode selects how [Store.Commit] writes the buffer back to disk.
// See spec §4.6.
type ReplicaMode int

const (
	// ReplicaInPlace overwrites the primary file directly and truncates it
	// to the new length. The store remains open afterward.
	ReplicaInPlace ReplicaMode = iota
	// ReplicaSwap writes to a `.tmp` sibling and renames it over the
	// primary. The rename invalidates the lock held on the original
	// inode, so Commit closes the store afterward; re-open to continue.
	ReplicaSwap
)

// Flag selects [Open]'s access mode. Flags combine with bitwise OR.
type Flag int

const (
	// FlagReadOnly opens the store for reading only, with a shared lock.
	FlagReadOnly Flag = 0
	// FlagReadWrite opens the store for reading and writing, with an
	// exclusive lock.
	FlagReadWrite Flag = 1 << 0
	// FlagCreate creates the file if it is absent or empty. Without it,
	// Open on an absent or empty file fails with [ErrNotFound].
	FlagCreate Flag = 1 << 1
)

// Options configures [Open].
type Options struct {
	// Path is the primary file path.
	Path string
	// MaxSize is the requested cap on the store image, before filesystem
	// overhead is subtracted by the adapter in §4.7.
	MaxSize uint32
	// Flags selects read-only vs. read-write and create behavior.
	Flags Flag
	// ReplicaMode selects the commit strategy. Zero value is
	// [ReplicaInPlace].
	ReplicaMode ReplicaMode
	// FS overrides the filesystem implementation, for tests. Nil selects
	// [vfs.NewReal].
	FS vfs.FS
}

const tmpSuffix = ".tmp"

// Store is one open handle on a key-value image. The zero Store is not
// open; use [Open] or call [Store.Open] on it.
//
// A Store is not safe for concurrent use by multiple goroutines - spec §5.
type Store struct {
	opened      bool
	path        string
	fs          vfs.FS
	file        vfs.File
	writable    bool
	replicaMode ReplicaMode
	maxSize     uint32
	buf         *buffer
}

// Open opens a store per opts. See [Store.Open].
func Open(opts Options) (*Store, error) {
	s := new(Store)
	if err := s.Open(opts); err != nil {
		return nil, err
	}

	return s, nil
}

// Open opens a store on s, which must not already be open. Steps follow
// spec §4.6:
//
//  1. Fail with [ErrAlreadyOpen] if s already owns a file.
//  2. Compute the adjusted max size (§4.7); fail with [ErrNoSpace] if zero.
//  3. In swap mode, delete any existing `.tmp` sibling unconditionally -
//     even for a read-only open. See the open question in spec §9: this is
//     preserved verbatim because lock acquisition sequences the two.
//  4. Open the file and acquire a non-blocking advisory lock: shared for
//     read-only, exclusive otherwise.
//  5. An empty file is only treated as new when [FlagCreate] is set;
//     otherwise Open fails with [ErrNotFound].
//  6. Synthesize a fresh header for a new file, or read and [validateImage]
//     an existing one.
//  7. If the on-disk length exceeds the validated content length and the
//     store is writable and not in swap mode, truncate to the validated
//     length and fsync - the crash-recovery branch (spec §8 property 6).
func (s *Store) Open(opts Options) error {
	if s.opened {
		return fmt.Errorf("open %q: %w", opts.Path, ErrAlreadyOpen)
	}

	if opts.ReplicaMode != ReplicaInPlace && opts.ReplicaMode != ReplicaSwap {
		return fmt.Errorf("open %q: replica mode %d: %w", opts.Path, opts.ReplicaMode, ErrInvalidArgument)
	}

	fs := opts.FS
	if fs == nil {
		fs = vfs.NewReal()
	}

	maxSize := adjustedMaxSize(fs, opts.Path, opts.MaxSize)
	if maxSize == 0 {
		return fmt.Errorf("open %q: requested size %d: %w", opts.Path, opts.MaxSize, ErrNoSpace)
	}

	writable := opts.Flags&FlagReadWrite != 0
	create := opts.Flags&FlagCreate != 0

	if opts.ReplicaMode == ReplicaSwap {
		if err := fs.Remove(opts.Path + tmpSuffix); err != nil {
			return fmt.Errorf("open %q: removing stale tmp sibling: %w", opts.Path, wrapIOError(err))
		}
	}

	osFlag := os.O_RDONLY
	if writable {
		osFlag = os.O_RDWR
	}

	if create {
		osFlag |= os.O_CREATE
	}

	file, err := fs.OpenFile(opts.Path, osFlag, 0o600)
	if err != nil {
		if !create && os.IsNotExist(err) {
			return fmt.Errorf("open %q: %w", opts.Path, ErrNotFound)
		}

		return fmt.Errorf("open %q: %w", opts.Path, wrapIOError(err))
	}

	if err := fs.Flock(file.Fd(), writable, true, false); err != nil {
		_ = file.Close()
		return fmt.Errorf("open %q: acquiring lock: %w", opts.Path, wrapIOError(err))
	}

	buf, contentLen, diskLen, err := loadImage(file, create, maxSize)
	if err != nil {
		releaseLock(fs, file)
		_ = file.Close()
		return fmt.Errorf("open %q: %w", opts.Path, err)
	}

	if contentLen < diskLen && writable && opts.ReplicaMode != ReplicaSwap {
		if err := file.Truncate(int64(contentLen)); err != nil {
			releaseLock(fs, file)
			_ = file.Close()
			return fmt.Errorf("open %q: crash-recovery truncate: %w", opts.Path, wrapIOError(err))
		}

		if err := file.Sync(); err != nil {
			releaseLock(fs, file)
			_ = file.Close()
			return fmt.Errorf("open %q: crash-recovery fsync: %w", opts.Path, wrapIOError(err))
		}
	}

	s.opened = true
	s.path = opts.Path
	s.fs = fs
	s.file = file
	s.writable = writable
	s.replicaMode = opts.ReplicaMode
	s.maxSize = maxSize
	s.buf = buf

	return nil
}

// loadImage reads the file's current contents and establishes the buffer,
// returning the buffer, the validated content length, and the raw on-disk
// length.
func loadImage(file vfs.File, create bool, maxSize uint32) (buf *buffer, contentLen, diskLen uint32, err error) {
	info, err := file.Stat()
	if err != nil {
		return nil, 0, 0, wrapIOError(err)
	}

	diskLen64 := info.Size()
	if diskLen64 < 0 || diskLen64 > 0xFFFFFFFF {
		return nil, 0, 0, fmt.Errorf("file size %d out of range: %w", diskLen64, ErrOutOfRange)
	}

	diskLen = uint32(diskLen64)

	if diskLen == 0 {
		if !create {
			return nil, 0, 0, ErrNotFound
		}

		buf = newBuffer(maxSize)
		if err := buf.reserve(fileHeaderSize); err != nil {
			return nil, 0, 0, err
		}

		buf.end = fileHeaderSize
		newFileHeader(buf.data)

		return buf, fileHeaderSize, 0, nil
	}

	if diskLen < fileHeaderSize {
		return nil, 0, 0, fmt.Errorf("file size %d is shorter than the %d-byte header: %w", diskLen, fileHeaderSize, ErrOutOfRange)
	}

	raw := make([]byte, diskLen)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, 0, 0, wrapIOError(err)
	}

	if _, err := readFull(file, raw); err != nil {
		return nil, 0, 0, wrapIOError(err)
	}

	size, err := validateImage(raw, diskLen)
	if err != nil {
		return nil, 0, 0, err
	}

	buf = newBuffer(maxSize)
	if err := buf.reserve(size); err != nil {
		return nil, 0, 0, err
	}

	buf.end = size
	copy(buf.data, raw[:size])

	return buf, size, diskLen, nil
}

func readFull(file vfs.File, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := file.Read(dst[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			return total, fmt.Errorf("short read at %d of %d bytes", total, len(dst))
		}
	}

	return total, nil
}

// Commit flushes the buffer to disk. s must be open and writable. See
// spec §4.6.
//
// In-place mode seeks to 0, writes every byte, truncates to the new
// length, and fsyncs, leaving the store open. Swap mode writes to a
// `.tmp` sibling, fsyncs and closes it, renames it over the primary, and
// then closes the store - the rename invalidates the lock on the original
// inode, and the implementation does not attempt to re-open or re-lock.
func (s *Store) Commit() error {
	if !s.opened {
		return fmt.Errorf("commit: %w", ErrInvalidArgument)
	}

	if !s.writable {
		return fmt.Errorf("commit %q: %w", s.path, ErrInvalidArgument)
	}

	h := fileHeader{
		signature: fileSignature,
		version:   fileVersionByte,
		fileSize:  s.buf.end,
	}
	h.crc = headerCRC(s.buf.data, s.buf.end)
	encodeFileHeader(s.buf.data, h)

	if s.replicaMode == ReplicaSwap {
		return s.commitSwap()
	}

	return s.commitInPlace()
}

func (s *Store) commitInPlace() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("commit %q: %w", s.path, wrapIOError(err))
	}

	if _, err := s.file.Write(s.buf.bytes()); err != nil {
		return fmt.Errorf("commit %q: %w", s.path, wrapIOError(err))
	}

	if err := s.file.Truncate(int64(s.buf.end)); err != nil {
		return fmt.Errorf("commit %q: %w", s.path, wrapIOError(err))
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("commit %q: %w", s.path, wrapIOError(err))
	}

	return nil
}

func (s *Store) commitSwap() error {
	tmpPath := s.path + tmpSuffix

	tmp, err := s.fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("commit %q: opening %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	if _, err := tmp.Write(s.buf.bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("commit %q: writing %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	if err := tmp.Truncate(int64(s.buf.end)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("commit %q: truncating %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("commit %q: syncing %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("commit %q: closing %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("commit %q: renaming %q: %w", s.path, tmpPath, wrapIOError(err))
	}

	return s.closeNoSync()
}

// Close releases the file lock, frees the buffer, and resets s so it can
// be reused via [Store.Open]. Closing an already-closed store is a no-op.
func (s *Store) Close() error {
	if !s.opened {
		return nil
	}

	releaseLock(s.fs, s.file)

	return s.closeNoSync()
}

func (s *Store) closeNoSync() error {
	err := s.file.Close()

	*s = Store{}

	if err != nil {
		return fmt.Errorf("close: %w", wrapIOError(err))
	}

	return nil
}

func releaseLock(fs vfs.FS, file vfs.File) {
	_ = fs.Flock(file.Fd(), false, false, true)
}

func wrapIOError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %v", ErrIOError, err)
}
