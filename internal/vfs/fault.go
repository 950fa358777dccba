package vfs

import (
	"os"
)

// FaultConfig controls the fault shapes [FaultFS] injects.
//
// The zero value disables all injection. This is a small, purpose-built
// subset of fault shapes - just enough to exercise the store's
// crash-recovery paths (spec §8 properties 6 and 7) - not a general chaos
// harness.
type FaultConfig struct {
	// TruncateWriteAfter, if > 0, makes the next file opened for writing
	// persist only the first TruncateWriteAfter bytes written to it, counted
	// across all its Write calls; later bytes are reported as written but
	// discarded, simulating a process that crashed mid-write.
	TruncateWriteAfter int

	// DropRename, if true, makes the next Rename a no-op success: the
	// rename appears to succeed to the caller but the old path is left in
	// place, simulating a crash between "commit" and "rename durably
	// observed", as if the rename itself never reached disk.
	DropRename bool
}

// FaultFS wraps an [FS] and injects a bounded, explicit set of faults for
// tests. Each fault fires at most once.
type FaultFS struct {
	inner FS
	cfg   FaultConfig
}

// NewFaultFS wraps inner, injecting faults per cfg.
func NewFaultFS(inner FS, cfg FaultConfig) *FaultFS {
	return &FaultFS{inner: inner, cfg: cfg}
}

func (f *FaultFS) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	file, err := f.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	if f.cfg.TruncateWriteAfter > 0 && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		wrapped := &truncatingFile{File: file, remaining: f.cfg.TruncateWriteAfter}
		f.cfg.TruncateWriteAfter = 0

		return wrapped, nil
	}

	return file, nil
}

func (f *FaultFS) Stat(path string) (os.FileInfo, error) { return f.inner.Stat(path) }
func (f *FaultFS) Remove(path string) error              { return f.inner.Remove(path) }

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if f.cfg.DropRename {
		f.cfg.DropRename = false

		return nil
	}

	return f.inner.Rename(oldpath, newpath)
}

func (f *FaultFS) BlockSize(path string) (uint64, error) { return f.inner.BlockSize(path) }

func (f *FaultFS) Flock(fd uintptr, exclusive, nonblocking, unlock bool) error {
	return f.inner.Flock(fd, exclusive, nonblocking, unlock)
}

// truncatingFile lets the first `remaining` bytes of writes through, then
// reports success without actually writing any further bytes - standing in
// for a writer that crashed after flushing only part of its buffer.
type truncatingFile struct {
	File
	remaining int
}

func (t *truncatingFile) Write(p []byte) (int, error) {
	if t.remaining <= 0 {
		return len(p), nil
	}

	if len(p) <= t.remaining {
		t.remaining -= len(p)

		return t.File.Write(p)
	}

	n, err := t.File.Write(p[:t.remaining])
	t.remaining = 0

	if err != nil {
		return n, err
	}

	return len(p), nil
}
