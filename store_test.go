package kvstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/azsphere/kvstore/internal/vfs"
)

// TestOpenCommit_S1 is scenario S1 (spec §8): a fresh in-place store,
// committed empty, produces the literal 12-byte on-disk header.
func TestOpenCommit_S1(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file must exist once opened with FlagCreate: %v", err)
	}

	if info, _ := os.Stat(path); info.Size() != 0 {
		t.Fatalf("before commit, on-disk size = %d, want 0", info.Size())
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	want := []byte{0xFB, 0xFF, 0x0C, 0x00, 0xC6, 0x00, 0x0C, 0x00, 0x00, 0x00, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("committed bytes = % X, want % X", got, want)
	}
}

func TestOpen_FailsWhenAlreadyOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate})
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("reopening an open handle: err=%v, want ErrAlreadyOpen", err)
	}
}

func TestOpen_FailsNotFoundWithoutCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.kvs")

	_, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open on an absent file without FlagCreate: err=%v, want ErrNotFound", err)
	}
}

func TestOpen_FailsNoSpaceWhenRequestedTooSmall(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	_, err := Open(Options{Path: path, MaxSize: 8, Flags: FlagReadWrite | FlagCreate})
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Open with requested size <= 16: err=%v, want ErrNoSpace", err)
	}
}

// TestRoundTrip is property 1 (spec §8): committing, closing, and
// re-opening yields an identical record sequence.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	type kv struct {
		key   uint16
		value []byte
	}

	want := []kv{
		{1, []byte("alpha")},
		{2, []byte("beta")},
		{3, []byte("")},
		{4, []byte("delta-value-bytes")},
	}

	for _, e := range want {
		if _, err := s.PutUnique(e.key, e.value); err != nil {
			t.Fatalf("PutUnique(%d): %v", e.key, err)
		}
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite})
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer reopened.Close()

	for _, e := range want {
		rec, found := reopened.Find(e.key)
		if !found {
			t.Fatalf("key %d missing after round trip", e.key)
		}

		if !bytes.Equal(reopened.Value(rec), e.value) {
			t.Fatalf("key %d value = %q, want %q", e.key, reopened.Value(rec), e.value)
		}
	}
}

// TestOpen_CrashRecovery_S6 is scenario S6 (spec §8): a file truncated
// externally to file_size+4 extra zero bytes still opens, and the
// on-disk file shrinks back to file_size.
func TestOpen_CrashRecovery_S6(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := s.PutUnique(1, []byte("hello")); err != nil {
		t.Fatalf("PutUnique: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	validSize, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("OpenFile for external append: %v", err)
	}

	if _, err := f.Write(make([]byte, 4)); err != nil {
		t.Fatalf("appending trailing garbage: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("closing after external append: %v", err)
	}

	recovered, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite})
	if err != nil {
		t.Fatalf("Open over a file with trailing garbage: %v", err)
	}
	defer recovered.Close()

	rec, found := recovered.Find(1)
	if !found {
		t.Fatalf("key 1 missing after crash recovery")
	}

	if !bytes.Equal(recovered.Value(rec), []byte("hello")) {
		t.Fatalf("Value after crash recovery = %q, want %q", recovered.Value(rec), "hello")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat after recovery: %v", err)
	}

	if info.Size() != validSize.Size() {
		t.Fatalf("on-disk size after recovery = %d, want %d (truncated back to file_size)", info.Size(), validSize.Size())
	}
}

// TestOpen_SwapAtomicity_S7 is property 7 (spec §8): a stray .tmp sibling
// is removed before any read of the primary, even when opening read-only.
func TestOpen_SwapAtomicity_S7(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate, ReplicaMode: ReplicaSwap})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := s.PutUnique(1, []byte("hi")); err != nil {
		t.Fatalf("PutUnique: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Swap commit closes the store.

	if err := os.WriteFile(path+".tmp", []byte("stray partial write"), 0o600); err != nil {
		t.Fatalf("writing stray .tmp sibling: %v", err)
	}

	reopened, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadOnly, ReplicaMode: ReplicaSwap})
	if err != nil {
		t.Fatalf("Open with a stray .tmp sibling present: %v", err)
	}
	defer reopened.Close()

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("stray .tmp sibling still present after open: err=%v", err)
	}

	rec, found := reopened.Find(1)
	if !found || !bytes.Equal(reopened.Value(rec), []byte("hi")) {
		t.Fatalf("primary contents corrupted by stray .tmp handling")
	}
}

func TestCommit_SwapMode_ClosesTheStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate, ReplicaMode: ReplicaSwap})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s.Commit(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Commit after a swap commit should fail (store is closed): err=%v", err)
	}
}

func TestOpen_FaultFS_TornInPlaceWriteIsRejectedOnNextOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.kvs")
	real := vfs.NewReal()

	s, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite | FlagCreate, FS: real})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := s.PutUnique(1, []byte("first-commit-stays-valid")); err != nil {
		t.Fatalf("PutUnique: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("first Commit: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	faulty := vfs.NewFaultFS(real, vfs.FaultConfig{TruncateWriteAfter: 12})

	s2, err := Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadWrite, FS: faulty})
	if err != nil {
		t.Fatalf("re-Open under fault injection: %v", err)
	}

	if _, err := s2.PutUnique(2, []byte("this-write-gets-torn")); err != nil {
		t.Fatalf("PutUnique: %v", err)
	}

	// The torn write leaves an invalid image on disk; Commit itself
	// reports success (Write never errors), but the file is now corrupt.
	_ = s2.Commit()
	_ = s2.Close()

	// Opening with the real filesystem must reject the torn image.
	_, err = Open(Options{Path: path, MaxSize: 8192, Flags: FlagReadOnly, FS: real})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("opening a torn in-place write: err=%v, want ErrInvalidArgument", err)
	}
}
