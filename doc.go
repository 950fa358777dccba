// Package kvstore provides a small, durable, file-backed key-value store
// for embedded and system-configuration use.
//
// A store is a flat sequence of short binary records, each identified by a
// 16-bit key, held on a single filesystem path. It is loaded fully into
// memory on open, edited in memory, and written back to disk on Commit -
// either in place or via a temp-file-and-rename swap, depending on the
// configured [ReplicaMode].
//
// # Basic usage
//
//	s, err := kvstore.Open(kvstore.Options{
//	    Path:        "/etc/wpa/profile.kvs",
//	    MaxSize:     8192,
//	    Flags:       kvstore.FlagReadWrite | kvstore.FlagCreate,
//	    ReplicaMode: kvstore.ReplicaSwap,
//	})
//	if err != nil {
//	    // handle
//	}
//	defer s.Close()
//
//	rec, err := s.PutUnique(189, []byte("hello"))
//	if err != nil {
//	    // handle
//	}
//	_ = rec
//
//	if err := s.Commit(); err != nil {
//	    // handle
//	}
//
// # Concurrency
//
// A single [Store] handle is not safe for concurrent use by multiple
// goroutines; all operations on one instance must be serialized by the
// caller. Across processes, concurrency is mediated entirely by an advisory
// whole-file lock acquired at Open and released at Close: multiple readers
// may coexist, but at most one writer exists at a time, and lock
// acquisition is non-blocking - a conflicting Open fails immediately rather
// than waiting.
//
// # Error handling
//
// Fallible operations return one of the sentinel errors in errors.go,
// optionally wrapped with additional context via fmt.Errorf's %w. Callers
// should classify errors with [errors.Is].
package kvstore
