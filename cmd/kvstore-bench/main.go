// Package main provides kvstore-bench, a throwaway load generator for
// exercising a kvstore image's insert/put/commit path.
package main

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/azsphere/kvstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kvstore-bench:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var helpBuf bytes.Buffer

	flagSet := flag.NewFlagSet("kvstore-bench", flag.ContinueOnError)
	flagSet.SetOutput(&helpBuf)
	flagSet.Usage = func() {
		w := flagSet.Output()
		fmt.Fprintf(w, "Usage: kvstore-bench [options]\n\n")
		fmt.Fprintf(w, "Put and commit records against a scratch kvstore image.\n\n")
		fmt.Fprintf(w, "Options:\n")
		flagSet.PrintDefaults()
	}

	path := flagSet.StringP("path", "p", "", "store path (required; created if absent)")
	records := flagSet.IntP("records", "n", 200, "number of distinct keys to put_unique")
	valueSize := flagSet.IntP("value-size", "s", 32, "value size in bytes per record")
	maxSize := flagSet.Uint32P("max-size", "m", 1<<20, "requested max store size in bytes")
	swap := flagSet.Bool("swap", false, "use swap (tmp+rename) commit instead of in-place")
	commitEvery := flagSet.IntP("commit-every", "c", 50, "commit after this many puts")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			fmt.Print(helpBuf.String())
			return nil
		}

		return err
	}

	if *path == "" {
		flagSet.Usage()
		fmt.Print(helpBuf.String())

		return fmt.Errorf("--path is required")
	}

	replicaMode := kvstore.ReplicaInPlace
	if *swap {
		replicaMode = kvstore.ReplicaSwap
	}

	s, err := kvstore.Open(kvstore.Options{
		Path:        *path,
		MaxSize:     *maxSize,
		Flags:       kvstore.FlagReadWrite | kvstore.FlagCreate,
		ReplicaMode: replicaMode,
	})
	if err != nil {
		return fmt.Errorf("opening %q: %w", *path, err)
	}
	defer func() { _ = s.Close() }()

	value := make([]byte, *valueSize)

	start := time.Now()

	for i := 0; i < *records; i++ {
		if _, err := rand.Read(value); err != nil {
			return fmt.Errorf("generating value %d: %w", i, err)
		}

		if _, err := s.PutUnique(uint16(i%0xFFFA), value); err != nil {
			return fmt.Errorf("put_unique %d: %w", i, err)
		}

		if *commitEvery > 0 && (i+1)%*commitEvery == 0 {
			if err := s.Commit(); err != nil {
				return fmt.Errorf("commit after %d puts: %w", i+1, err)
			}

			if replicaMode == kvstore.ReplicaSwap {
				// A swap commit closes the store; re-open to continue.
				s, err = kvstore.Open(kvstore.Options{
					Path:        *path,
					MaxSize:     *maxSize,
					Flags:       kvstore.FlagReadWrite | kvstore.FlagCreate,
					ReplicaMode: replicaMode,
				})
				if err != nil {
					return fmt.Errorf("re-opening %q after swap: %w", *path, err)
				}
			}
		}
	}

	if err := s.Commit(); err != nil {
		return fmt.Errorf("final commit: %w", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("put %d records (%d bytes each) in %s (%.0f puts/sec)\n",
		*records, *valueSize, elapsed, float64(*records)/elapsed.Seconds())

	return nil
}
