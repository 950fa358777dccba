package kvstore

import (
	"path/filepath"

	"github.com/azsphere/kvstore/internal/vfs"
)

// blockOverhead is the per-block filesystem overhead modelled by
// adjustedMaxSize, fixed by the specification rather than measured.
const blockOverhead = 16

// adjustedMaxSize narrows requested down to account for inode-pointer
// overhead on the filesystem backing path: it looks up the block size B of
// the directory containing path via statvfs and subtracts
// ceil(requested/B) * blockOverhead bytes. The directory, not path itself,
// is queried because path frequently doesn't exist yet - Open calls this
// before the file is created. It returns 0 - which callers turn into
// [ErrNoSpace] - if requested <= blockOverhead, if the block size lookup
// fails, or if the computed overhead would consume the entire request. See
// spec §4.7.
func adjustedMaxSize(fs vfs.FS, path string, requested uint32) uint32 {
	if requested <= blockOverhead {
		return 0
	}

	blockSize, err := fs.BlockSize(filepath.Dir(path))
	if err != nil || blockSize == 0 {
		return 0
	}

	blocks := (uint64(requested) + blockSize - 1) / blockSize
	overhead := blocks * blockOverhead

	if overhead >= uint64(requested) {
		return 0
	}

	return requested - uint32(overhead)
}
