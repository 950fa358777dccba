package kvstore

import "errors"

// Kind classifies a failure into the taxonomy of spec §7. It exists so
// callers that need to branch on the *category* of error (not a specific
// call site) can do so without string matching.
type Kind int

// Error kinds, in the order they appear in spec §7's table.
const (
	// KindAlreadyOpen: Open called on a handle that already owns a file.
	KindAlreadyOpen Kind = iota
	// KindNotFound: Open without create on an empty/absent file, or a
	// unique-key allocator exhausted its range.
	KindNotFound
	// KindOutOfRange: an on-disk file is shorter than the file header.
	KindOutOfRange
	// KindInvalidArgument: format validation failed, or a caller passed
	// invalid arguments (bad replica mode, inverted range, zero increment).
	KindInvalidArgument
	// KindTooBig: a requested capacity exceeds the adjusted max size, or a
	// write would overrun a record's value region.
	KindTooBig
	// KindOutOfMemory: a buffer reallocation failed.
	KindOutOfMemory
	// KindNoSpace: the adjusted max size computed to zero.
	KindNoSpace
	// KindIOError: a filesystem primitive returned a platform error.
	KindIOError
)

// Sentinel errors, one per [Kind]. Wrap these with fmt.Errorf("...: %w", ...)
// for call-site context; callers should match with [errors.Is].
var (
	ErrAlreadyOpen     = errors.New("kvstore: already open")
	ErrNotFound        = errors.New("kvstore: not found")
	ErrOutOfRange      = errors.New("kvstore: out of range")
	ErrInvalidArgument = errors.New("kvstore: invalid argument")
	ErrTooBig          = errors.New("kvstore: too big")
	ErrOutOfMemory     = errors.New("kvstore: out of memory")
	ErrNoSpace         = errors.New("kvstore: no space")
	ErrIOError         = errors.New("kvstore: io error")
)

// kindErrors maps each Kind to its sentinel, for [KindOf].
var kindErrors = [...]error{
	KindAlreadyOpen:     ErrAlreadyOpen,
	KindNotFound:        ErrNotFound,
	KindOutOfRange:      ErrOutOfRange,
	KindInvalidArgument: ErrInvalidArgument,
	KindTooBig:          ErrTooBig,
	KindOutOfMemory:     ErrOutOfMemory,
	KindNoSpace:         ErrNoSpace,
	KindIOError:         ErrIOError,
}

// KindOf reports which [Kind] of sentinel err wraps, and whether it wraps
// one of them at all.
func KindOf(err error) (Kind, bool) {
	for k, sentinel := range kindErrors {
		if errors.Is(err, sentinel) {
			return Kind(k), true
		}
	}

	return 0, false
}
