package kvstore

import (
	"bytes"
	"errors"
	"testing"
)

// TestNewFileHeader_MatchesLiteralBytes is scenario S1 (spec §8): a fresh
// header's signature/version/size fields have exact literal values.
func TestNewFileHeader_MatchesLiteralBytes(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fileHeaderSize)
	newFileHeader(buf)

	want := []byte{0xFB, 0xFF, 0x0C, 0x00, 0xC6, 0x00}
	if !bytes.Equal(buf[:6], want) {
		t.Fatalf("fresh header bytes[:6] = % X, want % X", buf[:6], want)
	}
}

func TestValidateImage_AcceptsFreshlyCommittedHeader(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fileHeaderSize)
	newFileHeader(buf)

	h := decodeFileHeader(buf)
	h.fileSize = fileHeaderSize
	h.crc = headerCRC(buf, fileHeaderSize)
	encodeFileHeader(buf, h)

	size, err := validateImage(buf, fileHeaderSize)
	if err != nil {
		t.Fatalf("validateImage on a fresh committed header: %v", err)
	}

	if size != fileHeaderSize {
		t.Fatalf("validated size = %d, want %d", size, fileHeaderSize)
	}
}

func TestValidateImage_AcceptsHeaderPlusUserRecord(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fileHeaderSize+4)
	newFileHeader(buf)
	putRecordHeader(buf, fileHeaderSize, 42, 4)

	fileSize := uint32(fileHeaderSize + 4)

	h := decodeFileHeader(buf)
	h.fileSize = fileSize
	h.crc = headerCRC(buf, fileSize)
	encodeFileHeader(buf, h)

	size, err := validateImage(buf, fileSize)
	if err != nil {
		t.Fatalf("validateImage: %v", err)
	}

	if size != fileSize {
		t.Fatalf("validated size = %d, want %d", size, fileSize)
	}
}

func commitHeader(buf []byte, fileSize uint32) {
	h := decodeFileHeader(buf)
	h.fileSize = fileSize
	h.crc = headerCRC(buf, fileSize)
	encodeFileHeader(buf, h)
}

func TestValidateImage_RejectsTamperedInput(t *testing.T) {
	t.Parallel()

	fresh := func() []byte {
		buf := make([]byte, fileHeaderSize)
		newFileHeader(buf)
		commitHeader(buf, fileHeaderSize)

		return buf
	}

	testCases := []struct {
		name  string
		corrupt func(buf []byte)
	}{
		{name: "BadKey", corrupt: func(buf []byte) { putRecordHeader(buf, 0, 0x1234, fileHeaderSize) }},
		{name: "SizeTooSmall", corrupt: func(buf []byte) { putRecordHeader(buf, 0, keyFileHeader, 4) }},
		{name: "BadSignature", corrupt: func(buf []byte) { buf[4] = 0x00 }},
		{name: "BadVersion", corrupt: func(buf []byte) { buf[5] = 1 }},
		{name: "CorruptCRC", corrupt: func(buf []byte) { buf[10] ^= 0xFF }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := fresh()
			tc.corrupt(buf)

			_, err := validateImage(buf, fileHeaderSize)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("validateImage on tampered %s: err=%v, want ErrInvalidArgument", tc.name, err)
			}
		})
	}
}

func TestValidateImage_RejectsFileSizeOutOfRange(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fileHeaderSize)
	newFileHeader(buf)
	commitHeader(buf, fileHeaderSize)

	h := decodeFileHeader(buf)
	h.fileSize = fileHeaderSize + 100 // exceeds the buffer we pass as `size`
	encodeFileHeader(buf, h)

	_, err := validateImage(buf, fileHeaderSize)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("validateImage with file_size > size: err=%v, want ErrInvalidArgument", err)
	}
}

func TestValidateImage_RejectsWalkStoppingShort(t *testing.T) {
	t.Parallel()

	buf := make([]byte, fileHeaderSize+4)
	newFileHeader(buf)
	// A zero-size trailing record breaks the walk before file_size.
	putRecordHeader(buf, fileHeaderSize, 1, 0)

	fileSize := uint32(fileHeaderSize + 4)
	commitHeader(buf, fileSize)

	_, err := validateImage(buf, fileSize)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("validateImage over a short walk: err=%v, want ErrInvalidArgument", err)
	}
}

func TestValidateImage_AllowsOnDiskLengthLongerThanFileSize(t *testing.T) {
	t.Parallel()

	// Property 2 (spec §8): validate returns non-zero for the valid prefix
	// even when trailing garbage follows file_size - the crash-recovery
	// case.
	buf := make([]byte, fileHeaderSize+8)
	newFileHeader(buf)
	commitHeader(buf, fileHeaderSize)

	size, err := validateImage(buf, uint32(len(buf)))
	if err != nil {
		t.Fatalf("validateImage with trailing garbage: %v", err)
	}

	if size != fileHeaderSize {
		t.Fatalf("validated size = %d, want %d", size, fileHeaderSize)
	}
}
