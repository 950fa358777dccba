package kvstore

import (
	"encoding/binary"
	"fmt"
)

// File header layout, per spec §3. The header is the first record of every
// image: a generic 4-byte record header (key=keyFileHeader, size=
// fileHeaderSize) followed by a 1-byte signature, a 1-byte version, a
// 4-byte file_size, and a 2-byte crc - fileHeaderSize bytes in total, with
// the first user record beginning immediately after at offset
// fileHeaderSize.
const (
	keyFileHeader uint16 = 0xFFFB
	keyInvalid    uint16 = 0xFFFF
	maxUserKey    uint16 = 0xFFFA

	fileHeaderSize   = 12
	fileSignature    = 0xC6
	fileVersionByte  = 0
	crcInit          = 0xFFFFFFFF
)

// fileHeader is the decoded form of the header record.
type fileHeader struct {
	signature byte
	version   byte
	fileSize  uint32
	crc       uint16
}

func decodeFileHeader(buf []byte) fileHeader {
	return fileHeader{
		signature: buf[4],
		version:   buf[5],
		fileSize:  binary.LittleEndian.Uint32(buf[6:10]),
		crc:       binary.LittleEndian.Uint16(buf[10:12]),
	}
}

func encodeFileHeader(buf []byte, h fileHeader) {
	putRecordHeader(buf, 0, keyFileHeader, fileHeaderSize)
	buf[4] = h.signature
	buf[5] = h.version
	binary.LittleEndian.PutUint32(buf[6:10], h.fileSize)
	binary.LittleEndian.PutUint16(buf[10:12], h.crc)
}

// headerCRC computes the checksum of buf[fileHeaderSize:fileSize], the
// portion the header's crc field covers.
func headerCRC(buf []byte, fileSize uint32) uint16 {
	return uint16(crcUpdate(crcInit, buf[fileHeaderSize:fileSize]))
}

// validateImage checks that buf[:size] begins with a conforming file
// header and walks cleanly to its declared file_size, per spec §4.4.  On
// success it returns the validated content length, which may be less than
// size - the on-disk file is allowed to be longer than the valid image,
// the crash-recovery case handled by [Store.Open].
func validateImage(buf []byte, size uint32) (uint32, error) {
	if size < 4 {
		return 0, fmt.Errorf("image too short for a header: %w", ErrInvalidArgument)
	}

	if recordKey(buf, 0) != keyFileHeader || recordSize(buf, 0) < fileHeaderSize {
		return 0, fmt.Errorf("missing file header: %w", ErrInvalidArgument)
	}

	if size < fileHeaderSize {
		return 0, fmt.Errorf("image too short for a header: %w", ErrInvalidArgument)
	}

	h := decodeFileHeader(buf)

	if h.signature != fileSignature || h.version != fileVersionByte {
		return 0, fmt.Errorf("unrecognised signature or version: %w", ErrInvalidArgument)
	}

	if h.fileSize < fileHeaderSize || h.fileSize > size {
		return 0, fmt.Errorf("file_size %d out of range [%d, %d]: %w", h.fileSize, fileHeaderSize, size, ErrInvalidArgument)
	}

	if headerCRC(buf, h.fileSize) != h.crc {
		return 0, fmt.Errorf("crc mismatch: %w", ErrInvalidArgument)
	}

	for p := uint32(fileHeaderSize); p != h.fileSize; {
		if !canDereference(buf, p, h.fileSize) {
			return 0, fmt.Errorf("walk stopped short of file_size at %d: %w", p, ErrInvalidArgument)
		}

		if recordKey(buf, p) == keyFileHeader {
			return 0, fmt.Errorf("duplicate file header key at %d: %w", p, ErrInvalidArgument)
		}

		p = next(buf, p, h.fileSize)
	}

	return h.fileSize, nil
}

// newFileHeader synthesizes the header for a freshly created, empty store.
// file_size and crc are left zero until the first commit (spec §4.6 step 6).
func newFileHeader(buf []byte) {
	encodeFileHeader(buf, fileHeader{signature: fileSignature, version: fileVersionByte})
}
