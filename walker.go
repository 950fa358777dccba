package kvstore

import "encoding/binary"

// Record header field widths, per spec §3.
const (
	recordHeaderSize = 4 // key (2B) + size (2B)
	minRecordSize    = recordHeaderSize
)

// recordKey reads the key field of the record at offset p in buf.
// Callers must ensure end-p >= recordHeaderSize.
func recordKey(buf []byte, p uint32) uint16 {
	return binary.LittleEndian.Uint16(buf[p:])
}

// recordSize reads the size field of the record at offset p in buf.
// Callers must ensure end-p >= recordHeaderSize.
func recordSize(buf []byte, p uint32) uint16 {
	return binary.LittleEndian.Uint16(buf[p+2:])
}

func putRecordHeader(buf []byte, p uint32, key, size uint16) {
	binary.LittleEndian.PutUint16(buf[p:], key)
	binary.LittleEndian.PutUint16(buf[p+2:], size)
}

// kvpSizeAvail returns the record's declared size at p if p names a record
// whose declared size fits within [p, end); otherwise it returns end-p, the
// number of bytes actually available. See spec §4.2.
func kvpSizeAvail(buf []byte, p, end uint32) uint32 {
	avail := end - p
	if avail < recordHeaderSize {
		return avail
	}

	size := uint32(recordSize(buf, p))
	if size <= avail {
		return size
	}

	return avail
}

// canDereference reports whether the record at p can be safely read: p is
// not the end sentinel, at least a header's worth of bytes remain, the
// declared size is at least the header size, and the declared size fits
// within [p, end). See spec §4.2.
func canDereference(buf []byte, p, end uint32) bool {
	if p == end {
		return false
	}

	avail := end - p
	if avail < recordHeaderSize {
		return false
	}

	size := uint32(recordSize(buf, p))

	return size >= minRecordSize && size <= avail
}

// next advances the cursor p by one record: if p is dereferenceable, to
// p+size; otherwise straight to end, which guarantees iteration terminates
// even over a partially written or corrupt image. See spec §4.2.
func next(buf []byte, p, end uint32) uint32 {
	if canDereference(buf, p, end) {
		return p + uint32(recordSize(buf, p))
	}

	return end
}
