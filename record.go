package kvstore

import "fmt"

// Record identifies one KVP by its byte offset into the store's image.
//
// A Record is a position, not a borrowed reference: any mutating call on
// the same [Store] (Insert, Erase, PutUnique, AllocUnique, EraseInRange)
// can shift the underlying buffer, invalidating every Record obtained
// before it. See the offset-vs-pointer note on the buffer type in buffer.go.
type Record struct {
	Key  uint16
	pos  uint32
	size uint16
}

func (r Record) valueSize() uint32 { return uint32(r.size) - recordHeaderSize }

// Begin returns the position of the first record after the file header.
func (s *Store) Begin() Record { return s.recordAt(s.begin()) }

// End returns the sentinel position one past the last record. It carries
// no key; callers compare positions with [Store.IsEnd], not Key.
func (s *Store) End() Record { return Record{pos: s.end(), Key: keyInvalid} }

// IsEnd reports whether r is the end sentinel.
func (s *Store) IsEnd(r Record) bool { return r.pos == s.end() }

func (s *Store) begin() uint32 { return fileHeaderSize }
func (s *Store) end() uint32   { return s.buf.end }

func (s *Store) recordAt(pos uint32) Record {
	if pos == s.end() {
		return s.End()
	}

	buf := s.buf.bytes()
	return Record{Key: recordKey(buf, pos), pos: pos, size: recordSize(buf, pos)}
}

// Value returns the value bytes of rec. The slice aliases the store's
// internal buffer and is only valid until the next mutating call.
func (s *Store) Value(rec Record) []byte {
	base := rec.pos + recordHeaderSize
	return s.buf.data[base : base+rec.valueSize()]
}

// Find scans from Begin for the first record bearing key.
func (s *Store) Find(key uint16) (Record, bool) {
	buf := s.buf.bytes()
	for p := s.begin(); p != s.end(); p = next(buf, p, s.end()) {
		if recordKey(buf, p) == key {
			return s.recordAt(p), true
		}
	}

	return Record{}, false
}

// Insert creates a new record of valueSize bytes at pos, shifting
// [pos, end) right. Value bytes are left uninitialised - callers write
// content afterward with [Store.WriteValue]. See spec §4.5.
func (s *Store) Insert(pos Record, key uint16, valueSize uint32) (Record, error) {
	if valueSize > 0xFFFF-recordHeaderSize {
		return Record{}, fmt.Errorf("value size %d overflows a 16-bit record size: %w", valueSize, ErrTooBig)
	}

	kvpSize := valueSize + recordHeaderSize

	if err := s.buf.insertBytes(pos.pos, kvpSize); err != nil {
		return Record{}, err
	}

	putRecordHeader(s.buf.data, pos.pos, key, uint16(kvpSize))

	return Record{Key: key, pos: pos.pos, size: uint16(kvpSize)}, nil
}

// Erase removes rec, shifting the tail left, and returns the record that
// now occupies rec's old position (End if rec was last).
func (s *Store) Erase(rec Record) Record {
	s.buf.eraseBytes(rec.pos, uint32(rec.size))
	return s.recordAt(rec.pos)
}

func (s *Store) erasePos(pos uint32) uint32 {
	size := uint32(recordSize(s.buf.bytes(), pos))
	s.buf.eraseBytes(pos, size)

	return pos
}

// WriteValue writes src into rec's value region starting at offset, then
// zeroes the remainder of the region. A partial write therefore clears any
// previously held tail bytes - callers that need to preserve them must
// rewrite them explicitly. See spec §4.5 and §9.
func (s *Store) WriteValue(rec Record, offset uint32, src []byte) error {
	valueSize := rec.valueSize()
	if offset+uint32(len(src)) > valueSize {
		return fmt.Errorf("write of %d bytes at offset %d exceeds %d-byte value region: %w", len(src), offset, valueSize, ErrTooBig)
	}

	base := rec.pos + recordHeaderSize
	copy(s.buf.data[base+offset:base+valueSize], src)
	clear(s.buf.data[base+offset+uint32(len(src)) : base+valueSize])

	return nil
}

// PutUnique makes key map to value, erasing any other records bearing the
// same key. If a same-key record of the exact right size already exists
// it is reused in place (avoiding a shift); otherwise it is erased and a
// fresh record is appended at End. See spec §4.5.
//
// end() is re-read via s.end() after every erase rather than cached,
// because erasure shifts the buffer - see the rescan-after-erase note in
// spec §9.
func (s *Store) PutUnique(key uint16, value []byte) (Record, error) {
	valueSize := uint32(len(value))
	if valueSize > 0xFFFF-recordHeaderSize {
		return Record{}, fmt.Errorf("value size %d overflows a 16-bit record size: %w", valueSize, ErrTooBig)
	}

	wantSize := uint16(valueSize + recordHeaderSize)

	var (
		rec     Record
		haveRec bool
	)

	p := s.begin()
	for p != s.end() {
		buf := s.buf.bytes()

		if recordKey(buf, p) != key {
			p = next(buf, p, s.end())
			continue
		}

		if !haveRec && recordSize(buf, p) == wantSize {
			rec = s.recordAt(p)
			haveRec = true
			p = next(buf, p, s.end())
			continue
		}

		p = s.erasePos(p)
	}

	if !haveRec {
		r, err := s.Insert(s.End(), key, valueSize)
		if err != nil {
			return Record{}, err
		}

		rec = r
	}

	if err := s.WriteValue(rec, 0, value); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// AllocUnique walks candidate keys firstKey, firstKey+increment, ... and
// appends a new record bearing the smallest one in [firstKey, lastKey)
// not already present. Uniqueness is checked against the store's current
// contents only. See spec §4.5.
func (s *Store) AllocUnique(firstKey, lastKey uint16, valueSize uint32, increment uint16) (Record, error) {
	if increment == 0 {
		return Record{}, fmt.Errorf("increment must be >= 1: %w", ErrInvalidArgument)
	}

	for key := uint32(firstKey); key < uint32(lastKey); key += uint32(increment) {
		if _, found := s.Find(uint16(key)); found {
			continue
		}

		return s.Insert(s.End(), uint16(key), valueSize)
	}

	return Record{}, fmt.Errorf("no unused key in [%d, %d) step %d: %w", firstKey, lastKey, increment, ErrNotFound)
}

// EraseInRange erases every record whose key k satisfies firstKey <= k <
// lastKey and (k-firstKey) mod increment == 0. See spec §4.5.
func (s *Store) EraseInRange(firstKey, lastKey uint16, increment uint16) error {
	if firstKey > lastKey || increment == 0 {
		return fmt.Errorf("invalid range [%d, %d) step %d: %w", firstKey, lastKey, increment, ErrInvalidArgument)
	}

	p := s.begin()
	for p != s.end() {
		buf := s.buf.bytes()
		key := recordKey(buf, p)

		if keyInRange(key, firstKey, lastKey, increment) {
			p = s.erasePos(p)
			continue
		}

		p = next(buf, p, s.end())
	}

	return nil
}

// NextInRange returns the first record after pos matching the same
// predicate as [Store.EraseInRange], or End if none remains. Pass the zero
// Record to scan from the first record; any other pos, including the one
// returned by [Store.Begin], starts the scan at the record after it. See
// spec §4.5.
func (s *Store) NextInRange(pos Record, firstKey, lastKey uint16, increment uint16) Record {
	var p uint32
	if pos.pos == 0 {
		// The zero Record never names a real position: the first record
		// sits at fileHeaderSize and End is always >= fileHeaderSize.
		p = s.begin()
	} else {
		p = next(s.buf.bytes(), pos.pos, s.end())
	}

	for p != s.end() {
		buf := s.buf.bytes()
		key := recordKey(buf, p)

		if keyInRange(key, firstKey, lastKey, increment) {
			return s.recordAt(p)
		}

		p = next(buf, p, s.end())
	}

	return s.End()
}

func keyInRange(key, firstKey, lastKey, increment uint16) bool {
	if key < firstKey || key >= lastKey {
		return false
	}

	return (key-firstKey)%increment == 0
}

// Stat is a read-only summary of a store's current contents.
type Stat struct {
	// RecordCount is the number of user records currently stored.
	RecordCount int
	// ContentLength is the size in bytes of the header plus every record,
	// i.e. the length [Store.Commit] would write.
	ContentLength uint32
	// MaxSize is the adjusted cap passed to [Open] (spec §4.7).
	MaxSize uint32
}

// Stat returns a snapshot summary of s, walking the record list once.
// Analogous to slotcache.Cache.Len() in spirit, extended with the size
// fields this format's header already carries.
func (s *Store) Stat() (Stat, error) {
	if !s.opened {
		return Stat{}, fmt.Errorf("stat: %w", ErrInvalidArgument)
	}

	buf := s.buf.bytes()

	count := 0
	for p := s.begin(); p != s.end(); p = next(buf, p, s.end()) {
		count++
	}

	return Stat{RecordCount: count, ContentLength: s.buf.end, MaxSize: s.maxSize}, nil
}
