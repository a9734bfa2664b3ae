package logkv

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Hard wire-format bounds on key and value sizes. The configured
// limits apply on the write path only, so a store re-opened with
// smaller limits can still replay its own log.
const (
	frameMaxKeySize   = 16 << 20
	frameMaxValueSize = 256 << 20
)

// appendRecord frames a single record and appends it to dst.
func appendRecord(dst []byte, kind byte, key, value []byte) []byte {
	start := len(dst)
	tmp := make([]byte, 2*binary.MaxVarintLen64)

	dst = append(dst, kind)
	n := binary.PutUvarint(tmp[0:], uint64(len(key)))
	n += binary.PutUvarint(tmp[n:], uint64(len(value)))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, key...)
	dst = append(dst, value...)

	crc := crc32.ChecksumIEEE(dst[start:])
	binary.LittleEndian.PutUint32(tmp, crc)
	return append(dst, tmp[:4]...)
}

// decodeRecord parses a fully framed record, verifying its checksum.
// The returned key and value alias buf.
func decodeRecord(buf []byte) (kind byte, key, value []byte, err error) {
	if len(buf) < 7 { // kind + 2 lengths + crc
		return 0, nil, nil, ErrCorrupted
	}

	crc := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(buf[:len(buf)-4]) != crc {
		return 0, nil, nil, ErrCorrupted
	}

	kind = buf[0]
	if kind != kindPut && kind != kindDelete {
		return 0, nil, nil, ErrCorrupted
	}

	pos := 1
	klen, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return 0, nil, nil, ErrCorrupted
	}
	pos += n

	vlen, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return 0, nil, nil, ErrCorrupted
	}
	pos += n

	if int64(pos)+int64(klen)+int64(vlen)+4 != int64(len(buf)) {
		return 0, nil, nil, ErrCorrupted
	}

	key = buf[pos : pos+int(klen)]
	value = buf[pos+int(klen) : pos+int(klen)+int(vlen)]
	return kind, key, value, nil
}

// --------------------------------------------------------------------

// recordScanner reads framed records sequentially from a stream,
// tracking record boundaries. It is used for recovery replay and for
// restoring backups.
type recordScanner struct {
	br *bufio.Reader

	kind byte
	key  []byte
	val  []byte

	off  int64 // offset of the current record
	next int64 // offset right after the current record
	err  error // nil on clean EOF, ErrCorrupted on a framing/checksum failure

	buf []byte
}

func newRecordScanner(r io.Reader) *recordScanner {
	return &recordScanner{
		br: bufio.NewReaderSize(r, 64*1024),
	}
}

// Next advances to the next record. It returns false at the end of
// valid data; Err distinguishes a clean end from a corrupt tail.
func (s *recordScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.off = s.next
	s.buf = s.buf[:0]

	kind, err := s.br.ReadByte()
	if err == io.EOF {
		return false // clean end at a record boundary
	} else if err != nil {
		s.err = ErrCorrupted
		return false
	}
	s.buf = append(s.buf, kind)
	if kind != kindPut && kind != kindDelete {
		s.err = ErrCorrupted
		return false
	}

	klen, ok := s.readUvarint()
	if !ok || klen > frameMaxKeySize {
		s.err = ErrCorrupted
		return false
	}
	vlen, ok := s.readUvarint()
	if !ok || vlen > frameMaxValueSize {
		s.err = ErrCorrupted
		return false
	}

	pos := len(s.buf)
	need := int(klen) + int(vlen) + 4
	for len(s.buf) < pos+need {
		s.buf = append(s.buf, 0)
	}
	if _, err := io.ReadFull(s.br, s.buf[pos:pos+need]); err != nil {
		s.err = ErrCorrupted
		return false
	}

	crc := binary.LittleEndian.Uint32(s.buf[len(s.buf)-4:])
	if crc32.ChecksumIEEE(s.buf[:len(s.buf)-4]) != crc {
		s.err = ErrCorrupted
		return false
	}

	s.kind = kind
	s.key = s.buf[pos : pos+int(klen)]
	s.val = s.buf[pos+int(klen) : pos+int(klen)+int(vlen)]
	s.next = s.off + int64(len(s.buf))
	return true
}

// Kind returns the kind of the current record.
func (s *recordScanner) Kind() byte { return s.kind }

// Key returns the key of the current record. It is only valid until
// the next call to Next.
func (s *recordScanner) Key() []byte { return s.key }

// Value returns the value of the current record. It is only valid
// until the next call to Next.
func (s *recordScanner) Value() []byte { return s.val }

// Offset returns the byte offset of the current record.
func (s *recordScanner) Offset() int64 { return s.off }

// Size returns the framed size of the current record.
func (s *recordScanner) Size() int64 { return int64(len(s.buf)) }

// ValidSize returns the number of bytes up to the last verified
// record boundary.
func (s *recordScanner) ValidSize() int64 { return s.next }

// Err returns nil if the scanner stopped at a clean end of stream,
// or ErrCorrupted if it stopped at a partial or damaged record.
func (s *recordScanner) Err() error { return s.err }

// readUvarint consumes a varint byte by byte, preserving the raw
// bytes for checksum verification.
func (s *recordScanner) readUvarint() (uint64, bool) {
	var x uint64
	var shift uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := s.br.ReadByte()
		if err != nil {
			return 0, false
		}
		s.buf = append(s.buf, b)
		if b < 0x80 {
			return x | uint64(b)<<shift, true
		}
		x |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, false
}
