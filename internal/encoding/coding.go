// Package encoding provides the binary primitives shared by the couchyard
// on-disk formats.
//
// Fixed-width integers are big-endian so that encoded sequence numbers sort
// bytewise in numeric order. Variable-length integers use 7-bit groups with
// MSB continuation.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = binary.MaxVarintLen64

var (
	// ErrBufferTooSmall is returned when the buffer ends before a value does.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds 64 bits.
	ErrVarintOverflow = errors.New("encoding: varint overflow")
)

// AppendFixed32 appends a big-endian uint32.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a big-endian uint64.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, value)
}

// PutFixed32 encodes value into dst[0:4].
func PutFixed32(dst []byte, value uint32) {
	binary.BigEndian.PutUint32(dst, value)
}

// Fixed32 decodes a big-endian uint32 from src[0:4].
func Fixed32(src []byte) uint32 {
	return binary.BigEndian.Uint32(src)
}

// Fixed64 decodes a big-endian uint64 from src[0:8].
func Fixed64(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// AppendVarint64 appends value as an unsigned varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	return binary.AppendUvarint(dst, value)
}

// DecodeVarint64 decodes an unsigned varint, returning the value and the
// number of bytes consumed.
func DecodeVarint64(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	switch {
	case n == 0:
		return 0, 0, ErrBufferTooSmall
	case n < 0:
		return 0, 0, ErrVarintOverflow
	}
	return v, n, nil
}

// VarintLength returns the number of bytes needed to encode v as a varint.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendLengthPrefixed appends [varint len][value].
func AppendLengthPrefixed(dst []byte, value []byte) []byte {
	dst = AppendVarint64(dst, uint64(len(value)))
	return append(dst, value...)
}

// Slice reads values sequentially from a byte slice. Each getter reports
// false without advancing when the remaining input is too short.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a reader over data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// GetByte reads one byte.
func (s *Slice) GetByte() (byte, bool) {
	if s.Remaining() < 1 {
		return 0, false
	}
	b := s.data[s.pos]
	s.pos++
	return b, true
}

// GetFixed32 reads a big-endian uint32.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < 4 {
		return 0, false
	}
	v := Fixed32(s.data[s.pos:])
	s.pos += 4
	return v, true
}

// GetFixed64 reads a big-endian uint64.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := Fixed64(s.data[s.pos:])
	s.pos += 8
	return v, true
}

// GetVarint64 reads an unsigned varint.
func (s *Slice) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetBytes reads exactly n bytes. The result aliases the underlying buffer.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if n < 0 || s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}

// GetLengthPrefixed reads a slice written by AppendLengthPrefixed.
func (s *Slice) GetLengthPrefixed() ([]byte, bool) {
	start := s.pos
	n, ok := s.GetVarint64()
	if !ok {
		return nil, false
	}
	if n > uint64(s.Remaining()) {
		s.pos = start
		return nil, false
	}
	return s.GetBytes(int(n))
}
