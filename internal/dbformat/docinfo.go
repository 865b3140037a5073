// Package dbformat defines the on-disk encodings of index entries, index
// reductions and commit headers.
//
// By-ID index:  key = document ID,         value = EncodeIDValue(info)
// By-seq index: key = btree.SeqKey(seq),   value = EncodeSeqValue(info)
//
// Both values share one payload layout:
//
//	[flags:1][content meta:1][seq:uvarint][rev:uvarint][timestamp:fixed64]
//	[body offset:uvarint][physical size:uvarint][rev meta:length-prefixed]
//
// The by-seq value is prefixed with the length-prefixed document ID.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/aalhour/couchyard/internal/encoding"
)

// ErrCorruptEntry is returned when an index value fails to decode.
var ErrCorruptEntry = errors.New("dbformat: corrupt index entry")

const (
	// ContentMetaCompressed marks a body stored compressed.
	ContentMetaCompressed uint8 = 0x80

	flagDeleted uint8 = 0x01
)

// DocInfo is the index entry describing one revision of a document.
type DocInfo struct {
	ID  []byte
	Seq uint64
	// Rev is the caller's revision number.
	Rev uint64
	// RevMeta is opaque caller revision metadata.
	RevMeta []byte
	Deleted bool
	// ContentMeta is a caller content-type tag; ContentMetaCompressed is
	// managed by the store.
	ContentMeta uint8
	// Timestamp is the write time in unix nanoseconds.
	Timestamp int64
	// BodyOffset and PhysicalSize locate the stored body. A zero
	// PhysicalSize means the revision has no body.
	BodyOffset   int64
	PhysicalSize uint64
}

// Compressed reports whether the stored body is compressed.
func (d *DocInfo) Compressed() bool {
	return d.ContentMeta&ContentMetaCompressed != 0
}

// Clone returns a deep copy of d.
func (d *DocInfo) Clone() *DocInfo {
	c := *d
	c.ID = append([]byte(nil), d.ID...)
	if d.RevMeta != nil {
		c.RevMeta = append([]byte(nil), d.RevMeta...)
	}
	return &c
}

func (d *DocInfo) String() string {
	return fmt.Sprintf("DocInfo{id=%q seq=%d rev=%d deleted=%v size=%d}", d.ID, d.Seq, d.Rev, d.Deleted, d.PhysicalSize)
}

func appendPayload(dst []byte, d *DocInfo) []byte {
	var flags uint8
	if d.Deleted {
		flags |= flagDeleted
	}
	dst = append(dst, flags, d.ContentMeta)
	dst = encoding.AppendVarint64(dst, d.Seq)
	dst = encoding.AppendVarint64(dst, d.Rev)
	dst = encoding.AppendFixed64(dst, uint64(d.Timestamp))
	dst = encoding.AppendVarint64(dst, uint64(d.BodyOffset))
	dst = encoding.AppendVarint64(dst, d.PhysicalSize)
	return encoding.AppendLengthPrefixed(dst, d.RevMeta)
}

func decodePayload(s *encoding.Slice, d *DocInfo) error {
	flags, ok1 := s.GetByte()
	meta, ok2 := s.GetByte()
	seq, ok3 := s.GetVarint64()
	rev, ok4 := s.GetVarint64()
	ts, ok5 := s.GetFixed64()
	off, ok6 := s.GetVarint64()
	size, ok7 := s.GetVarint64()
	revMeta, ok8 := s.GetLengthPrefixed()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return fmt.Errorf("%w: truncated payload", ErrCorruptEntry)
	}
	if flags&^flagDeleted != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrCorruptEntry, flags)
	}
	if s.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptEntry, s.Remaining())
	}
	d.Deleted = flags&flagDeleted != 0
	d.ContentMeta = meta
	d.Seq = seq
	d.Rev = rev
	d.Timestamp = int64(ts)
	d.BodyOffset = int64(off)
	d.PhysicalSize = size
	if len(revMeta) > 0 {
		d.RevMeta = revMeta
	}
	return nil
}

// EncodeIDValue encodes d as a by-ID leaf value. The ID is the key.
func EncodeIDValue(d *DocInfo) []byte {
	return appendPayload(make([]byte, 0, 32+len(d.RevMeta)), d)
}

// DecodeIDValue decodes a by-ID leaf entry. The result aliases id and value.
func DecodeIDValue(id, value []byte) (*DocInfo, error) {
	d := &DocInfo{ID: id}
	if err := decodePayload(encoding.NewSlice(value), d); err != nil {
		return nil, fmt.Errorf("id %q: %w", id, err)
	}
	return d, nil
}

// EncodeSeqValue encodes d as a by-seq leaf value.
func EncodeSeqValue(d *DocInfo) []byte {
	dst := make([]byte, 0, 36+len(d.ID)+len(d.RevMeta))
	dst = encoding.AppendLengthPrefixed(dst, d.ID)
	return appendPayload(dst, d)
}

// DecodeSeqValue decodes a by-seq leaf value. The result aliases value.
func DecodeSeqValue(value []byte) (*DocInfo, error) {
	s := encoding.NewSlice(value)
	id, ok := s.GetLengthPrefixed()
	if !ok {
		return nil, fmt.Errorf("%w: truncated id", ErrCorruptEntry)
	}
	d := &DocInfo{ID: id}
	if err := decodePayload(s, d); err != nil {
		return nil, fmt.Errorf("id %q: %w", id, err)
	}
	return d, nil
}

// entryFlags returns the deleted flag and physical size of a by-ID value
// without a full decode.
func entryFlags(value []byte) (deleted bool, size uint64, ok bool) {
	d := &DocInfo{}
	if err := decodePayload(encoding.NewSlice(value), d); err != nil {
		return false, 0, false
	}
	return d.Deleted, d.PhysicalSize, true
}
