package dbformat

import (
	"errors"
	"fmt"

	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/encoding"
)

// HeaderVersion is the current header format version.
const HeaderVersion uint8 = 1

var (
	// ErrCorruptHeader is returned when a header payload fails to decode.
	ErrCorruptHeader = errors.New("dbformat: corrupt header")

	// ErrUnsupportedVersion is returned for headers of an unknown version.
	ErrUnsupportedVersion = errors.New("dbformat: unsupported header version")
)

// Header is a commit record. The newest valid header in a file defines the
// database.
type Header struct {
	Version   uint8
	UpdateSeq uint64
	PurgeSeq  uint64
	ByIDRoot  *btree.Pointer
	BySeqRoot *btree.Pointer
	// FileSize is the file length just before the header was written.
	FileSize int64
	// Timestamp is the commit time in unix nanoseconds.
	Timestamp int64
}

// Encode serializes h as
//
//	[version:1][update seq:uvarint][purge seq:uvarint][file size:uvarint]
//	[timestamp:fixed64][by-id root:length-prefixed][by-seq root:length-prefixed]
func (h *Header) Encode() []byte {
	byID := btree.EncodePointer(h.ByIDRoot)
	bySeq := btree.EncodePointer(h.BySeqRoot)
	dst := make([]byte, 0, 1+3*encoding.MaxVarint64Length+8+len(byID)+len(bySeq)+4)
	version := h.Version
	if version == 0 {
		version = HeaderVersion
	}
	dst = append(dst, version)
	dst = encoding.AppendVarint64(dst, h.UpdateSeq)
	dst = encoding.AppendVarint64(dst, h.PurgeSeq)
	dst = encoding.AppendVarint64(dst, uint64(h.FileSize))
	dst = encoding.AppendFixed64(dst, uint64(h.Timestamp))
	dst = encoding.AppendLengthPrefixed(dst, byID)
	return encoding.AppendLengthPrefixed(dst, bySeq)
}

// DecodeHeader parses a payload produced by Header.Encode.
func DecodeHeader(data []byte) (*Header, error) {
	s := encoding.NewSlice(data)
	version, ok := s.GetByte()
	if !ok {
		return nil, fmt.Errorf("%w: empty", ErrCorruptHeader)
	}
	if version != HeaderVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	updateSeq, ok1 := s.GetVarint64()
	purgeSeq, ok2 := s.GetVarint64()
	fileSize, ok3 := s.GetVarint64()
	ts, ok4 := s.GetFixed64()
	byID, ok5 := s.GetLengthPrefixed()
	bySeq, ok6 := s.GetLengthPrefixed()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) || s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: malformed payload", ErrCorruptHeader)
	}
	h := &Header{
		Version:   version,
		UpdateSeq: updateSeq,
		PurgeSeq:  purgeSeq,
		FileSize:  int64(fileSize),
		Timestamp: int64(ts),
	}
	var err error
	if h.ByIDRoot, err = btree.DecodePointer(byID); err != nil {
		return nil, fmt.Errorf("%w: by-id root: %v", ErrCorruptHeader, err)
	}
	if h.BySeqRoot, err = btree.DecodePointer(bySeq); err != nil {
		return nil, fmt.Errorf("%w: by-seq root: %v", ErrCorruptHeader, err)
	}
	return h, nil
}
