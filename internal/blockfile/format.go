// Package blockfile implements the append-only block file underneath a
// couchyard database.
//
// File Format:
// The file is a sequence of fixed-size blocks (4 KiB). The first byte of every
// block is a marker; everything else is chunk data, which flows across block
// boundaries skipping the marker bytes.
//
//	block  = marker(1B) data(4095B)
//	marker = 0x00 (data continues) | 0x01 (a header chunk starts here)
//
// Each chunk is framed:
//
//	+---------------------------------------+--------------+---------+
//	| flags|cstype|length (4B, big-endian)  | checksum (4B)| payload |
//	+---------------------------------------+--------------+---------+
//
//	bit 31      header flag
//	bits 28..30 checksum type (checksum.Type)
//	bits 0..27  payload length
//
// The checksum covers the payload. Header chunks always start right after a
// 0x01 marker, which lets recovery find them by scanning backwards from the
// end of the file in block-size strides.
package blockfile

import (
	"errors"

	"github.com/aalhour/couchyard/internal/checksum"
)

const (
	// BlockSize is the size of each block in the file.
	BlockSize = 4096

	// FrameSize is the size of a chunk frame (length word + checksum).
	FrameSize = 8

	// MaxChunkSize is the largest payload a single chunk can carry.
	MaxChunkSize = 1<<28 - 1

	// MarkerData marks a block that continues data from the previous block.
	MarkerData byte = 0x00

	// MarkerHeader marks a block whose first chunk is a header.
	MarkerHeader byte = 0x01

	headerFlag   = 1 << 31
	csTypeShift  = 28
	csTypeMask   = 0x7
	lengthMask   = MaxChunkSize
	markerLength = 1
)

var (
	// ErrIO wraps failures of the underlying file.
	ErrIO = errors.New("blockfile: I/O error")

	// ErrChecksumMismatch indicates that a chunk's stored checksum does not
	// match its payload.
	ErrChecksumMismatch = errors.New("blockfile: checksum mismatch")

	// ErrUnsupportedChecksum is returned by a Writer whose checksum type
	// cannot protect a chunk.
	ErrUnsupportedChecksum = errors.New("blockfile: unsupported checksum type")

	// ErrChunkTooLarge is returned when a payload exceeds MaxChunkSize.
	ErrChunkTooLarge = errors.New("blockfile: chunk too large")

	// ErrTruncated indicates that a chunk extends past the end of the file.
	ErrTruncated = errors.New("blockfile: chunk extends past end of file")

	// ErrNotHeader indicates that no header chunk starts at the given block.
	ErrNotHeader = errors.New("blockfile: not a header block")

	// ErrWriterFailed is returned by every write after an unrecoverable
	// write failure left the tail of the file in an unknown state.
	ErrWriterFailed = errors.New("blockfile: writer failed")
)

// encodeFrame builds the 8-byte frame for payload.
func encodeFrame(dst []byte, payload []byte, cs checksum.Type, header bool) []byte {
	word := uint32(len(payload)) | uint32(cs&csTypeMask)<<csTypeShift
	if header {
		word |= headerFlag
	}
	dst = append(dst, byte(word>>24), byte(word>>16), byte(word>>8), byte(word))
	sum := checksum.Compute(cs, payload)
	return append(dst, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

// frame is a decoded chunk frame.
type frame struct {
	length int
	cs     checksum.Type
	header bool
	sum    uint32
}

func decodeFrame(b []byte) frame {
	word := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return frame{
		length: int(word & lengthMask),
		cs:     checksum.Type(word >> csTypeShift & csTypeMask),
		header: word&headerFlag != 0,
		sum:    uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}
}

// physicalSpan returns how many file bytes n data bytes occupy when written
// starting at pos, counting the marker bytes of every block boundary crossed
// (including pos itself when it sits on a boundary).
func physicalSpan(pos int64, n int) int64 {
	span := int64(0)
	for n > 0 {
		if pos%BlockSize == 0 {
			span += markerLength
			pos += markerLength
		}
		room := BlockSize - pos%BlockSize
		step := min(int64(n), room)
		span += step
		pos += step
		n -= int(step)
	}
	return span
}

// verify checks payload against its frame. The type bits are not covered by
// the checksum, so a frame claiming TypeNoChecksum is treated as corrupt.
func verify(fr frame, payload []byte) bool {
	if fr.cs == checksum.TypeNoChecksum {
		return false
	}
	return checksum.Verify(fr.cs, payload, fr.sum)
}
