package blockfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/couchyard/internal/vfs"
)

const largeReadThreshold = 64 << 10

// Reader reads chunks from a block file. It is safe for concurrent use.
type Reader struct {
	f vfs.RandomAccessFile
}

// NewReader creates a reader over f.
func NewReader(f vfs.RandomAccessFile) *Reader {
	return &Reader{f: f}
}

// Size returns the current size of the file.
func (r *Reader) Size() (int64, error) {
	size, err := r.f.Size()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %w", ErrIO, err)
	}
	return size, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadChunk reads and verifies the chunk at offset.
func (r *Reader) ReadChunk(offset int64) ([]byte, error) {
	payload, _, err := r.readChunk(offset)
	return payload, err
}

// ReadHeaderAt reads the header chunk that starts at blockOffset.
// It fails with ErrNotHeader if the block is not marked as a header block or
// the chunk there is not flagged as a header.
func (r *Reader) ReadHeaderAt(blockOffset int64) ([]byte, error) {
	if blockOffset%BlockSize != 0 {
		return nil, fmt.Errorf("%w: offset %d is not block aligned", ErrNotHeader, blockOffset)
	}
	var marker [1]byte
	if _, err := r.f.ReadAt(marker[:], blockOffset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: at %d", ErrTruncated, blockOffset)
		}
		return nil, fmt.Errorf("%w: read marker at %d: %w", ErrIO, blockOffset, err)
	}
	if marker[0] != MarkerHeader {
		return nil, fmt.Errorf("%w: marker 0x%02x at %d", ErrNotHeader, marker[0], blockOffset)
	}
	payload, fr, err := r.readChunk(blockOffset)
	if err != nil {
		return nil, err
	}
	if !fr.header {
		return nil, fmt.Errorf("%w: chunk at %d lacks header flag", ErrNotHeader, blockOffset)
	}
	return payload, nil
}

func (r *Reader) readChunk(offset int64) ([]byte, frame, error) {
	fb, next, err := r.readLogical(offset, FrameSize)
	if err != nil {
		return nil, frame{}, err
	}
	fr := decodeFrame(fb)
	payload, _, err := r.readLogical(next, fr.length)
	if err != nil {
		return nil, fr, err
	}
	if !verify(fr, payload) {
		return nil, fr, fmt.Errorf("%w: chunk at %d (%s, %d bytes)", ErrChecksumMismatch, offset, fr.cs, fr.length)
	}
	return payload, fr, nil
}

// readLogical reads n data bytes starting at physical position pos, skipping
// block markers, and returns them with the position just past them.
func (r *Reader) readLogical(pos int64, n int) ([]byte, int64, error) {
	if n == 0 {
		return nil, pos, nil
	}
	span := physicalSpan(pos, n)
	if span > largeReadThreshold {
		// A corrupt length word must not turn into a huge allocation.
		size, err := r.Size()
		if err != nil {
			return nil, 0, err
		}
		if pos+span > size {
			return nil, 0, fmt.Errorf("%w: need %d bytes at %d, file is %d bytes", ErrTruncated, span, pos, size)
		}
	}
	raw := make([]byte, span)
	got, err := r.f.ReadAt(raw, pos)
	if int64(got) < span {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncated, span, pos, got)
		}
		return nil, 0, fmt.Errorf("%w: read at %d: %w", ErrIO, pos, err)
	}

	out := raw[:0]
	p := pos
	for i := 0; i < len(raw); {
		if p%BlockSize == 0 {
			i += markerLength
			p += markerLength
			continue
		}
		room := int(BlockSize - p%BlockSize)
		step := min(room, len(raw)-i)
		out = append(out, raw[i:i+step]...)
		i += step
		p += int64(step)
	}
	return out, pos + span, nil
}
