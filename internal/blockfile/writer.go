package blockfile

import (
	"fmt"

	"github.com/aalhour/couchyard/internal/checksum"
	"github.com/aalhour/couchyard/internal/vfs"
)

// Writer appends chunks to a block file. It never rewrites bytes: the write
// cursor only moves forward, except when a failed append is rolled back.
//
// Writer is not safe for concurrent use; the DB serializes writers.
type Writer struct {
	f   vfs.WritableFile
	pos int64
	cs  checksum.Type
	err error

	buf []byte
}

// NewWriter creates a writer appending to f, whose current size is size.
func NewWriter(f vfs.WritableFile, size int64, cs checksum.Type) *Writer {
	return &Writer{f: f, pos: size, cs: cs}
}

// Size returns the current logical end of the file.
func (w *Writer) Size() int64 {
	return w.pos
}

// ChecksumType returns the checksum algorithm used for new chunks.
func (w *Writer) ChecksumType() checksum.Type {
	return w.cs
}

// Append writes payload as a data chunk and returns the offset to pass to
// Reader.ReadChunk.
func (w *Writer) Append(payload []byte) (int64, error) {
	if err := w.check(payload); err != nil {
		return 0, err
	}
	start := w.pos
	w.buf = w.buf[:0]
	w.buf = w.frameInto(w.buf, start, payload, false)
	if err := w.flush(start); err != nil {
		return 0, err
	}
	return start, nil
}

// AppendHeader pads to the next block boundary and writes payload as a header
// chunk there. It returns the block offset of the header.
func (w *Writer) AppendHeader(payload []byte) (int64, error) {
	if err := w.check(payload); err != nil {
		return 0, err
	}
	start := w.pos
	w.buf = w.buf[:0]
	blockStart := start
	if rem := start % BlockSize; rem != 0 {
		pad := BlockSize - rem
		w.buf = append(w.buf, make([]byte, pad)...)
		blockStart = start + pad
	}
	w.buf = append(w.buf, MarkerHeader)
	w.buf = w.frameInto(w.buf, blockStart+markerLength, payload, true)
	if err := w.flush(start); err != nil {
		return 0, err
	}
	return blockStart, nil
}

// Sync is the durability barrier: it returns once the device has
// acknowledged every byte appended so far.
func (w *Writer) Sync() error {
	if w.err != nil {
		return w.err
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrIO, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

func (w *Writer) check(payload []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.cs == checksum.TypeNoChecksum || !w.cs.IsSupported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedChecksum, w.cs)
	}
	if len(payload) > MaxChunkSize {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(payload))
	}
	return nil
}

// frameInto appends the physical bytes for a chunk whose first frame byte
// lands at file position pos, inserting data markers at block boundaries.
func (w *Writer) frameInto(dst []byte, pos int64, payload []byte, header bool) []byte {
	var fb [FrameSize]byte
	frameBytes := encodeFrame(fb[:0], payload, w.cs, header)
	dst = appendBlocked(dst, &pos, frameBytes)
	return appendBlocked(dst, &pos, payload)
}

func appendBlocked(dst []byte, pos *int64, data []byte) []byte {
	for len(data) > 0 {
		if *pos%BlockSize == 0 {
			dst = append(dst, MarkerData)
			*pos += markerLength
		}
		room := int(BlockSize - *pos%BlockSize)
		step := min(len(data), room)
		dst = append(dst, data[:step]...)
		data = data[step:]
		*pos += int64(step)
	}
	return dst
}

// flush writes w.buf. On failure it rolls the file back to start so a
// failed append leaves no partial chunk behind; if even that fails the
// writer refuses all further work.
func (w *Writer) flush(start int64) error {
	n, err := w.f.Write(w.buf)
	if err == nil && n != len(w.buf) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(w.buf))
	}
	if err != nil {
		if terr := w.f.Truncate(start); terr != nil {
			w.err = fmt.Errorf("%w: rollback to %d: %w", ErrWriterFailed, start, terr)
		}
		return fmt.Errorf("%w: append at %d: %w", ErrIO, start, err)
	}
	w.pos = start + int64(len(w.buf))
	return nil
}
