// Package docstore writes and reads document bodies as chunks of the
// database file. Bodies are referenced from index entries by Location and are
// never read during index traversal.
package docstore

import (
	"fmt"

	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/compression"
)

// ErrDecompression is returned when a stored body fails to decompress.
var ErrDecompression = compression.ErrDecompression

// Location identifies a stored body.
type Location struct {
	Offset int64
	// Size is the stored (possibly compressed) length. Zero means no body.
	Size       uint64
	Compressed bool
}

// Store reads bodies through r and appends them through w.
type Store struct {
	w     *blockfile.Writer
	r     *blockfile.Reader
	codec compression.Type
}

// New creates a body store. w may be nil for read-only use.
func New(w *blockfile.Writer, r *blockfile.Reader, codec compression.Type) *Store {
	return &Store{w: w, r: r, codec: codec}
}

// Codec returns the compression codec used for new bodies.
func (s *Store) Codec() compression.Type {
	return s.codec
}

// Prepare turns a body into its stored form. It touches no file, so callers
// may run it concurrently before PutPrepared.
func Prepare(codec compression.Type, body []byte, compress bool) (payload []byte, compressed bool, err error) {
	if len(body) == 0 {
		return nil, false, nil
	}
	if !compress || codec == compression.NoCompression {
		return body, false, nil
	}
	payload, err = compression.Encode(codec, body)
	if err != nil {
		return nil, false, fmt.Errorf("docstore: compress body: %w", err)
	}
	return payload, true, nil
}

// PutBody stores body, compressing it with the store's codec if compress is
// set.
func (s *Store) PutBody(body []byte, compress bool) (Location, error) {
	payload, compressed, err := Prepare(s.codec, body, compress)
	if err != nil {
		return Location{}, err
	}
	return s.PutPrepared(payload, compressed)
}

// PutPrepared stores a payload produced by Prepare.
func (s *Store) PutPrepared(payload []byte, compressed bool) (Location, error) {
	if len(payload) == 0 {
		return Location{}, nil
	}
	if s.w == nil {
		return Location{}, fmt.Errorf("docstore: store is read-only")
	}
	offset, err := s.w.Append(payload)
	if err != nil {
		return Location{}, fmt.Errorf("docstore: write body: %w", err)
	}
	return Location{Offset: offset, Size: uint64(len(payload)), Compressed: compressed}, nil
}

// GetBody reads and, if needed, decompresses the body at loc.
func (s *Store) GetBody(loc Location) ([]byte, error) {
	if loc.Size == 0 {
		return []byte{}, nil
	}
	payload, err := s.r.ReadChunk(loc.Offset)
	if err != nil {
		return nil, fmt.Errorf("docstore: read body at %d: %w", loc.Offset, err)
	}
	if uint64(len(payload)) != loc.Size {
		return nil, fmt.Errorf("docstore: body at %d is %d bytes, index says %d: %w",
			loc.Offset, len(payload), loc.Size, blockfile.ErrChecksumMismatch)
	}
	if !loc.Compressed {
		return payload, nil
	}
	body, err := compression.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("docstore: body at %d: %w", loc.Offset, err)
	}
	return body, nil
}
