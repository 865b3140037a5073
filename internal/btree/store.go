package btree

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/snappy"

	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/cache"
)

// NodeStore persists and loads nodes.
type NodeStore interface {
	// ReadNode loads the node whose chunk starts at offset.
	ReadNode(offset int64) (*Node, error)
	// WriteNode appends n and returns its offset and on-disk size.
	WriteNode(n *Node) (offset int64, size uint64, err error)
}

// StoreStats counts node traffic. The zero value is ready to use.
type StoreStats struct {
	NodeReads    atomic.Uint64
	NodeWrites   atomic.Uint64
	CacheHits    atomic.Uint64
	CacheMisses  atomic.Uint64
	BytesWritten atomic.Uint64
}

// ChunkStore keeps nodes as snappy-compressed chunks of a block file.
type ChunkStore struct {
	w     *blockfile.Writer
	r     *blockfile.Reader
	cache cache.Cache
	file  uint64
	stats *StoreStats
}

// NewChunkStore creates a store reading through r and appending through w.
// w may be nil for read-only use. c may be nil to disable caching; file
// distinguishes this file's nodes inside a shared cache.
func NewChunkStore(w *blockfile.Writer, r *blockfile.Reader, c cache.Cache, file uint64, stats *StoreStats) *ChunkStore {
	if stats == nil {
		stats = &StoreStats{}
	}
	return &ChunkStore{w: w, r: r, cache: c, file: file, stats: stats}
}

// Stats returns the store's counters.
func (s *ChunkStore) Stats() *StoreStats {
	return s.stats
}

// File returns the ID that namespaces this store's cache entries.
func (s *ChunkStore) File() uint64 {
	return s.file
}

// ReadNode implements NodeStore.
func (s *ChunkStore) ReadNode(offset int64) (*Node, error) {
	key := cache.Key{File: s.file, Offset: offset}
	if s.cache != nil {
		if raw, ok := s.cache.Lookup(key); ok {
			s.stats.CacheHits.Add(1)
			return DecodeNode(raw)
		}
		s.stats.CacheMisses.Add(1)
	}

	s.stats.NodeReads.Add(1)
	chunk, err := s.r.ReadChunk(offset)
	if err != nil {
		return nil, fmt.Errorf("btree: read node at %d: %w", offset, err)
	}
	raw, err := snappy.Decode(nil, chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: node at %d: %v", ErrCorruptNode, offset, err)
	}
	n, err := DecodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("node at %d: %w", offset, err)
	}
	if s.cache != nil {
		s.cache.Insert(key, raw, uint64(len(raw)))
	}
	return n, nil
}

// WriteNode implements NodeStore.
func (s *ChunkStore) WriteNode(n *Node) (int64, uint64, error) {
	if s.w == nil {
		return 0, 0, fmt.Errorf("btree: store is read-only")
	}
	raw := EncodeNode(n)
	chunk := snappy.Encode(nil, raw)
	offset, err := s.w.Append(chunk)
	if err != nil {
		return 0, 0, fmt.Errorf("btree: write node: %w", err)
	}
	s.stats.NodeWrites.Add(1)
	s.stats.BytesWritten.Add(uint64(len(chunk)))
	if s.cache != nil {
		s.cache.Insert(cache.Key{File: s.file, Offset: offset}, raw, uint64(len(raw)))
	}
	size := uint64(blockfile.FrameSize + len(chunk))
	return offset, size, nil
}
