package couchyard

// compact.go copies the live state of a database into a new file.

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/dbformat"
	"github.com/aalhour/couchyard/internal/header"
	"github.com/aalhour/couchyard/internal/killpoint"
	"github.com/aalhour/couchyard/internal/logging"
)

// compactBatchSize is the number of documents applied to the new indexes
// per tree modification.
const compactBatchSize = 1024

// CompactStats describes a finished compaction.
type CompactStats struct {
	Docs        uint64
	BytesBefore int64
	BytesAfter  int64
	Duration    time.Duration
}

// Compact writes the latest commit's documents, tombstones included, into
// a new file at dstPath. Sequence numbers, revisions and timestamps are kept
// and stored bodies are copied without recompression. The source stays open
// and writable; commits made during compaction are not copied. dstPath must
// not exist.
func (db *DB) Compact(dstPath string) (*CompactStats, error) {
	s, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	if db.fs.Exists(dstPath) {
		return nil, fmt.Errorf("%w: %s", ErrDBExists, dstPath)
	}
	start := time.Now()
	db.logger.Infof("%scompacting %s into %s at update_seq=%d", logging.NSCompact, db.path, dstPath, s.hdr.UpdateSeq)

	c, err := newCompactor(db, dstPath)
	if err != nil {
		return nil, err
	}
	if err := c.run(s); err != nil {
		c.abort()
		db.logger.Errorf("%scompaction into %s failed: %v", logging.NSCompact, dstPath, err)
		return nil, err
	}

	stats := &CompactStats{
		Docs:        c.docs,
		BytesBefore: s.hdr.FileSize,
		BytesAfter:  c.w.Size(),
		Duration:    time.Since(start),
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	db.stats.RecordTick(TickerCompactions, 1)
	db.stats.MeasureTime(HistogramCompactionMicros, uint64(stats.Duration.Microseconds()))
	db.logger.Infof("%scompacted %d docs: %d -> %d bytes in %v", logging.NSCompact,
		stats.Docs, stats.BytesBefore, stats.BytesAfter, stats.Duration)
	return stats, nil
}

// compactor builds the destination file.
type compactor struct {
	src  *DB
	path string

	w     *blockfile.Writer
	r     *blockfile.Reader
	byID  *btree.Tree
	bySeq *btree.Tree

	idRoot, seqRoot *btree.Pointer
	idActs, seqActs []btree.Action
	docs            uint64
}

func newCompactor(src *DB, path string) (*compactor, error) {
	fs := src.fs
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("couchyard: create directory: %w", err)
	}
	wf, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	rf, err := fs.OpenRandomAccess(path)
	if err != nil {
		_ = wf.Close()
		_ = fs.Remove(path)
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	c := &compactor{
		src:  src,
		path: path,
		w:    blockfile.NewWriter(wf, 0, src.opts.ChecksumType),
		r:    blockfile.NewReader(rf),
	}
	store := btree.NewChunkStore(c.w, c.r, nil, 0, nil)
	c.byID = &btree.Tree{Store: store, Cmp: btree.CompareIDs, Reduce: dbformat.IDReducer{}, ChunkThreshold: src.opts.ChunkThreshold}
	c.bySeq = &btree.Tree{Store: store, Cmp: btree.CompareSeqs, Reduce: dbformat.SeqReducer{}, ChunkThreshold: src.opts.ChunkThreshold}
	return c, nil
}

func (c *compactor) run(s *Snapshot) error {
	err := s.ChangesSince(0, func(info *DocInfo) error {
		if info.PhysicalSize > 0 {
			payload, err := c.src.r.ReadChunk(info.BodyOffset)
			if err != nil {
				return fmt.Errorf("couchyard: body of %q: %w", info.ID, err)
			}
			off, err := c.w.Append(payload)
			if err != nil {
				return err
			}
			info.BodyOffset = off
		}
		c.idActs = append(c.idActs, btree.Action{Op: btree.OpInsert, Key: info.ID, Value: dbformat.EncodeIDValue(info)})
		c.seqActs = append(c.seqActs, btree.Action{Op: btree.OpInsert, Key: btree.SeqKey(info.Seq), Value: dbformat.EncodeSeqValue(info)})
		c.docs++
		if len(c.idActs) >= compactBatchSize {
			return c.flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.flush(); err != nil {
		return err
	}
	killpoint.MaybeKill(killpoint.CompactCopy1)

	h := &dbformat.Header{
		Version:   dbformat.HeaderVersion,
		UpdateSeq: s.hdr.UpdateSeq,
		PurgeSeq:  s.hdr.PurgeSeq,
		ByIDRoot:  c.idRoot,
		BySeqRoot: c.seqRoot,
		Timestamp: time.Now().UnixNano(),
	}
	_, err = header.NewManager(c.w, true, c.src.logger).Commit(h)
	return err
}

// flush applies the buffered index entries.
func (c *compactor) flush() error {
	var err error
	if c.idRoot, err = c.byID.Modify(c.idRoot, c.idActs); err != nil {
		return err
	}
	if c.seqRoot, err = c.bySeq.Modify(c.seqRoot, c.seqActs); err != nil {
		return err
	}
	c.idActs = c.idActs[:0]
	c.seqActs = c.seqActs[:0]
	return nil
}

func (c *compactor) finish() error {
	if err := c.w.Close(); err != nil {
		_ = c.r.Close()
		return fmt.Errorf("%w: close %s: %v", ErrIO, c.path, err)
	}
	if err := c.r.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, c.path, err)
	}
	if err := c.src.fs.SyncDir(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("%w: sync directory: %v", ErrIO, err)
	}
	return nil
}

// abort removes the partial destination file.
func (c *compactor) abort() {
	_ = c.w.Close()
	_ = c.r.Close()
	_ = c.src.fs.Remove(c.path)
}
