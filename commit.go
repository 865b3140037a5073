package couchyard

// commit.go applies a batch of writes: bodies, both indexes and one header.

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/couchyard/internal/batch"
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/dbformat"
	"github.com/aalhour/couchyard/internal/docstore"
	"github.com/aalhour/couchyard/internal/killpoint"
	"github.com/aalhour/couchyard/internal/logging"
)

// preparedBody is a body in its stored form, ready to append.
type preparedBody struct {
	payload    []byte
	compressed bool
}

// dedupItems keeps the last write of every ID, in the order of those last
// writes.
func dedupItems(items []batch.Item) []batch.Item {
	last := make(map[string]int, len(items))
	for i := range items {
		last[string(items[i].Info.ID)] = i
	}
	if len(last) == len(items) {
		return items
	}
	out := make([]batch.Item, 0, len(last))
	for i := range items {
		if last[string(items[i].Info.ID)] == i {
			out = append(out, items[i])
		}
	}
	return out
}

// prepareBodies compresses every body in parallel. Output order matches
// items.
func (db *DB) prepareBodies(items []batch.Item) ([]preparedBody, error) {
	out := make([]preparedBody, len(items))
	workers := db.opts.CompressionWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	codec := db.docs.Codec()
	compress := db.opts.CompressBodies

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range items {
		g.Go(func() error {
			payload, compressed, err := docstore.Prepare(codec, items[i].Body, compress)
			if err != nil {
				return fmt.Errorf("document %q: %w", items[i].Info.ID, err)
			}
			out[i] = preparedBody{payload: payload, compressed: compressed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// commitLocked writes items as one commit. The caller holds writeMu.
func (db *DB) commitLocked(items []batch.Item) error {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()
	items = dedupItems(items)

	bodies, err := db.prepareBodies(items)
	if err != nil {
		return err
	}

	db.mu.RLock()
	prev := db.hdr
	db.mu.RUnlock()

	now := time.Now().UnixNano()
	seq := prev.UpdateSeq
	idActs := make([]btree.Action, 0, len(items))
	seqActs := make([]btree.Action, 0, 2*len(items))
	var bodyBytes uint64

	for i := range items {
		info := items[i].Info
		loc, err := db.docs.PutPrepared(bodies[i].payload, bodies[i].compressed)
		if err != nil {
			return db.writeFailed(err)
		}
		bodyBytes += loc.Size

		seq++
		info.Seq = seq
		info.BodyOffset = loc.Offset
		info.PhysicalSize = loc.Size
		info.ContentMeta &^= ContentMetaCompressed
		if loc.Compressed {
			info.ContentMeta |= ContentMetaCompressed
		}
		if info.Timestamp == 0 {
			info.Timestamp = now
		}

		// One by-seq entry per document: drop the one it supersedes.
		old, err := db.byID.Find(prev.ByIDRoot, info.ID)
		switch {
		case err == nil:
			oldInfo, err := dbformat.DecodeIDValue(info.ID, old)
			if err != nil {
				return fmt.Errorf("couchyard: previous revision of %q: %w", info.ID, err)
			}
			seqActs = append(seqActs, btree.Action{Op: btree.OpRemove, Key: btree.SeqKey(oldInfo.Seq)})
		case !errors.Is(err, btree.ErrNotFound):
			return db.writeFailed(err)
		}

		idActs = append(idActs, btree.Action{Op: btree.OpInsert, Key: info.ID, Value: dbformat.EncodeIDValue(&info)})
		seqActs = append(seqActs, btree.Action{Op: btree.OpInsert, Key: btree.SeqKey(seq), Value: dbformat.EncodeSeqValue(&info)})
	}

	killpoint.MaybeKill(killpoint.CommitBodies1)

	byID, err := db.byID.Modify(prev.ByIDRoot, idActs)
	if err != nil {
		return db.writeFailed(err)
	}
	bySeq, err := db.bySeq.Modify(prev.BySeqRoot, seqActs)
	if err != nil {
		return db.writeFailed(err)
	}

	killpoint.MaybeKill(killpoint.CommitIndex1)

	h := &dbformat.Header{
		Version:   dbformat.HeaderVersion,
		UpdateSeq: seq,
		PurgeSeq:  prev.PurgeSeq,
		ByIDRoot:  byID,
		BySeqRoot: bySeq,
		Timestamp: now,
	}
	off, err := db.headers.Commit(h)
	if err != nil {
		return db.writeFailed(err)
	}

	db.mu.Lock()
	db.hdr = h
	db.hdrOffset = off
	db.mu.Unlock()

	db.stats.RecordTick(TickerDocsWritten, uint64(len(items)))
	db.stats.RecordTick(TickerBodyBytesWritten, bodyBytes)
	db.stats.RecordTick(TickerCommits, 1)
	if db.opts.SyncOnCommit {
		db.stats.RecordTick(TickerCommitSyncs, 1)
	}
	db.stats.MeasureTime(HistogramCommitDocs, uint64(len(items)))
	db.stats.MeasureTime(HistogramCommitMicros, uint64(time.Since(start).Microseconds()))
	db.logger.Debugf("%scommitted %d docs: update_seq=%d header_at=%d", logging.NSCommit, len(items), seq, off)
	return nil
}

// writeFailed stops further writes after an I/O failure. The data written
// so far is unreferenced by any header, so the last commit stays intact.
func (db *DB) writeFailed(err error) error {
	if errors.Is(err, ErrIO) {
		db.logger.Errorf("%scommit failed, rejecting further writes: %v", logging.NSCommit, err)
		db.setBackgroundError(err)
	}
	return fmt.Errorf("couchyard: commit: %w", err)
}
