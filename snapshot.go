package couchyard

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/dbformat"
)

// Snapshot is a read-only view of the database as of one commit. Later
// commits do not change what a snapshot sees. Snapshots hold no locks and
// need no release; they stay readable until the DB is closed.
type Snapshot struct {
	db  *DB
	hdr *dbformat.Header
}

// Snapshot captures the current committed state.
func (db *DB) Snapshot() (*Snapshot, error) {
	h, err := db.current()
	if err != nil {
		return nil, err
	}
	return &Snapshot{db: db, hdr: h}, nil
}

// UpdateSeq returns the newest sequence visible in the snapshot.
func (s *Snapshot) UpdateSeq() uint64 {
	return s.hdr.UpdateSeq
}

// GetDocInfo returns the index entry for id.
func (s *Snapshot) GetDocInfo(id []byte) (*DocInfo, error) {
	v, err := s.db.byID.Find(s.hdr.ByIDRoot, id)
	if errors.Is(err, btree.ErrNotFound) {
		s.db.stats.RecordTick(TickerDocsNotFound, 1)
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	info, err := dbformat.DecodeIDValue(id, v)
	if err != nil {
		return nil, err
	}
	return info.Clone(), nil
}

// Get returns the document with the given ID and its index entry. A deleted
// document has info.Deleted set and an empty body.
func (s *Snapshot) Get(id []byte) (*Document, *DocInfo, error) {
	start := time.Now()
	info, err := s.GetDocInfo(id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.db.openDoc(info)
	if err != nil {
		return nil, nil, err
	}
	s.db.stats.RecordTick(TickerDocsRead, 1)
	s.db.stats.MeasureTime(HistogramGetMicros, uint64(time.Since(start).Microseconds()))
	return doc, info, nil
}

// GetBySeq returns the index entry holding sequence seq. Sequences
// superseded by a later write of the same document are not found.
func (s *Snapshot) GetBySeq(seq uint64) (*DocInfo, error) {
	v, err := s.db.bySeq.Find(s.hdr.BySeqRoot, btree.SeqKey(seq))
	if errors.Is(err, btree.ErrNotFound) {
		s.db.stats.RecordTick(TickerDocsNotFound, 1)
		return nil, fmt.Errorf("%w: seq %d", ErrNotFound, seq)
	}
	if err != nil {
		return nil, err
	}
	info, err := dbformat.DecodeSeqValue(v)
	if err != nil {
		return nil, err
	}
	info.Seq = seq
	return info.Clone(), nil
}

// Walk calls fn for every document with ID >= startID in ID order,
// tombstones included. A nil or empty startID walks everything. fn may
// return StopIteration to end the walk without error.
func (s *Snapshot) Walk(startID []byte, fn WalkFunc) error {
	if len(startID) == 0 {
		startID = nil
	}
	return s.db.byID.Walk(s.hdr.ByIDRoot, startID, func(key, value []byte) error {
		info, err := dbformat.DecodeIDValue(key, value)
		if err != nil {
			return err
		}
		return fn(info.Clone())
	})
}

// WalkDocs is Walk with each document's body loaded.
func (s *Snapshot) WalkDocs(startID []byte, fn DocWalkFunc) error {
	return s.Walk(startID, func(info *DocInfo) error {
		doc, err := s.db.openDoc(info)
		if err != nil {
			return err
		}
		return fn(doc, info)
	})
}

// ChangesSince calls fn for every document whose latest write has a
// sequence greater than since, in sequence order.
func (s *Snapshot) ChangesSince(since uint64, fn WalkFunc) error {
	if since == ^uint64(0) {
		return nil
	}
	return s.db.bySeq.Walk(s.hdr.BySeqRoot, btree.SeqKey(since+1), func(key, value []byte) error {
		info, err := dbformat.DecodeSeqValue(value)
		if err != nil {
			return err
		}
		if seq, ok := btree.ParseSeqKey(key); ok {
			info.Seq = seq
		}
		return fn(info.Clone())
	})
}

// All returns an iterator over the document infos with ID >= startID. A read
// error ends the sequence as its final element.
func (s *Snapshot) All(startID []byte) iter.Seq2[*DocInfo, error] {
	return func(yield func(*DocInfo, error) bool) {
		err := s.Walk(startID, func(info *DocInfo) error {
			if !yield(info, nil) {
				return StopIteration
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// Changes returns an iterator form of ChangesSince.
func (s *Snapshot) Changes(since uint64) iter.Seq2[*DocInfo, error] {
	return func(yield func(*DocInfo, error) bool) {
		err := s.ChangesSince(since, func(info *DocInfo) error {
			if !yield(info, nil) {
				return StopIteration
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// Info summarizes the snapshot.
func (s *Snapshot) Info() (*DBInfo, error) {
	info := &DBInfo{
		UpdateSeq: s.hdr.UpdateSeq,
		PurgeSeq:  s.hdr.PurgeSeq,
		FileSize:  s.hdr.FileSize,
		Committed: time.Unix(0, s.hdr.Timestamp),
	}
	if root := s.hdr.ByIDRoot; root != nil {
		red, ok := dbformat.DecodeIDReduction(root.Reduction)
		if !ok {
			return nil, fmt.Errorf("%w: by-id root reduction", ErrCorruptNode)
		}
		info.DocCount = red.Live
		info.DeletedCount = red.Deleted
		info.SpaceUsed += red.Size + root.Size
	}
	if root := s.hdr.BySeqRoot; root != nil {
		info.SpaceUsed += root.Size
	}
	return info, nil
}
