package couchyard

// export.go streams a database to and from a portable msgpack dump.
//
// A dump is a sequence of msgpack values: one exportHeader followed by one
// exportDoc per document in sequence order, tombstones included. Bodies are
// stored decompressed so that a dump loads under any codec.

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aalhour/couchyard/internal/logging"
)

const (
	exportMagic   = "couchyard-dump"
	exportVersion = 1

	// importBatchSize is the number of documents per commit during Import.
	importBatchSize = 1000
)

// ErrBadDump is returned by Import for input that is not a readable dump.
var ErrBadDump = errors.New("couchyard: malformed dump")

type exportHeader struct {
	Magic     string `msgpack:"magic"`
	Version   int    `msgpack:"v"`
	UpdateSeq uint64 `msgpack:"update_seq"`
	Docs      uint64 `msgpack:"docs"`
}

type exportDoc struct {
	ID          []byte `msgpack:"id"`
	Seq         uint64 `msgpack:"seq"`
	Rev         uint64 `msgpack:"rev"`
	RevMeta     []byte `msgpack:"rev_meta,omitempty"`
	Deleted     bool   `msgpack:"deleted,omitempty"`
	ContentMeta uint8  `msgpack:"content_meta,omitempty"`
	Timestamp   int64  `msgpack:"ts"`
	Body        []byte `msgpack:"body,omitempty"`
}

// Export writes the latest commit to w as a dump and returns the number of
// documents written.
func (s *Snapshot) Export(w io.Writer) (uint64, error) {
	info, err := s.Info()
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	hdr := exportHeader{
		Magic:     exportMagic,
		Version:   exportVersion,
		UpdateSeq: s.hdr.UpdateSeq,
		Docs:      info.DocCount + info.DeletedCount,
	}
	if err := enc.Encode(&hdr); err != nil {
		return 0, err
	}

	var n uint64
	err = s.ChangesSince(0, func(info *DocInfo) error {
		doc, err := s.db.openDoc(info)
		if err != nil {
			return err
		}
		n++
		return enc.Encode(&exportDoc{
			ID:          info.ID,
			Seq:         info.Seq,
			Rev:         info.Rev,
			RevMeta:     info.RevMeta,
			Deleted:     info.Deleted,
			ContentMeta: info.ContentMeta &^ ContentMetaCompressed,
			Timestamp:   info.Timestamp,
			Body:        doc.Body,
		})
	})
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}

// Export writes the latest commit to w as a dump.
func (db *DB) Export(w io.Writer) (uint64, error) {
	s, err := db.Snapshot()
	if err != nil {
		return 0, err
	}
	return s.Export(w)
}

// Import loads a dump written by Export. Documents keep their IDs,
// revisions, metadata and timestamps and receive new sequence numbers in
// dump order. Documents are committed in batches, so a failed Import
// leaves the batches before the failure committed.
func (db *DB) Import(r io.Reader) (uint64, error) {
	br := bufio.NewReader(r)
	dec := msgpack.NewDecoder(br)
	var hdr exportHeader
	if err := dec.Decode(&hdr); err != nil {
		return 0, fmt.Errorf("%w: header: %v", ErrBadDump, err)
	}
	if hdr.Magic != exportMagic || hdr.Version != exportVersion {
		return 0, fmt.Errorf("%w: magic %q version %d", ErrBadDump, hdr.Magic, hdr.Version)
	}

	bw, err := db.AllocateBulk(importBatchSize)
	if err != nil {
		return 0, err
	}
	defer bw.Close()

	var n uint64
	for {
		// The decoder reads through br, so a clean end shows here.
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			break
		}
		var d exportDoc
		if err := dec.Decode(&d); err != nil {
			return n, fmt.Errorf("%w: document %d: %v", ErrBadDump, n+1, err)
		}
		info := &DocInfo{
			ID:          d.ID,
			Rev:         d.Rev,
			RevMeta:     d.RevMeta,
			Deleted:     d.Deleted,
			ContentMeta: d.ContentMeta,
			Timestamp:   d.Timestamp,
		}
		if err := bw.Set(info, &Document{Body: d.Body}); err != nil {
			return n, err
		}
		n++
		if bw.Len() >= importBatchSize {
			if err := bw.Commit(); err != nil {
				return n, err
			}
		}
	}
	if err := bw.Commit(); err != nil {
		return n, err
	}
	if n != hdr.Docs {
		db.logger.Warnf("%simported %d documents, dump header announced %d", logging.NSBulk, n, hdr.Docs)
	}
	return n, nil
}
