package couchyard

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/couchyard/internal/batch"
	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/cache"
	"github.com/aalhour/couchyard/internal/dbformat"
	"github.com/aalhour/couchyard/internal/docstore"
	"github.com/aalhour/couchyard/internal/header"
	"github.com/aalhour/couchyard/internal/logging"
	"github.com/aalhour/couchyard/internal/vfs"
)

// DocInfo describes one revision of a document: its ID, sequence, revision
// metadata, deletion flag and the location of its body.
type DocInfo = dbformat.DocInfo

// ContentMetaCompressed is set in DocInfo.ContentMeta when the stored body is
// compressed.
const ContentMetaCompressed = dbformat.ContentMetaCompressed

// Document is a document ID with its body.
type Document struct {
	ID   []byte
	Body []byte
}

// nextFileID namespaces node cache keys per opened file.
var nextFileID atomic.Uint64

// DB is an open database file.
type DB struct {
	path   string
	opts   *Options
	fs     vfs.FS
	logger logging.Logger
	stats  Statistics
	lock   io.Closer

	wf      vfs.WritableFile
	w       *blockfile.Writer
	rf      vfs.RandomAccessFile
	r       *blockfile.Reader
	cache   cache.Cache
	nodes   *btree.ChunkStore
	byID    *btree.Tree
	bySeq   *btree.Tree
	docs    *docstore.Store
	headers *header.Manager
	pool    *batch.Pool

	// writeMu is held for the whole of a commit. Compaction reads a
	// snapshot and does not take it.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   *batch.Batch

	// mu guards the fields below. Readers hold it only long enough to
	// copy the current header.
	mu        sync.RWMutex
	hdr       *dbformat.Header
	hdrOffset int64
	closed    bool
	bgErr     error
}

// fatalGuard forwards to the configured logger and turns Fatalf into a
// background error that stops further writes.
type fatalGuard struct {
	logging.Logger
	db *DB
}

func (g fatalGuard) Fatalf(format string, args ...any) {
	g.Logger.Fatalf(format, args...)
	g.db.setBackgroundError(fmt.Errorf("%w: %s", logging.ErrFatal, fmt.Sprintf(format, args...)))
}

// Open opens the database file at path.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Use default filesystem if not specified
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}

	exists := fs.Exists(path)
	if exists && opts.ErrorIfExists {
		return nil, ErrDBExists
	}
	if !exists && !opts.CreateIfMissing {
		return nil, ErrDBNotFound
	}

	db := &DB{
		path:  path,
		opts:  opts,
		fs:    fs,
		stats: opts.Statistics,
		pool:  batch.NewPool(opts.MaxBatchBytes),
	}
	db.logger = fatalGuard{Logger: logging.OrDefault(opts.Logger), db: db}
	if db.stats == nil {
		db.stats = NewStatistics()
	}

	if err := db.openFiles(exists); err != nil {
		db.closeFiles()
		return nil, err
	}
	if err := db.recover(); err != nil {
		db.closeFiles()
		return nil, err
	}
	db.logger.Infof("%sopened %s: update_seq=%d header_at=%d read_only=%v",
		logging.NSDB, path, db.hdr.UpdateSeq, db.hdrOffset, opts.ReadOnly)
	return db, nil
}

func (db *DB) openFiles(exists bool) error {
	var size int64
	if !db.opts.ReadOnly {
		if dir := filepath.Dir(db.path); !exists {
			if err := db.fs.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("couchyard: create directory: %w", err)
			}
		}
		lock, err := db.fs.Lock(db.path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDBLocked, db.path, err)
		}
		db.lock = lock

		if exists {
			db.wf, err = db.fs.OpenAppend(db.path)
		} else {
			db.wf, err = db.fs.Create(db.path)
		}
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrIO, db.path, err)
		}
		if size, err = db.wf.Size(); err != nil {
			return fmt.Errorf("%w: size of %s: %v", ErrIO, db.path, err)
		}
		if !exists {
			if err := db.fs.SyncDir(filepath.Dir(db.path)); err != nil {
				return fmt.Errorf("%w: sync directory: %v", ErrIO, err)
			}
		}
		db.w = blockfile.NewWriter(db.wf, size, db.opts.ChecksumType)
		db.headers = header.NewManager(db.w, db.opts.SyncOnCommit, db.logger)
	}

	var rf vfs.RandomAccessFile
	var err error
	if m, ok := db.fs.(vfs.MmapOpener); ok && db.opts.ReadOnly && db.opts.MmapReads {
		rf, err = m.OpenMmap(db.path)
	} else {
		rf, err = db.fs.OpenRandomAccess(db.path)
	}
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIO, db.path, err)
	}
	db.rf = rf
	db.r = blockfile.NewReader(rf)

	if db.opts.NodeCacheSize > 0 {
		shards := db.opts.NodeCacheShards
		if shards <= 1 {
			db.cache = cache.NewLRUCache(db.opts.NodeCacheSize)
		} else {
			db.cache = cache.NewShardedLRUCache(db.opts.NodeCacheSize, shards)
		}
	}
	db.nodes = btree.NewChunkStore(db.w, db.r, db.cache, nextFileID.Add(1), nil)
	db.byID = &btree.Tree{Store: db.nodes, Cmp: btree.CompareIDs, Reduce: dbformat.IDReducer{}, ChunkThreshold: db.opts.ChunkThreshold}
	db.bySeq = &btree.Tree{Store: db.nodes, Cmp: btree.CompareSeqs, Reduce: dbformat.SeqReducer{}, ChunkThreshold: db.opts.ChunkThreshold}
	db.docs = docstore.New(db.w, db.r, db.opts.Compression)
	return nil
}

// recover loads the newest valid header, initializing empty files.
func (db *DB) recover() error {
	size, err := db.r.Size()
	if err != nil {
		return fmt.Errorf("%w: size of %s: %v", ErrIO, db.path, err)
	}

	if size == 0 {
		db.hdr = &dbformat.Header{Version: dbformat.HeaderVersion}
		if db.opts.ReadOnly {
			return nil
		}
		// A new file gets its first header right away so that it is
		// recognizable as a database even before the first commit.
		off, err := db.headers.Commit(&dbformat.Header{Timestamp: time.Now().UnixNano()})
		if err != nil {
			return err
		}
		db.hdrOffset = off
		return nil
	}

	h, off, scanned, err := header.FindLatest(db.r, size, db.logger)
	db.stats.RecordTick(TickerHeadersScanned, uint64(scanned))
	if errors.Is(err, header.ErrNoValidHeader) && db.opts.TreatCorruptAsEmpty {
		db.logger.Warnf("%sno valid header in %d bytes of %s; opening as empty", logging.NSRecovery, size, db.path)
		db.hdr = &dbformat.Header{Version: dbformat.HeaderVersion}
		return nil
	}
	if err != nil {
		return fmt.Errorf("couchyard: open %s: %w", db.path, err)
	}
	if scanned > 1 {
		db.logger.Warnf("%sskipped %d blocks of uncommitted data at the end of %s", logging.NSRecovery, scanned-1, db.path)
	}
	db.hdr = h
	db.hdrOffset = off
	return nil
}

func (db *DB) closeFiles() {
	if db.w != nil {
		_ = db.w.Close()
	}
	if db.r != nil {
		_ = db.r.Close()
	}
	if db.lock != nil {
		_ = db.lock.Close()
	}
}

// Close closes the database. Staged writes that were never committed are
// discarded. Close waits for an in-flight commit to finish.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.pendingMu.Lock()
	if db.pending != nil {
		if n := db.pending.Len(); n > 0 {
			db.logger.Warnf("%sclosing with %d uncommitted writes", logging.NSDB, n)
		}
		db.pool.Put(db.pending)
		db.pending = nil
	}
	db.pendingMu.Unlock()

	var err error
	if db.w != nil {
		err = db.w.Close()
	}
	if cerr := db.r.Close(); err == nil {
		err = cerr
	}
	if db.lock != nil {
		if cerr := db.lock.Close(); err == nil {
			err = cerr
		}
	}
	if db.cache != nil {
		db.cache.EraseFile(db.fileID())
	}
	return err
}

func (db *DB) fileID() uint64 {
	return db.nodes.File()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// current returns the committed header.
func (db *DB) current() (*dbformat.Header, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDBClosed
	}
	return db.hdr, nil
}

// checkWritable reports why writes are refused, if they are.
func (db *DB) checkWritable() error {
	if db.opts.ReadOnly {
		return ErrReadOnly
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDBClosed
	}
	if db.bgErr != nil {
		return fmt.Errorf("%w: %w", ErrBackgroundError, db.bgErr)
	}
	return nil
}

// setBackgroundError records an unrecoverable write error. The first error
// wins; reads keep working.
func (db *DB) setBackgroundError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.bgErr == nil && err != nil {
		db.bgErr = err
	}
}

// BackgroundError returns the error that stopped writes, if any.
func (db *DB) BackgroundError() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.bgErr
}

// Set stages a write of doc under info. The write becomes visible and durable
// at the next Commit. An empty info.ID defaults to doc.ID. info and doc are
// copied.
func (db *DB) Set(info *DocInfo, doc *Document) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	item, body, err := stageItem(info, doc)
	if err != nil {
		return err
	}

	db.pendingMu.Lock()
	defer db.pendingMu.Unlock()
	if db.pending == nil {
		db.pending = db.pool.Get(0)
	}
	return db.pending.Append(item, body)
}

// Save is Set with the argument order of the document-first API.
func (db *DB) Save(doc *Document, info *DocInfo) error {
	return db.Set(info, doc)
}

// Delete stages a tombstone for id. The tombstone keeps the document
// visible by sequence and through Get with DocInfo.Deleted set. Its revision
// follows the latest staged write of id, or the committed one if none is
// staged.
func (db *DB) Delete(id []byte) error {
	info := &DocInfo{ID: id, Deleted: true, Rev: 1}
	if prev, ok := db.stagedInfo(id); ok {
		info.Rev = prev.Rev + 1
		info.RevMeta = prev.RevMeta
		info.ContentMeta = prev.ContentMeta &^ ContentMetaCompressed
	} else if prev, err := db.GetDocInfo(id); err == nil {
		info.Rev = prev.Rev + 1
		info.RevMeta = prev.RevMeta
		info.ContentMeta = prev.ContentMeta &^ ContentMetaCompressed
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return db.Set(info, nil)
}

func (db *DB) stagedInfo(id []byte) (DocInfo, bool) {
	db.pendingMu.Lock()
	defer db.pendingMu.Unlock()
	if db.pending == nil {
		return DocInfo{}, false
	}
	return db.pending.Latest(id)
}

func stageItem(info *DocInfo, doc *Document) (*DocInfo, []byte, error) {
	if info == nil {
		info = &DocInfo{}
	}
	var body []byte
	staged := *info
	if doc != nil {
		body = doc.Body
		if len(staged.ID) == 0 {
			staged.ID = doc.ID
		} else if len(doc.ID) > 0 && string(doc.ID) != string(staged.ID) {
			return nil, nil, fmt.Errorf("%w: document ID %q does not match info ID %q", ErrInvalidArgument, doc.ID, staged.ID)
		}
	}
	if len(staged.ID) == 0 {
		return nil, nil, fmt.Errorf("%w: document ID is required", ErrInvalidArgument)
	}
	return &staged, body, nil
}

// Commit makes every staged write durable as one atomic commit. It fails
// with ErrWriterBusy if another commit is in progress; the staged writes are
// then kept for a retry. Otherwise the staged writes are consumed whether or
// not the commit succeeds, and a batch that hit ErrOutOfMemory is rejected
// whole.
func (db *DB) Commit() error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	if !db.writeMu.TryLock() {
		db.stats.RecordTick(TickerWriterBusy, 1)
		return ErrWriterBusy
	}
	defer db.writeMu.Unlock()
	// Close may have won the race for writeMu.
	if err := db.checkWritable(); err != nil {
		return err
	}

	db.pendingMu.Lock()
	b := db.pending
	db.pending = nil
	db.pendingMu.Unlock()
	if b == nil {
		return nil
	}

	defer db.pool.Put(b)
	if err := b.Err(); err != nil {
		return err
	}
	return db.commitLocked(b.Items())
}

// CommitAsync runs Commit on a separate goroutine. The channel receives its
// result and is then closed.
func (db *DB) CommitAsync() <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- db.Commit()
	}()
	return ch
}

// Get returns the current revision of the document with the given ID. A
// deleted document is returned with info.Deleted set and an empty body.
func (db *DB) Get(id []byte) (*Document, *DocInfo, error) {
	s, err := db.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return s.Get(id)
}

// GetDocInfo returns the index entry for id without reading the body.
func (db *DB) GetDocInfo(id []byte) (*DocInfo, error) {
	s, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.GetDocInfo(id)
}

// GetBySeq returns the index entry holding sequence seq.
func (db *DB) GetBySeq(seq uint64) (*DocInfo, error) {
	s, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.GetBySeq(seq)
}

// OpenDocWithDocInfo reads the body described by info.
func (db *DB) OpenDocWithDocInfo(info *DocInfo) (*Document, error) {
	if _, err := db.current(); err != nil {
		return nil, err
	}
	return db.openDoc(info)
}

func (db *DB) openDoc(info *DocInfo) (*Document, error) {
	body, err := db.docs.GetBody(docstore.Location{
		Offset:     info.BodyOffset,
		Size:       info.PhysicalSize,
		Compressed: info.Compressed(),
	})
	if err != nil {
		return nil, fmt.Errorf("couchyard: body of %q: %w", info.ID, err)
	}
	db.stats.RecordTick(TickerBodyBytesRead, uint64(len(body)))
	return &Document{ID: append([]byte(nil), info.ID...), Body: body}, nil
}

// UpdateSeq returns the sequence number of the newest committed write.
func (db *DB) UpdateSeq() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.hdr.UpdateSeq
}

// Statistics returns the database statistics with the index counters
// refreshed.
func (db *DB) Statistics() Statistics {
	ns := db.nodes.Stats()
	db.stats.SetTickerCount(TickerNodeReads, ns.NodeReads.Load())
	db.stats.SetTickerCount(TickerNodeWrites, ns.NodeWrites.Load())
	db.stats.SetTickerCount(TickerNodeBytesWritten, ns.BytesWritten.Load())
	db.stats.SetTickerCount(TickerNodeCacheHit, ns.CacheHits.Load())
	db.stats.SetTickerCount(TickerNodeCacheMiss, ns.CacheMisses.Load())
	ps := db.pool.Stats()
	db.stats.SetTickerCount(TickerBatchPoolHit, ps.Hits)
	db.stats.SetTickerCount(TickerBatchPoolMiss, ps.Misses)
	return db.stats
}
