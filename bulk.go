package couchyard

import (
	"fmt"
	"sync"

	"github.com/aalhour/couchyard/internal/batch"
	"github.com/aalhour/couchyard/internal/logging"
)

// DefaultBulkCapacity is the initial capacity of a batch created by Bulk.
const DefaultBulkCapacity = 100

// BulkState is the lifecycle state of a BulkWriter.
type BulkState int

const (
	// BulkIdle holds no pending writes.
	BulkIdle BulkState = iota
	// BulkAccumulating holds pending writes.
	BulkAccumulating
	// BulkCommitting is applying its writes.
	BulkCommitting
	// BulkClosed has been closed.
	BulkClosed
)

func (s BulkState) String() string {
	switch s {
	case BulkIdle:
		return "idle"
	case BulkAccumulating:
		return "accumulating"
	case BulkCommitting:
		return "committing"
	case BulkClosed:
		return "closed"
	default:
		return fmt.Sprintf("BulkState(%d)", int(s))
	}
}

// BulkWriter accumulates writes and applies them as one commit. Its writes
// are independent of those staged with DB.Set. It is safe for concurrent
// use; Set and Delete block while a commit is in progress.
//
// Call Close when done to release the batch.
type BulkWriter struct {
	db *DB

	mu    sync.Mutex
	b     *batch.Batch
	state BulkState
}

// AllocateBulk returns a bulk writer whose batch starts with room for
// capacity writes.
func (db *DB) AllocateBulk(capacity int) (*BulkWriter, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: bulk capacity %d", ErrInvalidArgument, capacity)
	}
	b := db.pool.Get(capacity)
	if err := b.Err(); err != nil {
		db.pool.Put(b)
		return nil, err
	}
	return &BulkWriter{db: db, b: b}, nil
}

// Bulk returns a bulk writer with DefaultBulkCapacity.
func (db *DB) Bulk() (*BulkWriter, error) {
	return db.AllocateBulk(DefaultBulkCapacity)
}

// State returns the writer's lifecycle state.
func (bw *BulkWriter) State() BulkState {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.state
}

// Len returns the number of pending writes.
func (bw *BulkWriter) Len() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.b == nil {
		return 0
	}
	return bw.b.Len()
}

// Set adds a write of doc under info. An empty info.ID defaults to doc.ID.
// Both are copied.
func (bw *BulkWriter) Set(info *DocInfo, doc *Document) error {
	staged, body, err := stageItem(info, doc)
	if err != nil {
		return err
	}
	return bw.append(staged, body)
}

// Delete adds a tombstone for info.ID. The rest of info is kept as given.
func (bw *BulkWriter) Delete(info *DocInfo) error {
	staged, _, err := stageItem(info, nil)
	if err != nil {
		return err
	}
	staged.Deleted = true
	return bw.append(staged, nil)
}

func (bw *BulkWriter) append(info *DocInfo, body []byte) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.state == BulkClosed {
		return ErrBulkClosed
	}
	if err := bw.b.Append(info, body); err != nil {
		return err
	}
	bw.state = BulkAccumulating
	return nil
}

// Commit applies the pending writes as one commit. On ErrWriterBusy the
// writes are kept for a retry; on any other outcome they are consumed. A
// batch that exceeded Options.MaxBatchBytes is rejected whole with
// ErrOutOfMemory.
func (bw *BulkWriter) Commit() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.state == BulkClosed {
		return ErrBulkClosed
	}
	db := bw.db
	if err := db.checkWritable(); err != nil {
		return err
	}
	if !db.writeMu.TryLock() {
		db.stats.RecordTick(TickerWriterBusy, 1)
		return ErrWriterBusy
	}
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}

	bw.state = BulkCommitting
	n := bw.b.Len()
	err := bw.b.Err()
	if err == nil {
		err = db.commitLocked(bw.b.Items())
	}
	if err != nil {
		db.logger.Warnf("%sbulk commit of %d writes failed: %v", logging.NSBulk, n, err)
	}
	bw.b.Reset()
	bw.state = BulkIdle
	return err
}

// Close discards any pending writes and releases the batch. Closing twice
// is a no-op.
func (bw *BulkWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.state == BulkClosed {
		return nil
	}
	if n := bw.b.Len(); n > 0 {
		bw.db.logger.Warnf("%sclosing bulk writer with %d uncommitted writes", logging.NSBulk, n)
	}
	bw.db.pool.Put(bw.b)
	bw.b = nil
	bw.state = BulkClosed
	return nil
}

// SaveDocuments writes docs under infos as one commit. infos[i] describes
// docs[i]; a nil doc writes an empty body.
func (db *DB) SaveDocuments(infos []*DocInfo, docs []*Document) error {
	if len(infos) != len(docs) {
		return fmt.Errorf("%w: %d infos for %d documents", ErrInvalidArgument, len(infos), len(docs))
	}
	bw, err := db.AllocateBulk(len(infos))
	if err != nil {
		return err
	}
	defer bw.Close()
	for i := range infos {
		if err := bw.Set(infos[i], docs[i]); err != nil {
			return err
		}
	}
	return bw.Commit()
}
