package couchyard

import (
	"fmt"
	"time"
)

// DBInfo summarizes a database as of one commit.
type DBInfo struct {
	// DocCount is the number of live documents.
	DocCount uint64
	// DeletedCount is the number of tombstones.
	DeletedCount uint64
	UpdateSeq    uint64
	PurgeSeq     uint64
	// FileSize is the file length when the commit was written.
	FileSize int64
	// SpaceUsed is the bytes referenced by the commit: bodies plus index
	// nodes. FileSize minus SpaceUsed is what compaction would reclaim.
	SpaceUsed uint64
	// Committed is the commit time.
	Committed time.Time
}

func (i *DBInfo) String() string {
	return fmt.Sprintf("docs=%d deleted=%d update_seq=%d purge_seq=%d file_size=%d space_used=%d",
		i.DocCount, i.DeletedCount, i.UpdateSeq, i.PurgeSeq, i.FileSize, i.SpaceUsed)
}

// Info summarizes the latest commit.
func (db *DB) Info() (*DBInfo, error) {
	s, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.Info()
}
