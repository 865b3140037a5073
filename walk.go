package couchyard

import "iter"

// WalkFunc receives one index entry per document. Return StopIteration to
// end the walk early; any other error ends it and is returned.
type WalkFunc func(info *DocInfo) error

// DocWalkFunc is a WalkFunc that also receives the document body.
type DocWalkFunc func(doc *Document, info *DocInfo) error

// Walk calls fn for every document with ID >= startID, in ID order, as of
// the latest commit. Tombstones are included.
func (db *DB) Walk(startID []byte, fn WalkFunc) error {
	s, err := db.Snapshot()
	if err != nil {
		return err
	}
	return s.Walk(startID, fn)
}

// WalkDocs is Walk with each document's body loaded.
func (db *DB) WalkDocs(startID []byte, fn DocWalkFunc) error {
	s, err := db.Snapshot()
	if err != nil {
		return err
	}
	return s.WalkDocs(startID, fn)
}

// ChangesSince calls fn, in sequence order, for every document last written
// after sequence since.
func (db *DB) ChangesSince(since uint64, fn WalkFunc) error {
	s, err := db.Snapshot()
	if err != nil {
		return err
	}
	return s.ChangesSince(since, fn)
}

// All returns an iterator over the document infos with ID >= startID as of
// the latest commit.
func (db *DB) All(startID []byte) iter.Seq2[*DocInfo, error] {
	s, err := db.Snapshot()
	if err != nil {
		return func(yield func(*DocInfo, error) bool) { yield(nil, err) }
	}
	return s.All(startID)
}
