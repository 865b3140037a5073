/*
Package couchyard provides a pure-Go, single-file, append-only document store
indexed by copy-on-write B-trees.

A database is one file. Documents are identified by byte-string IDs and carry
revision metadata; each write is assigned a sequence number. Two indexes are
maintained: by ID and by sequence. Nothing in the file is ever overwritten:
a commit appends bodies, the rewritten index paths and finally a header
naming the new index roots. Recovery after a crash scans backward for the
newest intact header, so a torn commit is simply never seen.

# Usage

	db, err := couchyard.Open("users.couch", couchyard.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Set(&couchyard.DocInfo{ID: []byte("alice")}, &couchyard.Document{Body: body}); err != nil {
		return err
	}
	if err := db.Commit(); err != nil {
		return err
	}

# Concurrency

A DB is safe for concurrent use by multiple goroutines. Exactly one commit
runs at a time; a commit attempted while another is in flight fails with
ErrWriterBusy. Readers never block writers: every read works from the header
current when it started, and a Snapshot pins one header for as long as it is
held.

# Durability

Writes are staged until Commit (or BulkWriter.Commit) returns. A commit is
durable once it returns, unless Options.SyncOnCommit is disabled.
*/
package couchyard
