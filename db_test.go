// db_test.go - Core database operations: Open/Close, Set/Get/Delete, commit
// visibility and options.

package couchyard

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aalhour/couchyard/internal/logging"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.Logger = logging.Discard
	return opts
}

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.couch")
}

func openAt(t *testing.T, path string, opts *Options) *DB {
	t.Helper()
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openTestDB(t *testing.T, opts *Options) (*DB, string) {
	t.Helper()
	path := testPath(t)
	return openAt(t, path, opts), path
}

func set(t *testing.T, db *DB, id, body string) {
	t.Helper()
	if err := db.Set(&DocInfo{ID: []byte(id)}, &Document{Body: []byte(body)}); err != nil {
		t.Fatalf("Set(%q) error = %v", id, err)
	}
}

func commit(t *testing.T, db *DB) {
	t.Helper()
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func mustGet(t *testing.T, db *DB, id string) (*Document, *DocInfo) {
	t.Helper()
	doc, info, err := db.Get([]byte(id))
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	return doc, info
}

func docID(i int) string { return fmt.Sprintf("doc%05d", i) }

// =============================================================================
// Open/Close Tests
// =============================================================================

func TestOpenCreate(t *testing.T) {
	db, path := openTestDB(t, testOptions())

	if got := db.UpdateSeq(); got != 0 {
		t.Errorf("UpdateSeq() = %d, want 0", got)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if fi.Size() == 0 {
		t.Error("new file should hold an initial header")
	}
}

func TestOpenNotFound(t *testing.T) {
	opts := testOptions()
	opts.CreateIfMissing = false

	_, err := Open(testPath(t), opts)
	if !errors.Is(err, ErrDBNotFound) {
		t.Errorf("Open() error = %v, want ErrDBNotFound", err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	db, path := openTestDB(t, testOptions())
	db.Close()

	opts := testOptions()
	opts.ErrorIfExists = true
	if _, err := Open(path, opts); !errors.Is(err, ErrDBExists) {
		t.Errorf("Open() error = %v, want ErrDBExists", err)
	}
}

func TestOpenLockedByAnotherWriter(t *testing.T) {
	_, path := openTestDB(t, testOptions())

	if _, err := Open(path, testOptions()); !errors.Is(err, ErrDBLocked) {
		t.Errorf("second Open() error = %v, want ErrDBLocked", err)
	}
}

func TestOpenInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"read-only with create", func(o *Options) { o.ReadOnly = true }},
		{"unknown compression", func(o *Options) { o.Compression = CompressionType(99) }},
		{"unknown checksum", func(o *Options) { o.ChecksumType = ChecksumType(99) }},
		{"no checksum", func(o *Options) { o.ChecksumType = ChecksumType(0) }},
		{"tiny chunk threshold", func(o *Options) { o.ChunkThreshold = 10 }},
		{"negative shards", func(o *Options) { o.NodeCacheShards = -1 }},
		{"negative batch budget", func(o *Options) { o.MaxBatchBytes = -1 }},
		{"negative workers", func(o *Options) { o.CompressionWorkers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.modify(opts)
			if _, err := Open(testPath(t), opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Open() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestRepeatedOpenClose(t *testing.T) {
	path := testPath(t)
	for i := range 5 {
		db, err := Open(path, testOptions())
		if err != nil {
			t.Fatalf("Open #%d error = %v", i, err)
		}
		set(t, db, docID(i), fmt.Sprintf("body%d", i))
		commit(t, db)
		if err := db.Close(); err != nil {
			t.Fatalf("Close #%d error = %v", i, err)
		}
	}

	db := openAt(t, path, testOptions())
	if got := db.UpdateSeq(); got != 5 {
		t.Errorf("UpdateSeq() = %d, want 5", got)
	}
	for i := range 5 {
		doc, _ := mustGet(t, db, docID(i))
		if want := fmt.Sprintf("body%d", i); string(doc.Body) != want {
			t.Errorf("Get(%s) = %q, want %q", docID(i), doc.Body, want)
		}
	}
}

func TestOperationsAfterClose(t *testing.T) {
	db, _ := openTestDB(t, testOptions())
	db.Close()

	if err := db.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, _, err := db.Get([]byte("a")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Get() error = %v, want ErrDBClosed", err)
	}
	if err := db.Set(&DocInfo{ID: []byte("a")}, nil); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Set() error = %v, want ErrDBClosed", err)
	}
	if err := db.Commit(); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Commit() error = %v, want ErrDBClosed", err)
	}
}

// =============================================================================
// Set/Get/Delete Tests
// =============================================================================

func TestSetGet(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	info := &DocInfo{ID: []byte("alice"), Rev: 3, RevMeta: []byte("meta"), ContentMeta: 1}
	if err := db.Set(info, &Document{Body: []byte(`{"name":"alice"}`)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	commit(t, db)

	doc, got := mustGet(t, db, "alice")
	if string(doc.Body) != `{"name":"alice"}` {
		t.Errorf("Body = %q", doc.Body)
	}
	if string(doc.ID) != "alice" {
		t.Errorf("ID = %q, want alice", doc.ID)
	}
	if got.Seq != 1 || got.Rev != 3 || string(got.RevMeta) != "meta" {
		t.Errorf("info = %v, want seq=1 rev=3 revmeta=meta", got)
	}
	if got.ContentMeta&^ContentMetaCompressed != 1 {
		t.Errorf("ContentMeta = %#x, caller bits lost", got.ContentMeta)
	}
	if got.Timestamp == 0 {
		t.Error("Timestamp should be assigned at write")
	}
}

func TestSetIsInvisibleUntilCommit(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	set(t, db, "a", "1")
	if _, _, err := db.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() before commit error = %v, want ErrNotFound", err)
	}
	commit(t, db)
	mustGet(t, db, "a")
}

func TestSaveTakesIDFromDocument(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	if err := db.Save(&Document{ID: []byte("x"), Body: []byte("y")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	commit(t, db)
	doc, _ := mustGet(t, db, "x")
	if string(doc.Body) != "y" {
		t.Errorf("Body = %q, want y", doc.Body)
	}
}

func TestSetRejectsBadIDs(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	tests := []struct {
		name string
		info *DocInfo
		doc  *Document
	}{
		{"no id", &DocInfo{}, &Document{Body: []byte("x")}},
		{"nil everything", nil, nil},
		{"mismatched ids", &DocInfo{ID: []byte("a")}, &Document{ID: []byte("b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := db.Set(tt.info, tt.doc); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Set() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestSetCopiesCallerBuffers(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	id := []byte("k")
	body := []byte("original")
	if err := db.Set(&DocInfo{ID: id}, &Document{Body: body}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	copy(body, "mutated!")
	id[0] = 'z'
	commit(t, db)

	doc, _ := mustGet(t, db, "k")
	if string(doc.Body) != "original" {
		t.Errorf("Body = %q, want original", doc.Body)
	}
}

func TestGetNotFound(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	if _, _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetBySeq(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBySeq() error = %v, want ErrNotFound", err)
	}
}

func TestOverwrite(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	set(t, db, "k", "v1")
	commit(t, db)
	set(t, db, "k", "v2")
	commit(t, db)

	doc, info := mustGet(t, db, "k")
	if string(doc.Body) != "v2" || info.Seq != 2 {
		t.Errorf("Get() = %q seq %d, want v2 seq 2", doc.Body, info.Seq)
	}
	// The superseded sequence is gone from the by-sequence index.
	if _, err := db.GetBySeq(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBySeq(1) error = %v, want ErrNotFound", err)
	}
	bySeq, err := db.GetBySeq(2)
	if err != nil {
		t.Fatalf("GetBySeq(2) error = %v", err)
	}
	if string(bySeq.ID) != "k" {
		t.Errorf("GetBySeq(2).ID = %q, want k", bySeq.ID)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	if err := db.Set(&DocInfo{ID: []byte("k"), Rev: 4}, &Document{Body: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	commit(t, db)
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	commit(t, db)

	doc, info := mustGet(t, db, "k")
	if !info.Deleted {
		t.Error("info.Deleted = false, want true")
	}
	if info.Rev != 5 {
		t.Errorf("info.Rev = %d, want 5", info.Rev)
	}
	if len(doc.Body) != 0 {
		t.Errorf("tombstone body = %q, want empty", doc.Body)
	}
	bySeq, err := db.GetBySeq(info.Seq)
	if err != nil {
		t.Fatalf("GetBySeq() error = %v", err)
	}
	if !bySeq.Deleted {
		t.Error("tombstone should stay visible by sequence")
	}
}

func TestDeleteFollowsStagedWrite(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	if err := db.Set(&DocInfo{ID: []byte("k"), Rev: 2}, &Document{Body: []byte("v1")}); err != nil {
		t.Fatal(err)
	}
	commit(t, db)
	if err := db.Set(&DocInfo{ID: []byte("k"), Rev: 7, RevMeta: []byte("m7")}, &Document{Body: []byte("v2")}); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	commit(t, db)

	_, info := mustGet(t, db, "k")
	if !info.Deleted || info.Rev != 8 || string(info.RevMeta) != "m7" {
		t.Errorf("info = %v, want deleted rev 8 with rev meta m7", info)
	}
}

func TestDeleteNonExistent(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	if err := db.Delete([]byte("ghost")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	commit(t, db)
	_, info := mustGet(t, db, "ghost")
	if !info.Deleted || info.Rev != 1 {
		t.Errorf("info = %v, want deleted rev 1", info)
	}
}

func TestEmptyAndBinaryBodies(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	large := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	binary := []byte{0, 1, 2, 0xff, 0, 0xfe}
	bodies := map[string][]byte{
		"empty":  {},
		"binary": binary,
		"large":  large,
	}
	for id, body := range bodies {
		if err := db.Set(&DocInfo{ID: []byte(id)}, &Document{Body: body}); err != nil {
			t.Fatal(err)
		}
	}
	commit(t, db)

	for id, want := range bodies {
		doc, _ := mustGet(t, db, id)
		if !bytes.Equal(doc.Body, want) {
			t.Errorf("Get(%s) = %d bytes, want %d", id, len(doc.Body), len(want))
		}
	}
}

func TestOpenDocWithDocInfo(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	set(t, db, "k", "payload")
	commit(t, db)

	info, err := db.GetDocInfo([]byte("k"))
	if err != nil {
		t.Fatalf("GetDocInfo() error = %v", err)
	}
	doc, err := db.OpenDocWithDocInfo(info)
	if err != nil {
		t.Fatalf("OpenDocWithDocInfo() error = %v", err)
	}
	if string(doc.Body) != "payload" {
		t.Errorf("Body = %q, want payload", doc.Body)
	}
}

func TestCompressionCodecs(t *testing.T) {
	codecs := []CompressionType{
		NoCompression, SnappyCompression, ZlibCompression,
		LZ4Compression, LZ4HCCompression, ZstdCompression,
	}
	body := bytes.Repeat([]byte("compressible "), 500)

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			opts := testOptions()
			opts.Compression = codec
			db, path := openTestDB(t, opts)

			if err := db.Set(&DocInfo{ID: []byte("k")}, &Document{Body: body}); err != nil {
				t.Fatal(err)
			}
			commit(t, db)
			db.Close()

			// Bodies are self-describing; reopening with another codec
			// still reads them.
			opts = testOptions()
			opts.Compression = SnappyCompression
			db = openAt(t, path, opts)
			doc, info := mustGet(t, db, "k")
			if !bytes.Equal(doc.Body, body) {
				t.Errorf("body mismatch after reopen")
			}
			if wantCompressed := codec != NoCompression; info.Compressed() != wantCompressed {
				t.Errorf("Compressed() = %v, want %v", info.Compressed(), wantCompressed)
			}
		})
	}
}

func TestChecksumTypes(t *testing.T) {
	types := []ChecksumType{ChecksumTypeCRC32C, ChecksumTypeXXHash64, ChecksumTypeXXH3}
	for _, cs := range types {
		t.Run(cs.String(), func(t *testing.T) {
			opts := testOptions()
			opts.ChecksumType = cs
			db, path := openTestDB(t, opts)
			set(t, db, "k", "v")
			commit(t, db)
			db.Close()

			db = openAt(t, path, testOptions())
			doc, _ := mustGet(t, db, "k")
			if string(doc.Body) != "v" {
				t.Errorf("Body = %q, want v", doc.Body)
			}
		})
	}
}

func TestReadOnly(t *testing.T) {
	db, path := openTestDB(t, testOptions())
	set(t, db, "k", "v")
	commit(t, db)
	db.Close()

	opts := testOptions()
	opts.CreateIfMissing = false
	opts.ReadOnly = true
	ro := openAt(t, path, opts)

	if err := ro.Set(&DocInfo{ID: []byte("x")}, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Set() error = %v, want ErrReadOnly", err)
	}
	if err := ro.Commit(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Commit() error = %v, want ErrReadOnly", err)
	}
	if _, err := ro.Bulk(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Bulk() error = %v, want ErrReadOnly", err)
	}
	doc, _ := mustGet(t, ro, "k")
	if string(doc.Body) != "v" {
		t.Errorf("Body = %q, want v", doc.Body)
	}

	// A read-only reader coexists with a writer.
	w := openAt(t, path, testOptions())
	set(t, w, "k2", "v2")
	commit(t, w)
}

func TestReadOnlyMmapReads(t *testing.T) {
	db, path := openTestDB(t, smallNodeOptions())
	seedDocs(t, db, 300)
	db.Close()

	opts := testOptions()
	opts.CreateIfMissing = false
	opts.ReadOnly = true
	opts.MmapReads = true
	ro := openAt(t, path, opts)

	if got := ro.UpdateSeq(); got != 300 {
		t.Errorf("UpdateSeq() = %d, want 300", got)
	}
	doc, _ := mustGet(t, ro, docID(123))
	if string(doc.Body) != "body123" {
		t.Errorf("Body = %q, want body123", doc.Body)
	}
	if ids := walkIDs(t, ro, ""); len(ids) != 300 {
		t.Errorf("Walk() visited %d, want 300", len(ids))
	}

	// Commits after the mapping was taken stay invisible to it.
	w := openAt(t, path, testOptions())
	set(t, w, "later", "x")
	commit(t, w)
	if _, _, err := ro.Get([]byte("later")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(later) error = %v, want ErrNotFound", err)
	}
}

func TestInfo(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	for i := range 10 {
		set(t, db, docID(i), "body")
	}
	commit(t, db)
	if err := db.Delete([]byte(docID(3))); err != nil {
		t.Fatal(err)
	}
	commit(t, db)

	info, err := db.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.DocCount != 9 || info.DeletedCount != 1 {
		t.Errorf("Info() docs=%d deleted=%d, want 9 and 1", info.DocCount, info.DeletedCount)
	}
	if info.UpdateSeq != 11 {
		t.Errorf("UpdateSeq = %d, want 11", info.UpdateSeq)
	}
	if info.SpaceUsed == 0 || int64(info.SpaceUsed) > info.FileSize {
		t.Errorf("SpaceUsed = %d, FileSize = %d", info.SpaceUsed, info.FileSize)
	}
}

func TestStatistics(t *testing.T) {
	opts := testOptions()
	opts.Statistics = NewStatistics()
	db, _ := openTestDB(t, opts)

	for i := range 20 {
		set(t, db, docID(i), "body")
	}
	commit(t, db)
	mustGet(t, db, docID(1))
	_, _, _ = db.Get([]byte("missing"))

	stats := db.Statistics()
	checks := []struct {
		ticker TickerType
		want   uint64
	}{
		{TickerDocsWritten, 20},
		{TickerCommits, 1},
		{TickerCommitSyncs, 1},
		{TickerDocsRead, 1},
		{TickerDocsNotFound, 1},
	}
	for _, c := range checks {
		if got := stats.GetTickerCount(c.ticker); got != c.want {
			t.Errorf("%s = %d, want %d", c.ticker, got, c.want)
		}
	}
	if stats.GetTickerCount(TickerNodeWrites) == 0 {
		t.Error("node writes should be counted")
	}
	if h := stats.GetHistogramData(HistogramCommitDocs); h.Count != 1 || h.Max != 20 {
		t.Errorf("commit docs histogram = %+v", h)
	}
}
