package couchyard

// export_test.go implements tests for dump export and import.

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	src, path := openTestDB(t, testOptions())
	for i := range 2500 {
		set(t, src, docID(i), fmt.Sprintf("body%d", i))
	}
	commit(t, src)
	if err := src.Set(&DocInfo{ID: []byte("meta"), Rev: 7, RevMeta: []byte{1, 2}, ContentMeta: 0x04}, &Document{Body: []byte("m")}); err != nil {
		t.Fatal(err)
	}
	if err := src.Delete([]byte(docID(5))); err != nil {
		t.Fatal(err)
	}
	commit(t, src)

	var buf bytes.Buffer
	n, err := src.Export(&buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != 2501 {
		t.Errorf("Export() = %d docs, want 2501", n)
	}

	opts := testOptions()
	opts.Compression = ZstdCompression
	opts.Statistics = NewStatistics()
	dst := openAt(t, filepath.Join(filepath.Dir(path), "imported.couch"), opts)
	got, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if got != n {
		t.Errorf("Import() = %d, want %d", got, n)
	}
	if commits := opts.Statistics.GetTickerCount(TickerCommits); commits != 3 {
		t.Errorf("commits = %d, want 3 batches", commits)
	}

	srcInfo, _ := src.Info()
	dstInfo, _ := dst.Info()
	if dstInfo.DocCount != srcInfo.DocCount || dstInfo.DeletedCount != srcInfo.DeletedCount {
		t.Errorf("counts = %d/%d, want %d/%d", dstInfo.DocCount, dstInfo.DeletedCount, srcInfo.DocCount, srcInfo.DeletedCount)
	}

	doc, info := mustGet(t, dst, docID(1234))
	if string(doc.Body) != "body1234" {
		t.Errorf("body = %q, want body1234", doc.Body)
	}
	_, want := mustGet(t, src, docID(1234))
	if info.Timestamp != want.Timestamp {
		t.Errorf("timestamp = %d, want %d", info.Timestamp, want.Timestamp)
	}

	_, info = mustGet(t, dst, "meta")
	if info.Rev != 7 || !bytes.Equal(info.RevMeta, []byte{1, 2}) || info.ContentMeta&^ContentMetaCompressed != 0x04 {
		t.Errorf("meta info = %v", info)
	}
	if _, info := mustGet(t, dst, docID(5)); !info.Deleted {
		t.Error("tombstone lost in import")
	}
}

func TestExportFromSnapshot(t *testing.T) {
	db, _ := openTestDB(t, testOptions())
	seedDocs(t, db, 10)
	snap, err := db.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	seedDocs(t, db, 20)

	var buf bytes.Buffer
	if n, err := snap.Export(&buf); err != nil || n != 10 {
		t.Errorf("Export() = %d, %v; want 10 docs", n, err)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	db, _ := openTestDB(t, testOptions())

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not msgpack")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Import(bytes.NewReader(tt.input)); !errors.Is(err, ErrBadDump) {
				t.Errorf("Import() error = %v, want ErrBadDump", err)
			}
		})
	}

	// A truncated dump commits nothing past the break.
	src, _ := openTestDB(t, testOptions())
	seedDocs(t, src, 50)
	var buf bytes.Buffer
	if _, err := src.Export(&buf); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	if _, err := db.Import(bytes.NewReader(truncated)); !errors.Is(err, ErrBadDump) {
		t.Errorf("Import(truncated) error = %v, want ErrBadDump", err)
	}
	if got := db.UpdateSeq(); got != 0 {
		t.Errorf("UpdateSeq() = %d, want 0", got)
	}
}
