package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aalhour/couchyard"
	"github.com/aalhour/couchyard/internal/logging"
)

func createTestDB(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.couch")
	opts := couchyard.DefaultOptions()
	opts.CreateIfMissing = true
	opts.Logger = logging.Discard
	database, err := couchyard.Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to create DB: %v", err)
	}
	for i := range n {
		id := fmt.Appendf(nil, "key%05d", i)
		body := fmt.Appendf(nil, "value%05d", i)
		if err := database.Set(&couchyard.DocInfo{ID: id}, &couchyard.Document{Body: body}); err != nil {
			t.Fatalf("Failed to Set: %v", err)
		}
	}
	if err := database.Commit(); err != nil {
		t.Fatalf("Failed to Commit: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Failed to Close: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestScan_ValidDB(t *testing.T) {
	path := createTestDB(t, 10)

	code, out, errOut := runCmd(t, "--db", path, "scan")
	if code != 0 {
		t.Fatalf("scan exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "key00000 seq=1") {
		t.Errorf("scan output missing key00000: %s", out)
	}
	if !strings.Contains(out, "(10 documents scanned)") {
		t.Errorf("scan output missing count: %s", out)
	}
}

func TestScan_FromAndLimit(t *testing.T) {
	path := createTestDB(t, 10)

	code, out, errOut := runCmd(t, "--db", path, "--from", "key00005", "--limit", "2", "scan")
	if code != 0 {
		t.Fatalf("scan exit code = %d\nstderr: %s", code, errOut)
	}
	if strings.Contains(out, "key00004") || !strings.Contains(out, "key00006") || strings.Contains(out, "key00007") {
		t.Errorf("unexpected scan window: %s", out)
	}
}

func TestChanges(t *testing.T) {
	path := createTestDB(t, 10)

	code, out, errOut := runCmd(t, "--db", path, "--since", "8", "changes")
	if code != 0 {
		t.Fatalf("changes exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "(2 changes since 8)") {
		t.Errorf("changes output = %s", out)
	}
}

func TestPutGetDelete(t *testing.T) {
	path := createTestDB(t, 1)

	if code, _, errOut := runCmd(t, "--db", path, "put", "new", "doc"); code == 0 {
		t.Errorf("put in readonly mode should fail\nstderr: %s", errOut)
	}
	if code, _, errOut := runCmd(t, "--db", path, "--readonly=false", "put", "new", "doc"); code != 0 {
		t.Fatalf("put exit code = %d\nstderr: %s", code, errOut)
	}

	code, out, errOut := runCmd(t, "--db", path, "get", "new")
	if code != 0 {
		t.Fatalf("get exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "rev=1") || !strings.Contains(out, "\ndoc\n") {
		t.Errorf("get output = %q", out)
	}

	if code, _, errOut := runCmd(t, "--db", path, "--readonly=false", "delete", "new"); code != 0 {
		t.Fatalf("delete exit code = %d\nstderr: %s", code, errOut)
	}
	_, out, _ = runCmd(t, "--db", path, "get", "new")
	if !strings.Contains(out, "deleted") || !strings.Contains(out, "rev=2") {
		t.Errorf("get after delete = %q", out)
	}

	if code, _, _ := runCmd(t, "--db", path, "get", "missing"); code == 0 {
		t.Error("get of a missing document should fail")
	}
}

func TestHeaders(t *testing.T) {
	path := createTestDB(t, 5)

	code, out, errOut := runCmd(t, "--db", path, "headers")
	if code != 0 {
		t.Fatalf("headers exit code = %d\nstderr: %s", code, errOut)
	}
	// The initial header plus one commit.
	if !strings.Contains(out, "(2 headers") {
		t.Errorf("headers output = %s", out)
	}
	if strings.Index(out, "update_seq=5") > strings.Index(out, "update_seq=0") {
		t.Errorf("headers should be listed newest first: %s", out)
	}
}

func TestInfoSurfacesCorruption(t *testing.T) {
	path := createTestDB(t, 5)
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xee}, 8192), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCmd(t, "--db", path, "info")
	if code == 0 {
		t.Fatal("info on a file without headers should fail")
	}
	if !strings.Contains(errOut, "no valid header") {
		t.Errorf("stderr = %s", errOut)
	}
}

func TestCompact(t *testing.T) {
	path := createTestDB(t, 20)
	dst := filepath.Join(filepath.Dir(path), "compacted.couch")

	code, out, errOut := runCmd(t, "--db", path, "compact", dst)
	if code != 0 {
		t.Fatalf("compact exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Compacted 20 documents") {
		t.Errorf("compact output = %s", out)
	}

	code, out, _ = runCmd(t, "--db", dst, "info")
	if code != 0 || !strings.Contains(out, "Documents:     20") {
		t.Errorf("info on compacted file = %d %s", code, out)
	}
}

func TestMissingDBFlag(t *testing.T) {
	if code, _, _ := runCmd(t, "scan"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if code, _, _ := runCmd(t, "--db", "x", "bogus"); code != 1 {
		t.Errorf("unknown command exit code = %d, want 1", code)
	}
}

func TestExportImport(t *testing.T) {
	path := createTestDB(t, 15)
	dir := filepath.Dir(path)
	dump := filepath.Join(dir, "dump.msgpack")

	code, out, errOut := runCmd(t, "--db", path, "export", dump)
	if code != 0 {
		t.Fatalf("export exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Exported 15 documents") {
		t.Errorf("export output = %s", out)
	}

	dst := filepath.Join(dir, "restored.couch")
	if code, _, _ := runCmd(t, "--db", dst, "--create_if_missing", "import", dump); code == 0 {
		t.Error("import in readonly mode should fail")
	}
	code, out, errOut = runCmd(t, "--db", dst, "--readonly=false", "--create_if_missing", "--compression", "zstd", "import", dump)
	if code != 0 {
		t.Fatalf("import exit code = %d\nstderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Imported 15 documents") {
		t.Errorf("import output = %s", out)
	}

	_, out, _ = runCmd(t, "--db", dst, "get", "key00007")
	if !strings.Contains(out, "\nvalue00007\n") {
		t.Errorf("get after import = %q", out)
	}
}

func TestConfigFile(t *testing.T) {
	path := createTestDB(t, 3)
	cfgPath := filepath.Join(filepath.Dir(path), "couchyard.yaml")
	if err := os.WriteFile(cfgPath, []byte("compression: lz4\nlog_level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, errOut := runCmd(t, "--db", path, "--config", cfgPath, "--readonly=false", "put", "k", "v"); code != 0 {
		t.Fatalf("put exit code = %d\nstderr: %s", code, errOut)
	}

	if err := os.WriteFile(cfgPath, []byte("no_such_option: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := runCmd(t, "--db", path, "--config", cfgPath, "info")
	if code == 0 || !strings.Contains(errOut, "no_such_option") {
		t.Errorf("bad config: exit %d, stderr %s", code, errOut)
	}
}

func TestMetrics(t *testing.T) {
	path := createTestDB(t, 4)

	code, out, errOut := runCmd(t, "--db", path, "metrics")
	if code != 0 {
		t.Fatalf("metrics exit code = %d\nstderr: %s", code, errOut)
	}
	for _, want := range []string{
		`couchyard_documents{db="couchdump"} 4`,
		`couchyard_update_seq{db="couchdump"} 4`,
		"# TYPE couchyard_commits_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}
