// Package main provides the couchdump CLI tool for inspecting couchyard
// database files.
//
// Usage:
//
//	couchdump --db=<file> [options] <command> [args]
//
// Commands:
//
//	info              Print database information
//	scan              List documents in ID order
//	changes           List documents in sequence order
//	get <id>          Print a document and its metadata
//	put <id> <body>   Write a document
//	delete <id>       Write a tombstone
//	headers           List every valid commit header, newest first
//	compact <dst>     Write the live documents into a new file
//	export <file>     Write a portable dump ("-" for stdout)
//	import <file>     Load a dump written by export
//	metrics           Print statistics in Prometheus text format
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aalhour/couchyard"
	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/compression"
	"github.com/aalhour/couchyard/internal/dbformat"
	"github.com/aalhour/couchyard/internal/header"
	"github.com/aalhour/couchyard/internal/logging"
	"github.com/aalhour/couchyard/internal/vfs"
	"github.com/aalhour/couchyard/metrics"
)

// config holds the parsed global flags.
type config struct {
	dbPath          string
	configPath      string
	readOnly        bool
	hexOutput       bool
	limit           int
	fromID          string
	since           uint64
	createIfMissing bool
	codec           string
	codecSet        bool
	verbose         bool
	logJSON         bool
	stderr          io.Writer
}

func newConfig(c *cli.Context) (*config, error) {
	cfg := &config{
		dbPath:          c.String("db"),
		configPath:      c.String("config"),
		readOnly:        c.Bool("readonly"),
		hexOutput:       c.Bool("hex"),
		limit:           c.Int("limit"),
		fromID:          c.String("from"),
		since:           c.Uint64("since"),
		createIfMissing: c.Bool("create_if_missing"),
		codec:           c.String("compression"),
		codecSet:        c.IsSet("compression"),
		verbose:         c.Bool("v"),
		logJSON:         c.Bool("log_json"),
		stderr:          c.App.ErrWriter,
	}
	if cfg.dbPath == "" {
		return nil, errors.New("--db flag is required")
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(append([]string{"couchdump"}, args...)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// action adapts a command body to cli.ActionFunc.
func action(fn func(cfg *config, args []string, w io.Writer) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := newConfig(c)
		if err != nil {
			return err
		}
		return fn(cfg, c.Args().Slice(), c.App.Writer)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "couchdump",
		Usage:     "couchyard database inspection tool",
		UsageText: "couchdump --db=<file> [options] <command> [args]",
		Writer:    stdout,
		ErrWriter: stderr,
		// Errors are reported by run; the default handler calls os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "path to the database file (required)", EnvVars: []string{"COUCHYARD_DB"}},
			&cli.StringFlag{Name: "config", Usage: "YAML options file applied before the flags below"},
			&cli.BoolFlag{Name: "readonly", Value: true, Usage: "open database in read-only mode"},
			&cli.BoolFlag{Name: "hex", Usage: "output IDs and bodies in hex format"},
			&cli.IntFlag{Name: "limit", Usage: "limit number of entries (0 = unlimited)"},
			&cli.StringFlag{Name: "from", Usage: "start ID for scan"},
			&cli.Uint64Flag{Name: "since", Usage: "list changes after this sequence"},
			&cli.BoolFlag{Name: "create_if_missing", Usage: "create the file if it doesn't exist"},
			&cli.StringFlag{Name: "compression", Value: "snappy", Usage: "body compression for writes (none, snappy, zlib, lz4, lz4hc, zstd)"},
			&cli.BoolFlag{Name: "v", Usage: "verbose output"},
			&cli.BoolFlag{Name: "log_json", Usage: "log as JSON lines"},
		},
		Commands: []*cli.Command{
			{Name: "info", Usage: "print database information", Action: action(cmdInfo)},
			{Name: "scan", Usage: "list documents in ID order (--from, --limit)", Action: action(cmdScan)},
			{Name: "changes", Usage: "list documents in sequence order (--since, --limit)", Action: action(cmdChanges)},
			{Name: "get", Usage: "print a document and its metadata", ArgsUsage: "<id>", Action: action(cmdGet)},
			{Name: "put", Usage: "write a document (requires --readonly=false)", ArgsUsage: "<id> <body>", Action: action(cmdPut)},
			{Name: "delete", Usage: "write a tombstone (requires --readonly=false)", ArgsUsage: "<id>", Action: action(cmdDelete)},
			{Name: "headers", Usage: "list every valid commit header, newest first", Action: action(cmdHeaders)},
			{Name: "compact", Usage: "write the live documents into a new file", ArgsUsage: "<dst>", Action: action(cmdCompact)},
			{Name: "export", Usage: "write a portable dump", ArgsUsage: "<file|->", Action: action(cmdExport)},
			{Name: "import", Usage: "load a dump (requires --readonly=false)", ArgsUsage: "<file>", Action: action(cmdImport)},
			{Name: "metrics", Usage: "print statistics in Prometheus text format", Action: action(cmdMetrics)},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Present() {
				return fmt.Errorf("unknown command: %s", c.Args().First())
			}
			return cli.ShowAppHelp(c)
		},
	}
}

func newLogger(cfg *config) couchyard.Logger {
	if cfg.logJSON {
		l := logrus.New()
		l.SetOutput(cfg.stderr)
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.WarnLevel)
		if cfg.verbose {
			l.SetLevel(logrus.DebugLevel)
		}
		return couchyard.NewLogrusLogger(l)
	}
	if cfg.verbose {
		return logging.NewLogger(cfg.stderr, logging.LevelDebug)
	}
	return logging.NewLogger(cfg.stderr, logging.LevelWarn)
}

func openDB(cfg *config) (*couchyard.DB, error) {
	opts := couchyard.DefaultOptions()
	if cfg.configPath != "" {
		var err error
		if opts, err = couchyard.ReadOptionsFile(nil, cfg.configPath); err != nil {
			return nil, err
		}
	}
	opts.Logger = newLogger(cfg)
	if cfg.configPath == "" || cfg.codecSet {
		codec, err := compression.ParseType(cfg.codec)
		if err != nil {
			return nil, err
		}
		opts.Compression = codec
		opts.CompressBodies = codec != compression.NoCompression
	}
	opts.ReadOnly = cfg.readOnly
	opts.CreateIfMissing = cfg.createIfMissing && !cfg.readOnly
	database, err := couchyard.Open(cfg.dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func formatOutput(cfg *config, data []byte) string {
	if cfg.hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	// Try hex decode first (if prefixed with 0x)
	if strings.HasPrefix(s, "0x") {
		decoded, err := hex.DecodeString(s[2:])
		if err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func formatInfo(cfg *config, info *couchyard.DocInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq=%d rev=%d size=%d", formatOutput(cfg, info.ID), info.Seq, info.Rev, info.PhysicalSize)
	if info.Deleted {
		b.WriteString(" deleted")
	}
	if info.Compressed() {
		b.WriteString(" compressed")
	}
	if cfg.verbose {
		fmt.Fprintf(&b, " offset=%d content_meta=%#02x time=%s", info.BodyOffset, info.ContentMeta,
			time.Unix(0, info.Timestamp).UTC().Format(time.RFC3339Nano))
		if len(info.RevMeta) > 0 {
			fmt.Fprintf(&b, " rev_meta=%s", hex.EncodeToString(info.RevMeta))
		}
	}
	return b.String()
}

func cmdInfo(cfg *config, _ []string, w io.Writer) error {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	info, err := database.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Path:          %s\n", database.Path())
	fmt.Fprintf(w, "Documents:     %d\n", info.DocCount)
	fmt.Fprintf(w, "Deleted:       %d\n", info.DeletedCount)
	fmt.Fprintf(w, "Update seq:    %d\n", info.UpdateSeq)
	fmt.Fprintf(w, "Purge seq:     %d\n", info.PurgeSeq)
	fmt.Fprintf(w, "File size:     %d\n", info.FileSize)
	fmt.Fprintf(w, "Space used:    %d\n", info.SpaceUsed)
	fmt.Fprintf(w, "Last commit:   %s\n", info.Committed.UTC().Format(time.RFC3339))
	if cfg.verbose {
		fmt.Fprintf(w, "\n%s", database.Statistics())
	}
	return nil
}

func cmdScan(cfg *config, _ []string, w io.Writer) error {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var start []byte
	if cfg.fromID != "" {
		start = parseInput(cfg.fromID)
	}
	count := 0
	err = database.Walk(start, func(info *couchyard.DocInfo) error {
		fmt.Fprintln(w, formatInfo(cfg, info))
		count++
		if cfg.limit > 0 && count >= cfg.limit {
			return couchyard.StopIteration
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	fmt.Fprintf(w, "\n(%d documents scanned)\n", count)
	return nil
}

func cmdChanges(cfg *config, _ []string, w io.Writer) error {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	count := 0
	err = database.ChangesSince(cfg.since, func(info *couchyard.DocInfo) error {
		fmt.Fprintln(w, formatInfo(cfg, info))
		count++
		if cfg.limit > 0 && count >= cfg.limit {
			return couchyard.StopIteration
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("changes failed: %w", err)
	}
	fmt.Fprintf(w, "\n(%d changes since %d)\n", count, cfg.since)
	return nil
}

func cmdGet(cfg *config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: couchdump --db=<file> get <id>")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	doc, info, err := database.Get(parseInput(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatInfo(cfg, info))
	fmt.Fprintln(w, formatOutput(cfg, doc.Body))
	return nil
}

func cmdPut(cfg *config, args []string, w io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: couchdump --db=<file> --readonly=false put <id> <body>")
	}
	if cfg.readOnly {
		return errors.New("cannot put in readonly mode, use --readonly=false")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	id := parseInput(args[0])
	info := &couchyard.DocInfo{ID: id, Rev: 1}
	if prev, err := database.GetDocInfo(id); err == nil {
		info.Rev = prev.Rev + 1
	} else if !errors.Is(err, couchyard.ErrNotFound) {
		return err
	}
	if err := database.Set(info, &couchyard.Document{Body: parseInput(args[1])}); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	if err := database.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDelete(cfg *config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: couchdump --db=<file> --readonly=false delete <id>")
	}
	if cfg.readOnly {
		return errors.New("cannot delete in readonly mode, use --readonly=false")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Delete(parseInput(args[0])); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if err := database.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	fmt.Fprintln(w, "OK")
	return nil
}

// cmdHeaders reads the file directly so that it also works on files that
// Open rejects.
func cmdHeaders(cfg *config, _ []string, w io.Writer) error {
	rf, err := vfs.Default().OpenRandomAccess(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.dbPath, err)
	}
	r := blockfile.NewReader(rf)
	defer r.Close()

	size, err := r.Size()
	if err != nil {
		return err
	}
	var logger logging.Logger = logging.Discard
	if cfg.verbose {
		logger = newLogger(cfg)
	}

	count := 0
	scanned, err := header.Scan(r, size, logger, func(h *dbformat.Header, offset int64) bool {
		fmt.Fprintf(w, "@%-10d update_seq=%d purge_seq=%d file_size=%d time=%s\n",
			offset, h.UpdateSeq, h.PurgeSeq, h.FileSize, time.Unix(0, h.Timestamp).UTC().Format(time.RFC3339))
		if cfg.verbose {
			fmt.Fprintf(w, "             by_id=%s by_seq=%s\n", formatRoot(h.ByIDRoot), formatRoot(h.BySeqRoot))
		}
		count++
		return cfg.limit <= 0 || count < cfg.limit
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n(%d headers in %d blocks, %d bytes)\n", count, scanned, size)
	return nil
}

func formatRoot(p *btree.Pointer) string {
	if p == nil {
		return "empty"
	}
	return fmt.Sprintf("%d/%d", p.Offset, p.Size)
}

func cmdCompact(cfg *config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: couchdump --db=<file> compact <dst>")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.Compact(args[0])
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	fmt.Fprintf(w, "Compacted %d documents: %d -> %d bytes in %v\n",
		stats.Docs, stats.BytesBefore, stats.BytesAfter, stats.Duration.Round(time.Millisecond))
	return nil
}

func cmdExport(cfg *config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: couchdump --db=<file> export <file|->")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if args[0] == "-" {
		_, err := database.Export(w)
		return err
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := database.Export(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("export failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Exported %d documents to %s\n", n, args[0])
	return nil
}

func cmdImport(cfg *config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: couchdump --db=<file> --readonly=false import <file>")
	}
	if cfg.readOnly {
		return errors.New("cannot import in readonly mode, use --readonly=false")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := database.Import(f)
	if err != nil {
		return fmt.Errorf("import failed after %d documents: %w", n, err)
	}
	fmt.Fprintf(w, "Imported %d documents\n", n)
	return nil
}

func cmdMetrics(cfg *config, _ []string, w io.Writer) error {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(database, "couchdump")); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
