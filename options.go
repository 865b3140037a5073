package couchyard

// options.go implements database configuration options.

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/checksum"
	"github.com/aalhour/couchyard/internal/compression"
	"github.com/aalhour/couchyard/internal/logging"
	"github.com/aalhour/couchyard/internal/vfs"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// NewLogrusLogger adapts a logrus logger for Options.Logger. Component
// prefixes become a "component" field, and Fatalf never exits.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return logging.NewLogrusLogger(l)
}

// FS is the filesystem abstraction the database performs all I/O through.
type FS = vfs.FS

// DefaultFS returns the operating system filesystem.
func DefaultFS() FS {
	return vfs.Default()
}

// CompressionType is an alias for the body compression codec.
type CompressionType = compression.Type

// Compression type constants
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	LZ4HCCompression  = compression.LZ4HCCompression
	ZstdCompression   = compression.ZstdCompression
)

// ChecksumType is an alias for the chunk checksum algorithm.
type ChecksumType = checksum.Type

// Checksum type constants
const (
	ChecksumTypeCRC32C   = checksum.TypeCRC32C
	ChecksumTypeXXHash64 = checksum.TypeXXHash64
	ChecksumTypeXXH3     = checksum.TypeXXH3
)

// Options configures a database.
type Options struct {
	// FS is the filesystem used for all I/O.
	// Default: the operating system filesystem
	FS FS

	// Logger receives diagnostics. A Fatalf through the DB's logger stops
	// further writes with ErrBackgroundError.
	// Default: WARN-level logger on stderr
	Logger Logger

	// CreateIfMissing creates the file if it does not exist.
	// Default: false
	CreateIfMissing bool

	// ErrorIfExists fails Open if the file already exists.
	// Default: false
	ErrorIfExists bool

	// ReadOnly opens without a writer. Every write returns ErrReadOnly.
	// Default: false
	ReadOnly bool

	// MmapReads maps the file into memory for reads. Only read-only opens
	// honor it; commits made by another process after Open are not seen.
	// Default: false
	MmapReads bool

	// Compression is the codec for document bodies.
	// Default: SnappyCompression
	Compression CompressionType

	// CompressBodies enables body compression for new writes.
	// Default: true
	CompressBodies bool

	// ChecksumType is used for newly written chunks. Existing chunks carry
	// their own type, so it may change between opens. Every chunk must carry
	// a checksum.
	// Default: ChecksumTypeCRC32C
	ChecksumType ChecksumType

	// ChunkThreshold is the encoded size above which an index node splits.
	// Default: 1279
	ChunkThreshold int

	// NodeCacheSize is the capacity in bytes of the decoded index node
	// cache. Zero disables the cache.
	// Default: 8MB
	NodeCacheSize uint64

	// NodeCacheShards is the number of independently locked cache shards.
	// Default: 8
	NodeCacheShards int

	// MaxBatchBytes caps the memory one pending batch may hold. A write
	// that would exceed it fails with ErrOutOfMemory and the whole batch is
	// rejected. Zero means unlimited.
	// Default: 256MB
	MaxBatchBytes int64

	// CompressionWorkers bounds the goroutines compressing bodies during a
	// commit. Zero means GOMAXPROCS.
	// Default: 0
	CompressionWorkers int

	// SyncOnCommit issues the durability barrier at every commit. Turning it
	// off trades crash safety of recent commits for throughput.
	// Default: true
	SyncOnCommit bool

	// TreatCorruptAsEmpty opens a non-empty file holding no valid header as
	// an empty database instead of failing with ErrNoValidHeader.
	// Default: false
	TreatCorruptAsEmpty bool

	// Statistics collects metrics if set.
	// Default: nil
	Statistics Statistics
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:     false,
		ErrorIfExists:       false,
		ReadOnly:            false,
		MmapReads:           false,
		FS:                  nil, // Will use vfs.Default()
		Logger:              nil, // Will use logging.OrDefault
		Compression:         SnappyCompression,
		CompressBodies:      true,
		ChecksumType:        ChecksumTypeCRC32C,
		ChunkThreshold:      btree.DefaultChunkThreshold,
		NodeCacheSize:       8 * 1024 * 1024, // 8MB
		NodeCacheShards:     8,
		MaxBatchBytes:       256 * 1024 * 1024, // 256MB
		CompressionWorkers:  0,
		SyncOnCommit:        true,
		TreatCorruptAsEmpty: false,
	}
}

// minChunkThreshold keeps interior nodes able to hold a few pointers.
const minChunkThreshold = 64

// Validate reports whether the options are usable.
func (o *Options) Validate() error {
	if o.ReadOnly && (o.CreateIfMissing || o.ErrorIfExists) {
		return fmt.Errorf("%w: ReadOnly cannot be combined with CreateIfMissing or ErrorIfExists", ErrInvalidOptions)
	}
	if !o.Compression.IsSupported() {
		return fmt.Errorf("%w: compression %s", ErrInvalidOptions, o.Compression)
	}
	if o.ChecksumType == checksum.TypeNoChecksum || !o.ChecksumType.IsSupported() {
		return fmt.Errorf("%w: checksum %s", ErrInvalidOptions, o.ChecksumType)
	}
	if o.ChunkThreshold != 0 && o.ChunkThreshold < minChunkThreshold {
		return fmt.Errorf("%w: ChunkThreshold %d is below %d", ErrInvalidOptions, o.ChunkThreshold, minChunkThreshold)
	}
	if o.NodeCacheShards < 0 {
		return fmt.Errorf("%w: NodeCacheShards %d", ErrInvalidOptions, o.NodeCacheShards)
	}
	if o.MaxBatchBytes < 0 {
		return fmt.Errorf("%w: MaxBatchBytes %d", ErrInvalidOptions, o.MaxBatchBytes)
	}
	if o.CompressionWorkers < 0 {
		return fmt.Errorf("%w: CompressionWorkers %d", ErrInvalidOptions, o.CompressionWorkers)
	}
	return nil
}
