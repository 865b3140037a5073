package couchyard

import (
	"errors"

	"github.com/aalhour/couchyard/internal/batch"
	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/btree"
	"github.com/aalhour/couchyard/internal/compression"
	"github.com/aalhour/couchyard/internal/header"
)

// Common errors returned by DB operations.
var (
	ErrNotFound        = errors.New("couchyard: document not found")
	ErrDBClosed        = errors.New("couchyard: database is closed")
	ErrDBExists        = errors.New("couchyard: database already exists")
	ErrDBNotFound      = errors.New("couchyard: database not found")
	ErrDBLocked        = errors.New("couchyard: database is locked by another writer")
	ErrReadOnly        = errors.New("couchyard: database is read-only")
	ErrWriterBusy      = errors.New("couchyard: another commit is in progress")
	ErrInvalidOptions  = errors.New("couchyard: invalid options")
	ErrInvalidArgument = errors.New("couchyard: invalid argument")
	ErrBackgroundError = errors.New("couchyard: unrecoverable write error")
	ErrBulkClosed      = errors.New("couchyard: bulk writer is closed")
)

// Errors surfaced from the storage layers.
var (
	// ErrOutOfMemory is returned when a batch exceeds Options.MaxBatchBytes.
	// The whole batch is rejected.
	ErrOutOfMemory = batch.ErrOutOfMemory

	// ErrNoValidHeader is returned by Open for a non-empty file that holds
	// no intact header.
	ErrNoValidHeader = header.ErrNoValidHeader

	// ErrChecksumMismatch reports a chunk whose checksum does not verify.
	ErrChecksumMismatch = blockfile.ErrChecksumMismatch

	// ErrCorruptNode reports an index node that fails to decode.
	ErrCorruptNode = btree.ErrCorruptNode

	// ErrDecompression reports a stored body that fails to decompress.
	ErrDecompression = compression.ErrDecompression

	// ErrIO wraps failed reads, writes and syncs.
	ErrIO = blockfile.ErrIO
)

// StopIteration may be returned by a walk callback to end the walk early.
// The walk then returns nil.
var StopIteration = btree.ErrStopIteration
