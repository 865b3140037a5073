// Package header writes commit headers and recovers the newest valid one.
//
// A commit is durable once Manager.Commit returns: the header chunk has been
// appended at a block boundary and the file synced. Recovery scans backward
// from the end of the file one block at a time and takes the first block that
// holds a complete, checksummed, decodable header. A header torn by a crash
// fails its checksum and is skipped, which leaves the previous commit current.
package header

import (
	"errors"
	"fmt"

	"github.com/aalhour/couchyard/internal/blockfile"
	"github.com/aalhour/couchyard/internal/dbformat"
	"github.com/aalhour/couchyard/internal/killpoint"
	"github.com/aalhour/couchyard/internal/logging"
)

// ErrNoValidHeader is returned when a file contains no valid header.
var ErrNoValidHeader = errors.New("header: no valid header found")

// Manager writes headers through a block writer.
type Manager struct {
	w      *blockfile.Writer
	sync   bool
	logger logging.Logger
}

// NewManager creates a Manager. When sync is false Commit skips the
// durability barrier.
func NewManager(w *blockfile.Writer, sync bool, logger logging.Logger) *Manager {
	return &Manager{w: w, sync: sync, logger: logging.OrDefault(logger)}
}

// Commit writes h as the new current header and returns its block offset.
// h.FileSize is set to the file length preceding the header.
func (m *Manager) Commit(h *dbformat.Header) (int64, error) {
	h.FileSize = m.w.Size()
	if h.Version == 0 {
		h.Version = dbformat.HeaderVersion
	}
	offset, err := m.w.AppendHeader(h.Encode())
	if err != nil {
		return 0, fmt.Errorf("header: write: %w", err)
	}
	killpoint.MaybeKill(killpoint.HeaderWrite1)
	if m.sync {
		if err := m.w.Sync(); err != nil {
			return 0, fmt.Errorf("header: sync: %w", err)
		}
		killpoint.MaybeKill(killpoint.HeaderSync1)
	}
	m.logger.Debugf("%sheader at %d: update_seq=%d file_size=%d", logging.NSCommit, offset, h.UpdateSeq, h.FileSize)
	return offset, nil
}

// ScanFunc receives each valid header found by Scan, newest first. Returning
// false stops the scan.
type ScanFunc func(h *dbformat.Header, offset int64) bool

// Scan visits every valid header in the first size bytes of r, newest first.
// It returns the number of blocks examined.
func Scan(r *blockfile.Reader, size int64, logger logging.Logger, fn ScanFunc) (int, error) {
	logger = logging.OrDefault(logger)
	if size <= 0 {
		return 0, nil
	}
	scanned := 0
	for pos := ((size - 1) / blockfile.BlockSize) * blockfile.BlockSize; pos >= 0; pos -= blockfile.BlockSize {
		scanned++
		payload, err := r.ReadHeaderAt(pos)
		if err != nil {
			if skippable(err) {
				if !errors.Is(err, blockfile.ErrNotHeader) {
					logger.Warnf("%sskipping damaged header at %d: %v", logging.NSRecovery, pos, err)
				}
				continue
			}
			return scanned, err
		}
		h, err := dbformat.DecodeHeader(payload)
		if err != nil {
			logger.Warnf("%sskipping undecodable header at %d: %v", logging.NSRecovery, pos, err)
			continue
		}
		if !fn(h, pos) {
			break
		}
	}
	return scanned, nil
}

func skippable(err error) bool {
	return errors.Is(err, blockfile.ErrNotHeader) ||
		errors.Is(err, blockfile.ErrChecksumMismatch) ||
		errors.Is(err, blockfile.ErrTruncated)
}

// FindLatest returns the newest valid header within the first size bytes of
// r, its block offset, and the number of blocks examined.
func FindLatest(r *blockfile.Reader, size int64, logger logging.Logger) (*dbformat.Header, int64, int, error) {
	var (
		found  *dbformat.Header
		offset int64
	)
	scanned, err := Scan(r, size, logger, func(h *dbformat.Header, pos int64) bool {
		found, offset = h, pos
		return false
	})
	if err != nil {
		return nil, 0, scanned, err
	}
	if found == nil {
		return nil, 0, scanned, ErrNoValidHeader
	}
	return found, offset, scanned, nil
}
