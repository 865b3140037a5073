package vfs

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapOpener is implemented by filesystems that can map a file into memory.
type MmapOpener interface {
	// OpenMmap maps name read-only. The mapping covers the file as it is at
	// open time; bytes appended later are not visible through it.
	OpenMmap(name string) (RandomAccessFile, error)
}

// OpenMmap maps name read-only.
func (fs *osFS) OpenMmap(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		// Zero-length mappings are rejected by the kernel.
		return &mmapFile{f: f}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}
	return &mmapFile{f: f, data: m}, nil
}

// mmapFile serves reads from a mapping. Close waits for reads in progress
// before unmapping.
type mmapFile struct {
	mu     sync.RWMutex
	f      *os.File
	data   mmap.MMap
	closed bool
}

func (m *mmapFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("mmap: negative offset %d", off)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mmapFile) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	return int64(len(m.data)), nil
}

func (m *mmapFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.data != nil {
		if uerr := m.data.Unmap(); uerr != nil {
			err = fmt.Errorf("munmap: %w", uerr)
		}
		m.data = nil
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
