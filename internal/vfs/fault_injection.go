package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")

	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and allows injecting errors.
// It tracks the synced length of every file it opened for writing so that
// DropUnsyncedData can simulate power loss.
type FaultInjectionFS struct {
	base FS

	mu sync.RWMutex

	fileState map[string]*fileState

	injectReadError  bool
	injectWriteError bool
	injectSyncError  bool
	readErrorPath    string
	writeErrorPath   string

	// writeBudget, when >= 0, is the number of bytes that may still be
	// written before every write fails. The write that crosses the budget
	// is cut short.
	writeBudget int64

	filesystemActive bool
}

type fileState struct {
	pos       int64
	syncedPos int64
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:             base,
		fileState:        make(map[string]*fileState),
		writeBudget:      -1,
		filesystemActive: true,
	}
}

func absPath(name string) string {
	p, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return p
}

// SetFilesystemActive enables or disables the filesystem.
// When disabled, all writes fail. Used to simulate a crash.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.filesystemActive = active
}

// InjectReadError makes opens of path (or of every file, if path is empty)
// fail and reads through already-open handles fail.
func (fs *FaultInjectionFS) InjectReadError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = true
	fs.readErrorPath = pathOrEmpty(path)
}

// InjectWriteError makes writes to path (or every file, if empty) fail.
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteError = true
	fs.writeErrorPath = pathOrEmpty(path)
}

// InjectSyncError makes every Sync fail.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// LimitWrites allows n more bytes to be written across all files. The write
// that crosses the limit is truncated and returns ErrInjectedWriteError,
// simulating a disk that fills up in the middle of a write.
func (fs *FaultInjectionFS) LimitWrites(n int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeBudget = n
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = false
	fs.injectWriteError = false
	fs.injectSyncError = false
	fs.readErrorPath = ""
	fs.writeErrorPath = ""
	fs.writeBudget = -1
}

func pathOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	return absPath(path)
}

func (fs *FaultInjectionFS) writeBlocked(path string) bool {
	if !fs.filesystemActive {
		return true
	}
	return fs.injectWriteError && (fs.writeErrorPath == "" || fs.writeErrorPath == path)
}

func (fs *FaultInjectionFS) readBlocked(path string) bool {
	return fs.injectReadError && (fs.readErrorPath == "" || fs.readErrorPath == path)
}

// DropUnsyncedData simulates a crash by truncating every tracked file to
// its last synced length.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for path, state := range fs.fileState {
		if state.syncedPos >= state.pos {
			continue
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			continue
		}
		truncErr := f.Truncate(state.syncedPos)
		closeErr := f.Close()
		if truncErr != nil {
			return truncErr
		}
		if closeErr != nil {
			return closeErr
		}
		state.pos = state.syncedPos
	}
	return nil
}

// FileState returns the tracked synced and current length of a file.
func (fs *FaultInjectionFS) FileState(path string) (syncedPos, currentPos int64, ok bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, exists := fs.fileState[absPath(path)]
	if !exists {
		return 0, 0, false
	}
	return state.syncedPos, state.pos, true
}

// Create creates a new writable file with fault injection.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	path := absPath(name)
	fs.mu.RLock()
	blocked := fs.writeBlocked(path)
	fs.mu.RUnlock()
	if blocked {
		return nil, ErrInjectedWriteError
	}

	baseFile, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: path}, nil
}

// OpenAppend opens an existing file for appending with sync tracking.
// Existing bytes count as synced.
func (fs *FaultInjectionFS) OpenAppend(name string) (WritableFile, error) {
	path := absPath(name)
	fs.mu.RLock()
	blocked := fs.writeBlocked(path)
	fs.mu.RUnlock()
	if blocked {
		return nil, ErrInjectedWriteError
	}

	baseFile, err := fs.base.OpenAppend(name)
	if err != nil {
		return nil, err
	}
	size, err := baseFile.Size()
	if err != nil {
		_ = baseFile.Close()
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{pos: size, syncedPos: size}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: path}, nil
}

// OpenRandomAccess opens an existing file for positional reads.
func (fs *FaultInjectionFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	path := absPath(name)
	fs.mu.RLock()
	blocked := fs.readBlocked(path)
	fs.mu.RUnlock()
	if blocked {
		return nil, ErrInjectedReadError
	}

	f, err := fs.base.OpenRandomAccess(name)
	if err != nil {
		return nil, err
	}
	return &faultRandomAccessFile{base: f, fs: fs, path: path}, nil
}

// Rename atomically renames a file.
func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	fs.mu.RLock()
	active := fs.filesystemActive
	fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}

	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}

	fs.mu.Lock()
	absOld, absNew := absPath(oldname), absPath(newname)
	if state, ok := fs.fileState[absOld]; ok {
		fs.fileState[absNew] = state
		delete(fs.fileState, absOld)
	}
	fs.mu.Unlock()
	return nil
}

// Remove deletes a file.
func (fs *FaultInjectionFS) Remove(name string) error {
	if err := fs.base.Remove(name); err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.fileState, absPath(name))
	fs.mu.Unlock()
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	fs.mu.RLock()
	active := fs.filesystemActive
	fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}
	return fs.base.MkdirAll(path, perm)
}

// Stat returns file info.
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) {
	return fs.base.Stat(name)
}

// Exists returns true if the file exists.
func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

// Lock acquires an exclusive lock on a file.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

// SyncDir passes through to the wrapped filesystem.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	fs.mu.RLock()
	active := fs.filesystemActive
	fs.mu.RUnlock()
	if !active {
		return ErrInjectedSyncError
	}
	return fs.base.SyncDir(path)
}

type faultWritableFile struct {
	base WritableFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultWritableFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	if f.fs.writeBlocked(f.path) {
		f.fs.mu.Unlock()
		return 0, ErrInjectedWriteError
	}
	allowed := int64(len(p))
	short := false
	if f.fs.writeBudget >= 0 && allowed > f.fs.writeBudget {
		allowed = f.fs.writeBudget
		short = true
	}
	if f.fs.writeBudget >= 0 {
		f.fs.writeBudget -= allowed
	}
	f.fs.mu.Unlock()

	n, err := f.base.Write(p[:allowed])

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.pos += int64(n)
	}
	f.fs.mu.Unlock()

	if err != nil {
		return n, err
	}
	if short {
		return n, ErrInjectedWriteError
	}
	return n, nil
}

func (f *faultWritableFile) Close() error {
	return f.base.Close()
}

func (f *faultWritableFile) Sync() error {
	f.fs.mu.RLock()
	fail := f.fs.injectSyncError || !f.fs.filesystemActive
	f.fs.mu.RUnlock()
	if fail {
		return ErrInjectedSyncError
	}

	if err := f.base.Sync(); err != nil {
		return err
	}

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.syncedPos = state.pos
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultWritableFile) Truncate(size int64) error {
	f.fs.mu.RLock()
	active := f.fs.filesystemActive
	f.fs.mu.RUnlock()
	if !active {
		return ErrInjectedWriteError
	}

	if err := f.base.Truncate(size); err != nil {
		return err
	}

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		if size < state.syncedPos {
			state.syncedPos = size
		}
		state.pos = size
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultWritableFile) Size() (int64, error) {
	return f.base.Size()
}

type faultRandomAccessFile struct {
	base RandomAccessFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.RLock()
	blocked := f.fs.readBlocked(f.path)
	f.fs.mu.RUnlock()
	if blocked {
		return 0, ErrInjectedReadError
	}
	return f.base.ReadAt(p, off)
}

func (f *faultRandomAccessFile) Close() error {
	return f.base.Close()
}

func (f *faultRandomAccessFile) Size() (int64, error) {
	return f.base.Size()
}
