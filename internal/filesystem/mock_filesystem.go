package filesystem

import (
	"io/fs"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// MockFileSystem wraps another FileSystem (in-memory by default) and lets
// tests inject failures per path and assert which operations ran.
type MockFileSystem struct {
	inner FileSystem

	mu                sync.RWMutex
	readErrorPaths    map[string]error // paths that should error on read
	statErrorPaths    map[string]error // paths that should error on stat
	writeErrorPaths   map[string]error // paths that should error on write/open
	renameErrorPaths  map[string]error // source paths that should error on rename
	replaceErrorPaths map[string]error // destination paths that should error on replace
	removeErrorPaths  map[string]error // paths that should error on remove
	mkdirErrorPaths   map[string]error // paths that should error on mkdir
	corruptWritePaths map[string]bool  // written bytes are altered before reaching inner
	dropOnClosePaths  map[string]bool  // file disappears when its handle is closed
	corruptAfterPaths map[string]bool  // destination is altered right after a replace

	// Tracking calls for assertions
	writeCalls   map[string]int
	removeCalls  map[string]int
	replaceCalls map[string]int
	mkdirCalls   map[string]int
}

// NewMockFileSystem creates a MockFileSystem over a fresh in-memory filesystem.
func NewMockFileSystem() *MockFileSystem {
	return NewMockFileSystemOver(NewMemFileSystem())
}

// NewMockFileSystemOver creates a MockFileSystem delegating to inner.
func NewMockFileSystemOver(inner FileSystem) *MockFileSystem {
	return &MockFileSystem{
		inner:             inner,
		readErrorPaths:    make(map[string]error),
		statErrorPaths:    make(map[string]error),
		writeErrorPaths:   make(map[string]error),
		renameErrorPaths:  make(map[string]error),
		replaceErrorPaths: make(map[string]error),
		removeErrorPaths:  make(map[string]error),
		mkdirErrorPaths:   make(map[string]error),
		corruptWritePaths: make(map[string]bool),
		dropOnClosePaths:  make(map[string]bool),
		corruptAfterPaths: make(map[string]bool),
		writeCalls:        make(map[string]int),
		removeCalls:       make(map[string]int),
		replaceCalls:      make(map[string]int),
		mkdirCalls:        make(map[string]int),
	}
}

func key(path string) string {
	return filepath.Clean(path)
}

// --- Helper methods for simulating errors ---

func (mfs *MockFileSystem) SimulateReadError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.readErrorPaths[key(path)] = err
}
func (mfs *MockFileSystem) SimulateStatError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.statErrorPaths[key(path)] = err
}
func (mfs *MockFileSystem) SimulateWriteError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.writeErrorPaths[key(path)] = err
}
func (mfs *MockFileSystem) SimulateRenameError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.renameErrorPaths[key(path)] = err
}
func (mfs *MockFileSystem) SimulateReplaceError(dst string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.replaceErrorPaths[key(dst)] = err
}
func (mfs *MockFileSystem) SimulateRemoveError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.removeErrorPaths[key(path)] = err
}
func (mfs *MockFileSystem) SimulateMkdirError(path string, err error) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.mkdirErrorPaths[key(path)] = err
}

// CorruptWrites flips the first byte of every buffer written to path.
func (mfs *MockFileSystem) CorruptWrites(path string) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.corruptWritePaths[key(path)] = true
}

// DropOnClose removes path as soon as a handle opened on it is closed,
// as if the write had been silently lost.
func (mfs *MockFileSystem) DropOnClose(path string) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.dropOnClosePaths[key(path)] = true
}

// CorruptAfterReplace truncates dst by one byte after a successful Replace.
func (mfs *MockFileSystem) CorruptAfterReplace(dst string) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.corruptAfterPaths[key(dst)] = true
}

// --- Assert helpers (Using testify for convenience) ---

func (mfs *MockFileSystem) AssertWriteCalled(t *testing.T, path string) {
	t.Helper()
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	assert.Greater(t, mfs.writeCalls[key(path)], 0, "write was not called for %s", path)
}

func (mfs *MockFileSystem) AssertWriteNotCalled(t *testing.T, path string) {
	t.Helper()
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	assert.Equal(t, 0, mfs.writeCalls[key(path)], "write should not have been called for %s", path)
}

func (mfs *MockFileSystem) AssertRemoveCalled(t *testing.T, path string) {
	t.Helper()
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	assert.Greater(t, mfs.removeCalls[key(path)], 0, "Remove was not called for %s", path)
}

func (mfs *MockFileSystem) AssertReplaceCalled(t *testing.T, dst string) {
	t.Helper()
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	assert.Greater(t, mfs.replaceCalls[key(dst)], 0, "Replace was not called for %s", dst)
}

func (mfs *MockFileSystem) AssertReplaceNotCalled(t *testing.T, dst string) {
	t.Helper()
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	assert.Equal(t, 0, mfs.replaceCalls[key(dst)], "Replace should not have been called for %s", dst)
}

// --- Implement FileSystem interface methods ---

func (mfs *MockFileSystem) lookup(m map[string]error, path string) error {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	return m[key(path)]
}

func (mfs *MockFileSystem) flag(m map[string]bool, path string) bool {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()
	return m[key(path)]
}

func (mfs *MockFileSystem) count(m map[string]int, path string) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	m[key(path)]++
}

func (mfs *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if err := mfs.lookup(mfs.readErrorPaths, name); err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return mfs.inner.ReadFile(name)
}

func (mfs *MockFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	mfs.count(mfs.writeCalls, name)
	if err := mfs.lookup(mfs.writeErrorPaths, name); err != nil {
		return &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if mfs.flag(mfs.corruptWritePaths, name) {
		data = corrupt(data)
	}
	return mfs.inner.WriteFile(name, data, perm)
}

func (mfs *MockFileSystem) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	mfs.count(mfs.writeCalls, name)
	if err := mfs.lookup(mfs.writeErrorPaths, name); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	f, err := mfs.inner.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &mockFile{
		File:        f,
		owner:       mfs,
		path:        name,
		corrupt:     mfs.flag(mfs.corruptWritePaths, name),
		dropOnClose: mfs.flag(mfs.dropOnClosePaths, name),
	}, nil
}

func (mfs *MockFileSystem) Stat(name string) (fs.FileInfo, error) {
	if err := mfs.lookup(mfs.statErrorPaths, name); err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return mfs.inner.Stat(name)
}

func (mfs *MockFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	mfs.count(mfs.mkdirCalls, path)
	if err := mfs.lookup(mfs.mkdirErrorPaths, path); err != nil {
		return &fs.PathError{Op: "mkdir", Path: path, Err: err}
	}
	return mfs.inner.MkdirAll(path, perm)
}

func (mfs *MockFileSystem) Remove(name string) error {
	mfs.count(mfs.removeCalls, name)
	if err := mfs.lookup(mfs.removeErrorPaths, name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return mfs.inner.Remove(name)
}

func (mfs *MockFileSystem) RemoveAll(path string) error {
	mfs.count(mfs.removeCalls, path)
	if err := mfs.lookup(mfs.removeErrorPaths, path); err != nil {
		return &fs.PathError{Op: "removeall", Path: path, Err: err}
	}
	return mfs.inner.RemoveAll(path)
}

func (mfs *MockFileSystem) Rename(oldpath, newpath string) error {
	if err := mfs.lookup(mfs.renameErrorPaths, oldpath); err != nil {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: err}
	}
	return mfs.inner.Rename(oldpath, newpath)
}

func (mfs *MockFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return mfs.inner.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil {
			if statErr := mfs.lookup(mfs.statErrorPaths, path); statErr != nil {
				err = &fs.PathError{Op: "walk", Path: path, Err: statErr}
			}
		}
		return fn(path, d, err)
	})
}

func (mfs *MockFileSystem) Replace(src, dst, backup string) error {
	mfs.count(mfs.replaceCalls, dst)
	if err := mfs.lookup(mfs.replaceErrorPaths, dst); err != nil {
		return &fs.PathError{Op: "replace", Path: dst, Err: err}
	}
	if err := mfs.inner.Replace(src, dst, backup); err != nil {
		return err
	}
	if mfs.flag(mfs.corruptAfterPaths, dst) {
		data, err := mfs.inner.ReadFile(dst)
		if err == nil && len(data) > 0 {
			return mfs.inner.WriteFile(dst, data[:len(data)-1], 0o644)
		}
	}
	return nil
}

// mockFile applies write corruption and drop-on-close to a wrapped handle.
type mockFile struct {
	File
	owner       *MockFileSystem
	path        string
	corrupt     bool
	dropOnClose bool
}

func (f *mockFile) Write(p []byte) (int, error) {
	if f.corrupt {
		return f.File.Write(corrupt(p))
	}
	return f.File.Write(p)
}

func (f *mockFile) Close() error {
	err := f.File.Close()
	if f.dropOnClose {
		_ = f.owner.inner.Remove(f.path)
	}
	return err
}

func corrupt(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	altered := make([]byte, len(data))
	copy(altered, data)
	altered[0] ^= 0xff
	return altered
}
