package filesystem

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// AferoFileSystem adapts an afero.Fs to the FileSystem interface. Paired
// with afero.NewMemMapFs it gives a volatile in-memory backend for tests
// and dry runs.
type AferoFileSystem struct {
	fs afero.Fs
}

// NewAferoFileSystem wraps an existing afero.Fs.
func NewAferoFileSystem(backend afero.Fs) *AferoFileSystem {
	return &AferoFileSystem{fs: backend}
}

// NewMemFileSystem returns an empty in-memory filesystem.
func NewMemFileSystem() *AferoFileSystem {
	return NewAferoFileSystem(afero.NewMemMapFs())
}

// Backend exposes the wrapped afero.Fs.
func (a *AferoFileSystem) Backend() afero.Fs {
	return a.fs
}

func (a *AferoFileSystem) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(a.fs, name)
}

func (a *AferoFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return afero.WriteFile(a.fs, name, data, perm)
}

func (a *AferoFileSystem) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := a.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *AferoFileSystem) Stat(name string) (fs.FileInfo, error) {
	return a.fs.Stat(name)
}

func (a *AferoFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return a.fs.MkdirAll(path, perm)
}

func (a *AferoFileSystem) Remove(name string) error {
	return a.fs.Remove(name)
}

func (a *AferoFileSystem) RemoveAll(path string) error {
	return a.fs.RemoveAll(path)
}

func (a *AferoFileSystem) Rename(oldpath, newpath string) error {
	return a.fs.Rename(oldpath, newpath)
}

func (a *AferoFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return afero.Walk(a.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return fn(path, nil, err)
		}
		return fn(path, fs.FileInfoToDirEntry(info), nil)
	})
}

// Replace copies dst to backup (afero has no hard links) and renames src
// over dst.
func (a *AferoFileSystem) Replace(src, dst, backup string) error {
	if backup != "" {
		previous, err := afero.ReadFile(a.fs, dst)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read '%s' for backup: %w", dst, err)
		default:
			if err := afero.WriteFile(a.fs, backup, previous, 0o644); err != nil {
				return fmt.Errorf("failed to back up '%s' to '%s': %w", dst, backup, err)
			}
		}
	}
	if err := a.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to replace '%s' with '%s': %w", dst, src, err)
	}
	return nil
}
