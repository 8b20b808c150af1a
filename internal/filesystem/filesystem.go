package filesystem

import (
	"io"
	"io/fs"
)

// File is an open file handle. It is satisfied by *os.File and afero.File.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Sync commits the file's contents to stable storage.
	Sync() error

	// Name returns the name the file was opened with.
	Name() string
}

// FileSystem defines an interface for interacting with the filesystem.
// This allows for decoupling the persistence protocol from the OS package,
// facilitating testing and fault injection.
type FileSystem interface {
	// ReadFile reads the named file and returns the contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	// If the file does not exist, WriteFile creates it with permissions perm;
	// otherwise WriteFile truncates it before writing, without changing permissions.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// OpenFile opens the named file with the given flags (os.O_RDWR, os.O_CREATE, ...).
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory named path,
	// along with any necessary parents, and returns nil,
	// or else returns an error.
	// The permission bits perm (before umask) are used for all
	// directories that MkdirAll creates.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or (empty) directory.
	Remove(name string) error

	// RemoveAll removes path and any children it contains.
	// It returns nil if path does not exist.
	RemoveAll(path string) error

	// Rename renames (moves) oldpath to newpath.
	// If newpath already exists and is not a directory, Rename replaces it.
	// OS-specific restrictions may apply when oldpath and newpath are in different directories.
	Rename(oldpath, newpath string) error

	// Replace moves src over dst so that a reader of dst observes either the
	// old or the new content, never a mix. When backup is non-empty the
	// content dst held before the call is left at backup. A missing dst is
	// not an error; there is simply nothing to back up.
	Replace(src, dst, backup string) error

	// WalkDir walks the file tree rooted at root, calling fn for each file or
	// directory in the tree, including root. Files are walked in lexical order.
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// Exists reports whether name can be stat'ed. Any stat error other than
// "not exist" is returned to the caller.
func Exists(fsys FileSystem, name string) (bool, error) {
	_, err := fsys.Stat(name)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, err
}
