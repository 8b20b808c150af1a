// Package localsave persists single records as single files with crash-safe
// replacement, optional verification and backups, and a layered recovery
// chain on load.
//
// Calls are synchronous. Concurrent Save calls against the same record are
// not coordinated; callers that need that must serialize them, for example
// with one mutex per target path. A concurrent reader only ever observes a
// complete old or new target, as long as the filesystem's rename is atomic.
package localsave

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/paths"
	"github.com/stackvity/localsave/internal/settings"
)

// Record is anything that knows where it is saved. The bytes come from the
// Store's codec, or from the record's own MarshalBinary when it has one.
type Record interface {
	DirectoryName() string
	FileName() string
}

// Config holds the collaborators of a Store.
type Config struct {
	FS     filesystem.FileSystem
	Codec  codec.Codec
	Logger *slog.Logger

	// BaseDirectory is shared state; when nil one is built from Settings
	// and DefaultBaseDir.
	BaseDirectory  *BaseDirectory
	Settings       settings.Store
	DefaultBaseDir string
}

// Store is the entry point for save, load and delete operations.
type Store struct {
	fs     filesystem.FileSystem
	codec  codec.Codec
	logger *slog.Logger
	base   *BaseDirectory
}

// New builds a Store, filling unset collaborators with the real filesystem,
// the default codec, a discarding logger, an in-memory settings store and
// the platform default directory.
func New(cfg Config) *Store {
	s := &Store{
		fs:     cfg.FS,
		codec:  cfg.Codec,
		logger: cfg.Logger,
		base:   cfg.BaseDirectory,
	}
	if s.fs == nil {
		s.fs = filesystem.NewRealFileSystem()
	}
	if s.codec == nil {
		s.codec = codec.Default
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.base == nil {
		defaultDir := cfg.DefaultBaseDir
		if defaultDir == "" {
			defaultDir = paths.DefaultBaseDirectory(paths.OSProvider{}, paths.DefaultAppName)
		}
		s.base = NewBaseDirectory(cfg.Settings, defaultDir, s.logger)
	}
	return s
}

// BaseDirectory returns the active (cached) base directory.
func (s *Store) BaseDirectory() string {
	return s.base.Get()
}

// DefaultBaseDirectory returns the platform default base directory.
func (s *Store) DefaultBaseDirectory() string {
	return s.base.Default()
}

// ResetBaseDirectory forgets the persisted choice and switches to newPath,
// or to the default when newPath is empty.
func (s *Store) ResetBaseDirectory(newPath string) {
	if err := s.base.Reset(newPath); err != nil {
		s.logger.Error("Failed to reset base directory", "error", err)
	}
}

// SetBaseDirectory chooses and persists a base directory.
func (s *Store) SetBaseDirectory(path string) error {
	return s.base.Set(path)
}

// FilePath returns where directoryName/fileName lives under the active base
// directory.
func (s *Store) FilePath(directoryName, fileName string) (string, error) {
	if err := requireNames(directoryName, fileName); err != nil {
		return "", err
	}
	return paths.FilePath(s.base.Get(), directoryName, fileName), nil
}

// SavePath returns the target Save would write for directoryName/fileName
// with opts.
func (s *Store) SavePath(directoryName, fileName string, opts *SaveOptions) (string, error) {
	if err := requireNames(directoryName, fileName); err != nil {
		return "", err
	}
	o := resolveSaveOptions(opts)
	return paths.FilePath(s.baseFor(o.PersistChosenBaseDirectory), directoryName, fileName), nil
}

// LoadPath returns the first path Load would try for directoryName/fileName
// with opts.
func (s *Store) LoadPath(directoryName, fileName string, opts *LoadOptions) (string, error) {
	if err := requireNames(directoryName, fileName); err != nil {
		return "", err
	}
	o := resolveLoadOptions(opts)
	return paths.FilePath(s.baseFor(o.UseCachedBaseDirectory), directoryName, fileName), nil
}

func (s *Store) baseFor(useCached bool) string {
	if useCached {
		return s.base.Get()
	}
	return s.base.Default()
}

// resolveNames lets explicit names override the record's own; only an empty
// final result is an error.
func resolveNames(record Record, directoryName, fileName string) (string, string, error) {
	if record != nil {
		if directoryName == "" {
			directoryName = record.DirectoryName()
		}
		if fileName == "" {
			fileName = record.FileName()
		}
	}
	if err := requireNames(directoryName, fileName); err != nil {
		return "", "", err
	}
	return directoryName, fileName, nil
}

func requireNames(directoryName, fileName string) error {
	if directoryName == "" {
		return fmt.Errorf("%w: directory name cannot be empty", ErrInvalidArgument)
	}
	if fileName == "" {
		return fmt.Errorf("%w: file name cannot be empty", ErrInvalidArgument)
	}
	return nil
}
