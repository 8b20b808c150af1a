package localsave

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/paths"
)

// Load reads directoryName/fileName and reports whether anything could be
// recovered. nil opts means DefaultLoadOptions. Failures are logged, never
// returned.
func Load[T any](s *Store, directoryName, fileName string, opts *LoadOptions) (T, bool) {
	v, err := Read[T](s, directoryName, fileName, opts)
	if err != nil {
		s.logger.Warn("LocalLoad failed", "error", err)
		return v, false
	}
	return v, true
}

// LoadOrKeepCurrent loads the record stored under current's own names and
// returns current unchanged when nothing could be recovered.
func LoadOrKeepCurrent[T Record](s *Store, current T, opts *LoadOptions) T {
	return LoadOrKeepCurrentFrom(s, current, "", "", opts)
}

// LoadOrKeepCurrentFrom is LoadOrKeepCurrent with explicit names overriding
// the record's own.
func LoadOrKeepCurrentFrom[T Record](s *Store, current T, directoryName, fileName string, opts *LoadOptions) T {
	directoryName, fileName, err := resolveNamesSafely(current, directoryName, fileName)
	if err != nil {
		s.logger.Warn("LocalLoad failed", "error", err)
		return current
	}
	if v, ok := Load[T](s, directoryName, fileName, opts); ok {
		return v
	}
	return current
}

// Read runs the load pipeline and returns why it came back empty: the
// target is tried first, then its backup, then (once) the same names under
// a base directory reset to the platform default.
func Read[T any](s *Store, directoryName, fileName string, opts *LoadOptions) (T, error) {
	var zero T
	if err := requireNames(directoryName, fileName); err != nil {
		return zero, err
	}
	return loadFrom[T](s, directoryName, fileName, resolveLoadOptions(opts))
}

func loadFrom[T any](s *Store, directoryName, fileName string, o LoadOptions) (T, error) {
	path := paths.FilePath(s.baseFor(o.UseCachedBaseDirectory), directoryName, fileName)
	s.logger.Info("LocalLoad", "path", path)

	v, err := readAndDecode[T](s, path)
	if err == nil {
		s.logger.Info("LocalLoad succeeded", "path", path)
		return v, nil
	}
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("File not found", "path", path)
	} else {
		s.logger.Error("Failed to load file", "path", path, "error", err)
	}
	return onFailure[T](s, directoryName, fileName, path, o, err)
}

func onFailure[T any](s *Store, directoryName, fileName, path string, o LoadOptions, cause error) (v T, err error) {
	defer recoverError(&err)

	if o.RestoreFromBackupOnFailure {
		backupPath := paths.BackupPath(path)
		restored, backupErr := readAndDecode[T](s, backupPath)
		if backupErr == nil {
			s.logger.Warn("Restored from backup", "path", backupPath)
			return restored, nil
		}
		s.logger.Warn("Failed to restore from backup", "path", backupPath, "error", backupErr)
		cause = errors.Join(cause, backupErr)
	}

	active := s.baseFor(o.UseCachedBaseDirectory)
	defaultDir := s.base.Default()
	if !o.ResetBaseDirectoryOnFailure || active == defaultDir {
		return v, cause
	}

	s.logger.Warn("Resetting base directory", "from", active, "to", defaultDir)
	if resetErr := s.base.Reset(""); resetErr != nil {
		// The in-memory choice is already the default; only persistence failed.
		s.logger.Error("Failed to reset base directory", "error", resetErr)
	}

	// One reset per top-level call: the retry cannot reset again.
	retry := o
	retry.ResetBaseDirectoryOnFailure = false
	return loadFrom[T](s, directoryName, fileName, retry)
}

// readAndDecode is a single attempt with no recovery of its own.
func readAndDecode[T any](s *Store, path string) (v T, err error) {
	defer recoverError(&err)

	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, fmt.Errorf("%w: '%s'", ErrNotFound, path)
		}
		return v, fmt.Errorf("failed to read '%s': %w", path, err)
	}
	if err := codec.Unmarshal(s.codec, data, &v); err != nil {
		return v, fmt.Errorf("failed to decode '%s': %w", path, err)
	}
	if isNil(v) {
		return v, fmt.Errorf("%w: '%s' decoded to nil", ErrDecode, path)
	}
	return v, nil
}

func isNil[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func resolveNamesSafely(record Record, directoryName, fileName string) (dir string, file string, err error) {
	defer recoverError(&err)
	return resolveNames(record, directoryName, fileName)
}
