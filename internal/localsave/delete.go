package localsave

import (
	"fmt"

	"github.com/stackvity/localsave/internal/paths"
)

// DeleteFile removes directoryName/fileName under the active base
// directory. A missing file counts as a failure. The backup, if any, is
// left in place.
func (s *Store) DeleteFile(directoryName, fileName string) bool {
	if err := requireNames(directoryName, fileName); err != nil {
		s.logger.Error("LocalDelete failed", "error", err)
		return false
	}
	path := paths.FilePath(s.base.Get(), directoryName, fileName)

	info, err := s.fs.Stat(path)
	if err != nil {
		s.logger.Warn("LocalDelete failed", "path", path, "error", err)
		return false
	}
	if info.IsDir() {
		s.logger.Warn("LocalDelete failed", "path", path, "error", fmt.Errorf("'%s' is a directory", path))
		return false
	}
	if err := s.fs.Remove(path); err != nil {
		s.logger.Error("LocalDelete failed", "path", path, "error", err)
		return false
	}
	s.logger.Info("LocalDelete succeeded", "path", path)
	return true
}

// DeleteRecord removes the file a record is saved in. Empty names fall back
// to the record's own.
func (s *Store) DeleteRecord(record Record, directoryName, fileName string) bool {
	directoryName, fileName, err := resolveNamesSafely(record, directoryName, fileName)
	if err != nil {
		s.logger.Error("LocalDelete failed", "error", err)
		return false
	}
	return s.DeleteFile(directoryName, fileName)
}

// DeleteDirectory removes directoryName under the base directory, or the
// base directory itself when directoryName is empty. Without recursive a
// non-empty directory is not removed.
func (s *Store) DeleteDirectory(directoryName string, recursive bool) bool {
	path := s.base.Get()
	if directoryName != "" {
		path = paths.DirPath(path, directoryName)
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		s.logger.Warn("LocalDeleteDirectory failed", "path", path, "error", err)
		return false
	}
	if !info.IsDir() {
		s.logger.Warn("LocalDeleteDirectory failed", "path", path, "error", fmt.Errorf("'%s' is not a directory", path))
		return false
	}

	if recursive {
		err = s.fs.RemoveAll(path)
	} else {
		err = s.fs.Remove(path)
	}
	if err != nil {
		s.logger.Error("LocalDeleteDirectory failed", "path", path, "recursive", recursive, "error", err)
		return false
	}
	s.logger.Info("LocalDeleteDirectory succeeded", "path", path, "recursive", recursive)
	return true
}

// DeleteAll removes the whole base directory.
func (s *Store) DeleteAll() bool {
	return s.DeleteDirectory("", true)
}
