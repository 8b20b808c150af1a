package settings

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stackvity/localsave/internal/filesystem"
)

// FileStore keeps settings in a flat YAML mapping. Changes stay in memory
// until Flush writes the whole file through a temp file and rename.
type FileStore struct {
	path   string
	fs     filesystem.FileSystem
	logger *slog.Logger

	mu      sync.RWMutex
	values  map[string]string
	isDirty bool
}

// OpenFileStore loads path if it exists. A missing or empty file yields an
// empty store; a malformed one is an error.
func OpenFileStore(path string, fsys filesystem.FileSystem, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("settings file path cannot be empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &FileStore{
		path:   path,
		fs:     fsys,
		logger: logger,
		values: make(map[string]string),
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Settings file not found, starting empty", "file", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file '%s': %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to decode settings file '%s': %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	logger.Debug("Settings loaded", "file", path, "entries", len(s.values))
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.values[key]; ok && current == value {
		return nil
	}
	s.values[key] = value
	s.isDirty = true
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	s.isDirty = true
	return nil
}

// Flush writes the settings file if anything changed since the last flush.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	if !s.isDirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to ensure settings directory exists '%s': %w", filepath.Dir(s.path), err)
	}
	tempPath := s.path + ".tmp"
	if err := s.fs.WriteFile(tempPath, data, 0o644); err != nil {
		_ = s.fs.Remove(tempPath)
		return fmt.Errorf("failed to write temporary settings file '%s': %w", tempPath, err)
	}
	if err := s.fs.Rename(tempPath, s.path); err != nil {
		_ = s.fs.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary settings file to '%s': %w", s.path, err)
	}

	s.mu.Lock()
	s.isDirty = false
	s.mu.Unlock()
	s.logger.Debug("Settings persisted", "file", s.path, "entries", len(snapshot))
	return nil
}

// Close flushes pending changes.
func (s *FileStore) Close() error {
	return s.Flush()
}
