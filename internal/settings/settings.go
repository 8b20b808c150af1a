// Package settings is a lightweight persistent key/value store for small
// application preferences such as the chosen base directory.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/stackvity/localsave/internal/filesystem"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown settings backend")

// Store holds string values by key. Writes may be buffered until Flush.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	// Flush makes pending writes durable.
	Flush() error
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	Backend string
	// Path is the YAML file (file backend) or database directory (badger backend).
	Path   string
	FS     filesystem.FileSystem
	Logger *slog.Logger
}

// Open creates the Store described by cfg.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		fsys := cfg.FS
		if fsys == nil {
			fsys = filesystem.NewRealFileSystem()
		}
		return OpenFileStore(cfg.Path, fsys, cfg.Logger)
	case BackendBadger:
		return OpenBadgerStore(BadgerConfig{Path: cfg.Path, SyncWrites: true, Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// MemoryStore keeps values for the life of the process only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Flush() error { return nil }
func (m *MemoryStore) Close() error { return nil }
