package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/localsave"
)

// The cache is itself a record, stored at <base>/.localsave/import-cache.
const (
	DirectoryName = ".localsave"
	FileName      = "import-cache"
)

// Status represents the status of a cache check.
type Status string

const (
	// StatusHit indicates the input is unchanged and its target still exists.
	StatusHit Status = "Hit"
	// StatusMiss indicates the input has to be imported again.
	StatusMiss Status = "Miss"
	// StatusError indicates an error occurred during the cache check.
	StatusError Status = "Error"
)

// Entry stores what an input file looked like when it was last imported.
type Entry struct {
	ModTime     time.Time
	Size        int64
	OptionsHash []byte // hash of the options that shape the saved bytes
	SourceHash  []byte // hash of the input content
	Target      string // path of the saved record
}

// Manager defines the interface for cache operations.
type Manager interface {
	// Check determines the cache status for an input file.
	Check(inputPath string, currentOptionsHash []byte) (Status, error)

	// Update stores or updates the entry for a successfully imported file.
	Update(inputPath string, entry Entry) error

	// Persist saves the in-memory state if it changed.
	Persist() error

	// Clear removes all entries, in memory and on disk.
	Clear() error
}

// entries is the persisted form of the cache.
type entries struct {
	Entries map[string]Entry
}

func (entries) DirectoryName() string { return DirectoryName }
func (entries) FileName() string      { return FileName }

var (
	persistOptions = localsave.SaveOptions{
		VerifyBeforeReplacement:    true,
		PersistChosenBaseDirectory: true,
	}
	// A lost cache only costs a full import, so the load never falls back
	// to a backup or touches the base directory choice.
	loadOptions = localsave.LoadOptions{UseCachedBaseDirectory: true}
)

// storeManager keeps the cache as a single record of a localsave.Store.
type storeManager struct {
	store  *localsave.Store
	fs     filesystem.FileSystem
	logger *slog.Logger

	mu      sync.RWMutex
	data    map[string]Entry
	isDirty bool
}

// NewStoreManager loads the cache from store. store should use a codec able
// to carry time.Time and []byte values (gob or msgpack). A missing or
// unreadable cache starts empty.
func NewStoreManager(store *localsave.Store, fs filesystem.FileSystem, logger *slog.Logger) Manager {
	cm := &storeManager{
		store:  store,
		fs:     fs,
		logger: logger,
		data:   make(map[string]Entry),
	}

	loaded, err := localsave.Read[entries](store, DirectoryName, FileName, &loadOptions)
	switch {
	case err == nil:
		if loaded.Entries != nil {
			cm.data = loaded.Entries
		}
		cm.logger.Debug("Cache loaded successfully", "entries", len(cm.data))
	case errors.Is(err, localsave.ErrNotFound):
		cm.logger.Info("Cache not found, creating new cache.")
	default:
		cm.logger.Warn("Failed to load cache, starting with empty cache", "error", err)
		cm.isDirty = true // overwrite the unreadable cache on the next Persist
	}
	return cm
}

// Check implements the Manager interface.
func (cm *storeManager) Check(inputPath string, currentOptionsHash []byte) (Status, error) {
	absPath, err := filepath.Abs(inputPath)
	if err != nil {
		return StatusError, fmt.Errorf("failed to get absolute path for '%s': %w", inputPath, err)
	}

	cm.mu.RLock()
	entry, found := cm.data[absPath]
	cm.mu.RUnlock()

	if !found {
		cm.logger.Debug("Cache miss: input not in cache", "file", absPath)
		return StatusMiss, nil
	}

	info, err := cm.fs.Stat(inputPath)
	if err != nil {
		cm.logger.Warn("Cache check failed: could not stat input", "file", inputPath, "error", err)
		return StatusMiss, nil
	}
	if !info.ModTime().Equal(entry.ModTime) || info.Size() != entry.Size {
		cm.logger.Debug("Cache miss: input metadata changed", "file", absPath)
		return StatusMiss, nil
	}
	if !bytes.Equal(currentOptionsHash, entry.OptionsHash) {
		cm.logger.Debug("Cache miss: options hash mismatch", "file", absPath)
		return StatusMiss, nil
	}

	sourceHash, err := SourceHash(cm.fs, inputPath)
	if err != nil {
		cm.logger.Warn("Cache check failed: could not hash input", "file", inputPath, "error", err)
		return StatusMiss, nil
	}
	if !bytes.Equal(sourceHash, entry.SourceHash) {
		cm.logger.Debug("Cache miss: input content changed", "file", absPath)
		return StatusMiss, nil
	}

	// Someone may have deleted the saved record since.
	exists, err := filesystem.Exists(cm.fs, entry.Target)
	if err != nil || !exists {
		cm.logger.Debug("Cache miss: target missing", "file", absPath, "target", entry.Target)
		return StatusMiss, nil
	}

	cm.logger.Debug("Cache hit", "file", absPath)
	return StatusHit, nil
}

// Update implements the Manager interface.
func (cm *storeManager) Update(inputPath string, entry Entry) error {
	absPath, err := filepath.Abs(inputPath)
	if err != nil {
		cm.logger.Warn("Failed to get absolute path for cache update, skipping", "file", inputPath, "error", err)
		return nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.data[absPath] = entry
	cm.isDirty = true
	return nil
}

// Persist implements the Manager interface.
func (cm *storeManager) Persist() error {
	cm.mu.Lock()
	if !cm.isDirty {
		cm.mu.Unlock()
		cm.logger.Debug("Cache persistence skipped: cache not dirty.")
		return nil
	}
	snapshot := entries{Entries: make(map[string]Entry, len(cm.data))}
	for k, v := range cm.data {
		snapshot.Entries[k] = v
	}
	cm.mu.Unlock()

	startTime := time.Now()
	if err := cm.store.Persist(snapshot, "", "", &persistOptions); err != nil {
		return fmt.Errorf("failed to persist cache: %w", err)
	}

	cm.mu.Lock()
	cm.isDirty = false
	cm.mu.Unlock()

	cm.logger.Debug("Cache persisted successfully", "entries", len(snapshot.Entries), "duration", time.Since(startTime))
	return nil
}

// Clear implements the Manager interface. A cache that was never persisted
// is not an error.
func (cm *storeManager) Clear() error {
	cm.logger.Info("Clearing cache...")

	cm.mu.Lock()
	cm.data = make(map[string]Entry)
	cm.isDirty = true
	cm.mu.Unlock()

	if !cm.store.DeleteFile(DirectoryName, FileName) {
		cm.logger.Debug("No cache record deleted")
	}
	return nil
}

// noOpManager provides a Manager implementation that does nothing.
type noOpManager struct{}

// NewNoOpManager creates a Manager that performs no operations.
func NewNoOpManager() Manager {
	return noOpManager{}
}

func (noOpManager) Check(string, []byte) (Status, error) { return StatusMiss, nil }
func (noOpManager) Update(string, Entry) error           { return nil }
func (noOpManager) Persist() error                       { return nil }
func (noOpManager) Clear() error                         { return nil }

// CalculateOptionsHash hashes everything that changes the bytes an import
// writes: the codec, the target directory and the save options.
func CalculateOptionsHash(codecName, directoryName string, save localsave.SaveOptions) ([]byte, error) {
	relevant := struct {
		Codec     string                `json:"codec"`
		Directory string                `json:"directory"`
		Save      localsave.SaveOptions `json:"save"`
	}{
		Codec:     codecName,
		Directory: directoryName,
		Save:      save,
	}

	raw, err := json.Marshal(relevant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options for hashing: %w", err)
	}
	hash := sha256.Sum256(raw)
	return hash[:], nil
}

// SourceHash returns the SHA-256 of a file's content.
func SourceHash(fs filesystem.FileSystem, path string) ([]byte, error) {
	content, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s' for hashing: %w", path, err)
	}
	hash := sha256.Sum256(content)
	return hash[:], nil
}
