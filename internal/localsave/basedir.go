package localsave

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/stackvity/localsave/internal/settings"
)

// BaseDirectoryKey is the settings key holding the chosen base directory.
const BaseDirectoryKey = "LocalSaveBaseDirectoryPath"

// BaseDirectory is the resolve-once, persist-across-restarts choice of the
// root under which records are stored. It is safe for concurrent use.
type BaseDirectory struct {
	settings   settings.Store
	defaultDir string
	logger     *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewBaseDirectory creates the state. Nothing is read from the settings
// store until the first Get.
func NewBaseDirectory(store settings.Store, defaultDir string, logger *slog.Logger) *BaseDirectory {
	if store == nil {
		store = settings.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BaseDirectory{settings: store, defaultDir: defaultDir, logger: logger}
}

// Default returns the platform default directory.
func (b *BaseDirectory) Default() string {
	return b.defaultDir
}

// Get returns the cached choice, resolving it on first use: a non-empty
// persisted value wins, otherwise the default is adopted and persisted.
// Settings failures are logged and the default is used.
func (b *BaseDirectory) Get() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != "" {
		return b.cached
	}

	stored, ok, err := b.settings.Get(BaseDirectoryKey)
	if err != nil {
		b.logger.Warn("Failed to read persisted base directory, using default", "error", err)
	} else if ok && stored != "" {
		b.cached = stored
		return b.cached
	}

	b.cached = b.defaultDir
	if err := b.persist(b.cached); err != nil {
		b.logger.Warn("Failed to persist base directory", "path", b.cached, "error", err)
	}
	return b.cached
}

// Reset clears the persisted value and re-seeds the cache with newPath, or
// with the default when newPath is empty. The re-seeded value is not
// persisted; the next process resolves again from scratch.
func (b *BaseDirectory) Reset(newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if newPath == "" {
		newPath = b.defaultDir
	}
	b.cached = newPath

	if err := b.settings.Delete(BaseDirectoryKey); err != nil {
		return fmt.Errorf("failed to clear persisted base directory: %w", err)
	}
	if err := b.settings.Flush(); err != nil {
		return fmt.Errorf("failed to flush settings: %w", err)
	}
	return nil
}

// Set chooses path as the base directory and persists the choice.
func (b *BaseDirectory) Set(path string) error {
	if path == "" {
		return fmt.Errorf("%w: base directory cannot be empty", ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cached = path
	return b.persist(path)
}

func (b *BaseDirectory) persist(path string) error {
	if err := b.settings.Set(BaseDirectoryKey, path); err != nil {
		return err
	}
	return b.settings.Flush()
}
