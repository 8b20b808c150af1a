package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/stackvity/localsave/internal/cache"
	"github.com/stackvity/localsave/internal/config"
	"github.com/stackvity/localsave/internal/document"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/localsave"
)

// Constants for result status
const (
	StatusSaved   = "Saved"
	StatusSkipped = "Skipped"
	StatusCached  = "Cached"
	StatusError   = "Error"
)

// Skip and error reasons
const (
	ReasonHidden          = "Hidden"
	ReasonUnsupported     = "Unsupported"
	ReasonDuplicateTarget = "Duplicate target"
)

// ErrDuplicateTarget marks an input whose record is already saved from
// another input of the same run.
var ErrDuplicateTarget = errors.New("another input saves to the same record")

// Result holds the outcome of importing a single input file.
type Result struct {
	FilePath string
	Target   string // where the document was saved, when it was
	Status   string
	Reason   string
	Error    error
}

// Worker holds dependencies needed for importing a file.
type Worker struct {
	Opts         *config.Options
	FS           filesystem.FileSystem
	Store        *localsave.Store
	CacheManager cache.Manager
	Logger       *slog.Logger
	OptionsHash  []byte
}

// NewWorker creates a new Worker instance.
func NewWorker(
	opts *config.Options,
	fs filesystem.FileSystem,
	store *localsave.Store,
	cm cache.Manager,
	logger *slog.Logger,
	optionsHash []byte,
) *Worker {
	return &Worker{
		Opts:         opts,
		FS:           fs,
		Store:        store,
		CacheManager: cm,
		Logger:       logger,
		OptionsHash:  optionsHash,
	}
}

// SkipReason returns why filePath is not imported, or "" when it is.
func SkipReason(opts *config.Options, filePath string) string {
	if opts.Import.SkipHiddenFiles && strings.HasPrefix(filepath.Base(filePath), ".") {
		return ReasonHidden
	}
	if !document.Supported(filePath) {
		return ReasonUnsupported
	}
	return ""
}

// RecordName is the file name an input is saved under.
func RecordName(filePath string) string {
	return document.BaseName(filePath)
}

// DuplicateTarget is the result for filePath when owner already saves to
// the same record.
func DuplicateTarget(filePath, owner string) Result {
	return Result{
		FilePath: filePath,
		Status:   StatusError,
		Reason:   ReasonDuplicateTarget,
		Error:    fmt.Errorf("%w: record already imported from '%s'", ErrDuplicateTarget, owner),
	}
}

func cancelled(ctx context.Context, filePath string) (Result, bool) {
	select {
	case <-ctx.Done():
		return Result{FilePath: filePath, Status: StatusError, Reason: "Processing cancelled", Error: ctx.Err()}, true
	default:
		return Result{}, false
	}
}

// ProcessFile parses filePath into a document named after the file and saves
// it under Opts.Import.Directory.
func (w *Worker) ProcessFile(ctx context.Context, filePath string) Result {
	if res, ok := cancelled(ctx, filePath); ok {
		return res
	}

	// --- Skip Checks ---
	if reason := SkipReason(w.Opts, filePath); reason != "" {
		w.Logger.Debug("Skipping file", "file", filePath, "reason", reason)
		return Result{FilePath: filePath, Status: StatusSkipped, Reason: reason}
	}

	fileInfo, err := w.FS.Stat(filePath)
	if err != nil {
		wrappedErr := fmt.Errorf("failed to get file info for '%s': %w", filePath, err)
		w.Logger.Error("Import error", "file", filePath, "error", wrappedErr)
		return Result{FilePath: filePath, Status: StatusError, Reason: "Stat failed", Error: wrappedErr}
	}

	// --- Cache Check ---
	cacheStatus := cache.StatusMiss
	if w.Opts.Import.UseCache && w.CacheManager != nil {
		cacheStatus, err = w.CacheManager.Check(filePath, w.OptionsHash)
		if err != nil {
			w.Logger.Warn("Cache check failed, proceeding as cache miss", "file", filePath, "error", err)
			cacheStatus = cache.StatusMiss
		}
	}
	if cacheStatus == cache.StatusHit {
		w.Logger.Debug("Cache hit", "file", filePath)
		return Result{FilePath: filePath, Status: StatusCached}
	}

	// --- Parse ---
	doc, err := document.FromFile(w.FS, filePath, w.Opts.Import.Directory, RecordName(filePath))
	if err != nil {
		w.Logger.Error("Import error", "file", filePath, "error", err)
		return Result{FilePath: filePath, Status: StatusError, Reason: "Parse failed", Error: err}
	}

	if res, ok := cancelled(ctx, filePath); ok {
		return res
	}

	// --- Save ---
	target, err := w.Store.SavePath(doc.Directory, doc.File, &w.Opts.Save)
	if err != nil {
		w.Logger.Error("Import error", "file", filePath, "error", err)
		return Result{FilePath: filePath, Status: StatusError, Reason: "Invalid name", Error: err}
	}
	if err := w.Store.Persist(doc, "", "", &w.Opts.Save); err != nil {
		wrappedErr := fmt.Errorf("failed to save '%s': %w", filePath, err)
		w.Logger.Error("Import error", "file", filePath, "error", wrappedErr)
		return Result{FilePath: filePath, Target: target, Status: StatusError, Reason: "Save failed", Error: wrappedErr}
	}

	// --- Cache Update ---
	if w.Opts.Import.UseCache && w.CacheManager != nil {
		sourceHash, hashErr := cache.SourceHash(w.FS, filePath)
		if hashErr != nil {
			w.Logger.Warn("Failed to hash input, not caching", "file", filePath, "error", hashErr)
		} else {
			entry := cache.Entry{
				ModTime:     fileInfo.ModTime(),
				Size:        fileInfo.Size(),
				OptionsHash: w.OptionsHash,
				SourceHash:  sourceHash,
				Target:      target,
			}
			if updateErr := w.CacheManager.Update(filePath, entry); updateErr != nil {
				w.Logger.Warn("Failed to update cache", "file", filePath, "error", updateErr)
			}
		}
	}

	w.Logger.Debug("Imported file", "file", filePath, "target", target)
	return Result{FilePath: filePath, Target: target, Status: StatusSaved}
}
