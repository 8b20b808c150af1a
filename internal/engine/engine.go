// Package engine imports a file or a tree of document files into a
// localsave.Store with a pool of workers, once or continuously.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stackvity/localsave/internal/cache"
	"github.com/stackvity/localsave/internal/config"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/localsave"
	"github.com/stackvity/localsave/internal/worker"
)

var errFailedToAddWatchPaths = errors.New("failed to add one or more paths to the watcher")

// Report summarizes the results of an import run.
type Report struct {
	FilesSaved     int
	FilesFromCache int
	FilesSkipped   int
	FilesErrored   int
	Duration       time.Duration
	Errors         map[string]string // Map of FilePath -> ErrorMessage
}

// Engine orchestrates the import process.
type Engine struct {
	Opts        *config.Options
	FS          filesystem.FileSystem
	Store       *localsave.Store
	CM          cache.Manager
	Logger      *slog.Logger
	OptionsHash []byte

	// Out receives the summaries printed in watch mode; nil means os.Stderr.
	Out io.Writer
	// OnReport, when set, is called after the initial run and every rebuild
	// in watch mode.
	OnReport func(Report)

	// owners maps each target path to the input that saves it. A full scan
	// rebuilds it; rebuilds in watch mode extend it.
	owners map[string]string
}

// task is one input file for the worker pool. owner is set when another
// input already saves to the same record.
type task struct {
	path  string
	owner string
}

// NewEngine creates a new Engine instance with dependencies.
func NewEngine(
	opts *config.Options,
	fs filesystem.FileSystem,
	store *localsave.Store,
	cm cache.Manager,
	logger *slog.Logger,
	optionsHash []byte,
) *Engine {
	return &Engine{
		Opts:        opts,
		FS:          fs,
		Store:       store,
		CM:          cm,
		Logger:      logger,
		OptionsHash: optionsHash,
	}
}

// resolveConcurrency determines the number of workers based on options or CPU cores.
func (e *Engine) resolveConcurrency() int {
	numWorkers := e.Opts.Import.Concurrency
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		e.Logger.Debug("Concurrency set to auto-detect", "detected_cores", numWorkers)
		if numWorkers <= 0 {
			numWorkers = 1
		}
	}
	return numWorkers
}

// Run imports Opts.Import.Input once, or keeps importing changes when
// watch mode is on. Watch mode returns context.Canceled when ctx ends.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	startTime := time.Now()

	if e.Opts.Import.WatchMode {
		report, err := e.watch(ctx)
		report.Duration = time.Since(startTime)
		return report, err
	}

	report, err := e.runOnce(ctx)
	report.Duration = time.Since(startTime)
	if err != nil {
		return report, fmt.Errorf("import run failed: %w", err)
	}

	e.persistCache("Failed to persist cache")
	return report, nil
}

func (e *Engine) persistCache(failureMessage string) {
	if !e.Opts.Import.UseCache || e.CM == nil {
		return
	}
	if err := e.CM.Persist(); err != nil {
		e.Logger.Warn(failureMessage, "error", err)
	}
}

// runOnce performs a single full scan and import.
func (e *Engine) runOnce(ctx context.Context) (Report, error) {
	e.Logger.Info("Starting import run", "input", e.Opts.Import.Input, "directory", e.Opts.Import.Directory)
	report, err := e.runPool(ctx, func(taskChan chan<- task) error {
		inputs, err := e.scan(ctx)
		if err != nil {
			return err
		}
		e.owners = make(map[string]string)
		return e.dispatchTasks(ctx, taskChan, inputs)
	})
	e.logReport("Import run finished", report)
	return report, err
}

// reRun imports only the given paths.
func (e *Engine) reRun(ctx context.Context, pathsToProcess map[string]struct{}) (Report, error) {
	e.Logger.Info("Starting incremental import...", "files_changed", len(pathsToProcess))
	if len(pathsToProcess) == 0 {
		return Report{Errors: make(map[string]string)}, nil
	}
	report, err := e.runPool(ctx, func(taskChan chan<- task) error {
		return e.dispatchTasks(ctx, taskChan, pathsToProcess)
	})
	e.logReport("Incremental import finished", report)
	return report, err
}

// runPool starts the workers and the aggregator, lets produce feed the task
// channel and waits for everything to drain.
func (e *Engine) runPool(ctx context.Context, produce func(chan<- task) error) (Report, error) {
	startTime := time.Now()
	report := Report{Errors: make(map[string]string)}
	numWorkers := e.resolveConcurrency()

	taskChan := make(chan task, numWorkers*2)
	resultChan := make(chan worker.Result, numWorkers*2)
	var wg sync.WaitGroup

	e.startWorkers(ctx, numWorkers, taskChan, resultChan, &wg)

	doneAggregating := make(chan struct{})
	go func() {
		defer close(doneAggregating)
		e.aggregateResults(resultChan, &report)
	}()

	produceErr := produce(taskChan)
	close(taskChan)
	wg.Wait()
	close(resultChan)
	<-doneAggregating

	report.Duration = time.Since(startTime)
	return report, produceErr
}

func (e *Engine) logReport(msg string, report Report) {
	e.Logger.Info(msg,
		"saved", report.FilesSaved,
		"cached", report.FilesFromCache,
		"skipped", report.FilesSkipped,
		"errors", report.FilesErrored,
	)
}

// dispatchTasks sends file paths to the task channel in sorted order. Every
// target is claimed by the first input that reaches it, so no two workers
// ever save the same record.
func (e *Engine) dispatchTasks(ctx context.Context, taskChan chan<- task, paths map[string]struct{}) error {
	sorted := make([]string, 0, len(paths))
	for path := range paths {
		sorted = append(sorted, path)
	}
	sort.Strings(sorted)

	for _, path := range sorted {
		t := e.claim(path)
		select {
		case <-ctx.Done():
			e.Logger.Info("Task dispatch cancelled")
			return ctx.Err()
		case taskChan <- t:
			e.Logger.Debug("Dispatched task", "file", path)
		}
	}
	return nil
}

// claim records path as the owner of its target unless another input that
// still exists already owns it.
func (e *Engine) claim(path string) task {
	t := task{path: path}
	if worker.SkipReason(e.Opts, path) != "" {
		return t
	}
	target, err := e.Store.SavePath(e.Opts.Import.Directory, worker.RecordName(path), &e.Opts.Save)
	if err != nil {
		// The worker reports the invalid name.
		return t
	}
	if e.owners == nil {
		e.owners = make(map[string]string)
	}
	if owner, taken := e.owners[target]; taken && owner != path {
		if exists, _ := filesystem.Exists(e.FS, owner); exists {
			t.owner = owner
			return t
		}
	}
	e.owners[target] = path
	return t
}

// startWorkers launches the worker goroutines.
func (e *Engine) startWorkers(ctx context.Context, numWorkers int, taskChan <-chan task, resultChan chan<- worker.Result, wg *sync.WaitGroup) {
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w := worker.NewWorker(e.Opts, e.FS, e.Store, e.CM, e.Logger, e.OptionsHash)

			for {
				select {
				case <-ctx.Done():
					e.Logger.Debug("Worker shutting down due to context cancellation", "id", workerID)
					return
				case t, ok := <-taskChan:
					if !ok {
						return
					}
					var res worker.Result
					if t.owner != "" {
						e.Logger.Warn("Skipping input that saves to an already claimed record", "file", t.path, "owner", t.owner)
						res = worker.DuplicateTarget(t.path, t.owner)
					} else {
						res = w.ProcessFile(ctx, t.path)
					}
					select {
					case resultChan <- res:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i)
	}
}

// scan walks the input and collects every file. A file input is returned
// as is.
func (e *Engine) scan(ctx context.Context) (map[string]struct{}, error) {
	root := e.Opts.Import.Input
	e.Logger.Debug("Starting scan", "path", root)
	inputs := make(map[string]struct{})

	err := e.FS.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			e.Logger.Warn("Error accessing path during scan", "path", path, "error", walkErr)
			return fmt.Errorf("accessing '%s': %w", path, walkErr)
		}

		if d.IsDir() {
			if path != root && e.Opts.Import.SkipHiddenFiles && isHidden(d.Name()) {
				e.Logger.Debug("Skipping hidden directory during scan", "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		inputs[path] = struct{}{}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		e.Logger.Error("Scan completed with errors", "error", err)
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return inputs, nil
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.'
}

// aggregateResults collects results from workers and updates the report.
func (e *Engine) aggregateResults(resultChan <-chan worker.Result, report *Report) {
	for res := range resultChan {
		switch res.Status {
		case worker.StatusSaved:
			report.FilesSaved++
		case worker.StatusCached:
			report.FilesFromCache++
		case worker.StatusSkipped:
			report.FilesSkipped++
		case worker.StatusError:
			report.FilesErrored++
			errMsg := "Unknown import error"
			if res.Error != nil {
				errMsg = res.Error.Error()
			}
			report.Errors[res.FilePath] = errMsg
			e.Logger.Warn("Import error reported", "file", res.FilePath, "reason", res.Reason, "error", errMsg)
		default:
			e.Logger.Warn("Received result with unknown status", "status", res.Status, "file", res.FilePath)
		}
	}
}

func (e *Engine) report(r Report) {
	out := e.Out
	if out == nil {
		out = os.Stderr
	}
	PrintSummary(out, r)
	if e.OnReport != nil {
		e.OnReport(r)
	}
}

// watch imports once, then re-imports changed inputs after each quiet
// period of Opts.Watch.Debounce until ctx ends.
func (e *Engine) watch(ctx context.Context) (Report, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Report{}, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	root := filepath.Clean(e.Opts.Import.Input)
	rootInfo, err := e.FS.Stat(root)
	if err != nil {
		return Report{}, fmt.Errorf("failed to stat input '%s': %w", root, err)
	}
	singleFile := !rootInfo.IsDir()

	if singleFile {
		// Editors often replace files, so the parent is watched and events
		// are filtered down to the input.
		if err := watcher.Add(filepath.Dir(root)); err != nil {
			return Report{}, fmt.Errorf("failed to watch '%s': %w", root, err)
		}
	} else if err := e.addPathsToWatcher(watcher, root); err != nil {
		if errors.Is(err, errFailedToAddWatchPaths) {
			e.Logger.Warn("Failed to add some paths to the watcher, some changes might be missed", "error", err)
		} else {
			return Report{}, fmt.Errorf("failed to add paths to watcher: %w", err)
		}
	}

	lastReport, initialErr := e.runOnce(ctx)
	if initialErr != nil {
		if errors.Is(initialErr, context.Canceled) {
			return lastReport, initialErr
		}
		return lastReport, fmt.Errorf("aborting watch mode due to initial import failure: %w", initialErr)
	}
	e.persistCache("Failed to persist cache after initial import in watch mode")
	e.report(lastReport)

	e.Logger.Info("Entering watch mode, monitoring for changes...", "path", root)

	debounceDuration := e.Opts.DebounceOrDefault()
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()
	pendingPaths := make(map[string]struct{})
	triggerRebuildChan := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("Received cancellation signal, exiting watch mode gracefully.")
			e.persistCache("Failed to persist cache during shutdown")
			return lastReport, context.Canceled

		case event, ok := <-watcher.Events:
			if !ok {
				return lastReport, errors.New("watcher event channel closed")
			}
			e.Logger.Debug("Watcher event received", "event", event.String())

			name := filepath.Clean(event.Name)
			if singleFile && name != root {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if info, statErr := e.FS.Stat(name); statErr == nil && info.IsDir() {
				if !singleFile {
					if err := e.addPathsToWatcher(watcher, name); err != nil {
						e.Logger.Warn("Failed to watch new directory", "path", name, "error", err)
					}
					// Files created together with the directory.
					_ = e.FS.WalkDir(name, func(path string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() {
							pendingPaths[path] = struct{}{}
						}
						return nil
					})
				}
			} else {
				pendingPaths[name] = struct{}{}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, func() {
				select {
				case triggerRebuildChan <- struct{}{}:
				default:
				}
			})

		case <-triggerRebuildChan:
			if len(pendingPaths) == 0 {
				continue
			}
			pathsToProcessNow := pendingPaths
			pendingPaths = make(map[string]struct{})

			rebuildReport, rebuildErr := e.reRun(ctx, pathsToProcessNow)
			if rebuildErr != nil {
				if errors.Is(rebuildErr, context.Canceled) {
					continue
				}
				e.Logger.Error("Incremental import failed", "error", rebuildErr)
			}
			if rebuildReport.FilesSaved > 0 || rebuildReport.FilesErrored > 0 {
				e.persistCache("Failed to persist cache after incremental import")
			}
			lastReport = rebuildReport
			e.report(lastReport)
			e.Logger.Info("Watching for changes...")

		case err, ok := <-watcher.Errors:
			if !ok {
				return lastReport, errors.New("watcher error channel closed")
			}
			e.Logger.Error("File watcher error encountered, attempting to continue", "error", err)
		}
	}
}

// addPathsToWatcher recursively adds directories under root to the watcher.
// Returns errFailedToAddWatchPaths if some paths fail, or another error if
// walking fails.
func (e *Engine) addPathsToWatcher(watcher *fsnotify.Watcher, root string) error {
	encounteredAddError := false

	walkErr := e.FS.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.Logger.Warn("Error accessing path during watcher setup", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && e.Opts.Import.SkipHiddenFiles && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			e.Logger.Error("Failed to add path to watcher, continuing...", "path", path, "error", addErr)
			encounteredAddError = true
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("error walking input directory for watcher setup: %w", walkErr)
	}
	if encounteredAddError {
		return errFailedToAddWatchPaths
	}
	return nil
}

// PrintSummary writes a human readable report.
func PrintSummary(writer io.Writer, report Report) {
	fmt.Fprintf(writer, "\n--- Import Summary ---\n")
	fmt.Fprintf(writer, "Duration:         %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(writer, "Files Saved:      %d\n", report.FilesSaved)
	fmt.Fprintf(writer, "Files From Cache: %d\n", report.FilesFromCache)
	fmt.Fprintf(writer, "Files Skipped:    %d\n", report.FilesSkipped)
	fmt.Fprintf(writer, "Files Errored:    %d\n", report.FilesErrored)

	if report.FilesErrored > 0 && report.Errors != nil {
		fmt.Fprintf(writer, "\n--- Errors Encountered ---\n")
		failed := make([]string, 0, len(report.Errors))
		for filePath := range report.Errors {
			failed = append(failed, filePath)
		}
		sort.Strings(failed)
		for _, filePath := range failed {
			fmt.Fprintf(writer, "ERROR: %s: %s\n", filePath, report.Errors[filePath])
		}
	}
	fmt.Fprintf(writer, "----------------------\n\n")
}
