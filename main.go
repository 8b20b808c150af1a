package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stackvity/localsave/internal/cache"
	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/config"
	"github.com/stackvity/localsave/internal/document"
	"github.com/stackvity/localsave/internal/engine"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/localsave"
	"github.com/stackvity/localsave/internal/paths"
	"github.com/stackvity/localsave/internal/settings"
	"github.com/stackvity/localsave/internal/template"
)

// Variables for version embedding via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	ExitCodeSuccess     = 0
	ExitCodeFailure     = 1
	ExitCodeConfigError = 2
	ExitCodeInterrupt   = 3
	ExitCodeUnknown     = 10
)

var (
	v          = viper.New()
	configFile string
	logger     *slog.Logger
)

// app is everything a subcommand needs once configuration is loaded.
type app struct {
	opts     *config.Options
	fs       filesystem.FileSystem
	settings settings.Store
	base     *localsave.BaseDirectory
	store    *localsave.Store
}

func (a *app) Close() {
	if err := a.settings.Close(); err != nil {
		logger.Warn("Failed to close settings store", "error", err)
	}
}

// exitError carries the process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "localsave",
	Short: "Crash-safe local persistence of documents",
	Long: `localsave stores documents as single files under a base directory.

Every save writes a temporary file, verifies it, keeps a backup of the
previous version and atomically replaces the target. Loads fall back to the
backup, and once to the default base directory, when the target is missing
or unreadable.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var saveCmd = &cobra.Command{
	Use:   "save --dir <directory> --file <name> --input <document>",
	Short: "Save a YAML, JSON or TOML document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		// Either name may come from the input document instead.
		dir, _ := cmd.Flags().GetString("dir")
		file, _ := cmd.Flags().GetString("file")
		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return fail(ExitCodeConfigError, "--input is required")
		}

		doc, err := document.FromFile(a.fs, input, dir, file)
		if err != nil {
			return fail(ExitCodeFailure, "failed to read input: %w", err)
		}
		if err := a.store.Persist(*doc, doc.Directory, doc.File, &a.opts.Save); err != nil {
			return fail(ExitCodeFailure, "save failed: %w", err)
		}
		target, _ := a.store.SavePath(doc.Directory, doc.File, &a.opts.Save)
		fmt.Fprintln(cmd.OutOrStdout(), target)
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load --dir <directory> --file <name> [--template <file>]",
	Short: "Load a document and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		dir, file, err := names(cmd)
		if err != nil {
			return err
		}

		exec, err := template.NewExecutor(a.opts.TemplateFile, a.fs)
		if err != nil {
			return fail(ExitCodeConfigError, "failed to initialize template executor: %w", err)
		}

		path, _ := a.store.LoadPath(dir, file, &a.opts.Load)
		doc, err := localsave.Read[document.Document](a.store, dir, file, &a.opts.Load)
		if err != nil {
			return fail(ExitCodeFailure, "load failed: %w", err)
		}

		var out string
		if exec != nil {
			out, err = exec.Execute(doc, path)
		} else {
			out, err = template.Default(doc)
		}
		if err != nil {
			return fail(ExitCodeFailure, "failed to render document: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete --dir <directory> --file <name>",
	Short: "Delete a saved document (its backup is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		dir, file, err := names(cmd)
		if err != nil {
			return err
		}
		if !a.store.DeleteFile(dir, file) {
			return fail(ExitCodeFailure, "failed to delete %s/%s", dir, file)
		}
		return nil
	},
}

var deleteDirCmd = &cobra.Command{
	Use:   "delete-dir --dir <directory> [--recursive]",
	Short: "Delete a directory under the base directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		dir, _ := cmd.Flags().GetString("dir")
		recursive, _ := cmd.Flags().GetBool("recursive")
		if !a.store.DeleteDirectory(dir, recursive) {
			return fail(ExitCodeFailure, "failed to delete directory '%s'", dir)
		}
		return nil
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete the whole active base directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.DeleteAll() {
			return fail(ExitCodeFailure, "failed to delete %s", a.store.BaseDirectory())
		}
		return nil
	},
}

var baseCmd = &cobra.Command{
	Use:   "base",
	Short: "Print the active and default base directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "active:  %s\ndefault: %s\n", a.store.BaseDirectory(), a.store.DefaultBaseDirectory())
		return nil
	},
}

var resetBaseCmd = &cobra.Command{
	Use:   "reset-base [path]",
	Short: "Forget the persisted base directory and switch to path or the default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		newPath := ""
		if len(args) == 1 {
			newPath = args[0]
		}
		if err := a.base.Reset(newPath); err != nil {
			return fail(ExitCodeFailure, "failed to reset base directory: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.store.BaseDirectory())
		return nil
	},
}

var setBaseCmd = &cobra.Command{
	Use:   "set-base <path>",
	Short: "Choose and persist a base directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.SetBaseDirectory(args[0]); err != nil {
			return fail(ExitCodeFailure, "failed to set base directory: %w", err)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import --input <path> --dir <directory>",
	Short: "Save every document of a file tree, once or on every change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.opts.ValidateImport(); err != nil {
			return fail(ExitCodeConfigError, "%w", err)
		}

		// The import cache is always gob and never moves the chosen base.
		cacheStore := localsave.New(localsave.Config{
			FS:            a.fs,
			Codec:         codec.Gob{},
			Logger:        logger,
			BaseDirectory: a.base,
		})

		var cm cache.Manager = cache.NewNoOpManager()
		if a.opts.Import.UseCache || a.opts.Import.ClearCache {
			storeCM := cache.NewStoreManager(cacheStore, a.fs, logger)
			if a.opts.Import.ClearCache {
				if err := storeCM.Clear(); err != nil {
					return fail(ExitCodeFailure, "failed to clear import cache: %w", err)
				}
			}
			if a.opts.Import.UseCache {
				cm = storeCM
			}
		}
		if !a.opts.Import.UseCache {
			logger.Info("Import cache is disabled via configuration.")
		}

		optionsHash, err := cache.CalculateOptionsHash(a.opts.Codec, a.opts.Import.Directory, a.opts.Save)
		if err != nil {
			return fail(ExitCodeConfigError, "failed to calculate options hash: %w", err)
		}

		eng := engine.NewEngine(a.opts, a.fs, a.store, cm, logger, optionsHash)
		logger.Info("Starting import...", "input", a.opts.Import.Input, "directory", a.opts.Import.Directory)
		report, err := eng.Run(ctx)

		if !a.opts.Import.WatchMode {
			engine.PrintSummary(cmd.OutOrStdout(), report)
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			logger.Info("Import interrupted.")
			return &exitError{code: ExitCodeInterrupt, err: context.Canceled}
		}
		if err != nil {
			return fail(ExitCodeFailure, "%w", err)
		}
		if report.FilesErrored > 0 {
			return fail(ExitCodeFailure, "%d file(s) failed to import", report.FilesErrored)
		}
		logger.Info("Import completed successfully.")
		return nil
	},
}

// names reads the --dir and --file flags every record command takes.
func names(cmd *cobra.Command) (string, string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	file, _ := cmd.Flags().GetString("file")
	var missing []string
	if strings.TrimSpace(dir) == "" {
		missing = append(missing, "--dir")
	}
	if strings.TrimSpace(file) == "" {
		missing = append(missing, "--file")
	}
	if len(missing) > 0 {
		return "", "", fail(ExitCodeConfigError, "%s required", strings.Join(missing, " and "))
	}
	return dir, file, nil
}

// setup turns the merged configuration into an app.
func setup() (*app, error) {
	opts, err := config.Unmarshal(v)
	if err != nil {
		return nil, fail(ExitCodeConfigError, "%w", err)
	}
	if err := opts.ValidateConfig(); err != nil {
		return nil, fail(ExitCodeConfigError, "%w", err)
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("Configuration loaded and validated successfully", "options", *opts)

	c, err := opts.ResolvedCodec()
	if err != nil {
		return nil, fail(ExitCodeConfigError, "%w", err)
	}

	fs := filesystem.NewRealFileSystem()
	defaultDir := opts.DefaultBaseDirectory(paths.OSProvider{})
	settingsPath := opts.SettingsPath(defaultDir)
	store, err := settings.Open(settings.Config{
		Backend: opts.Settings.Backend,
		Path:    settingsPath,
		FS:      fs,
		Logger:  logger,
	})
	if err != nil {
		return nil, fail(ExitCodeFailure, "failed to open settings store: %w", err)
	}
	logger.Debug("Settings store opened", "backend", opts.Settings.Backend, "path", settingsPath)

	base := localsave.NewBaseDirectory(store, defaultDir, logger)
	return &app{
		opts:     opts,
		fs:       fs,
		settings: store,
		base:     base,
		store: localsave.New(localsave.Config{
			FS:            fs,
			Codec:         c,
			Logger:        logger,
			BaseDirectory: base,
		}),
	}, nil
}

// Execute runs the root command and exits with the code of its outcome.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.code != ExitCodeInterrupt {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		os.Exit(exitErr.code)
	}
	// Flag parsing and argument errors from cobra itself.
	fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
	os.Exit(ExitCodeUnknown)
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Configuration file path (default: .localsave.yaml)")
	pf.BoolP("verbose", "v", false, "Enable verbose debug logging")
	pf.String("base-dir", "", "Default base directory (overrides the platform default)")
	pf.String("app-name", paths.DefaultAppName, "Application name used for the platform default directory")
	pf.String("codec", codec.Default.Name(), "Record encoding: "+strings.Join(codec.Names(), ", "))
	pf.String("settings-backend", settings.BackendFile, "Where the base directory choice is kept: memory, file or badger")
	pf.String("settings-path", "", "Settings file or database path")

	for _, c := range []*cobra.Command{saveCmd, loadCmd, deleteCmd} {
		c.Flags().String("dir", "", "Directory name of the record")
		c.Flags().String("file", "", "File name of the record")
	}
	saveCmd.Flags().StringP("input", "i", "", "YAML, JSON or TOML document to save (required)")
	saveCmd.Flags().Bool("backup", true, "Keep the previous version as a .bkup file")
	saveCmd.Flags().Bool("verify-before", true, "Verify the temporary file before replacing the target")
	saveCmd.Flags().Bool("verify-after", true, "Verify the target after replacing it")
	saveCmd.Flags().Bool("persist-base", false, "Save under the chosen base directory instead of the default")

	loadCmd.Flags().String("template", "", "Go template file used to render the document")
	loadCmd.Flags().Bool("restore-backup", true, "Fall back to the .bkup file when the target cannot be read")
	loadCmd.Flags().Bool("reset-base", true, "Reset to the default base directory and retry once on failure")
	loadCmd.Flags().Bool("use-cached-base", true, "Load from the chosen base directory instead of the default")

	deleteDirCmd.Flags().String("dir", "", "Directory name (empty means the base directory itself)")
	deleteDirCmd.Flags().Bool("recursive", false, "Delete the directory contents too")

	importCmd.Flags().StringP("input", "i", "", "Document file or directory to import (required)")
	importCmd.Flags().String("dir", "", "Directory name the documents are saved under (required)")
	importCmd.Flags().Int("concurrency", 0, "Number of parallel workers (0 for auto-detect CPU cores)")
	importCmd.Flags().Bool("cache", true, "Skip documents unchanged since the last import (use --no-cache to disable)")
	importCmd.Flags().Bool("no-cache", false, "Disable the import cache (equivalent to --cache=false)")
	importCmd.Flags().Bool("clear-cache", false, "Clear the import cache before running")
	importCmd.Flags().Bool("skip-hidden-files", true, "Skip files and directories starting with '.'")
	importCmd.Flags().Bool("watch", false, "Keep running and re-import documents as they change")

	bindings := []struct {
		key  string
		cmd  *cobra.Command
		flag string
	}{
		{"verbose", rootCmd, "verbose"},
		{"baseDir", rootCmd, "base-dir"},
		{"appName", rootCmd, "app-name"},
		{"codec", rootCmd, "codec"},
		{"settings.backend", rootCmd, "settings-backend"},
		{"settings.path", rootCmd, "settings-path"},
		{"save.backupPreviousData", saveCmd, "backup"},
		{"save.verifyBeforeReplacement", saveCmd, "verify-before"},
		{"save.verifyAfterReplacement", saveCmd, "verify-after"},
		{"save.persistChosenBaseDirectory", saveCmd, "persist-base"},
		{"templateFile", loadCmd, "template"},
		{"load.restoreFromBackupOnFailure", loadCmd, "restore-backup"},
		{"load.resetBaseDirectoryOnFailure", loadCmd, "reset-base"},
		{"load.useCachedBaseDirectory", loadCmd, "use-cached-base"},
		{"import.input", importCmd, "input"},
		{"import.directory", importCmd, "dir"},
		{"import.concurrency", importCmd, "concurrency"},
		{"import.cache", importCmd, "cache"},
		{"import.clearCache", importCmd, "clear-cache"},
		{"import.skipHiddenFiles", importCmd, "skip-hidden-files"},
		{"import.watch", importCmd, "watch"},
	}
	for _, b := range bindings {
		flags := b.cmd.Flags()
		if b.cmd == rootCmd {
			flags = b.cmd.PersistentFlags()
		}
		if err := v.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Internal error binding flag --%s: %v\n", b.flag, err)
			os.Exit(ExitCodeConfigError)
		}
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("localsave version %s (commit: %s, built: %s)\n", version, commit, date))
	rootCmd.AddCommand(saveCmd, loadCmd, deleteCmd, deleteDirCmd, deleteAllCmd, baseCmd, resetBaseCmd, setBaseCmd, importCmd)
}

// initConfig reads in the config file and ENV variables. Precedence is
// flags > env > config file > defaults.
func initConfig() {
	config.SetDefaults(v)

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading specified config file %s: %v\n", configFile, err)
			os.Exit(ExitCodeConfigError)
		}
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(config.ConfigName)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", v.ConfigFileUsed(), err)
				os.Exit(ExitCodeConfigError)
			}
		}
	}

	// --no-cache wins over everything else.
	if noCache := importCmd.Flags().Lookup("no-cache"); noCache != nil && noCache.Changed {
		v.Set("import.cache", false)
	}
}

func main() {
	Execute()
}
