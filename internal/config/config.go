package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/localsave"
	"github.com/stackvity/localsave/internal/paths"
	"github.com/stackvity/localsave/internal/settings"
)

const (
	// EnvPrefix is prepended to environment variables (LOCALSAVE_CODEC, ...).
	EnvPrefix = "LOCALSAVE"
	// ConfigName is the config file searched for in the working and home
	// directories, without extension.
	ConfigName = ".localsave"
	// DefaultDebounce applies when watch.debounce is zero.
	DefaultDebounce = 300 * time.Millisecond
)

// SettingsConfig selects where the base directory choice is persisted.
type SettingsConfig struct {
	Backend string `mapstructure:"backend"` // "memory", "file" or "badger"
	Path    string `mapstructure:"path"`    // defaults to a file under the platform default directory
}

// ImportConfig holds the options of the import command.
type ImportConfig struct {
	Input           string `mapstructure:"input"`     // file or directory of documents
	Directory       string `mapstructure:"directory"` // directory name the documents are saved under
	Concurrency     int    `mapstructure:"concurrency"`
	UseCache        bool   `mapstructure:"cache"`
	ClearCache      bool   `mapstructure:"clearCache"`
	SkipHiddenFiles bool   `mapstructure:"skipHiddenFiles"`
	WatchMode       bool   `mapstructure:"watch"`
}

// WatchConfig holds configuration specific to watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Options holds all the configuration settings for the localsave application.
// Tags are used by Viper for unmarshalling from config files, env vars, and flags.
type Options struct {
	BaseDir string `mapstructure:"baseDir"` // overrides the platform default directory
	AppName string `mapstructure:"appName"`
	Codec   string `mapstructure:"codec"`
	Verbose bool   `mapstructure:"verbose"`

	Settings SettingsConfig        `mapstructure:"settings"`
	Save     localsave.SaveOptions `mapstructure:"save"`
	Load     localsave.LoadOptions `mapstructure:"load"`
	Import   ImportConfig          `mapstructure:"import"`
	Watch    WatchConfig           `mapstructure:"watch"`

	TemplateFile string `mapstructure:"templateFile"`

	// Internal - Not typically set by user directly
	ConfigFile string `mapstructure:"config"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	save := localsave.DefaultSaveOptions()
	load := localsave.DefaultLoadOptions()

	v.SetDefault("baseDir", "")
	v.SetDefault("appName", paths.DefaultAppName)
	v.SetDefault("codec", codec.Default.Name())
	v.SetDefault("verbose", false)
	v.SetDefault("settings.backend", settings.BackendFile)
	v.SetDefault("settings.path", "")
	v.SetDefault("save.backupPreviousData", save.BackupPreviousData)
	v.SetDefault("save.verifyBeforeReplacement", save.VerifyBeforeReplacement)
	v.SetDefault("save.verifyAfterReplacement", save.VerifyAfterReplacement)
	v.SetDefault("save.persistChosenBaseDirectory", save.PersistChosenBaseDirectory)
	v.SetDefault("load.restoreFromBackupOnFailure", load.RestoreFromBackupOnFailure)
	v.SetDefault("load.resetBaseDirectoryOnFailure", load.ResetBaseDirectoryOnFailure)
	v.SetDefault("load.useCachedBaseDirectory", load.UseCachedBaseDirectory)
	v.SetDefault("import.directory", "")
	v.SetDefault("import.concurrency", 0)
	v.SetDefault("import.cache", true)
	v.SetDefault("import.skipHiddenFiles", true)
	v.SetDefault("watch.debounce", DefaultDebounce)
	v.SetDefault("templateFile", "")
}

// Unmarshal decodes the merged configuration held by v. Codec and backend
// names are lower-cased.
func Unmarshal(v *viper.Viper) (*Options, error) {
	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	opts.Codec = normalizeName(opts.Codec)
	opts.Settings.Backend = normalizeName(opts.Settings.Backend)
	opts.ConfigFile = v.ConfigFileUsed()
	return &opts, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateConfig checks the loaded configuration options for validity.
// All problems are reported together.
func (opts *Options) ValidateConfig() error {
	var errs []string

	if strings.TrimSpace(opts.BaseDir) == "" && strings.TrimSpace(opts.AppName) == "" {
		errs = append(errs, "appName cannot be empty when baseDir is not set")
	}

	if _, err := codec.ByName(opts.Codec); err != nil {
		errs = append(errs, err.Error())
	}

	switch normalizeName(opts.Settings.Backend) {
	case settings.BackendMemory, settings.BackendFile, settings.BackendBadger:
	default:
		errs = append(errs, fmt.Sprintf("settings.backend must be one of %s, %s or %s (got '%s')",
			settings.BackendMemory, settings.BackendFile, settings.BackendBadger, opts.Settings.Backend))
	}

	if opts.Import.Concurrency < 0 {
		errs = append(errs, "import.concurrency must be non-negative (0 for auto)")
	}

	if opts.Watch.Debounce < 0 {
		errs = append(errs, "watch.debounce duration must be non-negative")
	}

	if opts.TemplateFile != "" {
		info, err := os.Stat(opts.TemplateFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Sprintf("templateFile '%s' does not exist", opts.TemplateFile))
			} else {
				errs = append(errs, fmt.Sprintf("cannot access templateFile '%s': %v", opts.TemplateFile, err))
			}
		} else if info.IsDir() {
			errs = append(errs, fmt.Sprintf("templateFile '%s' is a directory, not a file", opts.TemplateFile))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateImport checks the options only the import command needs.
func (opts *Options) ValidateImport() error {
	var errs []string

	if strings.TrimSpace(opts.Import.Input) == "" {
		errs = append(errs, "import input path cannot be empty")
	} else if _, err := os.Stat(opts.Import.Input); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Sprintf("import input path '%s' does not exist", opts.Import.Input))
		} else {
			errs = append(errs, fmt.Sprintf("cannot access import input path '%s': %v", opts.Import.Input, err))
		}
	}

	if strings.TrimSpace(opts.Import.Directory) == "" {
		errs = append(errs, "import directory name cannot be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolvedCodec returns the configured codec.
func (opts *Options) ResolvedCodec() (codec.Codec, error) {
	return codec.ByName(opts.Codec)
}

// DefaultBaseDirectory returns BaseDir when set, otherwise the platform
// default directory for AppName.
func (opts *Options) DefaultBaseDirectory(p paths.Provider) string {
	if opts.BaseDir != "" {
		return opts.BaseDir
	}
	return paths.DefaultBaseDirectory(p, opts.AppName)
}

// SettingsPath returns Settings.Path, or the backend's default location
// beside defaultDir. It is never inside defaultDir, so deleting the base
// directory leaves the settings alone.
func (opts *Options) SettingsPath(defaultDir string) string {
	if opts.Settings.Path != "" {
		return opts.Settings.Path
	}
	prefix := filepath.Clean(defaultDir) + "-settings"
	switch normalizeName(opts.Settings.Backend) {
	case settings.BackendBadger:
		return prefix + ".badger"
	default:
		return prefix + ".yaml"
	}
}

// DebounceOrDefault returns Watch.Debounce, or DefaultDebounce when unset.
func (opts *Options) DebounceOrDefault() time.Duration {
	if opts.Watch.Debounce <= 0 {
		return DefaultDebounce
	}
	return opts.Watch.Debounce
}
