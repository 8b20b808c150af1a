// Package paths resolves where a record's files live on disk.
//
// Directory and file names are lower-cased with a locale-independent
// mapping before they are joined onto the base directory, so the same
// record resolves to the same path on case-sensitive and case-insensitive
// filesystems.
package paths

import (
	"os"
	"path/filepath"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// TempExtension is appended to a target path to form its staging file.
	TempExtension = ".tmp"
	// BackupExtension is appended to a target path to form its backup file.
	BackupExtension = ".bkup"
)

// DefaultAppName names the directory created under the user config directory.
const DefaultAppName = "localsave"

// Normalize lower-cases a single path segment. language.Und selects the
// root (invariant) casing rules, so the result never depends on the
// process locale.
func Normalize(segment string) string {
	// A Caser carries state and must not be shared between goroutines.
	return cases.Lower(language.Und).String(segment)
}

// FilePath returns <baseDir>/<lower(directoryName)>/<lower(fileName)>.
func FilePath(baseDir, directoryName, fileName string) string {
	return filepath.Join(baseDir, Normalize(directoryName), Normalize(fileName))
}

// DirPath returns <baseDir>/<lower(directoryName)>.
func DirPath(baseDir, directoryName string) string {
	return filepath.Join(baseDir, Normalize(directoryName))
}

// TempPath returns the staging path used while a target is being written.
func TempPath(target string) string {
	return target + TempExtension
}

// BackupPath returns the path holding the previous generation of target.
func BackupPath(target string) string {
	return target + BackupExtension
}

// Provider abstracts the OS lookups used to find the platform default
// directory, so tests can substitute fixed answers.
type Provider interface {
	UserConfigDir() (string, error)
	Getwd() (string, error)
}

// OSProvider uses the real os functions.
type OSProvider struct{}

// UserConfigDir returns os.UserConfigDir.
func (OSProvider) UserConfigDir() (string, error) {
	return os.UserConfigDir()
}

// Getwd returns os.Getwd.
func (OSProvider) Getwd() (string, error) {
	return os.Getwd()
}

// DefaultBaseDirectory returns the platform's writable per-user directory for
// appName. When the user config directory is unavailable (no HOME, for
// example) it falls back to a dot-directory under the working directory.
func DefaultBaseDirectory(p Provider, appName string) string {
	if p == nil {
		p = OSProvider{}
	}
	if appName == "" {
		appName = DefaultAppName
	}
	dir, err := p.UserConfigDir()
	if err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	cwd, _ := p.Getwd()
	return filepath.Join(cwd, "."+appName)
}
