package localsave

// SaveOptions controls one save transaction.
type SaveOptions struct {
	// BackupPreviousData keeps the replaced target at <target>.bkup.
	BackupPreviousData bool `mapstructure:"backupPreviousData" yaml:"backupPreviousData"`

	// VerifyBeforeReplacement reads the temp file back and compares it with
	// the encoded bytes before it replaces the target.
	VerifyBeforeReplacement bool `mapstructure:"verifyBeforeReplacement" yaml:"verifyBeforeReplacement"`

	// VerifyAfterReplacement re-reads the target once it has been replaced.
	VerifyAfterReplacement bool `mapstructure:"verifyAfterReplacement" yaml:"verifyAfterReplacement"`

	// PersistChosenBaseDirectory saves under the cached (and persisted) base
	// directory instead of the platform default. Loads that rely on
	// LoadOptions.ResetBaseDirectoryOnFailure need this.
	PersistChosenBaseDirectory bool `mapstructure:"persistChosenBaseDirectory" yaml:"persistChosenBaseDirectory"`
}

// LoadOptions controls the recovery chain of one load.
type LoadOptions struct {
	// RestoreFromBackupOnFailure falls back to <target>.bkup, rolling the
	// record back one generation.
	RestoreFromBackupOnFailure bool `mapstructure:"restoreFromBackupOnFailure" yaml:"restoreFromBackupOnFailure"`

	// ResetBaseDirectoryOnFailure resets a non-default base directory to the
	// platform default and retries once.
	ResetBaseDirectoryOnFailure bool `mapstructure:"resetBaseDirectoryOnFailure" yaml:"resetBaseDirectoryOnFailure"`

	// UseCachedBaseDirectory reads under the cached base directory instead of
	// the platform default.
	UseCachedBaseDirectory bool `mapstructure:"useCachedBaseDirectory" yaml:"useCachedBaseDirectory"`
}

// DefaultSaveOptions returns the configuration used when a caller passes nil.
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{
		BackupPreviousData:         true,
		VerifyBeforeReplacement:    true,
		VerifyAfterReplacement:     true,
		PersistChosenBaseDirectory: false,
	}
}

// DefaultLoadOptions returns the configuration used when a caller passes nil.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		RestoreFromBackupOnFailure:  true,
		ResetBaseDirectoryOnFailure: true,
		UseCachedBaseDirectory:      true,
	}
}

func resolveSaveOptions(opts *SaveOptions) SaveOptions {
	if opts == nil {
		return DefaultSaveOptions()
	}
	return *opts
}

func resolveLoadOptions(opts *LoadOptions) LoadOptions {
	if opts == nil {
		return DefaultLoadOptions()
	}
	return *opts
}
