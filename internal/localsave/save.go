package localsave

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/paths"
)

// Save writes record and reports whether the transaction committed. Empty
// directoryName/fileName fall back to the record's own names; nil opts means
// DefaultSaveOptions. Failures are logged, never returned.
func (s *Store) Save(record Record, directoryName, fileName string, opts *SaveOptions) bool {
	if err := s.Persist(record, directoryName, fileName, opts); err != nil {
		s.logger.Error("LocalSave failed", "error", err)
		return false
	}
	return true
}

// Persist runs the save transaction and returns the reason it failed:
//
//  1. encode the record
//  2. write <target>.tmp, creating missing directories
//  3. optionally read the temp file back and compare it
//  4. confirm the temp file exists
//  5. replace the target (keeping <target>.bkup if requested), or move the
//     temp file into place when there is no target yet
//  6. optionally re-read the target and compare it
//
// Until step 5 commits the previous target is untouched. The temp file is
// removed whenever the transaction fails.
func (s *Store) Persist(record Record, directoryName, fileName string, opts *SaveOptions) (err error) {
	defer recoverError(&err)

	o := resolveSaveOptions(opts)
	directoryName, fileName, err = resolveNames(record, directoryName, fileName)
	if err != nil {
		return err
	}

	target := paths.FilePath(s.baseFor(o.PersistChosenBaseDirectory), directoryName, fileName)
	s.logger.Info("LocalSave", "path", target)

	data, err := codec.Marshal(s.codec, record)
	if err != nil {
		return fmt.Errorf("failed to encode record for '%s': %w", target, err)
	}

	tempPath := paths.TempPath(target)
	defer func() {
		if err != nil {
			s.discardTemp(tempPath)
		}
	}()

	dir := filepath.Dir(tempPath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory exists '%s': %w", dir, err)
	}

	if err := s.writeTemp(tempPath, data, o.VerifyBeforeReplacement); err != nil {
		return err
	}

	tempExists, err := filesystem.Exists(s.fs, tempPath)
	if err != nil {
		return fmt.Errorf("failed to stat temporary file '%s': %w", tempPath, err)
	}
	if !tempExists {
		return fmt.Errorf("%w: temporary file '%s' is missing after write", ErrWriteFailure, tempPath)
	}

	if err := s.commit(tempPath, target, o.BackupPreviousData); err != nil {
		return err
	}

	if o.VerifyAfterReplacement {
		written, err := s.fs.ReadFile(target)
		if err != nil {
			return fmt.Errorf("failed to read back '%s': %w", target, err)
		}
		if err := verifyBytes(StageAfterReplacement, target, data, written); err != nil {
			return err
		}
	}

	s.logger.Info("LocalSave succeeded", "path", target, "bytes", len(data))
	return nil
}

// writeTemp truncates and writes path, then optionally rewinds and compares
// what the filesystem hands back.
func (s *Store) writeTemp(path string, data []byte, verify bool) error {
	f, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temporary file '%s': %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temporary file '%s': %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush temporary file '%s': %w", path, err)
	}

	if verify {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("failed to rewind temporary file '%s': %w", path, err)
		}
		readBack := make([]byte, len(data))
		n, err := io.ReadFull(f, readBack)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			f.Close()
			return fmt.Errorf("failed to read back temporary file '%s': %w", path, err)
		}
		if err := verifyBytes(StageBeforeReplacement, path, data, readBack[:n]); err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file '%s': %w", path, err)
	}
	return nil
}

// commit swaps the temp file in. An existing target is replaced in one
// filesystem operation; a missing one has nothing to protect, so a plain
// rename suffices.
func (s *Store) commit(tempPath, target string, backup bool) error {
	targetExists, err := filesystem.Exists(s.fs, target)
	if err != nil {
		return fmt.Errorf("failed to stat target '%s': %w", target, err)
	}

	if !targetExists {
		if err := s.fs.Rename(tempPath, target); err != nil {
			return fmt.Errorf("failed to move temporary file into place '%s': %w", target, err)
		}
		return nil
	}

	backupPath := ""
	if backup {
		backupPath = paths.BackupPath(target)
	}
	if err := s.fs.Replace(tempPath, target, backupPath); err != nil {
		return fmt.Errorf("failed to replace '%s': %w", target, err)
	}
	return nil
}

func (s *Store) discardTemp(tempPath string) {
	if err := s.fs.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Failed to remove temporary file", "path", tempPath, "error", err)
	}
}
