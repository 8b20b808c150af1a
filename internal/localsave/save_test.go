package localsave

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/filesystem"
)

const (
	slot1Path   = "/default/saves/slot1"
	slot1Temp   = slot1Path + ".tmp"
	slot1Backup = slot1Path + ".bkup"
)

func TestSave_CreatesThenBacksUp(t *testing.T) {
	env := newTestEnv(t)
	opts := &SaveOptions{BackupPreviousData: true}

	first := profile{Dir: "Saves", File: "slot1", Name: "first", Level: 1}
	require.True(t, env.store.Save(first, "", "", opts))

	assert.Equal(t, mustJSON(t, first), env.read(t, slot1Path))
	assert.False(t, env.exists(t, slot1Backup), "first save has nothing to back up")
	assert.False(t, env.exists(t, slot1Temp))

	second := profile{Dir: "Saves", File: "slot1", Name: "second", Level: 2}
	require.True(t, env.store.Save(second, "", "", opts))

	assert.Equal(t, mustJSON(t, second), env.read(t, slot1Path))
	assert.Equal(t, mustJSON(t, first), env.read(t, slot1Backup))
	assert.False(t, env.exists(t, slot1Temp))
	env.fs.AssertReplaceCalled(t, slot1Path)
}

func TestSave_WithoutBackup(t *testing.T) {
	env := newTestEnv(t)
	opts := &SaveOptions{}

	require.True(t, env.store.Save(profile{Dir: "saves", File: "slot1", Name: "a"}, "", "", opts))
	require.True(t, env.store.Save(profile{Dir: "saves", File: "slot1", Name: "b"}, "", "", opts))

	assert.False(t, env.exists(t, slot1Backup))
	assert.Equal(t, mustJSON(t, profile{Name: "b"}), env.read(t, slot1Path))
}

func TestSave_DefaultOptions(t *testing.T) {
	env := newTestEnv(t)

	require.True(t, env.store.Save(profile{Dir: "saves", File: "slot1", Name: "a"}, "", "", nil))
	require.True(t, env.store.Save(profile{Dir: "saves", File: "slot1", Name: "b"}, "", "", nil))

	assert.True(t, env.exists(t, slot1Backup), "defaults keep a backup")
	assert.Equal(t, mustJSON(t, profile{Name: "a"}), env.read(t, slot1Backup))
}

func TestSave_ExplicitNamesOverrideRecord(t *testing.T) {
	env := newTestEnv(t)

	rec := profile{Dir: "saves", File: "slot1", Name: "x"}
	require.True(t, env.store.Save(rec, "Archive", "Slot9", nil))

	assert.True(t, env.exists(t, "/default/archive/slot9"))
	assert.False(t, env.exists(t, slot1Path))

	require.True(t, env.store.Save(rec, "", "Slot2", nil))
	assert.True(t, env.exists(t, "/default/saves/slot2"), "only the file name was overridden")
}

func TestSave_InvalidNames(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.store.Save(profile{File: "slot1"}, "", "", nil))
	assert.False(t, env.store.Save(profile{Dir: "saves"}, "", "", nil))

	err := env.store.Persist(profile{}, "", "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = env.store.Persist(nil, "saves", "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSave_EncodeFailure(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.store.Save(brokenRecord{}, "", "", nil))
	env.fs.AssertWriteNotCalled(t, "/default/saves/broken.tmp")
	assert.Contains(t, env.logs.String(), "cannot encode")
}

func TestSave_VerifyBeforeReplacementFailure(t *testing.T) {
	env := newTestEnv(t)
	original := mustJSON(t, profile{Name: "original"})
	env.write(t, slot1Path, original)
	env.fs.CorruptWrites(slot1Temp)

	err := env.store.Persist(profile{Dir: "saves", File: "slot1", Name: "new"}, "", "", &SaveOptions{VerifyBeforeReplacement: true, BackupPreviousData: true})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, StageBeforeReplacement, verr.Stage)
	assert.Equal(t, 0, verr.Index)
	assert.False(t, verr.LengthMismatch())

	assert.Equal(t, original, env.read(t, slot1Path), "target must be untouched")
	assert.False(t, env.exists(t, slot1Temp), "temp must be discarded")
	assert.False(t, env.exists(t, slot1Backup))
	env.fs.AssertReplaceNotCalled(t, slot1Path)
}

func TestSave_CorruptionUndetectedWithoutVerification(t *testing.T) {
	env := newTestEnv(t)
	env.fs.CorruptWrites(slot1Temp)

	ok := env.store.Save(profile{Dir: "saves", File: "slot1", Name: "new"}, "", "", &SaveOptions{})
	assert.True(t, ok)
	assert.NotEqual(t, mustJSON(t, profile{Name: "new"}), env.read(t, slot1Path))
}

func TestSave_TempMissingAfterWrite(t *testing.T) {
	env := newTestEnv(t)
	original := mustJSON(t, profile{Name: "original"})
	env.write(t, slot1Path, original)
	env.fs.DropOnClose(slot1Temp)

	err := env.store.Persist(profile{Dir: "saves", File: "slot1", Name: "new"}, "", "", &SaveOptions{})

	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Equal(t, original, env.read(t, slot1Path))
}

func TestSave_ReplaceFailure(t *testing.T) {
	env := newTestEnv(t)
	original := mustJSON(t, profile{Name: "original"})
	env.write(t, slot1Path, original)
	env.fs.SimulateReplaceError(slot1Path, fs.ErrPermission)

	ok := env.store.Save(profile{Dir: "saves", File: "slot1", Name: "new"}, "", "", nil)

	assert.False(t, ok)
	assert.Equal(t, original, env.read(t, slot1Path))
	assert.False(t, env.exists(t, slot1Temp), "a failed replace must not leave the temp file behind")
	env.fs.AssertRemoveCalled(t, slot1Temp)
}

func TestSave_FirstMoveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fs.SimulateRenameError(slot1Temp, fs.ErrPermission)

	assert.False(t, env.store.Save(profile{Dir: "saves", File: "slot1"}, "", "", nil))
	assert.False(t, env.exists(t, slot1Path))
	assert.False(t, env.exists(t, slot1Temp))
}

func TestSave_VerifyAfterReplacementFailure(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, slot1Path, mustJSON(t, profile{Name: "original"}))
	env.fs.CorruptAfterReplace(slot1Path)

	err := env.store.Persist(profile{Dir: "saves", File: "slot1", Name: "new"}, "", "", &SaveOptions{VerifyAfterReplacement: true})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StageAfterReplacement, verr.Stage)
	assert.True(t, verr.LengthMismatch())
	assert.Equal(t, verr.Expected-1, verr.Actual)
	assert.Contains(t, err.Error(), "length")
}

func TestSave_DirectoryCreationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fs.SimulateMkdirError("/default/saves", fs.ErrPermission)

	err := env.store.Persist(profile{Dir: "saves", File: "slot1"}, "", "", nil)
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestSave_TruncatesStaleTemp(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, slot1Temp, []byte(`{"name":"stale leftover that is much longer than the new payload"}`))

	rec := profile{Dir: "saves", File: "slot1", Name: "n"}
	require.True(t, env.store.Save(rec, "", "", nil))
	assert.Equal(t, mustJSON(t, rec), env.read(t, slot1Path))
}

func TestSave_BaseDirectorySelection(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetBaseDirectory("/custom"))
	rec := profile{Dir: "saves", File: "slot1", Name: "x"}

	require.True(t, env.store.Save(rec, "", "", &SaveOptions{PersistChosenBaseDirectory: true}))
	assert.True(t, env.exists(t, "/custom/saves/slot1"))

	require.True(t, env.store.Save(rec, "", "", &SaveOptions{PersistChosenBaseDirectory: false}))
	assert.True(t, env.exists(t, slot1Path))
}

func TestSave_RealFileSystem(t *testing.T) {
	base := t.TempDir()
	store := New(Config{
		FS:             filesystem.NewRealFileSystem(),
		Codec:          codec.Gob{},
		DefaultBaseDir: base,
	})

	first := profile{Dir: "Saves", File: "Slot1", Name: "first", Level: 1}
	second := profile{Dir: "Saves", File: "Slot1", Name: "second", Level: 2}
	require.True(t, store.Save(first, "", "", nil))
	require.True(t, store.Save(second, "", "", nil))

	target := filepath.Join(base, "saves", "slot1")
	assert.FileExists(t, target)
	assert.FileExists(t, target+".bkup")
	assert.NoFileExists(t, target+".tmp")

	got, ok := Load[profile](store, "saves", "slot1", nil)
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)

	// Corrupt the target; the backup holds the first generation.
	require.NoError(t, os.WriteFile(target, []byte("garbage"), 0o644))
	got, ok = Load[profile](store, "saves", "slot1", nil)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
}

func TestSave_RecoversFromPanickingRecord(t *testing.T) {
	env := newTestEnv(t)
	var rec *profile // DirectoryName on a nil pointer panics

	assert.NotPanics(t, func() {
		assert.False(t, env.store.Save(rec, "", "", nil))
	})
	assert.True(t, errors.Is(env.store.Persist(nil, "", "", nil), ErrInvalidArgument))
}
