package localsave

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/localsave/internal/filesystem"
)

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, slot1Path, []byte("{}"))
	env.write(t, slot1Backup, []byte("{}"))

	assert.True(t, env.store.DeleteFile("Saves", "Slot1"))
	assert.False(t, env.exists(t, slot1Path))
	assert.True(t, env.exists(t, slot1Backup), "the backup is kept")

	assert.False(t, env.store.DeleteFile("saves", "slot1"), "already gone")
}

func TestDeleteFile_Failures(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.store.DeleteFile("", "slot1"))
	assert.False(t, env.store.DeleteFile("saves", ""))

	require.NoError(t, env.fs.MkdirAll("/default/saves/folder", 0o755))
	assert.False(t, env.store.DeleteFile("saves", "folder"), "directories are not files")

	env.write(t, slot1Path, []byte("{}"))
	env.fs.SimulateRemoveError(slot1Path, fs.ErrPermission)
	assert.False(t, env.store.DeleteFile("saves", "slot1"))
	assert.True(t, env.exists(t, slot1Path))
}

func TestDeleteRecord(t *testing.T) {
	env := newTestEnv(t)
	rec := profile{Dir: "saves", File: "slot1"}
	require.True(t, env.store.Save(rec, "", "", nil))

	assert.True(t, env.store.DeleteRecord(rec, "", ""))
	assert.False(t, env.exists(t, slot1Path))

	assert.False(t, env.store.DeleteRecord(profile{}, "", ""))
}

func TestDeleteDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, slot1Path, []byte("{}"))
	env.write(t, "/default/other/slot1", []byte("{}"))

	assert.True(t, env.store.DeleteDirectory("Saves", true))
	assert.False(t, env.exists(t, "/default/saves"))
	assert.True(t, env.exists(t, "/default/other/slot1"))

	assert.False(t, env.store.DeleteDirectory("saves", true), "already gone")
	assert.False(t, env.store.DeleteDirectory("other/slot1", true), "files are not directories")
}

func TestDeleteDirectory_EmptyNonRecursive(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.fs.MkdirAll("/default/empty", 0o755))

	assert.True(t, env.store.DeleteDirectory("empty", false))
	assert.False(t, env.exists(t, "/default/empty"))
}

func TestDeleteDirectory_NonEmptyNonRecursive(t *testing.T) {
	base := t.TempDir()
	store := New(Config{FS: filesystem.NewRealFileSystem(), DefaultBaseDir: base})
	require.NoError(t, os.MkdirAll(filepath.Join(base, "saves"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "saves", "slot1"), []byte("x"), 0o644))

	assert.False(t, store.DeleteDirectory("saves", false))
	assert.FileExists(t, filepath.Join(base, "saves", "slot1"))

	assert.True(t, store.DeleteDirectory("saves", true))
	assert.NoDirExists(t, filepath.Join(base, "saves"))
}

func TestDeleteAll(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, slot1Path, []byte("{}"))
	env.write(t, "/default/other/slot1", []byte("{}"))

	assert.True(t, env.store.DeleteAll())
	assert.False(t, env.exists(t, defaultDir))

	assert.False(t, env.store.DeleteAll(), "nothing left to delete")
}

func TestDeleteAll_FollowsActiveBaseDirectory(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetBaseDirectory("/custom"))
	env.write(t, "/custom/saves/slot1", []byte("{}"))
	env.write(t, slot1Path, []byte("{}"))

	assert.True(t, env.store.DeleteAll())
	assert.False(t, env.exists(t, "/custom"))
	assert.True(t, env.exists(t, slot1Path))
}
