package cache

import (
	"bytes"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/localsave"
)

const (
	baseDir   = "/base"
	cacheFile = "/base/.localsave/import-cache"
	inputPath = "/in/slot1.yaml"
	target    = "/base/saves/slot1"
)

type cacheEnv struct {
	fs    *filesystem.MockFileSystem
	store *localsave.Store
	logs  *bytes.Buffer
}

func newCacheEnv(t *testing.T) *cacheEnv {
	t.Helper()
	logs := &bytes.Buffer{}
	mfs := filesystem.NewMockFileSystem()
	store := localsave.New(localsave.Config{
		FS:             mfs,
		Codec:          codec.Gob{},
		Logger:         slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		DefaultBaseDir: baseDir,
	})
	env := &cacheEnv{fs: mfs, store: store, logs: logs}
	env.write(t, inputPath, "name: hero\n")
	env.write(t, target, "saved")
	return env
}

func (e *cacheEnv) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, e.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, e.fs.WriteFile(path, []byte(content), 0o644))
}

func (e *cacheEnv) manager() Manager {
	return NewStoreManager(e.store, e.fs, slog.New(slog.NewTextHandler(e.logs, nil)))
}

// entryFor describes the current state of the input.
func (e *cacheEnv) entryFor(t *testing.T, optionsHash []byte) Entry {
	t.Helper()
	info, err := e.fs.Stat(inputPath)
	require.NoError(t, err)
	sourceHash, err := SourceHash(e.fs, inputPath)
	require.NoError(t, err)
	return Entry{
		ModTime:     info.ModTime(),
		Size:        info.Size(),
		OptionsHash: optionsHash,
		SourceHash:  sourceHash,
		Target:      target,
	}
}

func optionsHash(t *testing.T, codecName string) []byte {
	t.Helper()
	hash, err := CalculateOptionsHash(codecName, "saves", localsave.DefaultSaveOptions())
	require.NoError(t, err)
	return hash
}

func TestStoreManager_CheckAndUpdate(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()
	hash := optionsHash(t, "gob")

	status, err := cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status, "empty cache")

	require.NoError(t, cm.Update(inputPath, env.entryFor(t, hash)))

	status, err = cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)

	status, err = cm.Check(inputPath, optionsHash(t, "json"))
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status, "options changed")
}

func TestStoreManager_MissWhenTargetDeleted(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()
	hash := optionsHash(t, "gob")
	require.NoError(t, cm.Update(inputPath, env.entryFor(t, hash)))

	require.NoError(t, env.fs.Remove(target))

	status, err := cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
}

func TestStoreManager_MissWhenInputChanges(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()
	hash := optionsHash(t, "gob")
	entry := env.entryFor(t, hash)

	// Same size and mod time, different content.
	entry.SourceHash = []byte("stale")
	require.NoError(t, cm.Update(inputPath, entry))

	status, err := cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)

	entry = env.entryFor(t, hash)
	entry.Size++
	require.NoError(t, cm.Update(inputPath, entry))
	status, err = cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
}

func TestStoreManager_MissWhenInputUnreadable(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()
	hash := optionsHash(t, "gob")
	require.NoError(t, cm.Update(inputPath, env.entryFor(t, hash)))

	env.fs.SimulateStatError(inputPath, fs.ErrPermission)
	status, err := cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
}

func TestStoreManager_PersistAndReload(t *testing.T) {
	env := newCacheEnv(t)
	hash := optionsHash(t, "gob")

	cm := env.manager()
	require.NoError(t, cm.Update(inputPath, env.entryFor(t, hash)))
	require.NoError(t, cm.Persist())

	ok, err := filesystem.Exists(env.fs, cacheFile)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded := env.manager()
	status, err := reloaded.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)
}

func TestStoreManager_PersistSkipsWhenClean(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()

	require.NoError(t, cm.Persist())
	env.fs.AssertWriteNotCalled(t, cacheFile+".tmp")
}

func TestStoreManager_PersistFailure(t *testing.T) {
	env := newCacheEnv(t)
	cm := env.manager()
	require.NoError(t, cm.Update(inputPath, env.entryFor(t, nil)))

	env.fs.SimulateWriteError(cacheFile+".tmp", fs.ErrPermission)
	err := cm.Persist()
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestStoreManager_CorruptCacheStartsEmpty(t *testing.T) {
	env := newCacheEnv(t)
	env.write(t, cacheFile, "not gob")

	cm := env.manager()
	status, err := cm.Check(inputPath, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Contains(t, env.logs.String(), "Failed to load cache")

	// The unreadable cache is replaced even with no new entries.
	require.NoError(t, cm.Persist())
	env.fs.AssertWriteCalled(t, cacheFile+".tmp")
}

func TestStoreManager_Clear(t *testing.T) {
	env := newCacheEnv(t)
	hash := optionsHash(t, "gob")
	cm := env.manager()
	require.NoError(t, cm.Update(inputPath, env.entryFor(t, hash)))
	require.NoError(t, cm.Persist())

	require.NoError(t, cm.Clear())

	ok, err := filesystem.Exists(env.fs, cacheFile)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := cm.Check(inputPath, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)

	// Clearing twice is fine.
	assert.NoError(t, cm.Clear())
}

func TestNoOpManager(t *testing.T) {
	cm := NewNoOpManager()

	status, err := cm.Check(inputPath, nil)
	assert.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.NoError(t, cm.Update(inputPath, Entry{}))
	assert.NoError(t, cm.Persist())
	assert.NoError(t, cm.Clear())
}

func TestCalculateOptionsHash(t *testing.T) {
	save := localsave.DefaultSaveOptions()

	a, err := CalculateOptionsHash("gob", "saves", save)
	require.NoError(t, err)
	b, err := CalculateOptionsHash("gob", "saves", save)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c, err := CalculateOptionsHash("gob", "other", save)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	save.BackupPreviousData = false
	d, err := CalculateOptionsHash("gob", "saves", save)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestSourceHash(t *testing.T) {
	env := newCacheEnv(t)

	first, err := SourceHash(env.fs, inputPath)
	require.NoError(t, err)
	env.write(t, inputPath, "name: villain\n")
	second, err := SourceHash(env.fs, inputPath)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = SourceHash(env.fs, "/in/missing.yaml")
	assert.Error(t, err)

}
