package localsave

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/localsave/internal/codec"
	"github.com/stackvity/localsave/internal/filesystem"
	"github.com/stackvity/localsave/internal/settings"
)

const defaultDir = "/default"

// profile is a record whose location is not part of its encoding.
type profile struct {
	Dir   string `json:"-"`
	File  string `json:"-"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func (p profile) DirectoryName() string { return p.Dir }
func (p profile) FileName() string      { return p.File }

// brokenRecord fails to encode.
type brokenRecord struct{}

func (brokenRecord) DirectoryName() string          { return "saves" }
func (brokenRecord) FileName() string               { return "broken" }
func (brokenRecord) MarshalBinary() ([]byte, error) { return nil, errors.New("cannot encode") }

type testEnv struct {
	store    *Store
	fs       *filesystem.MockFileSystem
	settings settings.Store
	logs     *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSettings(t, settings.NewMemoryStore())
}

func newTestEnvWithSettings(t *testing.T, st settings.Store) *testEnv {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mfs := filesystem.NewMockFileSystem()
	store := New(Config{
		FS:             mfs,
		Codec:          codec.JSON{},
		Logger:         logger,
		Settings:       st,
		DefaultBaseDir: defaultDir,
	})
	return &testEnv{store: store, fs: mfs, settings: st, logs: logs}
}

func (e *testEnv) write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, e.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, e.fs.WriteFile(path, data, 0o644))
}

func (e *testEnv) read(t *testing.T, path string) []byte {
	t.Helper()
	data, err := e.fs.ReadFile(path)
	require.NoError(t, err)
	return data
}

func (e *testEnv) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := filesystem.Exists(e.fs, path)
	require.NoError(t, err)
	return ok
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.JSON{}.Encode(v)
	require.NoError(t, err)
	return data
}

// mockSettings records every settings interaction.
type mockSettings struct {
	mock.Mock
}

func (m *mockSettings) Get(key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockSettings) Set(key, value string) error {
	return m.Called(key, value).Error(0)
}

func (m *mockSettings) Delete(key string) error {
	return m.Called(key).Error(0)
}

func (m *mockSettings) Flush() error {
	return m.Called().Error(0)
}

func (m *mockSettings) Close() error {
	return m.Called().Error(0)
}
