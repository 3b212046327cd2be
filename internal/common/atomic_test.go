package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "logs.txt")
	require.NoError(t, AtomicWriteFile(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, FileExists(path))
	assert.Equal(t, int64(5), FileSize(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]int{"passed": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"passed": 2}`, string(data))
}

func TestAtomicWriteFileRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true}`), 0644))

	assert.Error(t, AtomicWriteFile(path, []byte("{broken")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data), "previous content survives a rejected write")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileHelpersOnMissingPaths(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
	assert.False(t, FileExists(dir), "directories are not files")
	assert.Equal(t, int64(0), FileSize(filepath.Join(dir, "missing")))
}
