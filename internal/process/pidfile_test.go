package process

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "backend.pid")
	require.NoError(t, WritePIDFile(path, 4321))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4321", string(b), "the pid is the entire file content")

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4321, pid)

	entries, _ := os.ReadDir(filepath.Dir(path))
	assert.Len(t, entries, 1, "temporary file left behind")

	require.NoError(t, RemovePIDFile(path))
	require.NoError(t, RemovePIDFile(path), "second remove must be a no-op")
	_, err = ReadPIDFile(path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReadPIDFileToleratesWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.pid")
	require.NoError(t, os.WriteFile(path, []byte("  4321\n"), 0o600))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4321, pid)
}

func TestWritePIDFileRejectsInvalidPID(t *testing.T) {
	assert.Error(t, WritePIDFile(filepath.Join(t.TempDir(), "x.pid"), 0))
}

func TestReadPIDFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))
	_, err := ReadPIDFile(path)
	require.Error(t, err)
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}
