package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftwatch.yaml")
	defaults := Default()
	require.NoError(t, WriteFile(path, &defaults))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaults, *cfg)
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "driftwatch.yaml")
	defaults := Default()
	require.NoError(t, WriteFile(path, &defaults))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestWriteFileOverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftwatch.yaml")

	first := Default()
	require.NoError(t, WriteFile(path, &first))

	second := Default()
	second.Server.Port = 9090
	require.NoError(t, WriteFile(path, &second))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "driftwatch.yaml", entries[0].Name())
}
