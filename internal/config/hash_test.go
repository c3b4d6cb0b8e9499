package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyChecksums(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	checksumPath, err := GenerateChecksums(path)
	require.NoError(t, err)
	assert.FileExists(t, checksumPath)

	manifest, err := LoadChecksums(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Version)

	hash, ok := manifest.Hashes["config.yaml"]
	require.True(t, ok)
	assert.NoError(t, VerifyFileHash(path, hash))

	// Locked config still loads.
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestLoadFailsOnTamperedConfig(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	_, err := GenerateChecksums(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"\n# edited\n"), 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed")
}

func TestLoadSkipsVerificationWithoutManifest(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestVerifyFileHashMismatch(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	err := VerifyFileHash(path, "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checksums"),
		[]byte("version: 2\nhashes: {}\n"), 0o600))

	_, err := LoadChecksums(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported checksums version")
}
