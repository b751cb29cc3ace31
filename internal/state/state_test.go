package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
)

func init() {
	logger.UseTestMode()
}

func TestCheckCache_Fresh(t *testing.T) {
	now := time.Now().UTC()

	var nilCache *CheckCache
	assert.False(t, nilCache.Fresh("1.0.0", time.Hour))

	c := &CheckCache{LastCheckedVersion: "1.0.0", LastCheckedAt: now}
	assert.True(t, c.Fresh("1.0.0", time.Hour))
	assert.False(t, c.Fresh("1.1.0", time.Hour), "version change invalidates the cache")

	c.LastCheckedAt = now.Add(-2 * time.Hour)
	assert.False(t, c.Fresh("1.0.0", time.Hour), "expired interval invalidates the cache")
}

func TestCheckCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "update-check.json")

	assert.Nil(t, LoadCheckCache(path), "missing cache file is a valid state")

	c := &CheckCache{
		LastCheckedVersion: "1.4.0",
		LastCheckedAt:      time.Now().UTC().Truncate(time.Second),
	}
	SaveCheckCache(path, c)

	got := LoadCheckCache(path)
	require.NotNil(t, got)
	assert.Equal(t, c.LastCheckedVersion, got.LastCheckedVersion)
	assert.True(t, c.LastCheckedAt.Equal(got.LastCheckedAt))
}

func TestLoadCheckCache_GarbageIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-check.json")
	require.NoError(t, os.WriteFile(path, []byte("{torn"), 0o644))
	assert.Nil(t, LoadCheckCache(path))
}

func TestLocalManifest_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadLocalManifest(path, 0)
	require.NoError(t, err)
	assert.Nil(t, m, "fresh install has no local manifest")

	saved := &manifest.Manifest{
		Version:   "1.4.0",
		TotalSize: 4,
		Files: []manifest.FileEntry{{
			RelativePath: "app.exe",
			SHA256:       "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			Size:         4,
		}},
	}
	require.NoError(t, SaveLocalManifest(path, saved))

	m, err = LoadLocalManifest(path, 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "1.4.0", m.Version)
	require.Len(t, m.Files, 1)
}

func TestLoadLocalManifest_InvalidFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.0.0","totalSize":999,"files":[]}`), 0o644))

	_, err := LoadLocalManifest(path, 0)
	assert.Error(t, err)
}

func TestRemoveLocalManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	require.NoError(t, RemoveLocalManifest(path), "absence is a valid state")

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	require.NoError(t, RemoveLocalManifest(path))
	assert.NoFileExists(t, path)
}
