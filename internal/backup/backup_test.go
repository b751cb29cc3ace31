package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sccmavenger/avenger-updater/internal/logger"
)

func init() {
	logger.UseTestMode()
}

func writeInstallFile(t *testing.T, installDir, rel, content string) {
	t.Helper()
	dst := filepath.Join(installDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte(content), 0o644))
}

func TestSnapshot_CopiesExistingSkipsMissing(t *testing.T) {
	install := t.TempDir()
	writeInstallFile(t, install, "app.exe", "old binary")
	writeInstallFile(t, install, "bin/plugin.dll", "old plugin")

	m := NewManager(filepath.Join(t.TempDir(), "backups"))

	rec, err := m.Snapshot(install, "1.4.0", []string{"app.exe", "bin/plugin.dll", "bin/new-module.dll"})
	require.NoError(t, err)

	// The brand-new file has no pre-update content, so it is not covered.
	assert.Equal(t, []string{"app.exe", "bin/plugin.dll"}, rec.CoveredPaths)
	assert.Equal(t, "1.4.0", rec.Version)

	data, err := os.ReadFile(filepath.Join(rec.BackupDirectory, "app.exe"))
	require.NoError(t, err)
	assert.Equal(t, "old binary", string(data))

	assert.FileExists(t, filepath.Join(rec.BackupDirectory, recordFileName))
}

func TestRestore_ReproducesPreUpdateBytes(t *testing.T) {
	install := t.TempDir()
	writeInstallFile(t, install, "app.exe", "version 1.4.0")
	writeInstallFile(t, install, "data/cfg.json", `{"v":1}`)

	m := NewManager(filepath.Join(t.TempDir(), "backups"))
	rec, err := m.Snapshot(install, "1.4.0", []string{"app.exe", "data/cfg.json"})
	require.NoError(t, err)

	// Simulate a botched apply: one file overwritten, one deleted.
	writeInstallFile(t, install, "app.exe", "version 2.0.0 (corrupt)")
	require.NoError(t, os.Remove(filepath.Join(install, "data", "cfg.json")))

	require.NoError(t, m.Restore(rec, install))

	data, err := os.ReadFile(filepath.Join(install, "app.exe"))
	require.NoError(t, err)
	assert.Equal(t, "version 1.4.0", string(data))

	data, err = os.ReadFile(filepath.Join(install, "data", "cfg.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))
}

func TestLatest_ReturnsMostRecentRecord(t *testing.T) {
	install := t.TempDir()
	writeInstallFile(t, install, "app.exe", "bytes")

	m := NewManager(filepath.Join(t.TempDir(), "backups"))

	none, err := m.Latest()
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = m.Snapshot(install, "1.0.0", []string{"app.exe"})
	require.NoError(t, err)
	_, err = m.Snapshot(install, "1.1.0", []string{"app.exe"})
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1.1.0", latest.Version)
}

func TestPrune_KeepsNewestBackups(t *testing.T) {
	install := t.TempDir()
	writeInstallFile(t, install, "app.exe", "bytes")

	m := NewManager(filepath.Join(t.TempDir(), "backups"))
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0", "1.4.0"} {
		_, err := m.Snapshot(install, v, []string{"app.exe"})
		require.NoError(t, err)
	}

	require.NoError(t, m.Prune(3))

	dirs, err := m.backupDirs()
	require.NoError(t, err)
	require.Len(t, dirs, 3)

	// Survivors are the three newest.
	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", latest.Version)

	oldest, err := m.readRecord(dirs[0])
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", oldest.Version)
}

func TestPrune_NoOpDuringRestore(t *testing.T) {
	install := t.TempDir()
	writeInstallFile(t, install, "app.exe", "bytes")

	m := NewManager(filepath.Join(t.TempDir(), "backups"))
	for _, v := range []string{"1.0.0", "1.1.0"} {
		_, err := m.Snapshot(install, v, []string{"app.exe"})
		require.NoError(t, err)
	}

	m.mu.Lock()
	m.restoring = true
	m.mu.Unlock()

	require.NoError(t, m.Prune(1))

	dirs, err := m.backupDirs()
	require.NoError(t, err)
	assert.Len(t, dirs, 2)
}
