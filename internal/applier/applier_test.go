package applier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sccmavenger/avenger-updater/internal/backup"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
	"github.com/sccmavenger/avenger-updater/internal/planner"
	"github.com/sccmavenger/avenger-updater/internal/runner"
)

func init() {
	logger.UseTestMode()
}

func hashOf(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte(content), 0o644))
}

type fixture struct {
	install string
	staging string
	backups *backup.Manager
	run     *runner.MockRunner
	applier *Applier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	install := t.TempDir()
	staging := t.TempDir()
	backups := backup.NewManager(filepath.Join(t.TempDir(), "backups"))
	run := runner.NewMockRunner()
	a := New(Options{
		InstallDir:    install,
		StagingDir:    staging,
		AppExecutable: "avenger.exe",
	}, backups, run)
	return &fixture{install: install, staging: staging, backups: backups, run: run, applier: a}
}

func TestStage_SnapshotsThenLaunchesHelper(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "old binary")
	writeFile(t, f.install, "stale.dll", "left behind")

	plan := &planner.DeltaPlan{
		ToDownload: []manifest.FileEntry{
			{RelativePath: "app.exe", SHA256: hashOf("new binary"), Size: 10, IsCritical: true},
		},
		ToDelete: []string{"stale.dll"},
	}

	rec, err := f.applier.Stage(context.Background(), plan, "1.4.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(HelperScriptPath()) })

	// Every path the swap touches is covered before anything runs.
	assert.ElementsMatch(t, []string{"app.exe", "stale.dll"}, rec.CoveredPaths)
	assert.Equal(t, BackedUp, f.applier.State())

	// The helper is launched detached, pointed at the script.
	require.Len(t, f.run.Commands, 1)
	cmd := f.run.Commands[0]
	assert.Equal(t, runner.Detach, cmd.Mode)
	assert.Contains(t, strings.Join(append([]string{cmd.Name}, cmd.Args...), " "), HelperScriptPath())
}

func TestStage_ScriptContent(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "old binary")

	plan := &planner.DeltaPlan{
		ToDownload: []manifest.FileEntry{
			{RelativePath: "app.exe", SHA256: hashOf("new binary"), Size: 10, IsCritical: true},
		},
		ToDelete: []string{"old/stale.dll"},
	}

	_, err := f.applier.Stage(context.Background(), plan, "1.4.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(HelperScriptPath()) })

	data, err := os.ReadFile(HelperScriptPath())
	require.NoError(t, err)
	script := string(data)

	// The script waits on this PID, swaps staging over install, deletes the
	// stale path, relaunches the app and removes itself.
	assert.Contains(t, script, strconv.Itoa(os.Getpid()))
	assert.Contains(t, script, f.staging)
	assert.Contains(t, script, f.install)
	assert.Contains(t, script, filepath.Join(f.install, filepath.FromSlash("old/stale.dll")))
	assert.Contains(t, script, "avenger.exe")
	assert.Contains(t, script, HelperScriptPath())
}

func TestStage_SnapshotFailureAborts(t *testing.T) {
	f := newFixture(t)
	// A regular file where the backup root's parent should be forces the
	// snapshot to fail regardless of the caller's privileges.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	f.applier.backups = backup.NewManager(filepath.Join(blocker, "backups"))

	plan := &planner.DeltaPlan{
		ToDownload: []manifest.FileEntry{{RelativePath: "app.exe", SHA256: hashOf("x"), Size: 1}},
	}

	_, err := f.applier.Stage(context.Background(), plan, "1.4.0")
	require.Error(t, err)
	assert.Empty(t, f.run.Commands, "helper must not launch without a snapshot")
}

func applyManifest(entries ...manifest.FileEntry) *manifest.Manifest {
	m := &manifest.Manifest{Version: "2.0.0", Files: entries}
	for _, e := range entries {
		m.TotalSize += e.Size
	}
	return m
}

func TestFinishStartupVerification_Completed(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "new binary")
	writeFile(t, f.install, "skin.dat", "theme")

	m := applyManifest(
		manifest.FileEntry{RelativePath: "app.exe", SHA256: hashOf("new binary"), Size: 10, IsCritical: true},
		manifest.FileEntry{RelativePath: "skin.dat", SHA256: hashOf("theme"), Size: 5},
	)

	state, err := f.applier.FinishStartupVerification(m)
	require.NoError(t, err)
	assert.Equal(t, Completed, state)
}

func TestFinishStartupVerification_NonCriticalMismatchDegrades(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "new binary")
	writeFile(t, f.install, "skin.dat", "wrong bytes")

	m := applyManifest(
		manifest.FileEntry{RelativePath: "app.exe", SHA256: hashOf("new binary"), Size: 10, IsCritical: true},
		manifest.FileEntry{RelativePath: "skin.dat", SHA256: hashOf("theme"), Size: 5},
	)

	state, err := f.applier.FinishStartupVerification(m)
	require.NoError(t, err)
	assert.Equal(t, Completed, state, "non-critical corruption must not fail the update")
}

func TestFinishStartupVerification_CriticalMismatchRollsBack(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "version 1.4.0")

	// Snapshot the pre-update binary the way Stage would have.
	_, err := f.backups.Snapshot(f.install, "1.4.0", []string{"app.exe"})
	require.NoError(t, err)

	// The swap left a corrupt critical file behind.
	writeFile(t, f.install, "app.exe", "torn write")

	m := applyManifest(
		manifest.FileEntry{RelativePath: "app.exe", SHA256: hashOf("version 2.0.0"), Size: 13, IsCritical: true},
	)

	state, err := f.applier.FinishStartupVerification(m)
	require.NoError(t, err)
	assert.Equal(t, RolledBackOk, state)

	data, err := os.ReadFile(filepath.Join(f.install, "app.exe"))
	require.NoError(t, err)
	assert.Equal(t, "version 1.4.0", string(data))
}

func TestFinishStartupVerification_MissingCriticalFileRollsBack(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "version 1.4.0")
	_, err := f.backups.Snapshot(f.install, "1.4.0", []string{"app.exe"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.install, "app.exe")))

	m := applyManifest(
		manifest.FileEntry{RelativePath: "app.exe", SHA256: hashOf("version 2.0.0"), Size: 13, IsCritical: true},
	)

	state, err := f.applier.FinishStartupVerification(m)
	require.NoError(t, err)
	assert.Equal(t, RolledBackOk, state)
	assert.FileExists(t, filepath.Join(f.install, "app.exe"))
}

func TestFinishStartupVerification_RollbackFailedWithoutBackup(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.install, "app.exe", "torn write")

	m := applyManifest(
		manifest.FileEntry{RelativePath: "app.exe", SHA256: hashOf("version 2.0.0"), Size: 13, IsCritical: true},
	)

	state, err := f.applier.FinishStartupVerification(m)
	require.Error(t, err)
	assert.Equal(t, RollbackFailed, state)
	assert.True(t, errs.HasCode(err, errs.RollbackFailed))
	assert.Equal(t, errs.Msg(errs.RollbackFailed), errs.UserMessage(err))
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle: "idle", BackedUp: "backed-up", Swapping: "swapping",
		VerifyingApplied: "verifying-applied", Completed: "completed",
		RollingBack: "rolling-back", RolledBackOk: "rolled-back-ok",
		RollbackFailed: "rollback-failed", State(99): "unknown",
	} {
		assert.Equal(t, want, fmt.Sprint(s))
	}
}
