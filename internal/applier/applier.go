// Package applier performs the hand-off from staged files to the live
// install. The running process cannot replace its own loaded binaries, so
// the in-process job ends at Backed-Up: snapshot, write helper instructions,
// launch the helper, and signal the host to exit. The helper performs the
// swap out-of-process; the relaunched application finishes the state machine
// by verifying critical files on its next startup.
package applier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/backup"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
	"github.com/sccmavenger/avenger-updater/internal/planner"
	"github.com/sccmavenger/avenger-updater/internal/runner"
	"github.com/sccmavenger/avenger-updater/internal/utils"
)

type State int

const (
	Idle State = iota
	BackedUp
	Swapping
	VerifyingApplied
	Completed
	RollingBack
	RolledBackOk
	RollbackFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BackedUp:
		return "backed-up"
	case Swapping:
		return "swapping"
	case VerifyingApplied:
		return "verifying-applied"
	case Completed:
		return "completed"
	case RollingBack:
		return "rolling-back"
	case RolledBackOk:
		return "rolled-back-ok"
	case RollbackFailed:
		return "rollback-failed"
	default:
		return "unknown"
	}
}

type Options struct {
	InstallDir    string
	StagingDir    string
	AppExecutable string
}

type Applier struct {
	opts    Options
	backups *backup.Manager
	run     runner.CommandRunner

	state State
}

func New(opts Options, backups *backup.Manager, run runner.CommandRunner) *Applier {
	if run == nil {
		run = runner.ExecRunner{}
	}
	return &Applier{opts: opts, backups: backups, run: run}
}

func (a *Applier) State() State { return a.state }

// Stage snapshots every path the swap will touch, writes the helper script
// and launches it detached. After Stage returns the host must exit promptly;
// the helper waits for this PID before mutating anything live.
func (a *Applier) Stage(ctx context.Context, plan *planner.DeltaPlan, version string) (*backup.Record, error) {
	touched := make([]string, 0, len(plan.ToDownload)+len(plan.ToDelete))
	for _, e := range plan.ToDownload {
		touched = append(touched, e.RelativePath)
	}
	touched = append(touched, plan.ToDelete...)

	rec, err := a.backups.Snapshot(a.opts.InstallDir, version, touched)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot before apply: %w", err)
	}
	a.state = BackedUp

	scriptPath := HelperScriptPath()
	params := scriptParams{
		PID:        os.Getpid(),
		StagingDir: a.opts.StagingDir,
		InstallDir: a.opts.InstallDir,
		Deletes:    plan.ToDelete,
		Relaunch:   a.opts.AppExecutable,
		ScriptPath: scriptPath,
	}
	if err := writeHelperScript(scriptPath, params); err != nil {
		return nil, fmt.Errorf("failed to write helper script: %w", err)
	}

	name, args := helperCommand(scriptPath)
	if _, err := a.run.Run(ctx, 0, runner.Detach, name, args...); err != nil {
		return nil, fmt.Errorf("failed to launch swap helper: %w", err)
	}

	logger.Info("update staged; helper launched, waiting for host exit")
	return rec, nil
}

// VerifyApplied re-hashes the manifest's entries against the live install.
// It is run by the relaunched application on its next startup. Critical
// mismatches force a rollback; non-critical ones only degrade.
func (a *Applier) VerifyApplied(m *manifest.Manifest) (criticalBad, nonCriticalBad []string, err error) {
	a.state = VerifyingApplied
	for _, e := range m.Files {
		live := joinInstall(a.opts.InstallDir, e.RelativePath)

		ok, statErr := utils.FileExists(live)
		if statErr != nil {
			return nil, nil, statErr
		}
		if ok {
			if hashErr := utils.ValidateSHA256Checksum(live, e.SHA256); hashErr == nil {
				continue
			}
		}
		if e.IsCritical {
			criticalBad = append(criticalBad, e.RelativePath)
		} else {
			nonCriticalBad = append(nonCriticalBad, e.RelativePath)
		}
	}
	return criticalBad, nonCriticalBad, nil
}

// FinishStartupVerification drives the post-swap tail of the state machine:
// Verifying-Applied -> Completed, or Rolling-Back -> Rolled-Back-Ok /
// Rollback-Failed. A rollback failure is fatal: the install can no longer
// claim a known-good state.
func (a *Applier) FinishStartupVerification(m *manifest.Manifest) (State, error) {
	criticalBad, nonCriticalBad, err := a.VerifyApplied(m)
	if err != nil {
		return a.state, err
	}

	for _, p := range nonCriticalBad {
		logger.Warn("non-critical file %s failed post-apply verification; continuing", p)
	}

	if len(criticalBad) == 0 {
		a.state = Completed
		return a.state, nil
	}

	logger.LogError("critical files failed post-apply verification: %v", criticalBad)
	a.state = RollingBack

	rec, err := a.backups.Latest()
	if err != nil || rec == nil {
		a.state = RollbackFailed
		if err == nil {
			err = fmt.Errorf("no backup available")
		}
		return a.state, errs.Wrap(errs.RollbackFailed, err)
	}

	if err := a.backups.Restore(rec, a.opts.InstallDir); err != nil {
		a.state = RollbackFailed
		return a.state, errs.Wrap(errs.RollbackFailed, err)
	}

	a.state = RolledBackOk
	logger.Warn("rolled back to version %s after failed update", rec.Version)
	return a.state, nil
}

// waitPollInterval is how often the helper script re-checks that the host
// process has exited.
const waitPollInterval = time.Second

func joinInstall(installDir, rel string) string {
	return filepath.Join(installDir, filepath.FromSlash(rel))
}
