// Package controller sequences the update pipeline: check, plan, download,
// back up, schedule the apply, and signal the host to exit. It owns every
// ephemeral structure (delta plan, in-flight backup record) and is the only
// component permitted to persist the update-check cache.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/applier"
	"github.com/sccmavenger/avenger-updater/internal/backup"
	"github.com/sccmavenger/avenger-updater/internal/config"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/fetcher"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/planner"
	"github.com/sccmavenger/avenger-updater/internal/release"
	"github.com/sccmavenger/avenger-updater/internal/runner"
	"github.com/sccmavenger/avenger-updater/internal/state"
)

// ErrInFlight reports that another trigger already owns the pipeline. The
// caller should treat it as a status report, not a failure.
var ErrInFlight = errors.New("an update check is already in flight")

type Stage string

const (
	StageIdle            Stage = "idle"
	StageChecking        Stage = "checking"
	StageDownloading     Stage = "downloading"
	StageBackingUp       Stage = "backing-up"
	StageScheduling      Stage = "scheduling-apply"
	StageAwaitingRestart Stage = "awaiting-restart"
)

// Status is the snapshot the host UI polls.
type Status struct {
	Stage           Stage
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	RestartRequired bool
	LastError       string
}

type Controller struct {
	cfg            *config.Config
	source         release.Source
	resolver       *release.Resolver
	backups        *backup.Manager
	run            runner.CommandRunner
	currentVersion string

	mu       sync.Mutex
	inFlight bool
	stage    Stage
	cache    *state.CheckCache
	result   *release.Result
	plan     *planner.DeltaPlan
	lastErr  error

	restartOnce sync.Once
	restartCh   chan struct{}
}

// New builds a controller and reads the persisted check cache, which is the
// defined init point for that state.
func New(cfg *config.Config, currentVersion string, source release.Source, run runner.CommandRunner) *Controller {
	if source == nil {
		source = release.NewGitHubSource(nil, cfg.BaseURL, cfg.Owner, cfg.Repo)
	}
	tiers := release.Providers(cfg.UserToken, cfg.EmbeddedToken)
	return &Controller{
		cfg:            cfg,
		source:         source,
		resolver:       release.NewResolver(source, tiers, cfg.ManifestAsset, cfg.SizeEpsilon),
		backups:        backup.NewManager(cfg.BackupRoot()),
		run:            run,
		currentVersion: currentVersion,
		stage:          StageIdle,
		cache:          state.LoadCheckCache(cfg.CheckCachePath()),
		restartCh:      make(chan struct{}),
	}
}

// RestartRequested is closed once an update is staged and the process should
// exit so the helper can apply it. This channel is the entire interface
// exposed to the surrounding dashboard application.
func (c *Controller) RestartRequested() <-chan struct{} {
	return c.restartCh
}

// Status returns a point-in-time snapshot for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Stage:          c.stage,
		CurrentVersion: c.currentVersion,
	}
	if c.result != nil {
		s.LatestVersion = c.result.LatestVersion
		s.UpdateAvailable = c.result.UpdateAvailable
	}
	if c.stage == StageAwaitingRestart {
		s.RestartRequired = true
	}
	if c.lastErr != nil {
		s.LastError = errs.UserMessage(c.lastErr)
	}
	return s
}

// CheckForUpdate resolves whether a newer release exists. force marks a
// user-triggered check, which must hit the network rather than be satisfied
// from cache. Concurrent triggers are coalesced: the loser gets ErrInFlight
// and should read Status instead.
func (c *Controller) CheckForUpdate(ctx context.Context, force bool) (*release.Result, error) {
	if err := c.begin(StageChecking); err != nil {
		return nil, err
	}
	defer c.end()

	if !force {
		if res := c.cachedResult(); res != nil {
			logger.Debug("check satisfied from cache (checked %s ago)",
				time.Since(c.cache.LastCheckedAt).Truncate(time.Second))
			c.setResult(res, nil)
			return res, nil
		}
	}

	res, err := c.resolver.Resolve(ctx, c.currentVersion)
	if err != nil {
		c.setResult(nil, err)
		return nil, err
	}

	// Written after every check, per the cache's lifecycle contract.
	c.writeCache(res)
	c.setResult(res, nil)

	// A new check invalidates any plan computed for a previous result.
	c.mu.Lock()
	c.plan = nil
	c.mu.Unlock()

	return res, nil
}

// Download computes the delta plan (once) and stages its files. A failure
// here leaves the plan retained, so a retry resumes from this stage without
// repeating the check.
func (c *Controller) Download(ctx context.Context) error {
	if err := c.begin(StageDownloading); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	res, plan := c.result, c.plan
	c.mu.Unlock()

	if res == nil || !res.UpdateAvailable {
		return fmt.Errorf("no update resolved; run a check first")
	}

	if plan == nil {
		local, err := state.LoadLocalManifest(c.cfg.LocalManifestPath(), c.cfg.SizeEpsilon)
		if err != nil {
			logger.Warn("local manifest unreadable, planning a full download: %v", err)
		}
		plan, err = planner.Plan(res.Manifest, local)
		if err != nil {
			c.setResult(res, err)
			return err
		}
		c.mu.Lock()
		c.plan = plan
		c.mu.Unlock()
	}

	if plan.Empty() {
		logger.Info("manifest delta is empty; install already matches %s", res.LatestVersion)
		return nil
	}

	f := fetcher.New(c.source, res.Token, fetcher.Options{
		StagingDir:       c.cfg.StagingDir(),
		Parallelism:      c.cfg.Parallelism,
		DownloadAttempts: c.cfg.DownloadAttempts,
		SafetyMargin:     c.cfg.SafetyMarginBytes(),
	})
	if err := f.Fetch(ctx, res.Release, plan); err != nil {
		c.setResult(res, err)
		return err
	}
	return nil
}

// ScheduleApply snapshots the touched paths, writes and launches the swap
// helper, persists the new manifest as the local one, and raises the restart
// signal. Cancellation is no longer offered past this point: the swap runs
// outside this process's lifetime by design.
func (c *Controller) ScheduleApply(ctx context.Context) error {
	if err := c.begin(StageBackingUp); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	res, plan := c.result, c.plan
	c.mu.Unlock()

	if res == nil || plan == nil {
		return fmt.Errorf("nothing staged; run a check and download first")
	}
	if plan.Empty() {
		return nil
	}

	a := applier.New(applier.Options{
		InstallDir:    c.cfg.InstallDir,
		StagingDir:    c.cfg.StagingDir(),
		AppExecutable: c.cfg.AppExecutable,
	}, c.backups, c.run)

	c.setStage(StageScheduling)
	if _, err := a.Stage(ctx, plan, res.LatestVersion); err != nil {
		c.setResult(res, err)
		return err
	}

	// The relaunched application verifies against this manifest on startup.
	if err := state.SaveLocalManifest(c.cfg.LocalManifestPath(), res.Manifest); err != nil {
		logger.Warn("failed to persist new manifest: %v", err)
	}

	c.setStage(StageAwaitingRestart)
	c.restartOnce.Do(func() { close(c.restartCh) })
	return nil
}

// VerifyStartup finishes the apply state machine on the relaunched
// application's first run: verify critical files, roll back if needed, and
// prune old backups once the new version is known good.
func (c *Controller) VerifyStartup(ctx context.Context) (applier.State, error) {
	local, err := state.LoadLocalManifest(c.cfg.LocalManifestPath(), c.cfg.SizeEpsilon)
	if err != nil {
		return applier.Idle, err
	}
	if local == nil {
		return applier.Idle, nil
	}

	a := applier.New(applier.Options{
		InstallDir:    c.cfg.InstallDir,
		StagingDir:    c.cfg.StagingDir(),
		AppExecutable: c.cfg.AppExecutable,
	}, c.backups, c.run)

	st, err := a.FinishStartupVerification(local)
	switch st {
	case applier.Completed:
		if pruneErr := c.backups.Prune(c.cfg.Retention); pruneErr != nil {
			logger.Warn("backup pruning failed: %v", pruneErr)
		}
	case applier.RolledBackOk:
		// The cached manifest no longer reflects disk; drop it so the next
		// update plans a full download against a clean slate.
		if remErr := state.RemoveLocalManifest(c.cfg.LocalManifestPath()); remErr != nil {
			logger.Warn("failed to drop stale manifest after rollback: %v", remErr)
		}
	}
	return st, err
}

// --- internals ---

func (c *Controller) begin(s Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrInFlight
	}
	c.inFlight = true
	c.stage = s
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if c.stage != StageAwaitingRestart {
		c.stage = StageIdle
	}
}

func (c *Controller) setStage(s Stage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

func (c *Controller) setResult(res *release.Result, err error) {
	c.mu.Lock()
	if res != nil {
		c.result = res
	}
	c.lastErr = err
	c.mu.Unlock()
}

// cachedResult rebuilds a check result from the advisory cache when it is
// fresh enough, avoiding a network round trip.
func (c *Controller) cachedResult() *release.Result {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()

	if !cache.Fresh(c.currentVersion, c.cfg.CheckInterval) {
		return nil
	}

	latest := c.currentVersion
	if cache.LastKnownManifest != nil {
		latest = cache.LastKnownManifest.Version
		if cmp, err := release.CompareVersions(latest, c.currentVersion); err == nil && cmp > 0 {
			// The cache remembers a newer release, but a download needs live
			// asset locations; force a real check.
			return nil
		}
	}
	return &release.Result{CurrentVersion: c.currentVersion, LatestVersion: latest}
}

func (c *Controller) writeCache(res *release.Result) {
	cache := &state.CheckCache{
		LastCheckedVersion: c.currentVersion,
		LastCheckedAt:      time.Now().UTC(),
		LastKnownManifest:  res.Manifest,
	}
	c.mu.Lock()
	c.cache = cache
	c.mu.Unlock()
	state.SaveCheckCache(c.cfg.CheckCachePath(), cache)
}
