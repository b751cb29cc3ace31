// Package fetcher materializes a delta plan's downloads into a staging
// directory isolated from the live install, verifying every file's SHA-256
// against the manifest before it is trusted.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
	"github.com/sccmavenger/avenger-updater/internal/planner"
	"github.com/sccmavenger/avenger-updater/internal/release"
	"github.com/sccmavenger/avenger-updater/internal/utils"
)

// DiskFree reports the free bytes on the volume holding path. Overridable in
// tests to simulate a full disk.
var DiskFree = diskFree

// AssetNameFor maps a manifest entry to the release asset holding its bytes.
// Release assets are flat, so path separators are folded into double
// underscores ("bin/plugin.dll" -> "bin__plugin.dll").
func AssetNameFor(e *manifest.FileEntry) string {
	return strings.ReplaceAll(e.RelativePath, "/", "__")
}

type Options struct {
	StagingDir       string
	Parallelism      int
	DownloadAttempts int
	SafetyMargin     int64
}

// Fetcher downloads planned files with bounded parallelism; each worker
// verifies the file it downloaded, keeping the pipeline streaming.
type Fetcher struct {
	source release.Source
	token  string
	opts   Options
}

func New(source release.Source, token string, opts Options) *Fetcher {
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	if opts.DownloadAttempts < 1 {
		opts.DownloadAttempts = 4
	}
	return &Fetcher{source: source, token: token, opts: opts}
}

// Fetch materializes every ToDownload entry of the plan into the staging
// directory. The disk preflight runs before any byte is written; failure
// leaves no partial state anywhere. Cancellation or any terminal error
// discards the staging directory entirely.
func (f *Fetcher) Fetch(ctx context.Context, rel *release.Release, plan *planner.DeltaPlan) (err error) {
	if len(plan.ToDownload) == 0 {
		return nil
	}

	if err := f.preflight(plan.BytesToTransfer()); err != nil {
		return err
	}

	if err := os.MkdirAll(f.opts.StagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(f.opts.StagingDir)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)

	for i := range plan.ToDownload {
		entry := plan.ToDownload[i]
		g.Go(func() error {
			return f.fetchEntry(gctx, rel, &entry)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Debug("staged %d files (%s) in %s",
		len(plan.ToDownload), utils.HumanSize(plan.BytesToTransfer()), f.opts.StagingDir)
	return nil
}

// Discard removes the staging directory, e.g. after a cancelled attempt.
func (f *Fetcher) Discard() {
	_ = os.RemoveAll(f.opts.StagingDir)
}

// preflight checks that free space on the staging volume covers the transfer
// plus the safety margin reserved for the subsequent backup step.
func (f *Fetcher) preflight(bytesToTransfer int64) error {
	parent := filepath.Dir(f.opts.StagingDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	free, err := DiskFree(parent)
	if err != nil {
		return fmt.Errorf("failed to query free disk space: %w", err)
	}

	need := bytesToTransfer + f.opts.SafetyMargin
	if free < need {
		return errs.Wrap(errs.InsufficientDiskSpace,
			fmt.Errorf("need %s (transfer %s + margin %s), have %s free",
				utils.HumanSize(need), utils.HumanSize(bytesToTransfer),
				utils.HumanSize(f.opts.SafetyMargin), utils.HumanSize(free)))
	}
	return nil
}

// fetchEntry downloads and verifies one file. Transient network errors are
// retried with exponential backoff; a hash mismatch is corruption and gets
// exactly one re-download before the plan fails naming the path.
func (f *Fetcher) fetchEntry(ctx context.Context, rel *release.Release, entry *manifest.FileEntry) error {
	asset := rel.FindAsset(AssetNameFor(entry))
	if asset == nil {
		return errs.WrapPath(errs.MalformedManifest, entry.RelativePath,
			fmt.Errorf("release has no asset %q", AssetNameFor(entry)))
	}

	mismatches := 0
	op := func() error {
		err := f.downloadOnce(ctx, asset.DownloadURL, entry)
		if err == nil {
			return nil
		}
		if errs.HasCode(err, errs.VerificationFailed) {
			mismatches++
			if mismatches > 1 {
				return backoff.Permanent(err)
			}
			logger.Warn("hash mismatch for %s, re-downloading once", entry.RelativePath)
			return err
		}
		logger.Debug("transient download failure for %s: %v", entry.RelativePath, err)
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackOff(), uint64(f.opts.DownloadAttempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errs.HasCode(err, errs.VerificationFailed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.WrapPath(errs.NetworkUnavailable, entry.RelativePath, err)
	}
	return nil
}

// downloadOnce streams the asset to its staging path, hashing while writing.
// The file is never trusted until the digest has been recomputed from what
// actually hit the pipe.
func (f *Fetcher) downloadOnce(ctx context.Context, url string, entry *manifest.FileEntry) (err error) {
	body, err := f.source.DownloadAsset(ctx, url, f.token)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	dst := filepath.Join(f.opts.StagingDir, filepath.FromSlash(entry.RelativePath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, h), body)
	syncErr := out.Sync()
	closeErr := out.Close()
	for _, werr := range []error{copyErr, syncErr, closeErr} {
		if werr != nil {
			_ = os.Remove(dst)
			return werr
		}
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != entry.SHA256 {
		_ = os.Remove(dst)
		return errs.WrapPath(errs.VerificationFailed, entry.RelativePath,
			fmt.Errorf("expected %s, got %s", entry.SHA256, got))
	}
	return nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}
