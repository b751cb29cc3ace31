// Package release finds the newest published release of the dashboard client
// and its manifest and package assets, with tiered authentication.
package release

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
)

// Result is the outcome of a successful check. UpdateAvailable is false when
// the latest published version is not newer than the installed one; that is
// a valid terminal state, not an error.
type Result struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	Manifest        *manifest.Manifest
	Release         *Release
	// Token is the credential tier that succeeded; asset downloads reuse it.
	Token string
}

// Resolver checks the release source for a version newer than the
// currently-installed one.
type Resolver struct {
	source        Source
	tiers         []CredentialProvider
	manifestAsset string
	sizeEpsilon   int64
}

func NewResolver(source Source, tiers []CredentialProvider, manifestAsset string, sizeEpsilon int64) *Resolver {
	return &Resolver{
		source:        source,
		tiers:         tiers,
		manifestAsset: manifestAsset,
		sizeEpsilon:   sizeEpsilon,
	}
}

// Resolve walks the credential tiers until one yields the latest release,
// then fetches and parses its manifest. An authorization rejection falls
// through to the next tier; any other failure surfaces immediately so a real
// outage is never masked as a permission problem.
func (r *Resolver) Resolve(ctx context.Context, currentVersion string) (*Result, error) {
	rel, token, err := r.latestRelease(ctx)
	if err != nil {
		return nil, err
	}

	if rel.Draft || rel.Prerelease {
		logger.Debug("latest release %s is draft/prerelease, treating as no newer release", rel.TagName)
		return &Result{CurrentVersion: currentVersion, LatestVersion: rel.TagName}, nil
	}

	cmp, err := CompareVersions(rel.TagName, currentVersion)
	if err != nil {
		return nil, errs.Wrap(errs.CheckFailed, err)
	}
	if cmp <= 0 {
		return &Result{
			CurrentVersion: currentVersion,
			LatestVersion:  strings.TrimPrefix(rel.TagName, "v"),
		}, nil
	}

	m, err := r.fetchManifest(ctx, rel, token)
	if err != nil {
		return nil, err
	}

	return &Result{
		UpdateAvailable: true,
		CurrentVersion:  currentVersion,
		LatestVersion:   strings.TrimPrefix(rel.TagName, "v"),
		Manifest:        m,
		Release:         rel,
		Token:           token,
	}, nil
}

// latestRelease tries each credential tier in order.
func (r *Resolver) latestRelease(ctx context.Context) (*Release, string, error) {
	for _, tier := range r.tiers {
		res := r.tryTier(ctx, tier)
		switch res.Outcome {
		case AuthSuccess:
			return res.Release, tier.Token, nil
		case AuthUnauthorized:
			logger.Debug("credential tier %q rejected, falling through", tier.Name)
			continue
		case AuthNetworkError:
			return nil, "", errs.Wrap(errs.NetworkUnavailable, res.Err)
		}
	}
	return nil, "", errs.Wrap(errs.Unauthorized, fmt.Errorf("all credential tiers exhausted"))
}

func (r *Resolver) tryTier(ctx context.Context, tier CredentialProvider) AuthResult {
	rel, err := r.source.LatestRelease(ctx, tier.Token)
	if err == nil {
		return AuthResult{Outcome: AuthSuccess, Release: rel}
	}
	if isAuthStatus(err) {
		return AuthResult{Outcome: AuthUnauthorized, Err: err}
	}
	return AuthResult{Outcome: AuthNetworkError, Err: err}
}

func (r *Resolver) fetchManifest(ctx context.Context, rel *Release, token string) (*manifest.Manifest, error) {
	asset := rel.FindAsset(r.manifestAsset)
	if asset == nil {
		return nil, errs.Wrap(errs.MalformedManifest,
			fmt.Errorf("release %s has no %s asset", rel.TagName, r.manifestAsset))
	}

	body, err := r.source.DownloadAsset(ctx, asset.DownloadURL, token)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkUnavailable, err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxManifestBytes))
	if err != nil {
		return nil, errs.Wrap(errs.NetworkUnavailable, err)
	}

	m, err := manifest.Parse(data, r.sizeEpsilon)
	if err != nil {
		return nil, err
	}
	if got := strings.TrimPrefix(m.Version, "v"); got != strings.TrimPrefix(rel.TagName, "v") {
		return nil, errs.Wrap(errs.CorruptManifest,
			fmt.Errorf("manifest declares version %s but release is tagged %s", m.Version, rel.TagName))
	}
	return m, nil
}

// CompareVersions orders two semantic versions by their major.minor.patch
// core; pre-release and build metadata are ignored. Returns -1, 0 or 1.
func CompareVersions(a, b string) (int, error) {
	ca, err := versionCore(a)
	if err != nil {
		return 0, err
	}
	cb, err := versionCore(b)
	if err != nil {
		return 0, err
	}
	return semver.Compare(ca, cb), nil
}

func versionCore(v string) (string, error) {
	norm := v
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return "", fmt.Errorf("invalid semantic version %q", v)
	}
	// Strip pre-release and build metadata down to major.minor.patch.
	if i := strings.IndexAny(norm, "-+"); i >= 0 {
		norm = norm[:i]
	}
	return semver.Canonical(norm), nil
}
