package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/service"
)

// maxManifestBytes bounds the manifest asset size (10 MB). Anything larger
// is a malformed release, not a bigger product.
const maxManifestBytes = 10 << 20

// Source abstracts the release hosting provider down to the two operations
// the updater needs: fetch the latest release's metadata, and stream an
// asset's bytes.
type Source interface {
	LatestRelease(ctx context.Context, token string) (*Release, error)
	DownloadAsset(ctx context.Context, url, token string) (io.ReadCloser, error)
}

// statusError distinguishes an HTTP-level rejection from a transport failure
// so the auth tiers can tell "wrong credential" apart from "network down".
type statusError struct {
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Status)
}

func isAuthStatus(err error) bool {
	se, ok := err.(*statusError)
	return ok && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden)
}

// GitHubSource resolves releases from the GitHub Releases API.
type GitHubSource struct {
	client  service.HTTPClient
	baseURL string
	owner   string
	repo    string
}

func NewGitHubSource(client service.HTTPClient, baseURL, owner, repo string) *GitHubSource {
	if client == nil {
		client = service.NewHTTPClient(30 * time.Second)
	}
	return &GitHubSource{
		client:  client,
		baseURL: baseURL,
		owner:   owner,
		repo:    repo,
	}
}

// LatestRelease fetches the newest published (non-draft) release.
func (g *GitHubSource) LatestRelease(ctx context.Context, token string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.baseURL, g.owner, g.repo)

	resp, err := g.get(ctx, url, token, "application/vnd.github.v3+json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var doc releaseDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode release response: %w", err)
	}
	return doc.toRelease(), nil
}

// DownloadAsset streams an asset's bytes. The caller owns the ReadCloser.
func (g *GitHubSource) DownloadAsset(ctx context.Context, url, token string) (io.ReadCloser, error) {
	resp, err := g.get(ctx, url, token, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (g *GitHubSource) get(ctx context.Context, url, token, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "avenger-updater")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &statusError{Status: resp.StatusCode}
	}
	return resp, nil
}
