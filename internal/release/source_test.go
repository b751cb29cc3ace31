package release

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return f.DoFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestLatestRelease_DecodesWireFormat(t *testing.T) {
	var got *http.Request
	client := &fakeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			got = req
			return jsonResponse(http.StatusOK, `{
				"tag_name": "v2.1.0",
				"name": "Avenger 2.1.0",
				"draft": false,
				"prerelease": false,
				"published_at": "2026-08-01T12:00:00Z",
				"assets": [
					{"name": "manifest.json", "browser_download_url": "https://dl/m.json", "size": 321, "content_type": "application/json"}
				]
			}`), nil
		},
	}
	src := NewGitHubSource(client, "https://api.github.com", "sccmavenger", "avenger-dashboard")

	rel, err := src.LatestRelease(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, "https://api.github.com/repos/sccmavenger/avenger-dashboard/releases/latest", got.URL.String())
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "avenger-updater", got.Header.Get("User-Agent"))

	assert.Equal(t, "v2.1.0", rel.TagName)
	require.Len(t, rel.Assets, 1)
	asset := rel.FindAsset("manifest.json")
	require.NotNil(t, asset)
	assert.Equal(t, "https://dl/m.json", asset.DownloadURL)
	assert.Equal(t, int64(321), asset.Size)
}

func TestLatestRelease_AnonymousOmitsAuthHeader(t *testing.T) {
	client := &fakeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Empty(t, req.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `{"tag_name": "v1.0.0"}`), nil
		},
	}
	src := NewGitHubSource(client, "https://api.github.com", "o", "r")

	_, err := src.LatestRelease(context.Background(), "")
	require.NoError(t, err)
}

func TestLatestRelease_StatusErrors(t *testing.T) {
	client := &fakeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, `{"message":"Bad credentials"}`), nil
		},
	}
	src := NewGitHubSource(client, "https://api.github.com", "o", "r")

	_, err := src.LatestRelease(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, isAuthStatus(err))

	client.DoFunc = func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, ``), nil
	}
	_, err = src.LatestRelease(context.Background(), "tok")
	require.Error(t, err)
	assert.False(t, isAuthStatus(err))
}

func TestDownloadAsset_StreamsBody(t *testing.T) {
	client := &fakeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/octet-stream", req.Header.Get("Accept"))
			return jsonResponse(http.StatusOK, "asset-bytes"), nil
		},
	}
	src := NewGitHubSource(client, "https://api.github.com", "o", "r")

	body, err := src.DownloadAsset(context.Background(), "https://dl/a.bin", "tok")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "asset-bytes", string(data))
}
