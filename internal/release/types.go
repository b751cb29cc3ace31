package release

import "time"

// Release is one published release of the dashboard client, exposing a
// manifest asset plus one or more package/content assets.
type Release struct {
	TagName     string
	Name        string
	Draft       bool
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	Name        string
	DownloadURL string
	Size        int64
	ContentType string
}

// FindAsset returns the asset with the given name, or nil.
func (r *Release) FindAsset(name string) *Asset {
	for i := range r.Assets {
		if r.Assets[i].Name == name {
			return &r.Assets[i]
		}
	}
	return nil
}

// wire format of the hosting provider's "latest release" endpoint.
type releaseDoc struct {
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt time.Time  `json:"published_at"`
	Assets      []assetDoc `json:"assets"`
}

type assetDoc struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
}

func (d *releaseDoc) toRelease() *Release {
	r := &Release{
		TagName:     d.TagName,
		Name:        d.Name,
		Draft:       d.Draft,
		Prerelease:  d.Prerelease,
		PublishedAt: d.PublishedAt,
	}
	for _, a := range d.Assets {
		r.Assets = append(r.Assets, Asset{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}
	return r
}
