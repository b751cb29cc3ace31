// Package manifest holds the typed representation of a release's file
// inventory and the wire codec for the published manifest.json asset.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/utils"
)

// FileEntry is one shipped file. RelativePath is the unique key within a
// manifest and always uses forward-slash separators.
type FileEntry struct {
	RelativePath string    `json:"relativePath"`
	SHA256       string    `json:"sha256Hash"`
	Size         int64     `json:"fileSize"`
	LastModified time.Time `json:"lastModified"`
	IsCritical   bool      `json:"isCritical"`
}

// Manifest is the authoritative per-release inventory.
type Manifest struct {
	Version   string      `json:"version"`
	BuildDate time.Time   `json:"buildDate"`
	TotalSize int64       `json:"totalSize"`
	Files     []FileEntry `json:"files"`
}

// Parse decodes and validates a manifest document. sizeEpsilon is the
// tolerated absolute difference between the declared TotalSize and the sum of
// entry sizes; anything beyond it is treated as a corrupt release.
func Parse(data []byte, sizeEpsilon int64) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.MalformedManifest, err)
	}
	if err := m.Validate(sizeEpsilon); err != nil {
		return nil, err
	}
	return &m, nil
}

// Serialize encodes the manifest back to its wire form. Parse followed by
// Serialize is content-preserving.
func (m *Manifest) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// Validate enforces the structural invariants: no duplicate relative paths,
// hashes and sizes present, TotalSize consistent with the entry sum.
func (m *Manifest) Validate(sizeEpsilon int64) error {
	if m.Version == "" {
		return errs.Wrap(errs.MalformedManifest, fmt.Errorf("missing version"))
	}

	seen := make(map[string]struct{}, len(m.Files))
	var sum int64
	for i := range m.Files {
		e := &m.Files[i]
		e.RelativePath = utils.NormalizePath(e.RelativePath)
		if e.RelativePath == "" || e.RelativePath == "." {
			return errs.Wrap(errs.MalformedManifest, fmt.Errorf("entry %d has an empty path", i))
		}
		if _, dup := seen[e.RelativePath]; dup {
			return errs.WrapPath(errs.DuplicateEntry, e.RelativePath, fmt.Errorf("duplicate manifest entry"))
		}
		seen[e.RelativePath] = struct{}{}

		if len(e.SHA256) != 64 {
			return errs.WrapPath(errs.MalformedManifest, e.RelativePath, fmt.Errorf("invalid sha256 %q", e.SHA256))
		}
		if e.Size < 0 {
			return errs.WrapPath(errs.MalformedManifest, e.RelativePath, fmt.Errorf("negative file size %d", e.Size))
		}
		sum += e.Size
	}

	diff := m.TotalSize - sum
	if diff < 0 {
		diff = -diff
	}
	if diff > sizeEpsilon {
		return errs.Wrap(errs.CorruptManifest,
			fmt.Errorf("declared total size %d disagrees with entry sum %d", m.TotalSize, sum))
	}
	return nil
}

// Lookup returns the entry at the given relative path, or nil.
func (m *Manifest) Lookup(relativePath string) *FileEntry {
	p := utils.NormalizePath(relativePath)
	for i := range m.Files {
		if m.Files[i].RelativePath == p {
			return &m.Files[i]
		}
	}
	return nil
}

// CriticalFiles returns the entries whose post-apply corruption forces a
// rollback.
func (m *Manifest) CriticalFiles() []FileEntry {
	var out []FileEntry
	for _, e := range m.Files {
		if e.IsCritical {
			out = append(out, e)
		}
	}
	return out
}

// Paths returns the set of relative paths in the manifest.
func (m *Manifest) Paths() map[string]struct{} {
	out := make(map[string]struct{}, len(m.Files))
	for _, e := range m.Files {
		out[e.RelativePath] = struct{}{}
	}
	return out
}
