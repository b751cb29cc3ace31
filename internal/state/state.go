// Package state persists the advisory update-check cache and the manifest of
// the currently installed version. Both live in the per-user data directory
// and are owned by the installation, not by any single process instance, so
// readers tolerate files another instance is rewriting (last-writer-wins).
package state

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
	"github.com/sccmavenger/avenger-updater/internal/utils"
)

// CheckCache avoids redundant network calls when a version was evaluated
// recently. It is advisory only and never a source of truth for whether
// files actually match on disk.
type CheckCache struct {
	LastCheckedVersion string             `json:"last_checked_version"`
	LastCheckedAt      time.Time          `json:"last_checked_at"`
	LastKnownManifest  *manifest.Manifest `json:"last_known_manifest,omitempty"`
}

// Fresh reports whether the cache can satisfy a non-forced check for the
// given version.
func (c *CheckCache) Fresh(currentVersion string, interval time.Duration) bool {
	if c == nil || c.LastCheckedVersion != currentVersion {
		return false
	}
	return !c.LastCheckedAt.IsZero() && time.Since(c.LastCheckedAt) < interval
}

// LoadCheckCache reads the cache file. A missing or unreadable file yields a
// nil cache, never an error: the cache is advisory.
func LoadCheckCache(path string) *CheckCache {
	var c CheckCache
	if err := utils.FileReader(path, utils.FileTypeJSON, &c); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Debug("check cache unreadable, ignoring: %v", err)
		}
		return nil
	}
	return &c
}

// SaveCheckCache writes the cache atomically. Failures are logged and
// swallowed; a stale cache only costs an extra network round trip.
func SaveCheckCache(path string, c *CheckCache) {
	if err := utils.WriteJSONAtomic(path, c); err != nil {
		logger.Debug("failed to persist check cache: %v", err)
	}
}

// LoadLocalManifest reads the cached manifest of the installed version.
// Absence is a valid state (fresh install) and returns (nil, nil).
func LoadLocalManifest(path string, sizeEpsilon int64) (*manifest.Manifest, error) {
	ok, err := utils.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var m manifest.Manifest
	if err := utils.FileReader(path, utils.FileTypeJSON, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(sizeEpsilon); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveLocalManifest atomically replaces the cached manifest after a
// successful apply has been scheduled.
func SaveLocalManifest(path string, m *manifest.Manifest) error {
	return utils.WriteJSONAtomic(path, m)
}

// RemoveLocalManifest drops the cached manifest, e.g. after a rollback left
// it no longer describing what is on disk. Absence is a valid state.
func RemoveLocalManifest(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
