// Package planner diffs a remote manifest against the locally cached one and
// produces the ordered set of file operations for an update attempt.
package planner

import (
	"fmt"
	"sort"

	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
)

// DeltaPlan is the minimal set of operations to move the install from the
// local manifest's state to the remote one. ToDownload is ordered with
// critical entries first; the applier relies on that ordering to bound how
// far a truncated transfer may safely have progressed.
type DeltaPlan struct {
	Remote     *manifest.Manifest
	ToDownload []manifest.FileEntry
	ToDelete   []string
}

// Empty reports "already up to date".
func (p *DeltaPlan) Empty() bool {
	return len(p.ToDownload) == 0 && len(p.ToDelete) == 0
}

// BytesToTransfer is the sum of ToDownload sizes.
func (p *DeltaPlan) BytesToTransfer() int64 {
	var n int64
	for _, e := range p.ToDownload {
		n += e.Size
	}
	return n
}

// Plan computes the delta. A nil local manifest means nothing is cached and
// every remote entry becomes a download (full install). The hash is
// authoritative: a size mismatch on entries with equal hashes indicates a
// corrupt manifest, not a change.
func Plan(remote, local *manifest.Manifest) (*DeltaPlan, error) {
	plan := &DeltaPlan{Remote: remote}

	if local == nil {
		plan.ToDownload = append(plan.ToDownload, remote.Files...)
		sortCriticalFirst(plan.ToDownload)
		return plan, nil
	}

	for _, re := range remote.Files {
		le := local.Lookup(re.RelativePath)
		switch {
		case le == nil:
			plan.ToDownload = append(plan.ToDownload, re)
		case le.SHA256 != re.SHA256:
			plan.ToDownload = append(plan.ToDownload, re)
		case le.Size != re.Size:
			return nil, errs.WrapPath(errs.CorruptManifest, re.RelativePath,
				fmt.Errorf("size changed from %d to %d with identical hash", le.Size, re.Size))
		}
	}

	remotePaths := remote.Paths()
	for _, le := range local.Files {
		if _, ok := remotePaths[le.RelativePath]; !ok {
			plan.ToDelete = append(plan.ToDelete, le.RelativePath)
		}
	}

	sortCriticalFirst(plan.ToDownload)
	sort.Strings(plan.ToDelete)
	return plan, nil
}

// sortCriticalFirst orders critical entries ahead of the rest, with paths
// sorted within each group so plans are deterministic.
func sortCriticalFirst(entries []manifest.FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsCritical != entries[j].IsCritical {
			return entries[i].IsCritical
		}
		return entries[i].RelativePath < entries[j].RelativePath
	})
}
