// Package backup snapshots files about to be overwritten or deleted by an
// apply attempt, and prunes old snapshots past the retention count.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/utils"
)

const recordFileName = "record.yaml"

// Record describes one snapshot. CoveredPaths lists every relative path
// whose pre-update content was copied into BackupDirectory; restoring them
// reproduces the exact pre-update bytes.
type Record struct {
	CreatedAt       time.Time `yaml:"created_at"`
	BackupDirectory string    `yaml:"backup_directory"`
	Version         string    `yaml:"version"`
	CoveredPaths    []string  `yaml:"covered_paths"`
}

// Manager owns the bounded history of backup directories under root.
type Manager struct {
	root string

	mu        sync.Mutex
	restoring bool
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Snapshot copies the current on-disk content of every given relative path
// from installDir into a new timestamped backup directory. Paths that do not
// exist yet are skipped: new files have nothing to back up. The snapshot must
// be complete before the applier mutates anything live.
func (m *Manager) Snapshot(installDir, version string, paths []string) (*Record, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000")
	dir := filepath.Join(m.root, stamp)
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
		dir = filepath.Join(m.root, fmt.Sprintf("%s-%d", stamp, i))
	}

	rec := &Record{
		CreatedAt:       time.Now().UTC(),
		BackupDirectory: dir,
		Version:         version,
	}

	for _, rel := range paths {
		src := filepath.Join(installDir, filepath.FromSlash(rel))
		ok, err := utils.FileExists(src)
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		if !ok {
			continue
		}
		if err := utils.CopyFile(src, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to snapshot %s: %w", rel, err)
		}
		rec.CoveredPaths = append(rec.CoveredPaths, rel)
	}

	if err := utils.CreateFile(filepath.Join(dir, recordFileName), rec, utils.FileTypeYAML, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	logger.Debug("snapshotted %d paths into %s", len(rec.CoveredPaths), dir)
	return rec, nil
}

// Latest returns the most recent record, or nil when no backups exist.
func (m *Manager) Latest() (*Record, error) {
	dirs, err := m.backupDirs()
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, nil
	}
	return m.readRecord(dirs[len(dirs)-1])
}

// Restore copies every covered path back into installDir. It blocks pruning
// for the duration so the backup can never be deleted mid-restore.
func (m *Manager) Restore(rec *Record, installDir string) error {
	m.mu.Lock()
	m.restoring = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.restoring = false
		m.mu.Unlock()
	}()

	for _, rel := range rec.CoveredPaths {
		src := filepath.Join(rec.BackupDirectory, filepath.FromSlash(rel))
		dst := filepath.Join(installDir, filepath.FromSlash(rel))
		if err := utils.CopyFile(src, dst); err != nil {
			return fmt.Errorf("failed to restore %s: %w", rel, err)
		}
	}
	return nil
}

// Prune deletes the oldest backup directories beyond retain. It is a no-op
// while a restore is in progress.
func (m *Manager) Prune(retain int) error {
	m.mu.Lock()
	busy := m.restoring
	m.mu.Unlock()
	if busy {
		logger.Debug("prune skipped: restore in progress")
		return nil
	}

	dirs, err := m.backupDirs()
	if err != nil {
		return err
	}
	if len(dirs) <= retain {
		return nil
	}

	for _, dir := range dirs[:len(dirs)-retain] {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to prune backup %s: %w", dir, err)
		}
		logger.Debug("pruned backup %s", dir)
	}
	return nil
}

// backupDirs lists snapshot directories sorted oldest-first. The timestamp
// naming makes lexical order chronological.
func (m *Manager) backupDirs() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(m.root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (m *Manager) readRecord(dir string) (*Record, error) {
	var rec Record
	if err := utils.FileReader(filepath.Join(dir, recordFileName), utils.FileTypeYAML, &rec); err != nil {
		return nil, fmt.Errorf("backup record unreadable in %s: %w", dir, err)
	}
	return &rec, nil
}
