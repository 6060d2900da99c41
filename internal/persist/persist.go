// Package persist writes validated boundary artifacts to disk. An
// existing artifact is copied into the backup directory before it is
// overwritten, and a previous backup is never clobbered; a rejected
// validation writes nothing.
package persist

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/atlas-data/boundaryline/internal/artifact"
	"github.com/atlas-data/boundaryline/internal/catalog"
	"github.com/atlas-data/boundaryline/internal/fsutil"
	"github.com/atlas-data/boundaryline/internal/monitoring"
	"github.com/atlas-data/boundaryline/internal/timeutil"
	"github.com/atlas-data/boundaryline/internal/validate"
)

// ErrRejected reports a persist attempt with a failed validation. The
// prior artifact, if any, is left untouched.
var ErrRejected = errors.New("validation failed, artifact not persisted")

// BackupRecord describes the copy made of a prior artifact before an
// overwrite.
type BackupRecord struct {
	Path      string
	CreatedAt time.Time
}

// Manager persists artifacts with backup-before-overwrite semantics.
type Manager struct {
	fs          fsutil.FileSystem
	clock       timeutil.Clock
	boundaryDir string
	backupDir   string

	// Catalog, when set, gets its hasDetailedBoundary flag updated
	// after a successful write.
	Catalog *catalog.Catalog
}

// NewManager creates a Manager writing under boundaryDir with backups
// under backupDir.
func NewManager(fs fsutil.FileSystem, clock timeutil.Clock, boundaryDir, backupDir string) *Manager {
	return &Manager{fs: fs, clock: clock, boundaryDir: boundaryDir, backupDir: backupDir}
}

// ArtifactPath returns where a place's artifact lives.
func (m *Manager) ArtifactPath(placeID string) string {
	return filepath.Join(m.boundaryDir, placeID+".geojson")
}

// Persist writes the artifact for placeID, guarding on the validation
// result. It returns the artifact path and, when a prior artifact was
// overwritten, the backup record.
func (m *Manager) Persist(placeID string, a *artifact.Artifact, res validate.Result) (string, *BackupRecord, error) {
	if !res.Passed() {
		return "", nil, ErrRejected
	}

	if err := m.fs.MkdirAll(m.boundaryDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create boundary dir: %w", err)
	}

	target := m.ArtifactPath(placeID)
	var backup *BackupRecord
	if m.fs.Exists(target) {
		b, err := m.backup(placeID, target)
		if err != nil {
			return "", nil, err
		}
		backup = b
		monitoring.Logf("backed up %s to %s", target, b.Path)
	}

	if err := artifact.Write(m.fs, target, a); err != nil {
		return "", nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	if m.Catalog != nil {
		if err := m.Catalog.MarkBoundary(placeID, filepath.Base(target)); err != nil {
			return "", nil, fmt.Errorf("failed to update catalog: %w", err)
		}
	}

	return target, backup, nil
}

// backup copies the current artifact into the backup dir under a
// timestamped name, suffixing -2, -3, ... rather than replacing an
// existing backup.
func (m *Manager) backup(placeID, src string) (*BackupRecord, error) {
	if err := m.fs.MkdirAll(m.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	now := m.clock.Now()
	stamp := now.Format("20060102-150405")
	base := fmt.Sprintf("%s-%s", placeID, stamp)

	dst := filepath.Join(m.backupDir, base+".geojson")
	for n := 2; m.fs.Exists(dst); n++ {
		dst = filepath.Join(m.backupDir, fmt.Sprintf("%s-%d.geojson", base, n))
	}

	if err := fsutil.CopyFile(m.fs, src, dst); err != nil {
		return nil, fmt.Errorf("failed to back up %s: %w", src, err)
	}
	return &BackupRecord{Path: dst, CreatedAt: now}, nil
}
