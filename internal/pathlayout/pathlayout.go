// Package pathlayout implements the on-disk layout for entity/database
// files described in spec.md §3 and §4.1: a current-version indirection
// that lets a restore prepare a new version directory, fsync it, and
// atomically swap the active pointer without interrupting in-flight
// daemons.
package pathlayout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcua/ayb/common"
)

// ReservedSlugs holds database slugs that may never be used because they
// collide with system routes. Left as a package-level var so it remains a
// configuration point, per spec.md §9 Open Questions.
var ReservedSlugs = map[string]struct{}{
	"-": {},
}

// IsReservedSlug reports whether slug is reserved.
func IsReservedSlug(slug string) bool {
	_, reserved := ReservedSlugs[slug]
	return reserved
}

const (
	currentLinkName = "current"
	versionsDirName = "versions"
	snapshotsDirName = "snapshots"
)

// Layout resolves paths under a single data root.
type Layout struct {
	Root string
}

// New builds a Layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

func (l *Layout) databaseDir(entity, database string) string {
	return filepath.Join(l.Root, entity, database)
}

// CurrentPath returns the path a reader should open to access the active
// version of entity/database — following the `current` pointer.
func (l *Layout) CurrentPath(entity, database string) (string, error) {
	link := filepath.Join(l.databaseDir(entity, database), currentLinkName)

	target, err := os.Readlink(link)
	if err != nil {
		return "", common.Wrap(common.KindIO, fmt.Sprintf("reading current pointer for %s/%s", entity, database), err)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}

	return filepath.Join(target, database), nil
}

// CurrentVersionDir returns the version directory the current pointer
// targets, without appending the database file name.
func (l *Layout) CurrentVersionDir(entity, database string) (string, error) {
	link := filepath.Join(l.databaseDir(entity, database), currentLinkName)

	target, err := os.Readlink(link)
	if err != nil {
		return "", common.Wrap(common.KindIO, fmt.Sprintf("reading current pointer for %s/%s", entity, database), err)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}

	return target, nil
}

// NewVersionPath allocates a fresh, empty version directory under
// entity/database/versions/<version> and returns it, without touching the
// current pointer. version is derived from a monotonically increasing
// timestamp suffix to keep directory listings sorted by creation order.
func (l *Layout) NewVersionPath(entity, database string) (string, error) {
	version := fmt.Sprintf("%d", time.Now().UnixNano())
	dir := filepath.Join(l.databaseDir(entity, database), versionsDirName, version)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", common.Wrap(common.KindIO, fmt.Sprintf("creating version directory for %s/%s", entity, database), err)
	}

	return dir, nil
}

// SnapshotStagingPath returns (and recreates empty) the staging directory
// used for snapshot capture and restore.
func (l *Layout) SnapshotStagingPath(entity, database string) (string, error) {
	dir := filepath.Join(l.databaseDir(entity, database), snapshotsDirName, fmt.Sprintf("%d", time.Now().UnixNano()))

	if err := os.RemoveAll(dir); err != nil {
		return "", common.Wrap(common.KindIO, fmt.Sprintf("clearing snapshot staging for %s/%s", entity, database), err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", common.Wrap(common.KindIO, fmt.Sprintf("creating snapshot staging for %s/%s", entity, database), err)
	}

	return dir, nil
}

// SetCurrentAndGC atomically swaps the current pointer for entity/database
// to newVersionDir, then best-effort removes superseded version
// directories. It never leaves the pointer dangling: the swap is performed
// by writing a new symlink under a temporary name and renaming it over the
// existing pointer, which is atomic on POSIX filesystems.
func (l *Layout) SetCurrentAndGC(entity, database, newVersionDir string) error {
	dbDir := l.databaseDir(entity, database)
	link := filepath.Join(dbDir, currentLinkName)

	relTarget, err := filepath.Rel(dbDir, newVersionDir)
	if err != nil {
		relTarget = newVersionDir
	}

	tmp := link + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())

	if err := os.Symlink(relTarget, tmp); err != nil {
		return common.Wrap(common.KindIO, fmt.Sprintf("preparing current pointer for %s/%s", entity, database), err)
	}

	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return common.Wrap(common.KindIO, fmt.Sprintf("swapping current pointer for %s/%s", entity, database), err)
	}

	l.collectSupersededVersions(entity, database, newVersionDir)

	return nil
}

// collectSupersededVersions best-effort removes version directories other
// than newVersionDir. Failures (e.g. a daemon still holding files open on
// some platforms) are ignored: removal is opportunistic, never required for
// correctness, since the current pointer has already moved.
func (l *Layout) collectSupersededVersions(entity, database, newVersionDir string) {
	versionsDir := filepath.Join(l.databaseDir(entity, database), versionsDirName)

	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		dir := filepath.Join(versionsDir, entry.Name())
		if dir == newVersionDir {
			continue
		}

		os.RemoveAll(dir)
	}
}

// EnsureDatabaseDir makes sure entity/database's directory tree exists.
func (l *Layout) EnsureDatabaseDir(entity, database string) error {
	if err := os.MkdirAll(l.databaseDir(entity, database), 0o750); err != nil {
		return common.Wrap(common.KindIO, fmt.Sprintf("creating database directory for %s/%s", entity, database), err)
	}

	return nil
}
