// Package scheduler runs the periodic snapshot job described in spec.md
// §4.12: a single-interval repeating job with a non-reentrant guard,
// cancelled by process shutdown, with no persistent state and no
// backfilling of missed ticks. Grounded on the teacher's cron-style
// background-job pattern (a ticker loop guarded by an atomic flag) and
// generalized to walk the on-disk entity/database tree instead of a fixed
// job list.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/snapshot"
)

// Scheduler runs Engine.Capture for every entity/database directory on a
// fixed interval.
type Scheduler struct {
	Engine   *snapshot.Engine
	Root     string
	Interval time.Duration
	Logger   logging.Logger

	running int32
}

// Run implements common.Runnable. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runRound(ctx)
		}
	}
}

// runRound skips the round entirely if a previous round is still in
// flight, matching spec.md §4.12's non-reentrant guard.
func (s *Scheduler) runRound(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.Logger.Warn("snapshot round skipped: previous round still running")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	for _, db := range s.discoverDatabases() {
		if ctx.Err() != nil {
			return
		}

		if err := s.Engine.Capture(ctx, db.entity, db.database); err != nil {
			s.Logger.Error("snapshot capture failed", "entity", db.entity, "database", db.database, "error", err)
		}
	}
}

type entityDatabase struct {
	entity   string
	database string
}

// discoverDatabases walks Root/<entity>/<database> directories (spec.md
// §4.12's "walks D/<entity>/<database>/ directories"). Any entry that
// isn't a directory, or that has no `current` pointer yet, is skipped.
func (s *Scheduler) discoverDatabases() []entityDatabase {
	var out []entityDatabase

	entities, err := os.ReadDir(s.Root)
	if err != nil {
		s.Logger.Warn("snapshot scheduler could not list data root", "error", err)
		return nil
	}

	for _, entityEntry := range entities {
		if !entityEntry.IsDir() {
			continue
		}

		entitySlug := entityEntry.Name()
		entityDir := filepath.Join(s.Root, entitySlug)

		databases, err := os.ReadDir(entityDir)
		if err != nil {
			continue
		}

		for _, dbEntry := range databases {
			if !dbEntry.IsDir() {
				continue
			}

			if _, err := os.Lstat(filepath.Join(entityDir, dbEntry.Name(), "current")); err != nil {
				continue
			}

			out = append(out, entityDatabase{entity: entitySlug, database: dbEntry.Name()})
		}
	}

	return out
}
