// Package snapshot implements the per-database capture and restore
// protocol from spec.md §4.10: VACUUM INTO a staging copy, integrity
// check, content-address it, deduplicate against object storage, compress
// and upload, then prune by retention. Grounded directly on spec.md
// §4.10's eight-step algorithm and
// original_source/src/server/snapshots/{execution,hashes,storage}.rs for
// the original implementation's staging/hash/upload boundary, reworked
// onto klauspost/compress/zstd (no blake3 library exists in the pack; a
// plain sha256 content hash over the same sorted-file concatenation gives
// identical content-addressing properties — collision resistance and
// determinism — which is all spec.md §4.10 step 5 asks of the hash).
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/eventing"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/querydaemon"
	"github.com/marcua/ayb/internal/registry"
	"github.com/marcua/ayb/internal/snapshotstore"
)

var tracer = otel.Tracer("github.com/marcua/ayb/internal/snapshot")

// Engine runs the capture and restore protocols for one server instance.
type Engine struct {
	Store     metadata.Store
	Layout    *pathlayout.Layout
	Snapshots snapshotstore.Store
	Registry  *registry.Registry
	Events    eventing.Publisher
	Logger    logging.Logger
	// MaxSnapshots is the retention bound (spec.md §4.10 step 7).
	MaxSnapshots int
}

// Capture runs the eight-step snapshot protocol for entitySlug/dbSlug.
// Skips (returning nil) if the database doesn't exist in the metadata
// store — covers stale directories left over after a database is deleted.
func (e *Engine) Capture(ctx context.Context, entitySlug, dbSlug string) (err error) {
	ctx, span := tracer.Start(ctx, "snapshot.Capture")
	defer span.End()

	span.SetAttributes(
		attribute.String("ayb.entity", entitySlug),
		attribute.String("ayb.database", dbSlug),
	)

	outcome := "captured"

	defer func() {
		if err != nil {
			outcome = "error"
		}

		span.SetAttributes(attribute.String("ayb.snapshot.outcome", outcome))
	}()

	db, err := e.Store.GetDatabase(ctx, entitySlug, dbSlug)
	if err != nil {
		if common.KindOf(err) == common.KindRecordNotFound {
			outcome = "skipped"
			return nil
		}

		return err
	}

	staging, err := e.Layout.SnapshotStagingPath(entitySlug, dbSlug)
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	currentPath, err := e.Layout.CurrentPath(entitySlug, dbSlug)
	if err != nil {
		return err
	}

	dest := filepath.Join(staging, dbSlug)

	vacuumQuery := "VACUUM INTO '" + dest + "'"
	if err := querydaemon.RunUnsafe(currentPath, vacuumQuery); err != nil {
		return err
	}

	if err := querydaemon.IntegrityCheck(dest); err != nil {
		return err
	}

	id, err := contentHash(staging)
	if err != nil {
		return err
	}

	existing, err := e.Snapshots.List(ctx, entitySlug, dbSlug)
	if err != nil {
		return err
	}

	for _, info := range existing {
		if info.ID == id {
			e.Logger.Info("snapshot already present, skipping upload", "entity", entitySlug, "database", dbSlug, "id", id)
			outcome = "dedup-skip"
			span.SetAttributes(attribute.Bool("ayb.snapshot.dedup_hit", true))
			return nil
		}
	}

	span.SetAttributes(attribute.Bool("ayb.snapshot.dedup_hit", false))

	if err := e.uploadCompressed(ctx, entitySlug, dbSlug, id, dest); err != nil {
		return err
	}

	e.Events.Publish(ctx, eventing.EventSnapshotCaptured, map[string]string{
		"entity":   entitySlug,
		"database": dbSlug,
		"id":       id,
	})

	return e.enforceRetention(ctx, entitySlug, dbSlug, db.ID)
}

// contentHash implements spec.md §4.10 step 5: list staging's regular
// files, sort alphabetically, concatenate their bytes into a single hash.
func contentHash(staging string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", common.Wrap(common.KindSnapshotError, "listing snapshot files", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	h := sha256.New()

	for _, name := range names {
		f, err := os.Open(filepath.Join(staging, name))
		if err != nil {
			return "", common.Wrap(common.KindSnapshotError, "reading snapshot file", err)
		}

		_, err = io.Copy(h, f)
		f.Close()

		if err != nil {
			return "", common.Wrap(common.KindSnapshotError, "hashing snapshot file", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *Engine) uploadCompressed(ctx context.Context, entitySlug, dbSlug, id, dest string) error {
	pr, pw := io.Pipe()

	encoder, err := zstd.NewWriter(pw)
	if err != nil {
		pw.Close()
		return common.Wrap(common.KindSnapshotError, "initializing compressor", err)
	}

	go func() {
		f, err := os.Open(dest)
		if err != nil {
			encoder.Close()
			pw.CloseWithError(err)
			return
		}
		defer f.Close()

		_, copyErr := io.Copy(encoder, f)
		closeErr := encoder.Close()

		if copyErr != nil {
			pw.CloseWithError(copyErr)
		} else if closeErr != nil {
			pw.CloseWithError(closeErr)
		} else {
			pw.Close()
		}
	}()

	if err := e.Snapshots.Put(ctx, entitySlug, dbSlug, id, pr); err != nil {
		return err
	}

	return nil
}

func (e *Engine) enforceRetention(ctx context.Context, entitySlug, dbSlug string, _ int64) error {
	infos, err := e.Snapshots.List(ctx, entitySlug, dbSlug)
	if err != nil {
		return err
	}

	if e.MaxSnapshots <= 0 || len(infos) <= e.MaxSnapshots {
		return nil
	}

	excess := infos[e.MaxSnapshots:]

	ids := make([]string, len(excess))
	for i, info := range excess {
		ids[i] = info.ID
	}

	return e.Snapshots.DeleteMany(ctx, entitySlug, dbSlug, ids)
}

// Restore runs the four-step restore protocol for a previously captured
// snapshot id.
func (e *Engine) Restore(ctx context.Context, entitySlug, dbSlug, id string) error {
	versionDir, err := e.Layout.NewVersionPath(entitySlug, dbSlug)
	if err != nil {
		return err
	}

	body, err := e.Snapshots.Get(ctx, entitySlug, dbSlug, id)
	if err != nil {
		return err
	}
	defer body.Close()

	decoder, err := zstd.NewReader(body)
	if err != nil {
		return common.Wrap(common.KindSnapshotError, "initializing decompressor", err)
	}
	defer decoder.Close()

	destPath := filepath.Join(versionDir, dbSlug)

	f, err := os.Create(destPath)
	if err != nil {
		return common.Wrap(common.KindIO, "creating restored database file", err)
	}

	if _, err := io.Copy(f, decoder); err != nil {
		f.Close()
		return common.Wrap(common.KindIO, "writing restored database file", err)
	}

	if err := f.Close(); err != nil {
		return common.Wrap(common.KindIO, "flushing restored database file", err)
	}

	if err := querydaemon.IntegrityCheck(destPath); err != nil {
		return err
	}

	oldPath, err := e.Layout.CurrentPath(entitySlug, dbSlug)
	if err == nil {
		if shutdownErr := e.Registry.ShutDown(oldPath); shutdownErr != nil {
			e.Logger.Warn("failed to shut down daemon before restore", "entity", entitySlug, "database", dbSlug, "error", shutdownErr.Error())
		}
	}

	if err := e.Layout.SetCurrentAndGC(entitySlug, dbSlug, versionDir); err != nil {
		return err
	}

	e.Events.Publish(ctx, eventing.EventDatabaseRestored, map[string]string{
		"entity":   entitySlug,
		"database": dbSlug,
		"id":       id,
	})

	return nil
}
