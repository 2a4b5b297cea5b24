package snapshot

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/registry"
	"github.com/marcua/ayb/internal/snapshotstore"
)

const (
	testEntitySlug = "acme"
	testDBSlug     = "widgets.sqlite"
)

// stubMetadataStore satisfies metadata.Store by embedding it (every method
// but GetDatabase panics if called, which none of these tests need).
type stubMetadataStore struct {
	metadata.Store
	db *metadata.Database
}

func (s *stubMetadataStore) GetDatabase(context.Context, string, string) (*metadata.Database, error) {
	return s.db, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	routed []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routed = append(p.routed, routingKey)
}

func newRealSQLiteFile(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO widgets (name) VALUES ('gear')")
	require.NoError(t, err)

	require.NoError(t, db.Close())
}

// TestCapture_DedupSkipsSecondUpload captures the same unchanged database
// twice and asserts the snapshot store only ever receives one upload: the
// second capture's content hash matches the first, so it must hit the
// dedup check and skip (spec.md §4.10 steps 5-6).
func TestCapture_DedupSkipsSecondUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	layout := pathlayout.New(t.TempDir())
	require.NoError(t, layout.EnsureDatabaseDir(testEntitySlug, testDBSlug))

	versionDir, err := layout.NewVersionPath(testEntitySlug, testDBSlug)
	require.NoError(t, err)

	newRealSQLiteFile(t, filepath.Join(versionDir, testDBSlug))
	require.NoError(t, layout.SetCurrentAndGC(testEntitySlug, testDBSlug, versionDir))

	store := snapshotstore.NewMockStore(ctrl)

	var mu sync.Mutex

	uploaded := map[string]bool{}

	store.EXPECT().
		List(gomock.Any(), testEntitySlug, testDBSlug).
		DoAndReturn(func(context.Context, string, string) ([]snapshotstore.Info, error) {
			mu.Lock()
			defer mu.Unlock()

			infos := make([]snapshotstore.Info, 0, len(uploaded))
			for id := range uploaded {
				infos = append(infos, snapshotstore.Info{ID: id})
			}

			return infos, nil
		}).
		AnyTimes()

	store.EXPECT().
		Put(gomock.Any(), testEntitySlug, testDBSlug, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, id string, r io.Reader) error {
			io.Copy(io.Discard, r)

			mu.Lock()
			uploaded[id] = true
			mu.Unlock()

			return nil
		}).
		Times(1)

	engine := &Engine{
		Store:     &stubMetadataStore{db: &metadata.Database{ID: 1}},
		Layout:    layout,
		Snapshots: store,
		Registry:  registry.New(logging.None(), registry.SpawnConfig{}),
		Events:    &recordingPublisher{},
		Logger:    logging.None(),
	}

	require.NoError(t, engine.Capture(context.Background(), testEntitySlug, testDBSlug))
	require.NoError(t, engine.Capture(context.Background(), testEntitySlug, testDBSlug))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploaded, 1, "second capture of unchanged content must not re-upload")
}

// TestEnforceRetention_PrunesExcessSnapshots asserts spec.md §4.10 step 7:
// once a database has more snapshots than MaxSnapshots, everything past
// the retention boundary is deleted in one call.
func TestEnforceRetention_PrunesExcessSnapshots(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := snapshotstore.NewMockStore(ctrl)
	store.EXPECT().
		List(gomock.Any(), testEntitySlug, testDBSlug).
		Return([]snapshotstore.Info{{ID: "newest"}, {ID: "middle"}, {ID: "oldest"}}, nil)
	store.EXPECT().
		DeleteMany(gomock.Any(), testEntitySlug, testDBSlug, []string{"oldest"}).
		Return(nil)

	engine := &Engine{Snapshots: store, MaxSnapshots: 2, Logger: logging.None()}

	require.NoError(t, engine.enforceRetention(context.Background(), testEntitySlug, testDBSlug, 1))
}

// TestEnforceRetention_NoPruneWithinBound asserts the inverse boundary: at
// or under MaxSnapshots, nothing is deleted (a DeleteMany call here would
// fail the test via the unmet-expectation check in ctrl.Finish).
func TestEnforceRetention_NoPruneWithinBound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := snapshotstore.NewMockStore(ctrl)
	store.EXPECT().
		List(gomock.Any(), testEntitySlug, testDBSlug).
		Return([]snapshotstore.Info{{ID: "a"}, {ID: "b"}}, nil)

	engine := &Engine{Snapshots: store, MaxSnapshots: 5, Logger: logging.None()}

	require.NoError(t, engine.enforceRetention(context.Background(), testEntitySlug, testDBSlug, 1))
}
