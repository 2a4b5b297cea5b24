package registry_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/querydaemon"
	"github.com/marcua/ayb/internal/registry"
)

// fakeDaemonEnvVar, when set in the test binary's own environment, makes
// TestMain act as a stand-in for cmd/ayb-query-daemon instead of running
// the test suite: it speaks the same line-delimited JSON protocol
// (querydaemon.Request/Response) that registry.spawn expects from
// whatever QueryDaemonPath points at, without needing a real sqlite
// database or the real daemon binary. This is the standard
// re-exec-the-test-binary trick os/exec's own tests use for stubbing a
// subprocess.
const fakeDaemonEnvVar = "AYB_REGISTRY_TEST_FAKE_DAEMON"

func TestMain(m *testing.M) {
	if os.Getenv(fakeDaemonEnvVar) == "1" {
		runFakeDaemon()
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func runFakeDaemon() {
	scanner := bufio.NewScanner(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		var req querydaemon.Request

		_ = json.Unmarshal(scanner.Bytes(), &req)

		resp := querydaemon.Response{Fields: []string{"ok"}, Rows: [][]*string{}}

		data, _ := json.Marshal(resp)
		writer.Write(data)
		writer.WriteByte('\n')
		writer.Flush()
	}
}

// countingLogger counts "spawned query daemon" log lines, which
// registry.spawn emits exactly once per successful spawn.
type countingLogger struct {
	mu     sync.Mutex
	spawns int
}

func (l *countingLogger) Debug(string, ...any) {}

func (l *countingLogger) Info(msg string, _ ...any) {
	if msg != "spawned query daemon" {
		return
	}

	l.mu.Lock()
	l.spawns++
	l.mu.Unlock()
}

func (l *countingLogger) Warn(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {}
func (l *countingLogger) With(...any) logging.Logger {
	return l
}
func (l *countingLogger) Sync() error { return nil }

func (l *countingLogger) spawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.spawns
}

// TestExecuteQuery_SpawnsExactlyOnceUnderConcurrency is the registry's
// exactly-once-spawn guarantee from spec.md §4.4: many concurrent
// first-time callers for the same canonical path must result in exactly
// one daemon process, with every caller's request served by that one
// handle.
func TestExecuteQuery_SpawnsExactlyOnceUnderConcurrency(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	require.NoError(t, os.Setenv(fakeDaemonEnvVar, "1"))
	defer os.Unsetenv(fakeDaemonEnvVar)

	logger := &countingLogger{}
	reg := registry.New(logger, registry.SpawnConfig{QueryDaemonPath: exe})
	defer reg.ShutDownAll()

	dbPath := filepath.Join(t.TempDir(), "entity", "db.sqlite")

	const concurrency = 25

	var wg sync.WaitGroup

	errCh := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := reg.ExecuteQuery(context.Background(), dbPath, "select 1", querydaemon.QueryModeReadOnly)
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	require.Equal(t, 1, logger.spawnCount(), "concurrent first-time callers for the same path must spawn exactly one daemon")
	require.Len(t, reg.List(), 1)
}
