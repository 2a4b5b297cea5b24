// Package registry implements the per-database daemon registry described
// in spec.md §4.4: a canonical-path-to-daemon-handle map with an
// exactly-once spawn guarantee under concurrency, and a per-handle mutex
// serializing requests against each single-threaded daemon.
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/querydaemon"
)

var tracer = otel.Tracer("github.com/marcua/ayb/internal/registry")

// SpawnConfig controls how a daemon child is launched.
type SpawnConfig struct {
	// QueryDaemonPath is the path to the ayb-query-daemon binary.
	QueryDaemonPath string
	// NsjailPath, if set, selects the external isolation-helper command
	// instead of the native --isolate flag (spec.md §6 isolation.nsjail_path).
	NsjailPath string
}

func (c SpawnConfig) buildCommand(ctx context.Context, dbPath string) *exec.Cmd {
	if c.NsjailPath != "" {
		return exec.CommandContext(ctx, c.NsjailPath, "--", c.QueryDaemonPath, dbPath, "--isolate")
	}

	return exec.CommandContext(ctx, c.QueryDaemonPath, dbPath, "--isolate")
}

// Handle owns a daemon child process and its stdin/stdout pipes. Only the
// Registry ever retires a handle; callers hold a shared reference.
type Handle struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	path   string
	pid    int
	spawnedAt time.Time
}

// ExecuteQuery writes one request frame and reads one response frame,
// serialized against other in-flight requests on this daemon.
func (h *Handle) ExecuteQuery(query string, mode querydaemon.QueryMode) (*querydaemon.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	req := querydaemon.Request{Query: query, QueryMode: mode}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, common.Wrap(common.KindQueryError, "encoding query request", err)
	}

	if _, err := h.stdin.Write(append(data, '\n')); err != nil {
		return nil, common.New(common.KindDaemonCrashed, "daemon stdin closed")
	}

	line, err := h.stdout.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, common.New(common.KindDaemonCrashed, "daemon exited unexpectedly")
	}

	var resp querydaemon.Response
	if unmarshalErr := json.Unmarshal(line, &resp); unmarshalErr != nil {
		return nil, common.Wrap(common.KindQueryError, "decoding daemon response", unmarshalErr)
	}

	if resp.IsError() {
		return nil, common.New(common.KindQueryError, resp.Error)
	}

	return &resp, nil
}

func (h *Handle) shutDown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin != nil {
		h.stdin.Close()
		h.stdin = nil
	}

	if h.cmd != nil && h.cmd.Process != nil {
		done := make(chan struct{})

		go func() {
			h.cmd.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			h.cmd.Process.Kill()
		}
	}
}

// Info is a snapshot of a handle's identity for the admin plane
// (SPEC_FULL.md §4.19).
type Info struct {
	Path      string
	PID       int
	SpawnedAt time.Time
}

// Registry maps canonical database paths to daemon handles.
type Registry struct {
	logger logging.Logger
	config SpawnConfig

	mu      sync.Mutex
	daemons map[string]*Handle
}

// New builds an empty Registry.
func New(logger logging.Logger, config SpawnConfig) *Registry {
	return &Registry{
		logger:  logger,
		config:  config,
		daemons: make(map[string]*Handle),
	}
}

// ExecuteQuery implements spec.md §4.4's obtain-or-spawn protocol:
// canonicalize the path, get-or-spawn the daemon while holding the
// registry mutex (so concurrent first-time callers spawn exactly one
// daemon), then serialize the actual request against the handle's mutex.
func (r *Registry) ExecuteQuery(ctx context.Context, dbPath, query string, mode querydaemon.QueryMode) (*querydaemon.Response, error) {
	ctx, span := tracer.Start(ctx, "registry.ExecuteQuery")
	defer span.End()

	span.SetAttributes(
		attribute.String("ayb.database.path", dbPath),
		attribute.Int("ayb.query.mode", int(mode)),
	)

	canonical, err := canonicalize(dbPath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, alreadyRunning := r.daemons[canonical]
	r.mu.Unlock()
	span.SetAttributes(attribute.Bool("ayb.daemon.cache_hit", alreadyRunning))

	handle, err := r.getOrSpawn(ctx, canonical)
	if err != nil {
		return nil, err
	}

	resp, err := handle.ExecuteQuery(query, mode)
	if err != nil && common.KindOf(err) == common.KindDaemonCrashed {
		r.mu.Lock()
		if r.daemons[canonical] == handle {
			delete(r.daemons, canonical)
		}
		r.mu.Unlock()
	}

	return resp, err
}

func (r *Registry) getOrSpawn(ctx context.Context, canonical string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.daemons[canonical]; ok {
		return handle, nil
	}

	handle, err := r.spawn(ctx, canonical)
	if err != nil {
		return nil, err
	}

	r.daemons[canonical] = handle

	return handle, nil
}

func (r *Registry) spawn(ctx context.Context, canonical string) (*Handle, error) {
	cmd := r.config.buildCommand(ctx, canonical)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "creating daemon stdin pipe", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "creating daemon stdout pipe", err)
	}

	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, common.Wrap(common.KindIO, "spawning query daemon", err)
	}

	r.logger.Info("spawned query daemon", "path", canonical, "pid", cmd.Process.Pid)

	return &Handle{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		path:      canonical,
		pid:       cmd.Process.Pid,
		spawnedAt: time.Now(),
	}, nil
}

// ShutDown removes and terminates the daemon for dbPath, if any. Restore
// and delete operations call this for the old canonical path before
// swapping the current pointer (spec.md §4.4).
func (r *Registry) ShutDown(dbPath string) error {
	canonical, err := canonicalize(dbPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	handle, ok := r.daemons[canonical]
	if ok {
		delete(r.daemons, canonical)
	}
	r.mu.Unlock()

	if ok {
		handle.shutDown()
	}

	return nil
}

// ShutDownAll terminates every running daemon, used at server shutdown.
func (r *Registry) ShutDownAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.daemons))
	for path, h := range r.daemons {
		handles = append(handles, h)
		delete(r.daemons, path)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.shutDown()
	}
}

// List returns a snapshot of every running daemon, for the admin plane.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.daemons))
	for _, h := range r.daemons {
		infos = append(infos, Info{Path: h.path, PID: h.pid, SpawnedAt: h.spawnedAt})
	}

	return infos
}

func canonicalize(dbPath string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", common.Wrap(common.KindIO, "resolving absolute path", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}

		return "", common.Wrap(common.KindIO, fmt.Sprintf("canonicalizing %s", dbPath), err)
	}

	return resolved, nil
}
