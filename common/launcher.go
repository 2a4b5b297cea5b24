package common

import (
	"context"
	"sync"

	"github.com/marcua/ayb/common/logging"
)

// Runnable is a component that runs until ctx is cancelled, then returns.
// The HTTP server, the pgwire server, the snapshot scheduler, and the admin
// gRPC plane are all Runnables composed by a Launcher in cmd/ayb-server.
type Runnable interface {
	Run(ctx context.Context) error
}

// LauncherOption configures a Launcher.
type LauncherOption func(l *Launcher)

// WithLogger attaches a logger to the launcher.
func WithLogger(logger logging.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// RunApp registers a Runnable under name.
func RunApp(name string, r Runnable) LauncherOption {
	return func(l *Launcher) { l.apps[name] = r }
}

// Launcher starts a fixed set of Runnables and waits for all of them to
// return. Cancelling the context passed to Run signals every Runnable to
// shut down; Run itself returns once they all have.
type Launcher struct {
	logger logging.Logger
	apps   map[string]Runnable
}

// NewLauncher builds a Launcher from the given options.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		logger: logging.None(),
		apps:   make(map[string]Runnable),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run starts every registered app in its own goroutine and blocks until all
// of them have returned (normally because ctx was cancelled).
func (l *Launcher) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(len(l.apps))

	l.logger.Info("launcher starting apps", "count", len(l.apps))

	for name, app := range l.apps {
		go func(name string, app Runnable) {
			defer wg.Done()

			l.logger.Info("app starting", "app", name)

			if err := app.Run(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("app exited with error", "app", name, "error", err)
			}

			l.logger.Info("app finished", "app", name)
		}(name, app)
	}

	wg.Wait()

	l.logger.Info("launcher terminated")
}
