// Package httpapi implements the HTTP API of spec.md §4.8/§6: a fiber
// router, bearer-auth middleware, and one handler per route, wired
// against the metadata store, permission predicates, daemon registry,
// snapshot store, cache, eventing, and profile store. Grounded on the
// teacher's adapters/in/http package (fiber app construction, middleware
// ordering, handler-per-file layout).
package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/auth"
	"github.com/marcua/ayb/internal/cache"
	"github.com/marcua/ayb/internal/eventing"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/profilestore"
	"github.com/marcua/ayb/internal/registry"
	"github.com/marcua/ayb/internal/snapshot"
	"github.com/marcua/ayb/internal/snapshotstore"
)

// ConfirmationKeys bundles what the auth/email flows need: the symmetric
// key for confirmation tokens and their TTL.
type ConfirmationKeys struct {
	Key auth.ConfirmationKey
	TTL time.Duration
}

// Deps are every collaborator the HTTP handlers need. Held on Server
// rather than threaded through each handler's arguments individually,
// matching the teacher's handler-struct-with-dependencies pattern.
type Deps struct {
	Logger        logging.Logger
	Store         metadata.Store
	Registry      *registry.Registry
	Layout        *pathlayout.Layout
	Snapshots     snapshotstore.Store
	SnapshotEngine *snapshot.Engine
	Cache         cache.Cache
	Events        eventing.Publisher
	Profiles      profilestore.ProfileStore
	EmailSender   EmailSender
	Confirmation  ConfirmationKeys
	TokenTTL      time.Duration
	CORSOrigin    string
	PublicURL     string
	FrontendLinks bool
}

// EmailSender is the narrow slice of internal/email.Sender the auth
// handlers need.
type EmailSender interface {
	Send(to, subject, body string) error
}

// Server holds the fiber app and its dependencies.
type Server struct {
	app  *fiber.App
	deps Deps
}

// New builds the fiber app and registers every route from spec.md §6.
func New(deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return aybhttp.WithError(c, err)
		},
	})

	app.Use(aybhttp.WithCorrelationID())
	app.Use(aybhttp.WithHTTPLogging(deps.Logger))
	app.Use(aybhttp.WithCORS(deps.CORSOrigin))
	app.Use(compress.New())

	s := &Server{app: app, deps: deps}
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	app := s.app

	app.Get("/health", s.handleHealth)

	v1 := app.Group("/v1")

	v1.Post("/register", s.handleRegister)
	v1.Post("/log_in", s.handleLogIn)
	v1.Post("/confirm", s.handleConfirm)
	v1.Post("/oauth/token", s.handleOAuthToken)

	authed := v1.Group("", s.bearerAuth)

	authed.Post("/:entity/:db/create", s.handleCreateDatabase)
	authed.Patch("/:entity/:db/update", s.handleUpdateDatabase)
	authed.Post("/:entity/:db/query", s.handleQuery)
	authed.Get("/:entity/:db/details", s.handleDatabaseDetails)
	authed.Post("/:entity/:db/share", s.handleShare)
	authed.Get("/:entity/:db/share_list", s.handleShareList)
	authed.Get("/:entity/:db/list_snapshots", s.handleListSnapshots)
	authed.Post("/:entity/:db/restore_snapshot", s.handleRestoreSnapshot)

	authed.Get("/entity/:entity", s.handleGetEntity)
	authed.Patch("/entity/:entity", s.handleUpdateEntity)

	authed.Get("/tokens", s.handleListTokens)
	authed.Delete("/tokens/:short", s.handleRevokeToken)
}

// Run implements common.Runnable: listens until ctx is cancelled, then
// shuts the fiber app down.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
