// Command ayb-server is the ayb daemon: it loads configuration, builds every
// collaborator the HTTP, pgwire, admin, and snapshot-scheduler front ends
// share, and runs them all under a common.Launcher until the process
// receives a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/adminpb"
	"github.com/marcua/ayb/internal/auth"
	"github.com/marcua/ayb/internal/cache"
	"github.com/marcua/ayb/internal/config"
	"github.com/marcua/ayb/internal/email"
	"github.com/marcua/ayb/internal/eventing"
	"github.com/marcua/ayb/internal/httpapi"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/metadata/postgres"
	"github.com/marcua/ayb/internal/metadata/sqlite"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/pgwire"
	"github.com/marcua/ayb/internal/profilestore"
	"github.com/marcua/ayb/internal/registry"
	"github.com/marcua/ayb/internal/scheduler"
	"github.com/marcua/ayb/internal/snapshot"
	"github.com/marcua/ayb/internal/snapshotstore"
	"github.com/marcua/ayb/internal/tracing"
)

func main() {
	configPath := os.Getenv("AYB_CONFIG_FILE")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZap(cfg.Dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("ayb-server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	otlpEndpoint := ""
	if cfg.Observability != nil {
		otlpEndpoint = cfg.Observability.OTLPEndpoint
	}

	shutdownTracing, err := tracing.Init(context.Background(), "ayb", otlpEndpoint)
	if err != nil {
		return common.Wrap(common.KindConfigurationError, "initializing tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err.Error())
		}
	}()

	store, err := openMetadataStore(cfg.DatabaseURL)
	if err != nil {
		return common.Wrap(common.KindConfigurationError, "opening metadata store", err)
	}

	layout := pathlayout.New(cfg.DataPath)

	spawnConfig := registry.SpawnConfig{
		QueryDaemonPath: queryDaemonPath(),
	}
	if cfg.Isolation != nil {
		spawnConfig.NsjailPath = cfg.Isolation.NsjailPath
	}

	reg := registry.New(logger.With("component", "registry"), spawnConfig)
	defer reg.ShutDownAll()

	emailSender := email.New(cfg.Email)

	profiles, err := openProfileStore(cfg)
	if err != nil {
		logger.Warn("document store unavailable, profile links disabled", "error", err)
		profiles = profilestore.NullStore{}
	}

	tokenCache := openCache(cfg)
	publisher := openEventing(cfg, logger)

	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		logger.Warn("snapshot storage unavailable, backups disabled", "error", err)
	}

	fernetKey := cfg.Authentication.FernetKey
	confirmationKey := auth.DeriveConfirmationKey(fernetKey)
	tokenTTL := time.Duration(cfg.Authentication.TokenExpirationSeconds) * time.Second

	corsOrigin := "*"
	if cfg.CORS != nil {
		corsOrigin = cfg.CORS.Origin
	}

	var snapEngine *snapshot.Engine
	if snapshots != nil {
		maxSnapshots := 0
		if cfg.Snapshots != nil && cfg.Snapshots.Automation != nil {
			maxSnapshots = cfg.Snapshots.Automation.MaxSnapshots
		}

		snapEngine = &snapshot.Engine{
			Store:        store,
			Layout:       layout,
			Snapshots:    snapshots,
			Registry:     reg,
			Events:       publisher,
			Logger:       logger.With("component", "snapshot"),
			MaxSnapshots: maxSnapshots,
		}
	}

	httpServer := httpapi.New(httpapi.Deps{
		Logger:         logger.With("component", "httpapi"),
		Store:          store,
		Registry:       reg,
		Layout:         layout,
		Snapshots:      snapshots,
		SnapshotEngine: snapEngine,
		Cache:          tokenCache,
		Events:         publisher,
		Profiles:       profiles,
		EmailSender:    emailSender,
		Confirmation:   httpapi.ConfirmationKeys{Key: confirmationKey, TTL: tokenTTL},
		TokenTTL:       tokenTTL,
		CORSOrigin:     corsOrigin,
		PublicURL:      cfg.PublicURL,
	})

	pgServer := &pgwire.Server{
		Store:    store,
		Registry: reg,
		Layout:   layout,
		Logger:   logger.With("component", "pgwire"),
	}

	launcherOpts := []common.LauncherOption{
		common.WithLogger(logger),
		common.RunApp("http", runnableFunc(func(ctx context.Context) error {
			return httpServer.Run(ctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
		})),
		common.RunApp("pgwire", runnableFunc(func(ctx context.Context) error {
			return pgServer.Run(ctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1))
		})),
	}

	if cfg.Admin != nil {
		adminServer := &adminpb.Server{
			Registry:      reg,
			Logger:        logger.With("component", "adminpb"),
			ListenAddress: cfg.Admin.ListenAddress,
		}
		launcherOpts = append(launcherOpts, common.RunApp("admin", adminServer))
	}

	if cfg.Snapshots != nil && cfg.Snapshots.Automation != nil && snapEngine != nil {
		interval, err := time.ParseDuration(cfg.Snapshots.Automation.Interval)
		if err != nil {
			logger.Warn("invalid snapshots.automation.interval, scheduler disabled", "error", err)
		} else {
			sched := &scheduler.Scheduler{
				Engine:   snapEngine,
				Root:     cfg.DataPath,
				Interval: interval,
				Logger:   logger.With("component", "scheduler"),
			}
			launcherOpts = append(launcherOpts, common.RunApp("scheduler", sched))
		}
	}

	launcher := common.NewLauncher(launcherOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launcher.Run(ctx)

	return nil
}

// runnableFunc adapts a plain function to common.Runnable, used for
// components (like httpapi.Server and pgwire.Server) whose Run method
// takes an address alongside the context.
type runnableFunc func(ctx context.Context) error

func (f runnableFunc) Run(ctx context.Context) error { return f(ctx) }

func openMetadataStore(databaseURL string) (metadata.Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case databaseURL == "":
		return sqlite.Open("./ayb-metadata.sqlite")
	default:
		return sqlite.Open(databaseURL)
	}
}

func openProfileStore(cfg *config.Config) (profilestore.ProfileStore, error) {
	if cfg.DocumentStore == nil {
		return profilestore.NullStore{}, nil
	}

	return profilestore.Open(context.Background(), cfg.DocumentStore.URI, cfg.DocumentStore.Database)
}

func openCache(cfg *config.Config) cache.Cache {
	if cfg.Cache == nil {
		return cache.NullCache{}
	}

	return cache.New(cfg.Cache.Address, cfg.Cache.Password, cfg.Cache.DB, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
}

func openEventing(cfg *config.Config, logger logging.Logger) eventing.Publisher {
	if cfg.Eventing == nil {
		return eventing.NullPublisher{}
	}

	publisher, err := eventing.Connect(cfg.Eventing.URL, cfg.Eventing.Exchange, logger.With("component", "eventing"))
	if err != nil {
		logger.Warn("eventing broker unavailable, events disabled", "error", err)
		return eventing.NullPublisher{}
	}

	return publisher
}

func openSnapshotStore(cfg *config.Config) (snapshotstore.Store, error) {
	if cfg.Snapshots == nil || cfg.Snapshots.Bucket == "" {
		return nil, common.New(common.KindConfigurationError, "snapshots.bucket is not configured")
	}

	return snapshotstore.Open(context.Background(), snapshotstore.Config{
		AccessKeyID:     cfg.Snapshots.AccessKeyID,
		SecretAccessKey: cfg.Snapshots.SecretAccessKey,
		Bucket:          cfg.Snapshots.Bucket,
		PathPrefix:      cfg.Snapshots.PathPrefix,
		EndpointURL:     cfg.Snapshots.EndpointURL,
		Region:          cfg.Snapshots.Region,
		ForcePathStyle:  cfg.Snapshots.ForcePathStyle,
	})
}

// queryDaemonPath resolves the ayb-query-daemon binary: alongside this
// binary if present, otherwise whatever the PATH provides.
func queryDaemonPath() string {
	exePath, err := os.Executable()
	if err == nil {
		candidate := fmt.Sprintf("%s/ayb-query-daemon", dirOf(exePath))
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
	}

	if resolved, err := exec.LookPath("ayb-query-daemon"); err == nil {
		return resolved
	}

	return "ayb-query-daemon"
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}

	return path[:idx]
}
