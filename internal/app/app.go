// Package app initializes and holds long-lived application services,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prospectbase/deployctl/internal/compose"
	"github.com/prospectbase/deployctl/internal/config"
	"github.com/prospectbase/deployctl/internal/deploy"
	"github.com/prospectbase/deployctl/internal/health"
	"github.com/prospectbase/deployctl/internal/history"
	"github.com/prospectbase/deployctl/internal/id/uuid"
	"github.com/prospectbase/deployctl/internal/logging"
	"github.com/prospectbase/deployctl/internal/notify"
	"github.com/prospectbase/deployctl/internal/registry"
	"github.com/prospectbase/deployctl/internal/storage"
	"github.com/prospectbase/deployctl/internal/telemetry"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runner    compose.Runner
	engine    *deploy.Engine
	poller    *health.Poller
	store     history.Store
	notifier  notify.Publisher
	snapshots storage.Provider
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner exposes the compose runner for status and log commands.
func (a *App) Runner() compose.Runner { return a.runner }

// Engine returns the deployment engine.
func (a *App) Engine() *deploy.Engine { return a.engine }

// Poller returns the health poller for one-shot probes.
func (a *App) Poller() *health.Poller { return a.poller }

// History provides access to the deploy history store.
func (a *App) History() history.Store { return a.store }

// NewApp builds the service container from configuration. It is the
// central point for service initialization and fails fast when any
// critical service cannot be constructed.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.L
	telemetry.Init()

	runner, err := compose.NewExecRunner(compose.Options{
		Binary:  cfg.Compose.Binary,
		File:    cfg.ComposeFile(),
		Project: cfg.Compose.Project,
		Timeout: cfg.ComposeTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init compose runner: %w", err)
	}

	regClient, err := registry.NewClient(cfg.Compose.Binary, cfg.Registry.Host, logger)
	if err != nil {
		return nil, fmt.Errorf("init registry client: %w", err)
	}

	policy := health.NewFixedIntervalPolicy(cfg.Health.MaxAttempts, cfg.HealthInterval())
	poller, err := health.NewPoller(cfg.Health.URL, policy, cfg.HealthTimeout(), logger)
	if err != nil {
		return nil, fmt.Errorf("init health poller: %w", err)
	}

	store, err := newHistoryStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	snapshots, err := newSnapshotProvider(ctx, cfg, logger)
	if err != nil {
		store.Close()
		closeQuietly(logger, notifier.Close, "notifier")
		return nil, err
	}

	engine, err := deploy.NewEngine(
		cfg,
		runner,
		regClient,
		poller,
		store,
		notifier,
		snapshots,
		uuid.NewUUIDGenerator(),
		logger,
	)
	if err != nil {
		store.Close()
		closeQuietly(logger, notifier.Close, "notifier")
		closeQuietly(logger, snapshots.Close, "snapshot store")
		return nil, fmt.Errorf("init deploy engine: %w", err)
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		runner:    runner,
		engine:    engine,
		poller:    poller,
		store:     store,
		notifier:  notifier,
		snapshots: snapshots,
	}, nil
}

func newHistoryStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (history.Store, error) {
	switch cfg.History.Provider {
	case "postgres":
		logger.Info("Using Postgres deploy history", zap.String("table", cfg.History.Table))
		store, err := history.NewPostgresStore(ctx, history.PostgresConfig{
			DSN:             cfg.History.DSN,
			Table:           cfg.History.Table,
			MaxConns:        cfg.History.MaxConns,
			MaxConnLifetime: cfg.HistoryConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("init history store: %w", err)
		}
		return store, nil
	case "noop":
		return history.NoOpStore{}, nil
	default:
		return nil, fmt.Errorf("unknown history provider: %s", cfg.History.Provider)
	}
}

func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Publisher, error) {
	switch cfg.Notify.Provider {
	case "pubsub":
		logger.Info("Publishing deploy events to Pub/Sub", zap.String("topic", cfg.Notify.TopicID))
		pub, err := notify.NewPubSubPublisher(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicID, logger)
		if err != nil {
			return nil, fmt.Errorf("init notifier: %w", err)
		}
		return pub, nil
	case "noop":
		return notify.NoOpPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}
}

func newSnapshotProvider(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Snapshot.Provider {
	case "gcs":
		logger.Info("Uploading env snapshots to GCS", zap.String("bucket", cfg.Snapshot.Bucket))
		provider, err := storage.NewGCSProvider(ctx, cfg.Snapshot.Bucket, cfg.Snapshot.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("init snapshot store: %w", err)
		}
		return provider, nil
	case "local":
		provider, err := storage.NewLocalProvider(cfg.Snapshot.BaseDir, cfg.Snapshot.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init snapshot store: %w", err)
		}
		return provider, nil
	case "noop":
		return storage.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot provider: %s", cfg.Snapshot.Provider)
	}
}

func closeQuietly(logger *zap.Logger, close func() error, name string) {
	if err := close(); err != nil {
		logger.Warn("Error closing service", zap.String("service", name), zap.Error(err))
	}
}

// Close gracefully shuts down all services in the container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.store.Close()
	closeQuietly(a.logger, a.notifier.Close, "notifier")
	closeQuietly(a.logger, a.snapshots.Close, "snapshot store")

	// Flush buffered log entries before the process exits.
	if err := a.logger.Sync(); err != nil {
		// Best effort; logging itself may be the thing failing.
		_ = err
	}
}
