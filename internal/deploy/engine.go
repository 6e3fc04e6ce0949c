// Package deploy sequences the deployment pipeline: env-file checks,
// registry login, image pull/build, compose up, health polling, and
// rollback when anything fails.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/prospectbase/deployctl/internal/buildinfo"
	"github.com/prospectbase/deployctl/internal/compose"
	"github.com/prospectbase/deployctl/internal/config"
	"github.com/prospectbase/deployctl/internal/envfile"
	"github.com/prospectbase/deployctl/internal/health"
	"github.com/prospectbase/deployctl/internal/history"
	"github.com/prospectbase/deployctl/internal/notify"
	"github.com/prospectbase/deployctl/internal/ports"
	"github.com/prospectbase/deployctl/internal/storage"
	"github.com/prospectbase/deployctl/internal/telemetry"
)

// RegistryClient authenticates the container CLI against a registry.
type RegistryClient interface {
	Login(ctx context.Context, user, token string) error
}

// HealthWaiter polls the service health endpoint until it comes up.
type HealthWaiter interface {
	Wait(ctx context.Context) (int, error)
}

// IDGenerator mints deploy IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Options tune a single deployment run.
type Options struct {
	// NoCache forces a from-scratch image build.
	NoCache bool
	// SkipPull skips the registry pull, building from local sources only.
	SkipPull bool
}

// Engine runs deployments for one environment.
type Engine struct {
	cfg       config.Config
	runner    compose.Runner
	registry  RegistryClient
	waiter    HealthWaiter
	store     history.Store
	notifier  notify.Publisher
	snapshots storage.Provider
	idGen     IDGenerator
	logger    *zap.Logger

	// Seams for tests.
	now        func() time.Time
	lookupEnv  func(string) (string, bool)
	checkPorts func([]int) error
	pingDB     func(ctx context.Context, dsn string, maxConns int32, timeout time.Duration) error
}

// NewEngine wires a deployment engine from its collaborators.
func NewEngine(
	cfg config.Config,
	runner compose.Runner,
	registry RegistryClient,
	waiter HealthWaiter,
	store history.Store,
	notifier notify.Publisher,
	snapshots storage.Provider,
	idGen IDGenerator,
	logger *zap.Logger,
) (*Engine, error) {
	if runner == nil {
		return nil, fmt.Errorf("compose runner is required")
	}
	if waiter == nil {
		return nil, fmt.Errorf("health waiter is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if store == nil {
		store = history.NoOpStore{}
	}
	if notifier == nil {
		notifier = notify.NoOpPublisher{}
	}
	if snapshots == nil {
		snapshots = storage.NoOpProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		runner:     runner,
		registry:   registry,
		waiter:     waiter,
		store:      store,
		notifier:   notifier,
		snapshots:  snapshots,
		idGen:      idGen,
		logger:     logger,
		now:        time.Now,
		lookupEnv:  os.LookupEnv,
		checkPorts: ports.CheckFree,
		pingDB:     health.PingDatabase,
	}, nil
}

// Deploy runs the full pipeline. On any failure it attempts a rollback
// and returns the original error, so callers exit non-zero.
func (e *Engine) Deploy(ctx context.Context, opts Options) error {
	deployID, err := e.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate deploy id: %w", err)
	}
	env := e.cfg.Environment
	started := e.now()

	e.logger.Info("Starting deployment",
		zap.String("deploy_id", deployID),
		zap.String("environment", env),
		zap.String("build", buildinfo.String()),
	)
	e.publishEvent(ctx, deployID, notify.StatusStarted, "")

	backupPath, err := e.runPipeline(ctx, opts)
	if err != nil {
		status := history.StatusFailed
		eventStatus := notify.StatusFailed
		// No backup means the pipeline stopped during preflight, before
		// anything on the host changed; there is nothing to roll back.
		if backupPath != "" {
			e.logger.Error("Deployment failed, attempting rollback", zap.Error(err))
			if e.rollback(ctx, backupPath) {
				status = history.StatusRolledBack
				eventStatus = notify.StatusRolledBack
			}
		}
		e.finish(ctx, deployID, started, status, err.Error())
		e.publishEvent(ctx, deployID, eventStatus, err.Error())
		return err
	}

	e.finish(ctx, deployID, started, history.StatusSucceeded, "")
	e.publishEvent(ctx, deployID, notify.StatusSucceeded, "")
	e.logger.Info("Deployment succeeded",
		zap.String("deploy_id", deployID),
		zap.Duration("duration", e.now().Sub(started)),
	)
	return nil
}

// runPipeline executes the deploy steps in order. It returns the env
// backup path (empty until the backup step ran) alongside any error so
// Deploy knows whether rollback can restore the env file.
func (e *Engine) runPipeline(ctx context.Context, opts Options) (string, error) {
	envPath := e.cfg.EnvFilePath()

	created, err := envfile.Ensure(envPath)
	if err != nil {
		return "", err
	}
	if created {
		e.logger.Warn("Env file was missing; copied example into place",
			zap.String("path", envPath),
			zap.String("example", envPath+envfile.ExampleSuffix),
		)
	}

	if err := envfile.Validate(envPath, e.cfg.EnvFile.RequiredKeys); err != nil {
		return "", err
	}

	if err := e.checkPorts(e.cfg.Ports.Required); err != nil {
		return "", err
	}

	if e.cfg.DB.DSN != "" {
		if err := e.pingDB(ctx, e.cfg.DB.DSN, e.cfg.DB.MaxOpenConns, e.cfg.HealthTimeout()); err != nil {
			return "", fmt.Errorf("database preflight: %w", err)
		}
	}

	backupPath, err := envfile.Backup(envPath, e.cfg.EnvFile.BackupDir, e.now())
	if err != nil {
		return "", err
	}
	e.uploadSnapshot(ctx, backupPath)

	if err := e.registryLogin(ctx); err != nil {
		return backupPath, err
	}

	if !opts.SkipPull {
		if err := e.runner.Pull(ctx); err != nil {
			return backupPath, err
		}
	}

	if err := e.runner.Build(ctx, e.buildOptions(opts)); err != nil {
		return backupPath, err
	}

	if err := e.runner.Up(ctx); err != nil {
		return backupPath, err
	}

	attempts, err := e.waiter.Wait(ctx)
	telemetry.ObserveHealthCheckAttempts(e.cfg.Environment, attempts)
	if err != nil {
		if errors.Is(err, health.ErrUnhealthy) {
			e.dumpServiceLogs(ctx)
		}
		return backupPath, err
	}

	if removed, err := envfile.Prune(e.cfg.EnvFile.BackupDir, filepath.Base(envPath), e.cfg.EnvFile.KeepBackups); err != nil {
		e.logger.Warn("Failed to prune old env backups", zap.Error(err))
	} else if removed > 0 {
		e.logger.Info("Pruned old env backups", zap.Int("removed", removed))
	}

	return backupPath, nil
}

// Rollback restores the most recent env backup and brings the stack
// back up on it.
func (e *Engine) Rollback(ctx context.Context) error {
	envPath := e.cfg.EnvFilePath()
	backupPath, err := envfile.LatestBackup(e.cfg.EnvFile.BackupDir, filepath.Base(envPath))
	if err != nil {
		return err
	}
	if !e.rollback(ctx, backupPath) {
		return fmt.Errorf("rollback to %s did not complete", backupPath)
	}

	attempts, err := e.waiter.Wait(ctx)
	telemetry.ObserveHealthCheckAttempts(e.cfg.Environment, attempts)
	if err != nil {
		if errors.Is(err, health.ErrUnhealthy) {
			e.dumpServiceLogs(ctx)
		}
		return err
	}
	return nil
}

// rollback restores the env backup (when one was taken) and restarts
// the stack. Errors are logged, never returned: rollback is best-effort
// and must not mask the original deployment failure.
func (e *Engine) rollback(ctx context.Context, backupPath string) bool {
	telemetry.ObserveRollback(e.cfg.Environment)
	ok := true

	if backupPath != "" {
		if err := envfile.Restore(backupPath, e.cfg.EnvFilePath()); err != nil {
			e.logger.Error("Rollback: env restore failed", zap.Error(err))
			ok = false
		} else {
			e.logger.Info("Rollback: env file restored", zap.String("backup", backupPath))
		}
	}

	if err := e.runner.Up(ctx); err != nil {
		e.logger.Error("Rollback: compose up failed", zap.Error(err))
		ok = false
	}
	return ok
}

func (e *Engine) registryLogin(ctx context.Context) error {
	if e.registry == nil {
		return nil
	}
	token, _ := e.lookupEnv("GITHUB_TOKEN")
	user, _ := e.lookupEnv("GITHUB_USER")
	if token == "" {
		e.logger.Debug("GITHUB_TOKEN not set; skipping registry login")
		return nil
	}
	if user == "" {
		return fmt.Errorf("GITHUB_TOKEN is set but GITHUB_USER is empty")
	}
	return e.registry.Login(ctx, user, token)
}

func (e *Engine) buildOptions(opts Options) compose.BuildOptions {
	noCache := opts.NoCache
	if v, ok := e.lookupEnv("NO_CACHE"); ok && v != "" && v != "0" && v != "false" {
		noCache = true
	}
	buildArgs := map[string]string{}
	if v, ok := e.lookupEnv("CONCURRENCY"); ok && v != "" {
		buildArgs["CONCURRENCY"] = v
	}
	return compose.BuildOptions{NoCache: noCache, BuildArgs: buildArgs}
}

func (e *Engine) uploadSnapshot(ctx context.Context, backupPath string) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		e.logger.Warn("Failed to read env backup for snapshot upload", zap.Error(err))
		return
	}
	object := fmt.Sprintf("%s/%s", e.cfg.Environment, filepath.Base(backupPath))
	uri, err := e.snapshots.Save(ctx, object, data)
	if err != nil {
		e.logger.Warn("Failed to upload env snapshot", zap.Error(err))
		return
	}
	if uri != "" {
		sum := sha256.Sum256(data)
		e.logger.Info("Env snapshot uploaded",
			zap.String("uri", uri),
			zap.String("sha256", hex.EncodeToString(sum[:])),
		)
	}
}

// dumpServiceLogs tails each service's logs so the operator can see
// why the health check never went green.
func (e *Engine) dumpServiceLogs(ctx context.Context) {
	services, err := e.runner.Ps(ctx)
	if err != nil {
		e.logger.Warn("Failed to list services for log dump", zap.Error(err))
		return
	}
	for _, svc := range services {
		logs, err := e.runner.Logs(ctx, svc.Service, e.cfg.Health.LogTailLines)
		if err != nil {
			e.logger.Warn("Failed to fetch service logs",
				zap.String("service", svc.Service),
				zap.Error(err),
			)
			continue
		}
		e.logger.Error("Service logs before failure",
			zap.String("service", svc.Service),
			zap.String("state", svc.State),
			zap.String("logs", logs),
		)
	}
}

func (e *Engine) finish(ctx context.Context, deployID string, started time.Time, status, errText string) {
	duration := e.now().Sub(started)
	telemetry.ObserveDeploy(e.cfg.Environment, status, duration)

	rec := history.Record{
		ID:          deployID,
		Environment: e.cfg.Environment,
		Version:     buildinfo.Version,
		Commit:      buildinfo.ShortCommit(),
		Status:      status,
		Error:       errText,
		StartedAt:   started,
		Duration:    duration,
	}
	if err := e.store.RecordDeploy(ctx, rec); err != nil {
		e.logger.Warn("Failed to record deployment history", zap.Error(err))
	}
}

func (e *Engine) publishEvent(ctx context.Context, deployID, status, errText string) {
	event := notify.Event{
		DeployID:    deployID,
		Environment: e.cfg.Environment,
		Version:     buildinfo.Version,
		Commit:      buildinfo.ShortCommit(),
		Status:      status,
		Error:       errText,
		Timestamp:   e.now(),
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish deploy event", zap.Error(err))
	}
}
