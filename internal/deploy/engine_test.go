package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prospectbase/deployctl/internal/compose"
	"github.com/prospectbase/deployctl/internal/config"
	"github.com/prospectbase/deployctl/internal/health"
	"github.com/prospectbase/deployctl/internal/history"
	"github.com/prospectbase/deployctl/internal/notify"
)

type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	buildOpts compose.BuildOptions
	failOn    map[string]error
	services  []compose.Service
	logs      map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failOn: map[string]error{}, logs: map[string]string{}}
}

func (f *fakeRunner) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeRunner) Pull(context.Context) error { return f.record("pull") }

func (f *fakeRunner) Build(_ context.Context, opts compose.BuildOptions) error {
	f.buildOpts = opts
	return f.record("build")
}

func (f *fakeRunner) Up(context.Context) error   { return f.record("up") }
func (f *fakeRunner) Down(context.Context) error { return f.record("down") }

func (f *fakeRunner) Restart(_ context.Context, service string) error {
	call := "restart"
	if service != "" {
		call = "restart:" + service
	}
	return f.record(call)
}

func (f *fakeRunner) Ps(context.Context) ([]compose.Service, error) {
	if err := f.record("ps"); err != nil {
		return nil, err
	}
	return f.services, nil
}

func (f *fakeRunner) Logs(_ context.Context, service string, _ int) (string, error) {
	if err := f.record("logs:" + service); err != nil {
		return "", err
	}
	return f.logs[service], nil
}

func (f *fakeRunner) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeWaiter struct {
	attempts int
	err      error
}

func (f *fakeWaiter) Wait(context.Context) (int, error) { return f.attempts, f.err }

type fakeStore struct {
	mu      sync.Mutex
	records []history.Record
}

func (f *fakeStore) RecordDeploy(_ context.Context, rec history.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) ListRecent(context.Context, string, int) ([]history.Record, error) {
	return nil, nil
}

func (f *fakeStore) Close() {}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakePublisher) Publish(_ context.Context, event notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeIDGen struct {
	n int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.n++
	return fmt.Sprintf("deploy-%d", f.n), nil
}

type fakeRegistry struct {
	user, token string
	err         error
}

func (f *fakeRegistry) Login(_ context.Context, user, token string) error {
	f.user, f.token = user, token
	return f.err
}

type testEnv struct {
	engine   *Engine
	runner   *fakeRunner
	store    *fakeStore
	events   *fakePublisher
	envPath  string
	backups  string
	registry *fakeRegistry
	env      map[string]string
}

func newTestEnv(t *testing.T, envContent string, waiter *fakeWaiter) *testEnv {
	t.Helper()

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.staging")
	backups := filepath.Join(dir, "backups")
	if envContent != "" {
		require.NoError(t, os.WriteFile(envPath, []byte(envContent), 0o600))
	}

	cfg := config.Config{
		Environment: "staging",
		Compose: config.ComposeConfig{
			Binary:         "docker",
			Files:          map[string]string{"staging": "docker-compose.staging.yml"},
			Project:        "prospectbase",
			TimeoutSeconds: 60,
		},
		EnvFile: config.EnvFileConfig{
			Paths:        map[string]string{"staging": envPath},
			RequiredKeys: []string{"DSN", "CLERK_API_KEY", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET"},
			BackupDir:    backups,
			KeepBackups:  3,
		},
		Health: config.HealthConfig{
			URL:             "http://localhost:8080/health",
			MaxAttempts:     5,
			IntervalSeconds: 1,
			TimeoutSeconds:  1,
			LogTailLines:    20,
		},
	}

	runner := newFakeRunner()
	store := &fakeStore{}
	events := &fakePublisher{}
	registry := &fakeRegistry{}

	engine, err := NewEngine(cfg, runner, registry, waiter, store, events, nil, &fakeIDGen{}, zap.NewNop())
	require.NoError(t, err)

	te := &testEnv{
		engine:   engine,
		runner:   runner,
		store:    store,
		events:   events,
		envPath:  envPath,
		backups:  backups,
		registry: registry,
		env:      map[string]string{},
	}
	engine.lookupEnv = func(key string) (string, bool) {
		v, ok := te.env[key]
		return v, ok
	}
	engine.checkPorts = func([]int) error { return nil }
	engine.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return te
}

const validEnv = "DSN=postgres://db\nCLERK_API_KEY=ck\nSTRIPE_SECRET_KEY=sk\nSTRIPE_WEBHOOK_SECRET=whsec\n"

func TestDeploy_HappyPath(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 2})

	err := te.engine.Deploy(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, []string{"pull", "build", "up"}, te.runner.callList())

	// A backup was taken before anything ran.
	entries, err := os.ReadDir(te.backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.Len(t, te.store.records, 1)
	require.Equal(t, history.StatusSucceeded, te.store.records[0].Status)
	require.Equal(t, "staging", te.store.records[0].Environment)

	require.Len(t, te.events.events, 2)
	require.Equal(t, notify.StatusStarted, te.events.events[0].Status)
	require.Equal(t, notify.StatusSucceeded, te.events.events[1].Status)
}

func TestDeploy_CopiesExampleEnvFile(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, "", &fakeWaiter{attempts: 1})
	require.NoError(t, os.WriteFile(te.envPath+".example", []byte(validEnv), 0o600))

	err := te.engine.Deploy(context.Background(), Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(te.envPath)
	require.NoError(t, err)
	require.Equal(t, validEnv, string(data))
}

func TestDeploy_MissingRequiredVarAbortsBeforeBuild(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, "DSN=postgres://db\nCLERK_API_KEY=\n", &fakeWaiter{attempts: 1})

	err := te.engine.Deploy(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "CLERK_API_KEY")

	// Preflight failure: no compose commands at all, not even rollback.
	require.Empty(t, te.runner.callList())

	require.Len(t, te.store.records, 1)
	require.Equal(t, history.StatusFailed, te.store.records[0].Status)
}

func TestDeploy_PortConflictAbortsBeforeBuild(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.engine.checkPorts = func([]int) error {
		return errors.New("ports already in use: 8080")
	}

	err := te.engine.Deploy(context.Background(), Options{})
	require.Error(t, err)
	require.Empty(t, te.runner.callList())
}

type fakeSnapshots struct {
	objects map[string][]byte
}

func (f *fakeSnapshots) Save(_ context.Context, name string, data []byte) (string, error) {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[name] = data
	return "mem://" + name, nil
}

func (f *fakeSnapshots) Close() error { return nil }

func TestDeploy_SnapshotUploadLogsDigest(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	snaps := &fakeSnapshots{}
	core, logs := observer.New(zap.InfoLevel)
	te.engine.snapshots = snaps
	te.engine.logger = zap.New(core)

	require.NoError(t, te.engine.Deploy(context.Background(), Options{}))

	require.Len(t, snaps.objects, 1)
	entries := logs.FilterMessage("Env snapshot uploaded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	sum := sha256.Sum256([]byte(validEnv))
	require.Equal(t, hex.EncodeToString(sum[:]), fields["sha256"])
}

func TestDeploy_DatabasePreflightUsesPoolSizeAndAbortsEarly(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.engine.cfg.DB = config.DBConfig{DSN: "postgres://db/prospectbase", MaxOpenConns: 4}

	var gotConns int32
	te.engine.pingDB = func(_ context.Context, _ string, maxConns int32, _ time.Duration) error {
		gotConns = maxConns
		return errors.New("connection refused")
	}

	err := te.engine.Deploy(context.Background(), Options{})
	require.Error(t, err)
	require.EqualValues(t, 4, gotConns)
	require.Empty(t, te.runner.callList(), "preflight failure must stop before any compose command")
}

func TestDeploy_HealthFailureDumpsLogsAndRollsBack(t *testing.T) {
	t.Parallel()

	waitErr := fmt.Errorf("%w after 5 attempts: boom", health.ErrUnhealthy)
	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 5, err: waitErr})
	te.runner.services = []compose.Service{{Service: "scraper", State: "restarting"}}
	te.runner.logs["scraper"] = "panic: cannot reach db"

	err := te.engine.Deploy(context.Background(), Options{})
	require.ErrorIs(t, err, health.ErrUnhealthy)

	calls := te.runner.callList()
	require.Equal(t, []string{"pull", "build", "up", "ps", "logs:scraper", "up"}, calls)

	require.Len(t, te.store.records, 1)
	require.Equal(t, history.StatusRolledBack, te.store.records[0].Status)
	require.Equal(t, notify.StatusRolledBack, te.events.events[1].Status)
}

func TestDeploy_RollbackRestoresEnvFile(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.runner.failOn["build"] = errors.New("build exploded")

	// The engine backs up the env file, then the build fails. Mutate the
	// live file between those points by hooking the registry login.
	te.engine.registry = registryFunc(func(context.Context, string, string) error {
		return os.WriteFile(te.envPath, []byte("DSN=broken\n"), 0o600)
	})
	te.env["GITHUB_TOKEN"] = "tok"
	te.env["GITHUB_USER"] = "bot"

	err := te.engine.Deploy(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "build exploded")

	data, err := os.ReadFile(te.envPath)
	require.NoError(t, err)
	require.Equal(t, validEnv, string(data))
}

type registryFunc func(ctx context.Context, user, token string) error

func (f registryFunc) Login(ctx context.Context, user, token string) error {
	return f(ctx, user, token)
}

func TestDeploy_NoCacheFromEnvAndConcurrencyBuildArg(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.env["NO_CACHE"] = "1"
	te.env["CONCURRENCY"] = "8"

	require.NoError(t, te.engine.Deploy(context.Background(), Options{}))
	require.True(t, te.runner.buildOpts.NoCache)
	require.Equal(t, "8", te.runner.buildOpts.BuildArgs["CONCURRENCY"])
}

func TestDeploy_SkipPull(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})

	require.NoError(t, te.engine.Deploy(context.Background(), Options{SkipPull: true}))
	require.Equal(t, []string{"build", "up"}, te.runner.callList())
}

func TestDeploy_RegistryLogin(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.env["GITHUB_TOKEN"] = "ghp_secret"
	te.env["GITHUB_USER"] = "deploy-bot"

	require.NoError(t, te.engine.Deploy(context.Background(), Options{}))
	require.Equal(t, "deploy-bot", te.registry.user)
	require.Equal(t, "ghp_secret", te.registry.token)
}

func TestDeploy_TokenWithoutUserFails(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	te.env["GITHUB_TOKEN"] = "ghp_secret"

	err := te.engine.Deploy(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "GITHUB_USER")
}

func TestDeploy_PrunesOldBackups(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tick := 0
	te.engine.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, te.engine.Deploy(context.Background(), Options{}))
	}

	entries, err := os.ReadDir(te.backups)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRollback_RestoresLatestBackupAndRestarts(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})

	// Seed a deploy so a backup exists, then break the live env file.
	require.NoError(t, te.engine.Deploy(context.Background(), Options{}))
	require.NoError(t, os.WriteFile(te.envPath, []byte("DSN=broken\n"), 0o600))
	te.runner.calls = nil

	require.NoError(t, te.engine.Rollback(context.Background()))

	data, err := os.ReadFile(te.envPath)
	require.NoError(t, err)
	require.Equal(t, validEnv, string(data))
	require.Equal(t, []string{"up"}, te.runner.callList())
}

func TestRollback_NoBackupsFails(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t, validEnv, &fakeWaiter{attempts: 1})
	err := te.engine.Rollback(context.Background())
	require.Error(t, err)
}
