package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prospectbase/deployctl/internal/config"
)

func noopConfig() config.Config {
	cfg := config.Config{}
	cfg.Environment = "staging"
	cfg.Compose.Binary = "docker"
	cfg.Compose.Files = map[string]string{"staging": "docker-compose.staging.yml"}
	cfg.Compose.Project = "prospectbase"
	cfg.Compose.TimeoutSeconds = 60
	cfg.EnvFile.Paths = map[string]string{"staging": ".env.staging"}
	cfg.Health.URL = "http://localhost:8080/healthz"
	cfg.Health.MaxAttempts = 3
	cfg.Health.IntervalSeconds = 1
	cfg.Health.TimeoutSeconds = 2
	cfg.History.Provider = "noop"
	cfg.Notify.Provider = "noop"
	cfg.Snapshot.Provider = "noop"
	return cfg
}

func TestNewAppNoopProviders(t *testing.T) {
	t.Parallel()

	a, err := NewApp(context.Background(), noopConfig())
	require.NoError(t, err)
	require.NotNil(t, a.Engine())
	require.NotNil(t, a.Runner())
	require.NotNil(t, a.History())
	require.Equal(t, "staging", a.Config().Environment)

	a.Close()
}

func TestNewAppUnknownHistoryProvider(t *testing.T) {
	t.Parallel()

	cfg := noopConfig()
	cfg.History.Provider = "etcd"

	_, err := NewApp(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown history provider")
}

func TestNewAppUnknownNotifyProvider(t *testing.T) {
	t.Parallel()

	cfg := noopConfig()
	cfg.Notify.Provider = "kafka"

	_, err := NewApp(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown notify provider")
}

func TestNewAppLocalSnapshots(t *testing.T) {
	t.Parallel()

	cfg := noopConfig()
	cfg.Snapshot.Provider = "local"
	cfg.Snapshot.BaseDir = t.TempDir()

	a, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	a.Close()
}
