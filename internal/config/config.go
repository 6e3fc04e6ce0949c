// Package config loads and validates deployctl configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all deployctl configuration knobs loaded via Viper.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Compose     ComposeConfig  `mapstructure:"compose"`
	EnvFile     EnvFileConfig  `mapstructure:"envfile"`
	Registry    RegistryConfig `mapstructure:"registry"`
	Health      HealthConfig   `mapstructure:"health"`
	Ports       PortsConfig    `mapstructure:"ports"`
	DB          DBConfig       `mapstructure:"db"`
	History     HistoryConfig  `mapstructure:"history"`
	Notify      NotifyConfig   `mapstructure:"notify"`
	Snapshot    SnapshotConfig `mapstructure:"snapshot"`
	Server      ServerConfig   `mapstructure:"server"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ComposeConfig controls how docker compose is invoked.
type ComposeConfig struct {
	Binary         string            `mapstructure:"binary"`
	Files          map[string]string `mapstructure:"files"`
	Project        string            `mapstructure:"project"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// EnvFileConfig governs env-file validation, backups and rollback.
type EnvFileConfig struct {
	Paths        map[string]string `mapstructure:"paths"`
	RequiredKeys []string          `mapstructure:"required_keys"`
	BackupDir    string            `mapstructure:"backup_dir"`
	KeepBackups  int               `mapstructure:"keep_backups"`
}

// RegistryConfig identifies the container registry used for image pulls.
type RegistryConfig struct {
	Host string `mapstructure:"host"`
}

// HealthConfig controls post-deploy health polling.
type HealthConfig struct {
	URL             string `mapstructure:"url"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	LogTailLines    int    `mapstructure:"log_tail_lines"`
}

// PortsConfig lists host ports that must be free before compose up.
type PortsConfig struct {
	Required []int `mapstructure:"required"`
}

// DBConfig controls the optional database preflight ping.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
}

// HistoryConfig selects the deploy history store.
type HistoryConfig struct {
	Provider               string `mapstructure:"provider"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// NotifyConfig selects the deploy event publisher.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// SnapshotConfig selects where env-file snapshots are uploaded.
type SnapshotConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig controls the status HTTP server run by `deployctl serve`.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
	APIKey      string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("compose.binary", "docker")
	v.SetDefault("compose.project", "prospectbase")
	v.SetDefault("compose.timeout_seconds", 600)
	v.SetDefault("compose.files", map[string]string{
		"development": "docker-compose.yml",
		"staging":     "docker-compose.staging.yml",
		"production":  "docker-compose.production.yml",
	})
	v.SetDefault("envfile.paths", map[string]string{
		"development": ".env.development",
		"staging":     ".env.staging",
		"production":  ".env",
	})
	v.SetDefault("envfile.required_keys", []string{
		"DSN",
		"CLERK_API_KEY",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
	})
	v.SetDefault("envfile.backup_dir", ".env-backups")
	v.SetDefault("envfile.keep_backups", 5)
	v.SetDefault("registry.host", "ghcr.io")
	v.SetDefault("health.url", "http://localhost:8080/health")
	v.SetDefault("health.max_attempts", 30)
	v.SetDefault("health.interval_seconds", 2)
	v.SetDefault("health.timeout_seconds", 5)
	v.SetDefault("health.log_tail_lines", 50)
	v.SetDefault("ports.required", []int{8080})
	v.SetDefault("history.provider", "noop")
	v.SetDefault("history.table", "deployments")
	v.SetDefault("history.max_conns", 4)
	v.SetDefault("history.max_conn_lifetime_minutes", 30)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("snapshot.provider", "noop")
	v.SetDefault("snapshot.prefix", "env-snapshots")
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, ok := c.Compose.Files[c.Environment]; !ok {
		return fmt.Errorf("no compose file configured for environment %q", c.Environment)
	}
	if _, ok := c.EnvFile.Paths[c.Environment]; !ok {
		return fmt.Errorf("no env file configured for environment %q", c.Environment)
	}
	if c.Compose.TimeoutSeconds <= 0 {
		return fmt.Errorf("compose.timeout_seconds must be > 0")
	}
	if c.EnvFile.KeepBackups <= 0 {
		return fmt.Errorf("envfile.keep_backups must be > 0")
	}
	if c.Health.MaxAttempts <= 0 {
		return fmt.Errorf("health.max_attempts must be > 0")
	}
	if c.Health.IntervalSeconds <= 0 {
		return fmt.Errorf("health.interval_seconds must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.AuthEnabled && c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key must be set when auth is enabled")
	}
	switch c.History.Provider {
	case "noop":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set when history.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown history provider: %s", c.History.Provider)
	}
	switch c.Notify.Provider {
	case "noop":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	switch c.Snapshot.Provider {
	case "noop":
	case "gcs":
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket must be set when snapshot.provider is gcs")
		}
	case "local":
		if c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir must be set when snapshot.provider is local")
		}
	default:
		return fmt.Errorf("unknown snapshot provider: %s", c.Snapshot.Provider)
	}
	return nil
}

// ComposeFile resolves the compose file for the configured environment.
func (c Config) ComposeFile() string {
	return c.Compose.Files[c.Environment]
}

// EnvFilePath resolves the env file for the configured environment.
func (c Config) EnvFilePath() string {
	return c.EnvFile.Paths[c.Environment]
}

// ComposeTimeout converts the compose timeout into a duration.
func (c Config) ComposeTimeout() time.Duration {
	return time.Duration(c.Compose.TimeoutSeconds) * time.Second
}

// HealthInterval converts the poll interval into a duration.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

// HealthTimeout converts the per-request timeout into a duration.
func (c Config) HealthTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutSeconds) * time.Second
}

// HistoryConnLifetime converts the pool lifetime knob into a duration.
func (c Config) HistoryConnLifetime() time.Duration {
	return time.Duration(c.History.MaxConnLifetimeMinutes) * time.Minute
}
