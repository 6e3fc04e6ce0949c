// Package cmd defines and implements the CLI commands for the deployctl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospectbase/deployctl/internal/app"
	"github.com/prospectbase/deployctl/internal/compose"
	"github.com/prospectbase/deployctl/internal/config"
	"github.com/prospectbase/deployctl/internal/deploy"
	"github.com/prospectbase/deployctl/internal/health"
	"github.com/prospectbase/deployctl/internal/history"
	"github.com/prospectbase/deployctl/internal/logging"
)

var (
	cfgFile string
	envFlag string

	// activeApp is set once PersistentPreRunE builds the container.
	// Cleanup happens in execute, not a PostRun hook: cobra skips
	// PostRun hooks when RunE fails, and the failure paths are exactly
	// where flushing logs and closing providers matters.
	activeApp App
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Runner() compose.Runner
	Engine() *deploy.Engine
	Poller() *health.Poller
	History() history.Store
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp func(ctx context.Context, cfg config.Config) (App, error) = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.NewApp(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployctl",
		Short: "Deployment orchestrator for the ProspectBase platform.",
		Long: `deployctl drives Docker Compose deployments for the ProspectBase
platform. It validates environment files, logs into the container registry,
pulls and builds images, brings the stack up, and polls the API until it is
healthy, rolling back the environment file when a deployment fails.`,

		// This hook runs AFTER flags are parsed but BEFORE the subcommand's
		// RunE. Config loading and service construction happen here so every
		// subcommand receives a ready App from the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if envFlag != "" {
				cfg.Environment = envFlag
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logging.InitLogger(cfg.Logging.Development)

			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			activeApp = appInstance

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads DEPLOY_* environment variables)")
	cmd.PersistentFlags().StringVar(&envFlag, "env", "", "target environment (development, staging, production)")

	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newDownCmd())
	cmd.AddCommand(newRestartCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// execute runs the command tree and shuts the app down afterwards,
// whether or not the command succeeded.
func execute(cmd *cobra.Command) error {
	activeApp = nil
	defer func() {
		if activeApp != nil {
			activeApp.Close()
		}
	}()
	return cmd.Execute()
}

// Execute is the main entry point.
func Execute() {
	// Initialize the logger once at the very start. It is reconfigured
	// after the config file is read.
	logging.InitLogger(true)

	if err := execute(newRootCmd()); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
