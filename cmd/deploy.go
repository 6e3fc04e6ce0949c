package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospectbase/deployctl/internal/deploy"
)

// newDeployCmd creates and configures the 'deploy' subcommand. It runs
// the full deployment pipeline for the target environment: env-file
// validation, registry login, image pull/build, compose up, and health
// polling with rollback on failure.
func newDeployCmd() *cobra.Command {
	var (
		noCache  bool
		skipPull bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploys the stack for the target environment",
		Long: `Runs the full deployment pipeline: validates the environment file,
backs it up, logs into the container registry, pulls and builds images,
brings the Compose stack up, and polls the health endpoint until the API
responds. If anything fails after the backup point, the environment file
is restored and the previous stack is brought back up.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := deploy.Options{NoCache: noCache, SkipPull: skipPull}
			if err := appInstance.Engine().Deploy(cmd.Context(), opts); err != nil {
				return fmt.Errorf("deploy %s: %w", appInstance.Config().Environment, err)
			}

			appInstance.Logger().Info("Deployment finished",
				zap.String("environment", appInstance.Config().Environment),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "build images without the layer cache")
	cmd.Flags().BoolVar(&skipPull, "skip-pull", false, "skip the registry pull and build from local sources")

	return cmd
}
