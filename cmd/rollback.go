package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRollbackCmd creates and configures the 'rollback' subcommand.
func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restores the latest env-file backup and redeploys the stack",
		Long: `Restores the most recent environment-file backup for the target
environment, brings the Compose stack up with the restored configuration,
and polls the health endpoint until the API responds.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := appInstance.Engine().Rollback(cmd.Context()); err != nil {
				return fmt.Errorf("rollback %s: %w", appInstance.Config().Environment, err)
			}

			appInstance.Logger().Info("Rollback finished",
				zap.String("environment", appInstance.Config().Environment),
			)
			return nil
		},
	}
	return cmd
}
