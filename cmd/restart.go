package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRestartCmd creates and configures the 'restart' subcommand.
func newRestartCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restarts Compose services without rebuilding",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := appInstance.Runner().Restart(cmd.Context(), service); err != nil {
				return fmt.Errorf("restart %s: %w", appInstance.Config().Environment, err)
			}

			appInstance.Logger().Info("Services restarted",
				zap.String("environment", appInstance.Config().Environment),
				zap.String("service", service),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "restart a single service (default all services)")

	return cmd
}
