package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newDownCmd creates and configures the 'down' subcommand.
func newDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stops and removes the Compose stack",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := appInstance.Runner().Down(cmd.Context()); err != nil {
				return fmt.Errorf("down %s: %w", appInstance.Config().Environment, err)
			}

			appInstance.Logger().Info("Stack stopped",
				zap.String("environment", appInstance.Config().Environment),
			)
			return nil
		},
	}
	return cmd
}
