package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newLogsCmd creates and configures the 'logs' subcommand.
func newLogsCmd() *cobra.Command {
	var (
		service string
		tail    int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints recent Compose service logs",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			out, err := appInstance.Runner().Logs(cmd.Context(), service, tail)
			if err != nil {
				return fmt.Errorf("fetch logs: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "limit output to one service (default all services)")
	cmd.Flags().IntVar(&tail, "tail", 100, "number of log lines per service")

	return cmd
}
