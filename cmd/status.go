package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newStatusCmd creates and configures the 'status' subcommand. It lists
// the Compose services with their state and health, plus the most
// recent deployments when a history store is configured.
func newStatusCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows Compose service state and recent deployments",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			services, err := appInstance.Runner().Ps(cmd.Context())
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATE\tHEALTH")
			for _, svc := range services {
				health := svc.Health
				if health == "" {
					health = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", svc.Service, svc.State, health)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			// One-shot probe; an unreachable API is reported, not fatal.
			if poller := appInstance.Poller(); poller != nil {
				if probeErr := poller.Probe(cmd.Context()); probeErr != nil {
					fmt.Fprintf(out, "\nAPI health: unreachable (%v)\n", probeErr)
				} else {
					fmt.Fprintln(out, "\nAPI health: ok")
				}
			}

			records, err := appInstance.History().ListRecent(cmd.Context(), appInstance.Config().Environment, recent)
			if err != nil {
				return fmt.Errorf("list deployments: %w", err)
			}
			if len(records) == 0 {
				return nil
			}

			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEPLOYED AT\tVERSION\tCOMMIT\tSTATUS")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					rec.StartedAt.Format("2006-01-02 15:04:05"),
					rec.Version,
					rec.Commit,
					rec.Status,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 5, "number of recent deployments to show")

	return cmd
}
