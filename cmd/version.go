package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prospectbase/deployctl/internal/buildinfo"
)

// newVersionCmd creates the 'version' subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints deployctl build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
