package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghgmatch/core/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ghgmatch version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ghgmatch version %s (%s)\n", version.Version, version.Commit)
			return nil
		},
	}
}
