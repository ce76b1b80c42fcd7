package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/urbanmcp/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No config or tracing needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRun: func(cmd *cobra.Command, args []string) {},
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Info()
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "urbanmcp %s (commit %s, built %s, %s)\n",
			info["version"], info["commit"], info["build_date"], info["go_version"])
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
