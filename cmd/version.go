package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autoclaude %s (commit %s, built %s)\n", version, commitHash, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
