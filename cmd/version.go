package cmd

import (
	"fmt"

	"github.com/ksali86/riftlands-ai-dm/riftlands"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"version=%s commit=%s built: %s\n",
			riftlands.Version,
			riftlands.CommitSHA,
			riftlands.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
