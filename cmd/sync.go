package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/ksali86/riftlands-ai-dm/riftlands"
	"github.com/spf13/cobra"
)

// syncCmd runs one command sync cycle against discord and exits. This is
// the manual re-run path for recovering from a start that ended with zero
// live commands, without restarting a running bot.
var syncCmd = &cobra.Command{
	Use:   "sync [flags]",
	Short: "Reconcile slash commands with discord's registry and exit",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := riftlands.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		report, err := bot.SyncCommands(ctx)
		if err != nil {
			log.Fatalf("error syncing commands: %s", err.Error())
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(
			out,
			"synced %d commands to %s in %d attempt(s)\n",
			len(report.Commands),
			report.Scope,
			report.Attempts,
		)
		if names := report.CommandNames(); len(names) > 0 {
			fmt.Fprintf(out, "live: %s\n", strings.Join(names, ", "))
		}
		if len(report.Discrepancies) > 0 {
			fmt.Fprintf(
				out,
				"discrepancies: %s\n",
				strings.Join(report.Discrepancies, ", "),
			)
		}
		if report.Degraded() {
			log.Fatal("sync exhausted all attempts with no live commands")
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
