package cmd

import (
	"log"

	"github.com/ksali86/riftlands-ai-dm/riftlands"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Riftlands bot and status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := riftlands.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
