package cmd

import (
	"log"

	"github.com/dolphingaming392/dolphinbot/dolphinbot"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the DolphinBot gateway connection and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := dolphinbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating dolphinbot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running dolphinbot: %s", err.Error())
		}
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
