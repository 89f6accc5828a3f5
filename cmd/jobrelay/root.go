package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobrelay",
	Short: "jobrelay - scheduled jobs relayed over Redis Streams",
	Long: `jobrelay fires recurring and oneshot jobs, publishes each firing as an
event on a Redis stream and consumes those events in a consumer group,
relaying whitelisted messages to their recipients.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(timeCmd)
}
