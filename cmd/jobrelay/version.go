package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/jobrelay/internal/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Display the version, build time, git commit and Go version of jobrelay.`,
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "jobrelay - scheduled jobs relayed over Redis Streams")
		fmt.Fprintf(out, "Version: %s\n", info.Version)
		fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", info.GitCommit)
		fmt.Fprintf(out, "Go Version: %s\n", info.GoVersion)
	},
}
