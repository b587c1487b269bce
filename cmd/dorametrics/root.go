package main

import (
	"fmt"

	"dorametrics/internal/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dorametrics",
	Short: "dorametrics - DORA metrics from git history and GitHub",
	Long: `dorametrics reconstructs the four DORA metrics (deployment frequency,
lead time for changes, change failure rate, time to restore) for repositories
that never emitted deployment events, by mining commits, pull requests, and
releases into an annotated per-commit dataset that humans can correct.`,
	Version: version.Info(),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print detailed version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
	},
}

func init() {
	rootCmd.SetVersionTemplate("dorametrics version {{.Version}}\n")
	rootCmd.AddCommand(versionCmd)
}
