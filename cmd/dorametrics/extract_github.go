package main

import (
	"context"
	"fmt"

	"dorametrics/internal/extract"
	"dorametrics/internal/pipeline"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	extractGitHubRepo   string
	extractGitHubFormat string
)

var extractGitHubCmd = &cobra.Command{
	Use:   "extract-github",
	Short: "Extract pull requests and releases from GitHub",
	Long: `Runs a GitHub-only pipeline pass: fetches pull requests updated since
the watermark plus all releases, then re-associates and re-merges the
dataset. Commits come from a previous extract-commits or update run.`,
	RunE: runExtractGitHub,
}

func init() {
	extractGitHubCmd.Flags().StringVar(&extractGitHubRepo, "repo", "", "Declared repo name (from DORA.toml)")
	extractGitHubCmd.Flags().StringVar(&extractGitHubFormat, "format", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(extractGitHubCmd)
}

func runExtractGitHub(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(extractGitHubFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(extractGitHubRepo)
	if err != nil {
		return err
	}
	if tgt.Owner == "" || tgt.Repo == "" {
		return fmt.Errorf("github owner/repo not configured for %q", tgt.Name)
	}

	ctx := context.Background()
	gh := extract.NewGitHubClient(ctx, githubToken(), tgt.Owner, tgt.Repo, ws.logger)

	summary, err := pipeline.New(ws.repos, ws.tracker, ws.logger).Run(ctx, pipeline.Options{
		Repo:         tgt.Name,
		Branch:       tgt.Branch,
		HotfixLabels: tgt.HotfixLabels,
		GitHub:       gh,
	})
	if err != nil {
		return err
	}

	return renderSummary(summary, format)
}
