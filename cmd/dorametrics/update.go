package main

import (
	"context"
	"fmt"
	"os"

	"dorametrics/internal/extract"
	"dorametrics/internal/pipeline"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	updateRepo     string
	updatePath     string
	updateBranch   string
	updateNoGitHub bool
	updateFormat   string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Extract new facts and refresh the dataset",
	Long: `Runs the full incremental pipeline: extract commits since the last
watermark, fetch pull requests and releases from GitHub, associate commits
with pull requests, resolve deployments, and merge everything into the
master dataset. The watermark only advances after the dataset is saved.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateRepo, "repo", "", "Declared repo name (from DORA.toml)")
	updateCmd.Flags().StringVar(&updatePath, "path", "", "Local clone to extract commits from")
	updateCmd.Flags().StringVar(&updateBranch, "branch", "", "Branch to analyze")
	updateCmd.Flags().BoolVar(&updateNoGitHub, "no-github", false, "Skip pull request and release extraction")
	updateCmd.Flags().StringVar(&updateFormat, "format", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(updateFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(updateRepo)
	if err != nil {
		return err
	}
	if updatePath != "" {
		tgt.Path = updatePath
	}
	if updateBranch != "" {
		tgt.Branch = updateBranch
	}

	ctx := context.Background()

	opts := pipeline.Options{
		Repo:         tgt.Name,
		Branch:       tgt.Branch,
		HotfixLabels: tgt.HotfixLabels,
	}

	git := extract.NewGitExtractor(tgt.Path, ws.logger)
	if err := git.Verify(ctx); err != nil {
		return err
	}
	opts.Commits = git

	if !updateNoGitHub {
		if tgt.Owner == "" || tgt.Repo == "" {
			return fmt.Errorf("github owner/repo not configured; set them or pass --no-github")
		}
		opts.GitHub = extract.NewGitHubClient(ctx, githubToken(), tgt.Owner, tgt.Repo, ws.logger)
	}

	summary, err := pipeline.New(ws.repos, ws.tracker, ws.logger).Run(ctx, opts)
	if err != nil {
		return err
	}

	return renderSummary(summary, format)
}

func renderSummary(summary *pipeline.RunSummary, format report.Format) error {
	if format != report.FormatTable {
		return report.RenderValue(os.Stdout, summary, format)
	}

	fmt.Printf("Run %s complete for %s (%s)\n", summary.RunID, summary.Repo, summary.Branch)
	fmt.Printf("  fresh commits:  %d\n", summary.FreshCommits)
	fmt.Printf("  pull requests:  %d\n", summary.PullRequests)
	fmt.Printf("  releases:       %d\n", summary.Releases)
	fmt.Printf("  deployments:    %d (%d dangling excluded)\n", summary.Deployments, summary.DanglingExcluded)
	fmt.Printf("  rows:           %d total, %d added, %d updated\n", summary.RowsTotal, summary.RowsAdded, summary.RowsUpdated)
	if summary.QuarantinedRows > 0 {
		fmt.Printf("  quarantined:    %d rows held aside for repair\n", summary.QuarantinedRows)
	}
	if summary.Warnings > 0 {
		fmt.Printf("  warnings:       %d\n", summary.Warnings)
	}
	if summary.WatermarkAdvanced {
		fmt.Println("  watermark advanced")
	}
	return nil
}
