package main

import (
	"context"

	"dorametrics/internal/extract"
	"dorametrics/internal/pipeline"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	extractCommitsRepo   string
	extractCommitsPath   string
	extractCommitsBranch string
	extractCommitsFormat string
)

var extractCommitsCmd = &cobra.Command{
	Use:   "extract-commits",
	Short: "Extract commits from a local git clone",
	Long: `Runs a commits-only pipeline pass against a local clone. Without pull
request facts every new commit lands orphaned; a later extract-github or
update run fills the associations in.`,
	RunE: runExtractCommits,
}

func init() {
	extractCommitsCmd.Flags().StringVar(&extractCommitsRepo, "repo", "", "Declared repo name (from DORA.toml)")
	extractCommitsCmd.Flags().StringVar(&extractCommitsPath, "path", "", "Local clone to extract commits from")
	extractCommitsCmd.Flags().StringVar(&extractCommitsBranch, "branch", "", "Branch to analyze")
	extractCommitsCmd.Flags().StringVar(&extractCommitsFormat, "format", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(extractCommitsCmd)
}

func runExtractCommits(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(extractCommitsFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(extractCommitsRepo)
	if err != nil {
		return err
	}
	if extractCommitsPath != "" {
		tgt.Path = extractCommitsPath
	}
	if extractCommitsBranch != "" {
		tgt.Branch = extractCommitsBranch
	}

	ctx := context.Background()
	git := extract.NewGitExtractor(tgt.Path, ws.logger)
	if err := git.Verify(ctx); err != nil {
		return err
	}

	summary, err := pipeline.New(ws.repos, ws.tracker, ws.logger).Run(ctx, pipeline.Options{
		Repo:         tgt.Name,
		Branch:       tgt.Branch,
		HotfixLabels: tgt.HotfixLabels,
		Commits:      git,
	})
	if err != nil {
		return err
	}

	return renderSummary(summary, format)
}
