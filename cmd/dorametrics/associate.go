package main

import (
	"context"

	"dorametrics/internal/pipeline"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	associateRepo   string
	associateFormat string
)

var associateCmd = &cobra.Command{
	Use:   "associate",
	Short: "Re-run association and merge over stored facts",
	Long: `Recomputes commit-to-PR associations, deployment resolution, and the
merge using the facts already on disk, without contacting git or GitHub.
Useful after changing hotfix labels or importing a hand-edited dataset.
Manual annotations survive unchanged; the watermark is not touched.`,
	RunE: runAssociate,
}

func init() {
	associateCmd.Flags().StringVar(&associateRepo, "repo", "", "Declared repo name (from DORA.toml)")
	associateCmd.Flags().StringVar(&associateFormat, "format", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(associateCmd)
}

func runAssociate(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(associateFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(associateRepo)
	if err != nil {
		return err
	}

	summary, err := pipeline.New(ws.repos, ws.tracker, ws.logger).
		Reprocess(context.Background(), tgt.Name, tgt.HotfixLabels)
	if err != nil {
		return err
	}

	return renderSummary(summary, format)
}
