package main

import (
	"fmt"
	"os"

	"dorametrics/internal/quality"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	validateRepo   string
	validateFormat string
	validateStrict bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check dataset quality",
	Long: `Inspects the master dataset for coverage gaps, temporal anomalies,
and quarantined rows, and scores how trustworthy metrics computed from it
will be. With --strict the command fails when critical findings exist, for
use in CI.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateRepo, "repo", "", "Declared repo name (from DORA.toml)")
	validateCmd.Flags().StringVar(&validateFormat, "format", "table", "Output format (table, json, yaml)")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Exit non-zero on critical findings")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(validateFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(validateRepo)
	if err != nil {
		return err
	}

	ds, rejects, err := ws.repos.LoadDataset(tgt.Name)
	if err != nil {
		return err
	}

	rep := quality.NewValidator(ws.logger).Validate(tgt.Name, ds, rejects)

	if format != report.FormatTable {
		if err := report.RenderValue(os.Stdout, rep, format); err != nil {
			return err
		}
	} else {
		printQualityReport(rep)
	}

	if validateStrict && len(rep.Critical) > 0 {
		return fmt.Errorf("%d critical data-quality findings", len(rep.Critical))
	}
	return nil
}

func printQualityReport(rep *quality.Report) {
	fmt.Printf("Data quality for %s: %d/100\n\n", rep.Repo, rep.Score)
	fmt.Printf("  rows:        %d (%d orphaned, %d deployed, %d human-edited)\n",
		rep.TotalRows, rep.OrphanedRows, rep.DeployedRows, rep.HumanRows)
	fmt.Printf("  pr coverage: %.1f%%\n", rep.PRCoverage)
	if rep.RejectedRows > 0 {
		fmt.Printf("  quarantined: %d rows\n", rep.RejectedRows)
	}

	for _, c := range rep.Critical {
		fmt.Printf("\n  CRITICAL: %s", c)
	}
	for _, w := range rep.Warnings {
		fmt.Printf("\n  warning:  %s", w)
	}
	for _, i := range rep.Info {
		fmt.Printf("\n  info:     %s", i)
	}

	if len(rep.Recommendations) > 0 {
		fmt.Println("\n\nRecommendations:")
		for _, r := range rep.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	} else {
		fmt.Println()
	}
}
