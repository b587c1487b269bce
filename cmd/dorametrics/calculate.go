package main

import (
	"os"

	"dorametrics/internal/deploy"
	"dorametrics/internal/metrics"
	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var (
	calculateRepo          string
	calculateGranularity   string
	calculateWeekStart     string
	calculateFormat        string
	calculateRollbacks     bool
	calculateFailureSource string
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute DORA metrics from the stored dataset",
	Long: `Computes deployment frequency, lead time for changes, change failure
rate, and time to restore per period from the master dataset. Rollback
deployments are excluded from frequency and lead time unless
--include-rollbacks is set.`,
	RunE: runCalculate,
}

func init() {
	calculateCmd.Flags().StringVar(&calculateRepo, "repo", "", "Declared repo name (from DORA.toml)")
	calculateCmd.Flags().StringVar(&calculateGranularity, "granularity", "", "Period granularity (daily, weekly, monthly, quarterly, yearly)")
	calculateCmd.Flags().StringVar(&calculateWeekStart, "week-start", "", "First day of the week (Monday, Sunday)")
	calculateCmd.Flags().StringVar(&calculateFormat, "format", "table", "Output format (table, json, yaml)")
	calculateCmd.Flags().BoolVar(&calculateRollbacks, "include-rollbacks", false, "Count rollback deployments in frequency and lead time")
	calculateCmd.Flags().StringVar(&calculateFailureSource, "failure-source", "", "Failure signal (hotfix, failed_flag, any)")
	rootCmd.AddCommand(calculateCmd)
}

func runCalculate(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(calculateFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(calculateRepo)
	if err != nil {
		return err
	}

	// Flags override config, config supplies the defaults
	if calculateGranularity == "" {
		calculateGranularity = ws.cfg.Periods.Granularity
	}
	if calculateWeekStart == "" {
		calculateWeekStart = ws.cfg.Periods.WeekStart
	}
	if calculateFailureSource == "" {
		calculateFailureSource = ws.cfg.Policy.FailureSource
	}
	excludeRollbacks := ws.cfg.Policy.ExcludeRollbacks
	if cmd.Flags().Changed("include-rollbacks") {
		excludeRollbacks = !calculateRollbacks
	}

	granularity, err := metrics.ParseGranularity(calculateGranularity)
	if err != nil {
		return err
	}
	weekStart, err := metrics.ParseWeekStart(calculateWeekStart)
	if err != nil {
		return err
	}
	failureSource, err := metrics.ParseFailureSource(calculateFailureSource)
	if err != nil {
		return err
	}

	ds, _, err := ws.repos.LoadDataset(tgt.Name)
	if err != nil {
		return err
	}
	facts, err := ws.repos.LoadFacts(tgt.Name)
	if err != nil {
		return err
	}

	deployments := deploy.NewResolver(ws.logger).Resolve(facts.Releases, ds)

	results, warnings := metrics.NewEngine(weekStart, ws.logger).
		Compute(ds, deployments.Deployments, granularity, metrics.Policy{
			ExcludeRollbacks: excludeRollbacks,
			FailureSource:    failureSource,
		})

	for _, w := range warnings {
		ws.logger.Warn(w.Message, map[string]interface{}{"code": string(w.Code)})
	}

	return report.RenderMetrics(os.Stdout, tgt.Name, results, format)
}
