// Package report renders computed metrics, quality reports, and run
// summaries as aligned tables for humans or JSON/YAML for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"dorametrics/internal/metrics"
)

// Format selects the output encoding
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format string from flags
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (table, json, yaml)", s)
	}
}

// Level is the DORA performance classification for one metric value
type Level string

const (
	LevelElite  Level = "Elite"
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

// RenderMetrics writes per-period metrics in the chosen format
func RenderMetrics(w io.Writer, repo string, results []metrics.PeriodMetrics, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, metricsDocument(repo, results))
	case FormatYAML:
		return renderYAML(w, metricsDocument(repo, results))
	default:
		return renderMetricsTable(w, repo, results)
	}
}

// RenderValue writes any report-shaped value (quality report, run summary)
// in the chosen format; table falls back to YAML, which reads well enough
// for small documents.
func RenderValue(w io.Writer, v interface{}, format Format) error {
	if format == FormatJSON {
		return renderJSON(w, v)
	}
	return renderYAML(w, v)
}

func renderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderYAML(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// periodDocument is the machine-readable per-period shape
type periodDocument struct {
	Period      string   `json:"period" yaml:"period"`
	Deployments int      `json:"deployments" yaml:"deployments"`
	Rollbacks   int      `json:"rollbacks,omitempty" yaml:"rollbacks,omitempty"`
	Frequency   *float64 `json:"frequency_per_day,omitempty" yaml:"frequency_per_day,omitempty"`
	LeadTime    string   `json:"lead_time_median,omitempty" yaml:"lead_time_median,omitempty"`
	FailureRate *float64 `json:"failure_rate,omitempty" yaml:"failure_rate,omitempty"`
	MTTR        string   `json:"mttr,omitempty" yaml:"mttr,omitempty"`
	Unresolved  int      `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Level       string   `json:"level,omitempty" yaml:"level,omitempty"`
}

func metricsDocument(repo string, results []metrics.PeriodMetrics) map[string]interface{} {
	periods := make([]periodDocument, 0, len(results))
	for _, pm := range results {
		doc := periodDocument{
			Period:      pm.Period.Label,
			Deployments: pm.Deployments,
			Rollbacks:   pm.Rollbacks,
			Frequency:   pm.FrequencyPerDay,
			FailureRate: pm.FailureRate,
			Unresolved:  pm.Unresolved,
		}
		if pm.LeadTime != nil && pm.LeadTime.SampleSize > 0 {
			doc.LeadTime = FormatDuration(pm.LeadTime.Median)
		}
		if pm.MTTR != nil {
			doc.MTTR = FormatDuration(*pm.MTTR)
		}
		if pm.HasData() {
			doc.Level = string(OverallLevel(pm))
		}
		periods = append(periods, doc)
	}
	return map[string]interface{}{
		"repo":    repo,
		"periods": periods,
	}
}

func renderMetricsTable(w io.Writer, repo string, results []metrics.PeriodMetrics) error {
	if len(results) == 0 {
		_, err := fmt.Fprintf(w, "%s: no deployment data\n", repo)
		return err
	}

	fmt.Fprintf(w, "DORA metrics for %s\n\n", repo)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tDEPLOYS\tFREQ/DAY\tLEAD TIME\tCFR\tMTTR\tLEVEL")

	for _, pm := range results {
		if !pm.HasData() {
			fmt.Fprintf(tw, "%s\tno data\t-\t-\t-\t-\t-\n", pm.Period.Label)
			continue
		}

		freq := "-"
		if pm.FrequencyPerDay != nil {
			freq = fmt.Sprintf("%.2f", *pm.FrequencyPerDay)
		}
		lead := "-"
		if pm.LeadTime != nil && pm.LeadTime.SampleSize > 0 {
			lead = FormatDuration(pm.LeadTime.Median)
			if pm.LeadTime.Negative > 0 {
				lead += fmt.Sprintf(" (%d negative)", pm.LeadTime.Negative)
			}
		}
		cfr := "-"
		if pm.FailureRate != nil {
			cfr = fmt.Sprintf("%.1f%%", *pm.FailureRate)
		}
		mttr := "-"
		if pm.MTTR != nil {
			mttr = FormatDuration(*pm.MTTR)
		} else if pm.Unresolved > 0 {
			mttr = fmt.Sprintf("%d unresolved", pm.Unresolved)
		}

		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			pm.Period.Label, pm.Deployments, freq, lead, cfr, mttr, OverallLevel(pm))
	}
	return tw.Flush()
}

// FormatDuration renders a duration the way a human reads delivery times:
// days and hours dominate, sub-minute detail only matters when it is all
// there is.
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}

	var s string
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		s = fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		s = fmt.Sprintf("%dh %dm", d/time.Hour, (d%time.Hour)/time.Minute)
	case d >= time.Minute:
		s = fmt.Sprintf("%dm", d/time.Minute)
	default:
		s = fmt.Sprintf("%ds", d/time.Second)
	}

	if neg {
		return "-" + s
	}
	return s
}

// FrequencyLevel classifies deployments per day
func FrequencyLevel(perDay float64) Level {
	switch {
	case perDay >= 1:
		return LevelElite
	case perDay >= 1.0/7:
		return LevelHigh
	case perDay >= 1.0/30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// LeadTimeLevel classifies median lead time
func LeadTimeLevel(median time.Duration) Level {
	switch {
	case median < 24*time.Hour:
		return LevelElite
	case median < 7*24*time.Hour:
		return LevelHigh
	case median < 30*24*time.Hour:
		return LevelMedium
	default:
		return LevelLow
	}
}

// FailureRateLevel classifies change failure rate (percent)
func FailureRateLevel(percent float64) Level {
	switch {
	case percent <= 5:
		return LevelElite
	case percent <= 10:
		return LevelHigh
	case percent <= 15:
		return LevelMedium
	default:
		return LevelLow
	}
}

// MTTRLevel classifies mean time to restore
func MTTRLevel(mttr time.Duration) Level {
	switch {
	case mttr < time.Hour:
		return LevelElite
	case mttr < 24*time.Hour:
		return LevelHigh
	case mttr < 7*24*time.Hour:
		return LevelMedium
	default:
		return LevelLow
	}
}

// OverallLevel is the worst classification across the metrics a period
// actually has; missing metrics do not drag the level down.
func OverallLevel(pm metrics.PeriodMetrics) Level {
	worst := LevelElite

	lower := func(l Level) {
		if rank(l) > rank(worst) {
			worst = l
		}
	}

	if pm.FrequencyPerDay != nil {
		lower(FrequencyLevel(*pm.FrequencyPerDay))
	}
	if pm.LeadTime != nil && pm.LeadTime.SampleSize > 0 {
		lower(LeadTimeLevel(pm.LeadTime.Median))
	}
	if pm.FailureRate != nil {
		lower(FailureRateLevel(*pm.FailureRate))
	}
	if pm.MTTR != nil {
		lower(MTTRLevel(*pm.MTTR))
	}
	return worst
}

func rank(l Level) int {
	switch l {
	case LevelElite:
		return 0
	case LevelHigh:
		return 1
	case LevelMedium:
		return 2
	default:
		return 3
	}
}
