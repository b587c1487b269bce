// Package metrics computes the four DORA metrics from a merged dataset and
// its resolved deployment sequence, bucketed into calendar periods. Every
// computation is a pure function of its inputs; policy knobs arrive as an
// explicit value, never as ambient settings.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// FailureSource selects which annotations mark a deployment as failed
type FailureSource string

const (
	// FailureFromHotfix counts hotfix-flagged deployments as failures
	FailureFromHotfix FailureSource = "hotfix"
	// FailureFromFlag counts only explicitly failed-flagged deployments
	FailureFromFlag FailureSource = "failed_flag"
	// FailureFromAny counts either signal
	FailureFromAny FailureSource = "any"
)

// ParseFailureSource validates a failure source from config or flags
func ParseFailureSource(s string) (FailureSource, error) {
	switch fs := FailureSource(s); fs {
	case FailureFromHotfix, FailureFromFlag, FailureFromAny:
		return fs, nil
	default:
		return "", fmt.Errorf("unknown failure source %q (hotfix, failed_flag, any)", s)
	}
}

// Policy carries the metric policy knobs, threaded into every Compute call
type Policy struct {
	ExcludeRollbacks bool
	FailureSource    FailureSource
}

// LeadTimeStats aggregates per-deployment lead times within one period
type LeadTimeStats struct {
	SampleSize int           `json:"sample_size"`
	Median     time.Duration `json:"median"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`

	// Negative counts samples where the deployment predates its earliest
	// attributable commit; they stay in the sample, flagged not clipped
	Negative int `json:"negative"`
	// NoCommits counts deployments excluded for lack of attributable commits
	NoCommits int `json:"no_commits"`
}

// PeriodMetrics is the computed result for one calendar period
type PeriodMetrics struct {
	Period Period `json:"period"`

	// Deployments is the policy-counted total; Rollbacks is how many the
	// policy excluded from it
	Deployments int `json:"deployments"`
	Rollbacks   int `json:"rollbacks"`

	LeadTime        *LeadTimeStats `json:"lead_time,omitempty"`
	FrequencyPerDay *float64       `json:"frequency_per_day,omitempty"`

	// FailureRate is a percentage; nil means undefined (no deployments)
	FailureRate *float64 `json:"failure_rate,omitempty"`
	Failed      int      `json:"failed"`

	// MTTR is nil when no failure in the period has a resolution
	MTTR       *time.Duration `json:"mttr,omitempty"`
	Unresolved int            `json:"unresolved"`
}

// HasData reports whether the period saw any deployment at all
func (pm PeriodMetrics) HasData() bool {
	return pm.Deployments > 0 || pm.Rollbacks > 0
}

// Engine computes DORA metrics over a dataset
type Engine struct {
	weekStart time.Weekday
	logger    *logging.Logger
}

// NewEngine creates an engine. weekStart only matters for weekly periods.
func NewEngine(weekStart time.Weekday, logger *logging.Logger) *Engine {
	return &Engine{weekStart: weekStart, logger: logger}
}

// Compute buckets the deployment sequence into periods and derives the four
// metrics per bucket. An empty deployment sequence yields no periods; the
// caller reports that as explicit absence of data. Warnings carry
// data-quality findings (negative lead times, unattributable deployments).
func (e *Engine) Compute(ds *model.Dataset, deployments []model.Deployment, g Granularity, policy Policy) ([]PeriodMetrics, []*errors.DoraError) {
	if len(deployments) == 0 {
		return nil, nil
	}

	var warnings []*errors.DoraError

	first := deployments[0].Timestamp
	last := deployments[0].Timestamp
	for _, d := range deployments[1:] {
		if d.Timestamp.Before(first) {
			first = d.Timestamp
		}
		if d.Timestamp.After(last) {
			last = d.Timestamp
		}
	}

	periods := periodsSpanning(first, last, g, e.weekStart)
	results := make([]PeriodMetrics, 0, len(periods))

	for _, p := range periods {
		pm := PeriodMetrics{Period: p}

		// Bucket membership preserves the input (time, then insertion) order
		var counted []model.Deployment
		for _, d := range deployments {
			if !p.Contains(d.Timestamp) {
				continue
			}
			if policy.ExcludeRollbacks && d.IsRollback {
				pm.Rollbacks++
				continue
			}
			counted = append(counted, d)
		}
		pm.Deployments = len(counted)

		if len(counted) > 0 {
			freq := float64(len(counted)) / p.Days()
			pm.FrequencyPerDay = &freq

			pm.LeadTime, warnings = e.leadTime(ds, counted, warnings)
			e.failureMetrics(&pm, ds, deployments, counted, policy)
		}

		results = append(results, pm)
	}

	e.logger.Debug("Metrics computed", map[string]interface{}{
		"granularity": string(g),
		"periods":     len(results),
		"deployments": len(deployments),
	})
	return results, warnings
}

// leadTime computes the per-deployment lead time sample for one period's
// counted deployments: deployment time minus the earliest authored time among
// the commits attributable to it.
func (e *Engine) leadTime(ds *model.Dataset, counted []model.Deployment, warnings []*errors.DoraError) (*LeadTimeStats, []*errors.DoraError) {
	stats := &LeadTimeStats{}
	var sample []time.Duration

	for _, d := range counted {
		earliest, ok := earliestAttributable(ds, d)
		if !ok {
			stats.NoCommits++
			warnings = append(warnings,
				errors.New(errors.DanglingDeployment,
					fmt.Sprintf("deployment %s has no attributable commits, excluded from lead time", d.Key()), nil))
			continue
		}

		lt := d.Timestamp.Sub(earliest)
		if lt < 0 {
			stats.Negative++
			warnings = append(warnings,
				errors.New(errors.NegativeLeadTime,
					fmt.Sprintf("deployment %s predates its earliest commit by %s", d.Key(), -lt), nil))
		}
		sample = append(sample, lt)
	}

	if len(sample) == 0 {
		if stats.NoCommits == 0 {
			return nil, warnings
		}
		return stats, warnings
	}

	sorted := append([]time.Duration(nil), sample...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	stats.SampleSize = len(sorted)
	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Median = median(sorted)
	return stats, warnings
}

// earliestAttributable finds the earliest authored timestamp among the
// commits a deployment shipped: the commits of the target's pull request, or
// the target commit alone when orphaned or direct to branch.
func earliestAttributable(ds *model.Dataset, d model.Deployment) (time.Time, bool) {
	target := ds.Get(d.SHA)
	if target == nil {
		return time.Time{}, false
	}

	earliest := target.Commit.AuthoredAt
	if target.PRNumber == nil {
		return earliest, true
	}

	for _, rec := range ds.Rows() {
		if rec.PRNumber == nil || *rec.PRNumber != *target.PRNumber {
			continue
		}
		if rec.Commit.AuthoredAt.Before(earliest) {
			earliest = rec.Commit.AuthoredAt
		}
	}
	return earliest, true
}

// failureMetrics fills in change failure rate and MTTR for one period
func (e *Engine) failureMetrics(pm *PeriodMetrics, ds *model.Dataset, all, counted []model.Deployment, policy Policy) {
	var restoreSample []time.Duration

	for _, d := range counted {
		if !isFailure(ds, d, policy.FailureSource) {
			continue
		}
		pm.Failed++

		resolved, ok := resolutionTime(ds, all, d)
		if !ok {
			pm.Unresolved++
			continue
		}
		restoreSample = append(restoreSample, resolved.Sub(d.Timestamp))
	}

	rate := float64(pm.Failed) / float64(len(counted)) * 100
	pm.FailureRate = &rate

	if len(restoreSample) > 0 {
		var total time.Duration
		for _, r := range restoreSample {
			total += r
		}
		mttr := total / time.Duration(len(restoreSample))
		pm.MTTR = &mttr
	}
}

// isFailure applies the failure-source policy to one deployment
func isFailure(ds *model.Dataset, d model.Deployment, source FailureSource) bool {
	rec := ds.Get(d.SHA)
	hotfix := rec != nil && rec.EffectiveHotfix()

	switch source {
	case FailureFromHotfix:
		return hotfix
	case FailureFromFlag:
		return d.Failed
	default:
		return d.Failed || hotfix
	}
}

// resolutionTime finds when a failed deployment was restored: a manual
// resolution annotation wins; otherwise the next later deployment whose
// target commit supersedes the failing one.
func resolutionTime(ds *model.Dataset, all []model.Deployment, failed model.Deployment) (time.Time, bool) {
	if failed.ResolvedAt != nil {
		return *failed.ResolvedAt, true
	}

	failedRec := ds.Get(failed.SHA)
	if failedRec == nil {
		return time.Time{}, false
	}
	failedPoint := failedRec.Commit.CommittedAt

	for _, d := range all {
		if !d.Timestamp.After(failed.Timestamp) {
			continue
		}
		rec := ds.Get(d.SHA)
		if rec == nil {
			continue
		}
		if rec.Commit.CommittedAt.After(failedPoint) {
			return d.Timestamp, true
		}
	}
	return time.Time{}, false
}

// median assumes a sorted sample; even sizes average the two middle values
func median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
