// Package quality inspects a master dataset and reports how trustworthy the
// metrics computed from it will be: coverage gaps, temporal anomalies, and
// quarantined rows, scored and paired with concrete recommendations.
package quality

import (
	"fmt"
	"time"

	"dorametrics/internal/dataset"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// Report is the outcome of one validation pass over a repo's dataset
type Report struct {
	Repo        string    `json:"repo" yaml:"repo"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`

	TotalRows    int `json:"total_rows" yaml:"total_rows"`
	OrphanedRows int `json:"orphaned_rows" yaml:"orphaned_rows"`
	DeployedRows int `json:"deployed_rows" yaml:"deployed_rows"`
	HumanRows    int `json:"human_rows" yaml:"human_rows"`
	RejectedRows int `json:"rejected_rows" yaml:"rejected_rows"`

	// PRCoverage is the percentage of rows with a resolved pull request
	PRCoverage float64 `json:"pr_coverage" yaml:"pr_coverage"`

	Critical []string `json:"critical,omitempty" yaml:"critical,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Info     []string `json:"info,omitempty" yaml:"info,omitempty"`

	// Score is 0-100; critical findings weigh heaviest
	Score           int      `json:"score" yaml:"score"`
	Recommendations []string `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// Validator runs data-quality checks over datasets
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates a validator
func NewValidator(logger *logging.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate inspects one repo's dataset plus its latest quarantined rows
func (v *Validator) Validate(repo string, ds *model.Dataset, rejects []dataset.RejectedRow) *Report {
	r := &Report{
		Repo:         repo,
		GeneratedAt:  time.Now().UTC(),
		TotalRows:    ds.Len(),
		RejectedRows: len(rejects),
	}

	if ds.Len() == 0 {
		r.Info = append(r.Info, "dataset is empty; run an extraction first")
		r.Score = 0
		return r
	}

	withPR := 0
	negativeLead := 0
	resolutionBeforeDeploy := 0
	manualNoTimestamp := 0

	for _, rec := range ds.Rows() {
		if rec.PRNumber != nil {
			withPR++
		}
		if rec.Orphaned {
			r.OrphanedRows++
		}
		if rec.HasManualEdits() {
			r.HumanRows++
		}

		deployedAt := rec.EffectiveDeployedAt()
		if deployedAt != nil {
			r.DeployedRows++
			// Lead time is measured from the authored timestamp, so the
			// negative check uses the same basis as the metrics engine
			if deployedAt.Before(rec.Commit.AuthoredAt) {
				negativeLead++
			}
			if rec.ManualResolvedAt != nil && rec.ManualResolvedAt.Before(*deployedAt) {
				resolutionBeforeDeploy++
			}
		}
		if rec.ManualIsDeployment != nil && *rec.ManualIsDeployment &&
			rec.ManualDeployedAt == nil {
			manualNoTimestamp++
		}
	}

	r.PRCoverage = float64(withPR) / float64(ds.Len()) * 100

	if negativeLead > 0 {
		r.Critical = append(r.Critical,
			fmt.Sprintf("%d rows are deployed before their authored time (lead time will be negative)", negativeLead))
		r.Recommendations = append(r.Recommendations,
			"check manual deployed_at edits and release target SHAs for the flagged rows")
	}
	if resolutionBeforeDeploy > 0 {
		r.Critical = append(r.Critical,
			fmt.Sprintf("%d rows resolve before they deploy (manual_resolved_at precedes deployment)", resolutionBeforeDeploy))
	}

	if len(rejects) > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%d rows were quarantined on the last import", len(rejects)))
		r.Recommendations = append(r.Recommendations,
			"fix the quarantined rows in the export and re-import")
	}
	if r.PRCoverage < 50 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("only %.0f%% of commits have a resolved pull request", r.PRCoverage))
		r.Recommendations = append(r.Recommendations,
			"run extract-github so association sees PR commit lists, or review the hotfix/merge workflow")
	}
	if manualNoTimestamp > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%d manual deployments have no deployed_at and fall back to commit time", manualNoTimestamp))
	}

	if r.DeployedRows == 0 {
		r.Info = append(r.Info, "no deployments recorded yet; metrics will report no data")
	}
	if r.OrphanedRows > 0 {
		r.Info = append(r.Info,
			fmt.Sprintf("%d direct-to-branch commits (orphaned, still counted when deployed)", r.OrphanedRows))
	}

	r.Score = score(len(r.Critical), len(r.Warnings))

	v.logger.Debug("Quality validation complete", map[string]interface{}{
		"repo":     repo,
		"score":    r.Score,
		"critical": len(r.Critical),
		"warnings": len(r.Warnings),
	})
	return r
}

func score(critical, warnings int) int {
	s := 100 - critical*25 - warnings*10
	if s < 0 {
		return 0
	}
	return s
}
