// Package merge reconciles fresh machine-extracted facts with the prior
// master dataset. The merger only adds and refines rows; human-entered
// fields survive every machine pass, and nothing is ever deleted.
package merge

import (
	"dorametrics/internal/associate"
	"dorametrics/internal/deploy"
	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// Summary reports what one merge pass did
type Summary struct {
	Added    int                 `json:"added"`
	Updated  int                 `json:"updated"`
	Retained int                 `json:"retained"`
	Warnings []*errors.DoraError `json:"warnings,omitempty"`
}

// Merger combines prior annotations with fresh extraction output
type Merger struct {
	logger *logging.Logger
}

// NewMerger creates a merger
func NewMerger(logger *logging.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge produces the next dataset revision from the prior one plus one
// window's association and deployment results. Inputs are never mutated.
//
// Field policy per SHA:
//   - new SHA: insert a machine-sourced row from fresh facts
//   - known SHA: machine fields refresh from fresh values, except where a
//     human override covers them; manual fields are never touched
//   - known SHA absent from the fresh window: row retained unchanged
func (m *Merger) Merge(prior *model.Dataset, facts model.FreshFacts, assoc *associate.Result, deps *deploy.Result) (*model.Dataset, *Summary) {
	next := prior.Clone()
	summary := &Summary{}
	if assoc != nil {
		summary.Warnings = append(summary.Warnings, assoc.Warnings...)
	}
	if deps != nil {
		summary.Warnings = append(summary.Warnings, deps.Warnings...)
	}

	coverage := deploymentCoverage(facts.PullRequests, assoc, deps)

	freshSHAs := make(map[string]bool, len(facts.Commits))
	for _, commit := range facts.Commits {
		freshSHAs[commit.SHA] = true

		rec := next.Get(commit.SHA)
		if rec == nil {
			rec = &model.AnnotationRecord{
				Commit: commit,
				Source: model.SourceMachine,
			}
			_ = next.Append(rec)
			summary.Added++
		} else {
			rec.Commit = commit
			summary.Updated++
		}

		m.refreshMachineFields(rec, assoc, coverage)
	}

	// Deployment coverage can also reach rows the fresh window never
	// re-extracted (an old commit deployed for the first time)
	for _, rec := range next.Rows() {
		if freshSHAs[rec.Commit.SHA] {
			continue
		}
		if cov, ok := coverage[rec.Commit.SHA]; ok {
			m.refreshDeploymentFields(rec, cov)
		}
	}

	summary.Retained = next.Len() - summary.Added - summary.Updated
	m.logger.Info("Merge pass complete", map[string]interface{}{
		"added":    summary.Added,
		"updated":  summary.Updated,
		"retained": summary.Retained,
		"rows":     next.Len(),
	})
	return next, summary
}

// Import applies a hand-edited dataset wholesale: imported rows fully replace
// prior rows with the same SHA, manual values included. Prior rows the import
// never mentions are retained. Explicit import is an override, not a merge.
func (m *Merger) Import(prior, imported *model.Dataset) *model.Dataset {
	next := model.NewDataset()

	importedBySHA := make(map[string]bool, imported.Len())
	for _, rec := range imported.Rows() {
		importedBySHA[rec.Commit.SHA] = true
	}

	// Prior row order is preserved; replaced rows take the imported values
	for _, rec := range prior.Rows() {
		if importedBySHA[rec.Commit.SHA] {
			continue
		}
		_ = next.Append(rec)
	}
	for _, rec := range imported.Rows() {
		c := *rec
		if c.HasManualEdits() {
			c.Source = model.SourceHuman
		}
		_ = next.Append(&c)
	}

	m.logger.Info("Import applied", map[string]interface{}{
		"imported": imported.Len(),
		"rows":     next.Len(),
	})
	return next
}

func (m *Merger) refreshMachineFields(rec *model.AnnotationRecord, assoc *associate.Result, coverage map[string]model.Deployment) {
	if assoc != nil {
		if a, ok := assoc.BySHA[rec.Commit.SHA]; ok {
			num := a.PRNumber
			rec.PRNumber = &num
			rec.Orphaned = false
			// ManualIsHotfix is the override for the label derivation
			if rec.ManualIsHotfix == nil {
				rec.PRIsHotfix = a.IsHotfix
			}
		} else {
			rec.PRNumber = nil
			rec.Orphaned = true
			if rec.ManualIsHotfix == nil {
				rec.PRIsHotfix = false
			}
		}
	}

	if cov, ok := coverage[rec.Commit.SHA]; ok {
		m.refreshDeploymentFields(rec, cov)
	}
}

func (m *Merger) refreshDeploymentFields(rec *model.AnnotationRecord, cov model.Deployment) {
	// A manual deployment annotation owns these fields
	if rec.ManualIsDeployment != nil || rec.ManualDeployedAt != nil {
		return
	}
	t := cov.Timestamp
	rec.DeployedAt = &t
	rec.DeploymentTag = cov.Tag
}

// deploymentCoverage maps each commit SHA to the earliest deployment that
// shipped it. A deployment covers its target SHA plus, when the target is
// associated to a PR, every commit that PR declares.
func deploymentCoverage(prs []model.PullRequest, assoc *associate.Result, deps *deploy.Result) map[string]model.Deployment {
	coverage := make(map[string]model.Deployment)
	if deps == nil {
		return coverage
	}

	prCommits := make(map[int][]string, len(prs))
	for _, pr := range prs {
		prCommits[pr.Number] = pr.Commits
	}

	// Deployments are already time-ordered, so first writer wins
	for _, d := range deps.Deployments {
		shas := []string{d.SHA}
		if assoc != nil {
			if a, ok := assoc.BySHA[d.SHA]; ok {
				shas = append(shas, prCommits[a.PRNumber]...)
			}
		}
		for _, sha := range shas {
			if _, ok := coverage[sha]; !ok {
				coverage[sha] = d
			}
		}
	}
	return coverage
}
