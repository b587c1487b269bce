// Package deploy derives the ordered deployment sequence from releases and
// manual deployment annotations, flags rollbacks, and quarantines deployments
// that point at commits nothing ever extracted.
package deploy

import (
	"fmt"
	"sort"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// Result is one resolution pass: deployments ordered by time (insertion order
// breaks timestamp ties), dangling entries held aside, warnings for both
// dangling SHAs and detected rollbacks.
type Result struct {
	Deployments []model.Deployment
	Dangling    []model.Deployment
	Warnings    []*errors.DoraError
}

// Resolver turns releases plus manual annotations into deployment events
type Resolver struct {
	logger *logging.Logger
}

// NewResolver creates a resolver
func NewResolver(logger *logging.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve builds the deployment sequence for a dataset. Releases map one to
// one onto deployments; rows a human marked as deployments become synthetic
// entries; the composite SHA+timestamp key deduplicates the two sources.
func (r *Resolver) Resolve(releases []model.Release, ds *model.Dataset) *Result {
	result := &Result{}

	seen := make(map[string]bool)
	add := func(d model.Deployment) {
		key := d.Key()
		if seen[key] {
			return
		}
		seen[key] = true

		if ds.Get(d.SHA) == nil {
			result.Dangling = append(result.Dangling, d)
			result.Warnings = append(result.Warnings,
				errors.New(errors.DanglingDeployment,
					fmt.Sprintf("deployment %s references unknown commit %s", describe(d), d.SHA), nil))
			return
		}
		result.Deployments = append(result.Deployments, d)
	}

	for _, rel := range releases {
		add(model.Deployment{
			SHA:        rel.CommitSHA,
			Timestamp:  rel.Timestamp().UTC(),
			Tag:        rel.TagName,
			Provenance: model.FromRelease,
		})
	}

	// Manual deployment annotations, in dataset row order
	for _, rec := range ds.Rows() {
		if rec.ManualIsDeployment == nil || !*rec.ManualIsDeployment {
			continue
		}
		at := rec.EffectiveDeployedAt()
		add(model.Deployment{
			SHA:        rec.Commit.SHA,
			Timestamp:  at.UTC(),
			Provenance: model.ManualAnnotation,
		})
	}

	// Failure annotations ride along on the deployment so metrics never have
	// to re-derive them
	for i := range result.Deployments {
		d := &result.Deployments[i]
		rec := ds.Get(d.SHA)
		if rec.ManualFailed != nil && *rec.ManualFailed {
			d.Failed = true
		}
		if rec.ManualResolvedAt != nil {
			t := rec.ManualResolvedAt.UTC()
			d.ResolvedAt = &t
		}
	}

	sort.SliceStable(result.Deployments, func(i, j int) bool {
		return result.Deployments[i].Timestamp.Before(result.Deployments[j].Timestamp)
	})

	r.flagRollbacks(result, ds)

	r.logger.Debug("Deployment resolution complete", map[string]interface{}{
		"releases":    len(releases),
		"deployments": len(result.Deployments),
		"dangling":    len(result.Dangling),
	})
	return result
}

// flagRollbacks scans deployments in time order and flags any whose target
// commit predates code already deployed: the deployed code point moved
// backward in history. Rollbacks do not advance the frontier.
func (r *Resolver) flagRollbacks(result *Result, ds *model.Dataset) {
	var frontier time.Time
	haveFrontier := false

	for i := range result.Deployments {
		d := &result.Deployments[i]
		committed := ds.Get(d.SHA).Commit.CommittedAt

		if haveFrontier && committed.Before(frontier) {
			d.IsRollback = true
			continue
		}
		frontier = committed
		haveFrontier = true
	}
}

func describe(d model.Deployment) string {
	if d.Tag != "" {
		return d.Tag
	}
	return string(d.Provenance)
}
