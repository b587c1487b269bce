// Package pipeline orchestrates one batch run: watermark-gated extraction,
// association, deployment resolution, merge, atomic persistence, and only
// then the watermark advance. A failure anywhere leaves the master dataset
// and watermark at their previous values.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dorametrics/internal/associate"
	"dorametrics/internal/dataset"
	"dorametrics/internal/deploy"
	"dorametrics/internal/errors"
	"dorametrics/internal/incremental"
	"dorametrics/internal/logging"
	"dorametrics/internal/merge"
	"dorametrics/internal/model"
)

// CommitSource feeds commit facts for a branch, bounded below by since
type CommitSource interface {
	Commits(ctx context.Context, branch string, since *time.Time) ([]model.Commit, error)
}

// GitHubSource feeds pull request and release facts
type GitHubSource interface {
	PullRequests(ctx context.Context, since *time.Time) ([]model.PullRequest, error)
	Releases(ctx context.Context) ([]model.Release, error)
}

// Options configures one run. GitHub is optional: a commits-only run still
// merges and marks everything orphaned until PR facts arrive.
type Options struct {
	Repo         string
	Branch       string
	HotfixLabels []string
	Commits      CommitSource
	GitHub       GitHubSource
}

// RunSummary reports what one run did
type RunSummary struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Repo       string    `json:"repo" yaml:"repo"`
	Branch     string    `json:"branch" yaml:"branch"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	FreshCommits     int `json:"fresh_commits" yaml:"fresh_commits"`
	PullRequests     int `json:"pull_requests" yaml:"pull_requests"`
	Releases         int `json:"releases" yaml:"releases"`
	Deployments      int `json:"deployments" yaml:"deployments"`
	DanglingExcluded int `json:"dangling_excluded" yaml:"dangling_excluded"`
	RowsAdded        int `json:"rows_added" yaml:"rows_added"`
	RowsUpdated      int `json:"rows_updated" yaml:"rows_updated"`
	RowsTotal        int `json:"rows_total" yaml:"rows_total"`
	QuarantinedRows  int `json:"quarantined_rows" yaml:"quarantined_rows"`
	Warnings         int `json:"warnings" yaml:"warnings"`

	WatermarkAdvanced bool `json:"watermark_advanced" yaml:"watermark_advanced"`
}

// Pipeline runs the end-to-end incremental update
type Pipeline struct {
	repository *dataset.Repository
	tracker    *incremental.Tracker
	merger     *merge.Merger
	resolver   *deploy.Resolver
	logger     *logging.Logger
}

// New creates a pipeline over a repository and watermark tracker
func New(repository *dataset.Repository, tracker *incremental.Tracker, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		repository: repository,
		tracker:    tracker,
		merger:     merge.NewMerger(logger),
		resolver:   deploy.NewResolver(logger),
		logger:     logger,
	}
}

// Run executes one update for a repo. The watermark gates extraction and is
// saved only after the merged dataset has been persisted.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		Repo:      opts.Repo,
		Branch:    opts.Branch,
		StartedAt: time.Now().UTC(),
	}

	p.logger.Info("Run starting", map[string]interface{}{
		"run_id": summary.RunID,
		"repo":   opts.Repo,
		"branch": opts.Branch,
	})

	watermark, err := p.tracker.Load(opts.Repo)
	if err != nil {
		return nil, err
	}

	var since *time.Time
	if mark, ok := watermark.Since(opts.Branch); ok {
		t := mark.LastTimestamp
		since = &t
	}

	fresh, err := p.extract(ctx, opts, since)
	if err != nil {
		return nil, err
	}
	summary.FreshCommits = len(fresh.Commits)

	// Facts accumulate across runs so association always sees the full PR
	// and release universe, not just this window's slice
	stored, err := p.repository.LoadFacts(opts.Repo)
	if err != nil {
		return nil, err
	}
	combined := combineFacts(stored, fresh)
	summary.PullRequests = len(combined.PullRequests)
	summary.Releases = len(combined.Releases)

	prior, rejects, err := p.repository.LoadDataset(opts.Repo)
	if err != nil {
		return nil, err
	}
	summary.QuarantinedRows = len(rejects)

	assoc := associate.NewAssociator(opts.HotfixLabels, p.logger).
		Associate(combined.Commits, combined.PullRequests)

	// The resolver needs the post-merge commit universe
	universe := prior.Clone()
	for _, c := range combined.Commits {
		if universe.Get(c.SHA) == nil {
			_ = universe.Append(&model.AnnotationRecord{Commit: c, Source: model.SourceMachine})
		}
	}
	deployments := p.resolver.Resolve(combined.Releases, universe)
	summary.Deployments = len(deployments.Deployments)
	summary.DanglingExcluded = len(deployments.Dangling)

	next, mergeSummary := p.merger.Merge(prior, combined, assoc, deployments)
	summary.RowsAdded = mergeSummary.Added
	summary.RowsUpdated = mergeSummary.Updated
	summary.RowsTotal = next.Len()
	summary.Warnings = len(mergeSummary.Warnings)

	// Persistence order matters: dataset first, watermark last. If anything
	// here fails, the old watermark keeps the next run safely re-extracting.
	if err := p.repository.SaveFacts(opts.Repo, combined); err != nil {
		return nil, err
	}
	if err := p.repository.SaveDataset(opts.Repo, next, summary.RunID); err != nil {
		return nil, err
	}
	if err := p.repository.SaveRejects(opts.Repo, rejects); err != nil {
		return nil, err
	}

	if advanceWatermark(watermark, opts.Branch, fresh.Commits) {
		summary.WatermarkAdvanced = true
	}
	if err := p.tracker.Save(opts.Repo, watermark); err != nil {
		return nil, err
	}

	summary.FinishedAt = time.Now().UTC()
	p.logger.Info("Run complete", map[string]interface{}{
		"run_id":   summary.RunID,
		"rows":     summary.RowsTotal,
		"added":    summary.RowsAdded,
		"warnings": summary.Warnings,
	})
	return summary, nil
}

// Reprocess re-runs association, deployment resolution, and merge over the
// facts already on disk, without extracting anything new. Used after hotfix
// label changes or a CSV import to refresh machine fields. The watermark is
// left alone.
func (p *Pipeline) Reprocess(ctx context.Context, repo string, hotfixLabels []string) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		Repo:      repo,
		StartedAt: time.Now().UTC(),
	}

	stored, err := p.repository.LoadFacts(repo)
	if err != nil {
		return nil, err
	}
	summary.PullRequests = len(stored.PullRequests)
	summary.Releases = len(stored.Releases)

	prior, rejects, err := p.repository.LoadDataset(repo)
	if err != nil {
		return nil, err
	}
	summary.QuarantinedRows = len(rejects)

	assoc := associate.NewAssociator(hotfixLabels, p.logger).
		Associate(stored.Commits, stored.PullRequests)

	universe := prior.Clone()
	for _, c := range stored.Commits {
		if universe.Get(c.SHA) == nil {
			_ = universe.Append(&model.AnnotationRecord{Commit: c, Source: model.SourceMachine})
		}
	}
	deployments := p.resolver.Resolve(stored.Releases, universe)
	summary.Deployments = len(deployments.Deployments)
	summary.DanglingExcluded = len(deployments.Dangling)

	next, mergeSummary := p.merger.Merge(prior, stored, assoc, deployments)
	summary.RowsAdded = mergeSummary.Added
	summary.RowsUpdated = mergeSummary.Updated
	summary.RowsTotal = next.Len()
	summary.Warnings = len(mergeSummary.Warnings)

	if err := p.repository.SaveDataset(repo, next, summary.RunID); err != nil {
		return nil, err
	}
	if err := p.repository.SaveRejects(repo, rejects); err != nil {
		return nil, err
	}

	summary.FinishedAt = time.Now().UTC()
	p.logger.Info("Reprocess complete", map[string]interface{}{
		"run_id": summary.RunID,
		"rows":   summary.RowsTotal,
	})
	return summary, nil
}

func (p *Pipeline) extract(ctx context.Context, opts Options, since *time.Time) (model.FreshFacts, error) {
	var facts model.FreshFacts

	if opts.Commits != nil {
		commits, err := opts.Commits.Commits(ctx, opts.Branch, since)
		if err != nil {
			return facts, err
		}
		facts.Commits = commits
	}

	if opts.GitHub != nil {
		prs, err := opts.GitHub.PullRequests(ctx, since)
		if err != nil {
			return facts, err
		}
		facts.PullRequests = prs

		releases, err := opts.GitHub.Releases(ctx)
		if err != nil {
			return facts, err
		}
		facts.Releases = releases
	}

	if opts.Commits == nil && opts.GitHub == nil {
		return facts, errors.New(errors.ExtractionFailure, "run has no extractors configured", nil)
	}
	return facts, nil
}

// advanceWatermark moves the branch position to the newest fresh commit.
// It reports whether anything moved.
func advanceWatermark(w *incremental.Watermark, branch string, fresh []model.Commit) bool {
	before, had := w.Since(branch)

	for _, c := range fresh {
		w.Advance(branch, c.SHA, c.CommittedAt)
	}

	after, ok := w.Since(branch)
	return ok && (!had || after != before)
}

// combineFacts overlays fresh facts onto stored ones: commits dedupe by SHA,
// pull requests by number (fresh wins, state may have advanced), releases by
// tag plus SHA.
func combineFacts(stored, fresh model.FreshFacts) model.FreshFacts {
	var out model.FreshFacts

	seenCommit := make(map[string]bool)
	for _, c := range append(stored.Commits, fresh.Commits...) {
		if seenCommit[c.SHA] {
			continue
		}
		seenCommit[c.SHA] = true
		out.Commits = append(out.Commits, c)
	}

	freshPR := make(map[int]bool, len(fresh.PullRequests))
	for _, pr := range fresh.PullRequests {
		freshPR[pr.Number] = true
	}
	for _, pr := range stored.PullRequests {
		if !freshPR[pr.Number] {
			out.PullRequests = append(out.PullRequests, pr)
		}
	}
	out.PullRequests = append(out.PullRequests, fresh.PullRequests...)

	seenRelease := make(map[string]bool)
	for _, rel := range append(stored.Releases, fresh.Releases...) {
		key := rel.TagName + "@" + rel.CommitSHA
		if seenRelease[key] {
			continue
		}
		seenRelease[key] = true
		out.Releases = append(out.Releases, rel)
	}
	return out
}
