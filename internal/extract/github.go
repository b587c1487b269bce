package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

const perPage = 100

// GitHubClient extracts pull request and release facts from the GitHub API
type GitHubClient struct {
	client *github.Client
	owner  string
	repo   string
	logger *logging.Logger
}

// NewGitHubClient creates a client. An empty token falls back to anonymous
// access, which works for public repositories at a much lower rate limit.
func NewGitHubClient(ctx context.Context, token, owner, repo string, logger *logging.Logger) *GitHubClient {
	var client *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}
	return &GitHubClient{client: client, owner: owner, repo: repo, logger: logger}
}

// PullRequests returns closed-state PRs updated since the given time (all of
// them when since is nil), each with its declared commit SHA list and labels.
func (c *GitHubClient) PullRequests(ctx context.Context, since *time.Time) ([]model.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var prs []model.PullRequest
	for {
		page, resp, err := c.client.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			if wait, ok := rateLimited(err); ok {
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("failed to list pull requests for %s/%s", c.owner, c.repo), err)
		}

		done := false
		for _, pr := range page {
			// Updated-descending order means everything past the watermark
			// has already been seen
			if since != nil && pr.GetUpdatedAt().Time.Before(*since) {
				done = true
				break
			}

			shas, err := c.pullRequestCommits(ctx, pr.GetNumber())
			if err != nil {
				return nil, err
			}
			prs = append(prs, mapPullRequest(pr, shas))
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info("Extracted pull requests", map[string]interface{}{
		"repo":          c.owner + "/" + c.repo,
		"pull_requests": len(prs),
	})
	return prs, nil
}

// pullRequestCommits fetches the declared commit SHA list for one PR
func (c *GitHubClient) pullRequestCommits(ctx context.Context, number int) ([]string, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var shas []string
	for {
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			if wait, ok := rateLimited(err); ok {
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("failed to list commits for PR #%d", number), err)
		}
		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}
		if resp.NextPage == 0 {
			return shas, nil
		}
		opts.Page = resp.NextPage
	}
}

// Releases returns every release with its tag and target SHA
func (c *GitHubClient) Releases(ctx context.Context) ([]model.Release, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var releases []model.Release
	for {
		page, resp, err := c.client.Repositories.ListReleases(ctx, c.owner, c.repo, opts)
		if err != nil {
			if wait, ok := rateLimited(err); ok {
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("failed to list releases for %s/%s", c.owner, c.repo), err)
		}

		for _, rel := range page {
			mapped, err := c.mapRelease(ctx, rel)
			if err != nil {
				return nil, err
			}
			releases = append(releases, mapped)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info("Extracted releases", map[string]interface{}{
		"repo":     c.owner + "/" + c.repo,
		"releases": len(releases),
	})
	return releases, nil
}

// mapRelease converts an API release, resolving its tag to a commit SHA.
// target_commitish can be a branch name, so the tag ref is authoritative.
func (c *GitHubClient) mapRelease(ctx context.Context, rel *github.RepositoryRelease) (model.Release, error) {
	out := model.Release{
		TagName:      rel.GetTagName(),
		Name:         rel.GetName(),
		CreatedAt:    rel.GetCreatedAt().Time.UTC(),
		IsPrerelease: rel.GetPrerelease(),
	}
	if published := rel.PublishedAt; published != nil {
		t := published.Time.UTC()
		out.PublishedAt = &t
	}

	sha, err := c.resolveTag(ctx, rel.GetTagName())
	if err != nil {
		return model.Release{}, err
	}
	if sha == "" {
		sha = rel.GetTargetCommitish()
	}
	out.CommitSHA = sha
	return out, nil
}

// resolveTag returns the commit SHA a tag points at, following annotated
// tag objects one level
func (c *GitHubClient) resolveTag(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		return "", nil
	}

	ref, _, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "tags/"+tag)
	if err != nil {
		if wait, ok := rateLimited(err); ok {
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}
			return c.resolveTag(ctx, tag)
		}
		// A release with a deleted tag is the caller's fallback case
		return "", nil
	}

	obj := ref.GetObject()
	if obj.GetType() != "tag" {
		return obj.GetSHA(), nil
	}

	tagObj, _, err := c.client.Git.GetTag(ctx, c.owner, c.repo, obj.GetSHA())
	if err != nil {
		return obj.GetSHA(), nil
	}
	return tagObj.GetObject().GetSHA(), nil
}

// mapPullRequest converts an API pull request to the fact model
func mapPullRequest(pr *github.PullRequest, shas []string) model.PullRequest {
	out := model.PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		State:          model.PROpen,
		CreatedAt:      pr.GetCreatedAt().Time.UTC(),
		UpdatedAt:      pr.GetUpdatedAt().Time.UTC(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		Commits:        shas,
		Author:         pr.GetUser().GetLogin(),
	}

	if closed := pr.ClosedAt; closed != nil {
		t := closed.Time.UTC()
		out.ClosedAt = &t
		out.State = model.PRClosed
	}
	if merged := pr.MergedAt; merged != nil {
		t := merged.Time.UTC()
		out.MergedAt = &t
		out.State = model.PRMerged
	}

	for _, label := range pr.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	return out
}

// rateLimited reports whether an API error is a rate limit and how long to
// wait before retrying
func rateLimited(err error) (time.Duration, bool) {
	if rle, ok := err.(*github.RateLimitError); ok {
		wait := time.Until(rle.Rate.Reset.Time) + time.Second
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}
	if are, ok := err.(*github.AbuseRateLimitError); ok {
		if are.RetryAfter != nil {
			return *are.RetryAfter, true
		}
		return time.Minute, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
