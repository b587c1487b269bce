package extract

import (
	"testing"
	"time"

	"github.com/google/go-github/v62/github"

	"dorametrics/internal/model"
)

func TestMapPullRequestMerged(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	merged := created.Add(6 * time.Hour)

	pr := &github.PullRequest{
		Number:         github.Int(42),
		Title:          github.String("Harden CSV import"),
		CreatedAt:      &github.Timestamp{Time: created},
		UpdatedAt:      &github.Timestamp{Time: merged},
		ClosedAt:       &github.Timestamp{Time: merged},
		MergedAt:       &github.Timestamp{Time: merged},
		MergeCommitSHA: github.String("deadbeef"),
		User:           &github.User{Login: github.String("ada")},
		Labels: []*github.Label{
			{Name: github.String("bug")},
			{Name: github.String("hotfix")},
		},
	}

	got := mapPullRequest(pr, []string{"c1", "c2"})
	if got.Number != 42 || got.State != model.PRMerged {
		t.Errorf("number/state wrong: %+v", got)
	}
	if got.MergedAt == nil || !got.MergedAt.Equal(merged) {
		t.Errorf("merged at = %v", got.MergedAt)
	}
	if got.MergeCommitSHA != "deadbeef" || got.Author != "ada" {
		t.Errorf("merge SHA/author wrong: %+v", got)
	}
	if len(got.Commits) != 2 || len(got.Labels) != 2 {
		t.Errorf("commits/labels wrong: %+v", got)
	}
}

func TestMapPullRequestOpen(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	pr := &github.PullRequest{
		Number:    github.Int(7),
		CreatedAt: &github.Timestamp{Time: created},
		UpdatedAt: &github.Timestamp{Time: created},
	}

	got := mapPullRequest(pr, nil)
	if got.State != model.PROpen {
		t.Errorf("state = %s, want OPEN", got.State)
	}
	if got.MergedAt != nil || got.ClosedAt != nil {
		t.Errorf("open PR has close/merge times: %+v", got)
	}
}

func TestMapPullRequestClosedUnmerged(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	closed := created.Add(time.Hour)
	pr := &github.PullRequest{
		Number:    github.Int(8),
		CreatedAt: &github.Timestamp{Time: created},
		UpdatedAt: &github.Timestamp{Time: closed},
		ClosedAt:  &github.Timestamp{Time: closed},
	}

	got := mapPullRequest(pr, nil)
	if got.State != model.PRClosed {
		t.Errorf("state = %s, want CLOSED", got.State)
	}
	if got.MergedAt != nil {
		t.Error("unmerged PR has a merge time")
	}
}

func TestRateLimited(t *testing.T) {
	rle := &github.RateLimitError{
		Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(30 * time.Second)}},
	}
	wait, ok := rateLimited(rle)
	if !ok || wait < time.Second {
		t.Errorf("rate limit not detected: wait=%v ok=%v", wait, ok)
	}

	retry := 10 * time.Second
	are := &github.AbuseRateLimitError{RetryAfter: &retry}
	wait, ok = rateLimited(are)
	if !ok || wait != retry {
		t.Errorf("abuse limit not honored: wait=%v ok=%v", wait, ok)
	}

	if _, ok := rateLimited(assertErr{}); ok {
		t.Error("ordinary error treated as rate limit")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
