// Package associate links commits to the pull requests that carried them.
// Declared commit lists are authoritative; merge-commit message patterns are
// the fallback for squash and merge commits the lists never mention.
package associate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// Association is the resolved PR link for a single commit
type Association struct {
	PRNumber int  `json:"pr_number"`
	IsHotfix bool `json:"is_hotfix"`
}

// Result is the full outcome of one association pass. Orphans lists commits
// no PR claims; warnings record every ambiguity without blocking anything.
type Result struct {
	BySHA    map[string]Association
	Orphans  []string
	Warnings []*errors.DoraError
}

// Associator links commits to pull requests
type Associator struct {
	hotfixLabels map[string]bool
	logger       *logging.Logger
}

// NewAssociator creates an associator. Hotfix labels match case-insensitively.
func NewAssociator(hotfixLabels []string, logger *logging.Logger) *Associator {
	labels := make(map[string]bool, len(hotfixLabels))
	for _, l := range hotfixLabels {
		labels[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return &Associator{hotfixLabels: labels, logger: logger}
}

var (
	mergeCommitPattern  = regexp.MustCompile(`^Merge pull request #(\d+)`)
	squashSuffixPattern = regexp.MustCompile(`\(#(\d+)\)\s*$`)
)

// Associate links every commit to at most one pull request. The pass is a
// pure function of its inputs: same commits and PRs always produce the same
// result, and re-running it changes nothing.
func (a *Associator) Associate(commits []model.Commit, prs []model.PullRequest) *Result {
	result := &Result{
		BySHA: make(map[string]Association, len(commits)),
	}

	byNumber := make(map[int]*model.PullRequest, len(prs))
	for i := range prs {
		byNumber[prs[i].Number] = &prs[i]
	}

	// Declared commit lists first. When more than one merged PR claims the
	// same commit, the earliest merge wins and the conflict is recorded.
	claims := make(map[string][]*model.PullRequest)
	for i := range prs {
		pr := &prs[i]
		if pr.State != model.PRMerged || pr.MergedAt == nil {
			continue
		}
		for _, sha := range pr.Commits {
			claims[sha] = append(claims[sha], pr)
		}
		if pr.MergeCommitSHA != "" {
			claims[pr.MergeCommitSHA] = append(claims[pr.MergeCommitSHA], pr)
		}
	}

	for _, commit := range commits {
		claimants := dedupeClaims(claims[commit.SHA])

		var winner *model.PullRequest
		switch len(claimants) {
		case 0:
			// Fall back to the merge/squash message
			if num, ok := prNumberFromMessage(commit.Message); ok {
				if pr, exists := byNumber[num]; exists && pr.State == model.PRMerged {
					winner = pr
				}
			}
		case 1:
			winner = claimants[0]
		default:
			winner = earliestMerged(claimants)
			result.Warnings = append(result.Warnings,
				errors.New(errors.AmbiguousAssociation,
					fmt.Sprintf("commit %s claimed by %d pull requests, keeping #%d (earliest merge)",
						commit.SHA, len(claimants), winner.Number), nil).
					WithDetails(map[string]interface{}{
						"sha":         commit.SHA,
						"pr_numbers":  prNumbers(claimants),
						"selected_pr": winner.Number,
					}))
		}

		if winner == nil {
			result.Orphans = append(result.Orphans, commit.SHA)
			result.Warnings = append(result.Warnings,
				errors.New(errors.OrphanedCommit,
					fmt.Sprintf("commit %s has no resolvable pull request", commit.SHA), nil))
			continue
		}

		result.BySHA[commit.SHA] = Association{
			PRNumber: winner.Number,
			IsHotfix: a.isHotfix(winner),
		}
	}

	a.logger.Debug("Association pass complete", map[string]interface{}{
		"commits":    len(commits),
		"associated": len(result.BySHA),
		"orphans":    len(result.Orphans),
		"warnings":   len(result.Warnings),
	})
	return result
}

// isHotfix reports whether any PR label matches the configured hotfix set
func (a *Associator) isHotfix(pr *model.PullRequest) bool {
	for _, label := range pr.Labels {
		if a.hotfixLabels[strings.ToLower(strings.TrimSpace(label))] {
			return true
		}
	}
	return false
}

// prNumberFromMessage extracts a PR number from the first line of a commit
// message: GitHub merge commits ("Merge pull request #N from ...") and
// squash commits ("Subject (#N)").
func prNumberFromMessage(message string) (int, bool) {
	subject, _, _ := strings.Cut(message, "\n")

	if m := mergeCommitPattern.FindStringSubmatch(subject); m != nil {
		num, err := strconv.Atoi(m[1])
		return num, err == nil
	}
	if m := squashSuffixPattern.FindStringSubmatch(subject); m != nil {
		num, err := strconv.Atoi(m[1])
		return num, err == nil
	}
	return 0, false
}

// dedupeClaims collapses a PR claiming the same commit twice (declared list
// plus merge commit SHA) into a single claim.
func dedupeClaims(prs []*model.PullRequest) []*model.PullRequest {
	if len(prs) < 2 {
		return prs
	}
	seen := make(map[int]bool, len(prs))
	out := prs[:0]
	for _, pr := range prs {
		if seen[pr.Number] {
			continue
		}
		seen[pr.Number] = true
		out = append(out, pr)
	}
	return out
}

// earliestMerged picks the PR with the earliest merge time, breaking ties by
// the lower PR number so reruns always pick the same winner.
func earliestMerged(prs []*model.PullRequest) *model.PullRequest {
	winner := prs[0]
	for _, pr := range prs[1:] {
		switch {
		case pr.MergedAt.Before(*winner.MergedAt):
			winner = pr
		case pr.MergedAt.Equal(*winner.MergedAt) && pr.Number < winner.Number:
			winner = pr
		}
	}
	return winner
}

func prNumbers(prs []*model.PullRequest) []int {
	nums := make([]int, len(prs))
	for i, pr := range prs {
		nums[i] = pr.Number
	}
	sort.Ints(nums)
	return nums
}
