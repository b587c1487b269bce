// Package extract supplies the external fact feeds: commit history from a
// local git checkout and pull requests plus releases from the GitHub API.
package extract

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

// Field and record separators for the git log pretty format. Unit/record
// separator control characters cannot appear in commit metadata.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

var logFormat = strings.Join([]string{
	"%H", "%an", "%ae", "%aI", "%cn", "%ce", "%cI", "%B",
}, fieldSep)

// GitExtractor reads commit facts from a local repository by shelling out to
// git, the same way the tool inspects any working copy.
type GitExtractor struct {
	repoPath string
	logger   *logging.Logger
}

// NewGitExtractor creates an extractor rooted at a local checkout
func NewGitExtractor(repoPath string, logger *logging.Logger) *GitExtractor {
	return &GitExtractor{repoPath: repoPath, logger: logger}
}

// Verify checks that the path is inside a git repository
func (g *GitExtractor) Verify(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = g.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.New(errors.ExtractionFailure,
			fmt.Sprintf("%s is not a git repository: %s", g.repoPath, strings.TrimSpace(string(out))), err)
	}
	return nil
}

// Commits returns the branch history, newest first as git reports it. A
// non-nil since bounds extraction to commits strictly after that time,
// which is how the watermark scopes incremental runs.
func (g *GitExtractor) Commits(ctx context.Context, branch string, since *time.Time) ([]model.Commit, error) {
	args := []string{
		"log", branch,
		"--numstat",
		"--pretty=format:" + recordSep + logFormat,
	}
	if since != nil {
		args = append(args, "--since="+since.UTC().Format(time.RFC3339))
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.Output()
	if err != nil {
		detail := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, errors.New(errors.ExtractionFailure,
			fmt.Sprintf("git log failed for branch %s: %s", branch, detail), err)
	}

	commits, err := parseGitLog(out)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Extracted commits", map[string]interface{}{
		"branch":  branch,
		"commits": len(commits),
	})
	return commits, nil
}

// parseGitLog splits record-separated git log output into commits. Each
// record is the pretty-format header followed by numstat lines.
func parseGitLog(out []byte) ([]model.Commit, error) {
	var commits []model.Commit

	for _, record := range strings.Split(string(out), recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		fields := strings.SplitN(record, fieldSep, 8)
		if len(fields) != 8 {
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("malformed git log record with %d fields", len(fields)), nil)
		}

		authoredAt, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("bad author date for %s", fields[0]), err)
		}
		committedAt, err := time.Parse(time.RFC3339, fields[6])
		if err != nil {
			return nil, errors.New(errors.ExtractionFailure,
				fmt.Sprintf("bad commit date for %s", fields[0]), err)
		}

		// The message runs until the numstat block. Numstat lines look like
		// "12\t3\tpath" so the first tab-bearing trailing block is stats.
		message, stats := splitMessageAndStats(fields[7])
		commit := model.Commit{
			SHA:            fields[0],
			AuthorName:     fields[1],
			AuthorEmail:    fields[2],
			AuthoredAt:     authoredAt.UTC(),
			CommitterName:  fields[4],
			CommitterEmail: fields[5],
			CommittedAt:    committedAt.UTC(),
			Message:        message,
		}

		for _, line := range stats {
			adds, dels, path, ok := parseNumstat(line)
			if !ok {
				continue
			}
			commit.FilesChanged = append(commit.FilesChanged, path)
			commit.Additions += adds
			commit.Deletions += dels
		}

		commits = append(commits, commit)
	}
	return commits, nil
}

// splitMessageAndStats separates the %B message body from the numstat lines
// that follow it in the same record
func splitMessageAndStats(tail string) (string, []string) {
	lines := strings.Split(tail, "\n")

	// Numstat lines form a contiguous block at the end
	statStart := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if _, _, _, ok := parseNumstat(line); !ok {
			break
		}
		statStart = i
	}

	message := strings.TrimSpace(strings.Join(lines[:statStart], "\n"))
	var stats []string
	for _, line := range lines[statStart:] {
		if strings.TrimSpace(line) != "" {
			stats = append(stats, line)
		}
	}
	return message, stats
}

// parseNumstat parses one "additions\tdeletions\tpath" line. Binary files
// report "-" for both counts and contribute zero line changes.
func parseNumstat(line string) (int, int, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "\t", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}

	adds, err := parseStatCount(parts[0])
	if err != nil {
		return 0, 0, "", false
	}
	dels, err := parseStatCount(parts[1])
	if err != nil {
		return 0, 0, "", false
	}
	return adds, dels, parts[2], true
}

func parseStatCount(s string) (int, error) {
	if s == "-" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
