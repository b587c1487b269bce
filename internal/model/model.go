// Package model defines the data model shared by every dorametrics stage:
// extracted facts (commits, pull requests, releases), derived deployments,
// and the long-lived annotation records that make up the master dataset.
package model

import (
	"fmt"
	"time"
)

// PRState represents a pull request state
type PRState string

const (
	PROpen   PRState = "OPEN"
	PRClosed PRState = "CLOSED"
	PRMerged PRState = "MERGED"
)

// Provenance says where a deployment record came from
type Provenance string

const (
	// FromRelease marks a deployment derived from a published release
	FromRelease Provenance = "from_release"
	// ManualAnnotation marks a deployment entered by a human in the dataset
	ManualAnnotation Provenance = "manual_annotation"
)

// RecordSource distinguishes machine-derived rows from human-edited ones
type RecordSource string

const (
	SourceMachine RecordSource = "machine"
	SourceHuman   RecordSource = "human"
)

// Commit is an immutable extracted fact. The SHA is the primary identifier;
// nothing mutates a Commit after extraction.
type Commit struct {
	SHA            string    `json:"sha"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	AuthoredAt     time.Time `json:"authored_at"`
	CommitterName  string    `json:"committer_name"`
	CommitterEmail string    `json:"committer_email"`
	CommittedAt    time.Time `json:"committed_at"`
	Message        string    `json:"message"`
	FilesChanged   []string  `json:"files_changed,omitempty"`
	Additions      int       `json:"additions"`
	Deletions      int       `json:"deletions"`
}

// PullRequest is an extracted fact identified by its number. State can move
// open→merged between extraction runs; re-extraction is the only mutator.
type PullRequest struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	State          PRState    `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	MergedAt       *time.Time `json:"merged_at,omitempty"`
	MergeCommitSHA string     `json:"merge_commit_sha,omitempty"`
	Commits        []string   `json:"commits,omitempty"`
	Author         string     `json:"author,omitempty"`
	Labels         []string   `json:"labels,omitempty"`

	// IsHotfix is derived from labels at association time
	IsHotfix bool `json:"is_hotfix"`
}

// Release is a deployment-shaped fact from the release feed
type Release struct {
	TagName      string     `json:"tag_name"`
	Name         string     `json:"name"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CommitSHA    string     `json:"commit_sha"`
	IsPrerelease bool       `json:"is_prerelease"`
}

// Timestamp returns the publish time, falling back to creation time for
// releases that were never published.
func (r Release) Timestamp() time.Time {
	if r.PublishedAt != nil {
		return *r.PublishedAt
	}
	return r.CreatedAt
}

// Deployment is a resolved deployment event. The composite key is
// SHA+Timestamp because the same SHA can be deployed more than once.
type Deployment struct {
	SHA        string     `json:"sha"`
	Timestamp  time.Time  `json:"timestamp"`
	Tag        string     `json:"tag,omitempty"`
	IsRollback bool       `json:"is_rollback"`
	Provenance Provenance `json:"provenance"`
	Failed     bool       `json:"failed"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Key returns the composite identity of a deployment
func (d Deployment) Key() string {
	return fmt.Sprintf("%s@%s", d.SHA, d.Timestamp.UTC().Format(time.RFC3339Nano))
}

// AnnotationRecord is one row of the master dataset: the commit facts plus
// everything resolved or hand-entered for that commit. Manual fields are
// pointers so "unset" is distinguishable from an explicit false.
type AnnotationRecord struct {
	Commit Commit `json:"commit"`

	// Machine-derived associations
	PRNumber      *int       `json:"pr_number,omitempty"`
	PRIsHotfix    bool       `json:"pr_is_hotfix"`
	Orphaned      bool       `json:"orphaned"`
	DeployedAt    *time.Time `json:"deployed_at,omitempty"`
	DeploymentTag string     `json:"deployment_tag,omitempty"`

	// Human overrides. Once set, merge never silently clears them.
	ManualIsDeployment *bool      `json:"manual_is_deployment,omitempty"`
	ManualDeployedAt   *time.Time `json:"manual_deployed_at,omitempty"`
	ManualIsHotfix     *bool      `json:"manual_is_hotfix,omitempty"`
	ManualFailed       *bool      `json:"manual_failed,omitempty"`
	ManualResolvedAt   *time.Time `json:"manual_resolved_at,omitempty"`
	ManualNotes        string     `json:"manual_notes,omitempty"`

	Source RecordSource `json:"source"`
}

// HasManualEdits reports whether any human-entered field is set
func (r *AnnotationRecord) HasManualEdits() bool {
	return r.ManualIsDeployment != nil ||
		r.ManualDeployedAt != nil ||
		r.ManualIsHotfix != nil ||
		r.ManualFailed != nil ||
		r.ManualResolvedAt != nil ||
		r.ManualNotes != ""
}

// EffectiveDeployedAt returns the deployment time for this row, preferring a
// manual annotation over the machine-resolved value. A manual deployment with
// no timestamp defaults to the commit time.
func (r *AnnotationRecord) EffectiveDeployedAt() *time.Time {
	if r.ManualIsDeployment != nil && *r.ManualIsDeployment {
		if r.ManualDeployedAt != nil {
			return r.ManualDeployedAt
		}
		t := r.Commit.CommittedAt
		return &t
	}
	return r.DeployedAt
}

// EffectiveHotfix reports whether this row counts as a hotfix, preferring a
// manual override over the PR-label derivation.
func (r *AnnotationRecord) EffectiveHotfix() bool {
	if r.ManualIsHotfix != nil {
		return *r.ManualIsHotfix
	}
	return r.PRIsHotfix
}

// Dataset is the in-memory master dataset: insertion-ordered rows indexed by
// commit SHA. Insertion order is the stable tie-break everywhere downstream.
type Dataset struct {
	rows  []*AnnotationRecord
	bySHA map[string]*AnnotationRecord
}

// NewDataset creates an empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		bySHA: make(map[string]*AnnotationRecord),
	}
}

// Append adds a row; the SHA must not already be present
func (d *Dataset) Append(rec *AnnotationRecord) error {
	if _, ok := d.bySHA[rec.Commit.SHA]; ok {
		return fmt.Errorf("duplicate commit SHA %s", rec.Commit.SHA)
	}
	d.rows = append(d.rows, rec)
	d.bySHA[rec.Commit.SHA] = rec
	return nil
}

// Get returns the row for a SHA, or nil
func (d *Dataset) Get(sha string) *AnnotationRecord {
	return d.bySHA[sha]
}

// Rows returns rows in insertion order. Callers must not reorder the slice.
func (d *Dataset) Rows() []*AnnotationRecord {
	return d.rows
}

// Len returns the row count
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Clone returns a deep copy. Merging never mutates its inputs.
func (d *Dataset) Clone() *Dataset {
	out := NewDataset()
	for _, rec := range d.rows {
		c := *rec
		c.Commit.FilesChanged = append([]string(nil), rec.Commit.FilesChanged...)
		c.PRNumber = clonePtr(rec.PRNumber)
		c.DeployedAt = clonePtr(rec.DeployedAt)
		c.ManualIsDeployment = clonePtr(rec.ManualIsDeployment)
		c.ManualDeployedAt = clonePtr(rec.ManualDeployedAt)
		c.ManualIsHotfix = clonePtr(rec.ManualIsHotfix)
		c.ManualFailed = clonePtr(rec.ManualFailed)
		c.ManualResolvedAt = clonePtr(rec.ManualResolvedAt)
		_ = out.Append(&c)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FreshFacts bundles one extraction window's worth of input to the pipeline
type FreshFacts struct {
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pull_requests"`
	Releases     []Release     `json:"releases"`
}
