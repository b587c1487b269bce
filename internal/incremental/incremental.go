// Package incremental tracks how far extraction has progressed so repeated
// runs only reconcile new facts. The watermark advances only after a merge
// pass has fully persisted; a failed run leaves it untouched.
package incremental

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/storage"
)

// SchemaVersion guards against reading watermarks written by incompatible
// versions of the tool
const SchemaVersion = 1

const watermarkBlob = "watermark.json"

// BranchMark is the last processed position on one branch
type BranchMark struct {
	LastSHA       string    `json:"last_sha"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

// Watermark is the per-repo extraction position across branches
type Watermark struct {
	SchemaVersion int                   `json:"schema_version"`
	Branches      map[string]BranchMark `json:"branches"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// NewWatermark returns an empty watermark at the current schema
func NewWatermark() *Watermark {
	return &Watermark{
		SchemaVersion: SchemaVersion,
		Branches:      make(map[string]BranchMark),
	}
}

// Since returns the last processed position for a branch. ok is false when
// the branch has never been processed, meaning a full extraction is due.
func (w *Watermark) Since(branch string) (BranchMark, bool) {
	mark, ok := w.Branches[branch]
	return mark, ok
}

// Advance moves a branch's position forward. Positions never move backward:
// replaying an old window must not regress the watermark.
func (w *Watermark) Advance(branch, sha string, ts time.Time) {
	if mark, ok := w.Branches[branch]; ok && !ts.After(mark.LastTimestamp) {
		return
	}
	w.Branches[branch] = BranchMark{LastSHA: sha, LastTimestamp: ts.UTC()}
}

// Tracker persists watermarks per repo on the storage backend
type Tracker struct {
	backend storage.Backend
	logger  *logging.Logger
}

// NewTracker creates a tracker
func NewTracker(backend storage.Backend, logger *logging.Logger) *Tracker {
	return &Tracker{backend: backend, logger: logger}
}

func watermarkPath(repo string) string {
	return path.Join(repo, watermarkBlob)
}

// Load reads a repo's watermark. A repo with no watermark gets a fresh empty
// one; an unparseable or schema-incompatible watermark aborts the run, since
// guessing a position could silently skip or duplicate facts.
func (t *Tracker) Load(repo string) (*Watermark, error) {
	p := watermarkPath(repo)
	if !t.backend.Exists(p) {
		return NewWatermark(), nil
	}

	data, err := t.backend.Read(p)
	if err != nil {
		return nil, errors.New(errors.StorageFailure, fmt.Sprintf("failed to read watermark for %s", repo), err)
	}

	var w Watermark
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.New(errors.WatermarkCorrupt, fmt.Sprintf("watermark for %s is not parseable", repo), err)
	}
	if w.SchemaVersion != SchemaVersion {
		return nil, errors.New(errors.WatermarkCorrupt,
			fmt.Sprintf("watermark for %s has schema version %d, expected %d", repo, w.SchemaVersion, SchemaVersion), nil)
	}
	if w.Branches == nil {
		w.Branches = make(map[string]BranchMark)
	}
	return &w, nil
}

// Save persists a repo's watermark atomically
func (t *Tracker) Save(repo string, w *Watermark) error {
	w.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return errors.New(errors.StorageFailure, "failed to encode watermark", err)
	}
	if err := t.backend.Write(watermarkPath(repo), data); err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to write watermark for %s", repo), err)
	}

	t.logger.Debug("Watermark saved", map[string]interface{}{
		"repo":     repo,
		"branches": len(w.Branches),
	})
	return nil
}

// Reset removes a repo's watermark, forcing the next run to extract from
// scratch
func (t *Tracker) Reset(repo string) error {
	if err := t.backend.Delete(watermarkPath(repo)); err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to reset watermark for %s", repo), err)
	}
	return nil
}
