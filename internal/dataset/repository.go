package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
	"dorametrics/internal/storage"
)

// Blob names inside each repo's directory
const (
	commitsBlob  = "commits.json"
	pullsBlob    = "pull_requests.json"
	releasesBlob = "releases.json"
	datasetBlob  = "dataset.csv"
	rejectsBlob  = "rejects.json"
	metadataBlob = "metadata.json"
	archiveDir   = "archive"
)

// Metadata records bookkeeping for a repo's dataset, written on every save
type Metadata struct {
	Repo        string    `json:"repo"`
	Rows        int       `json:"rows"`
	LastSavedAt time.Time `json:"last_saved_at"`
	LastRunID   string    `json:"last_run_id,omitempty"`
}

// Repository stores per-repo fact blobs and the master dataset on a storage
// backend. Each repo gets its own directory; the master dataset is archived
// before every replace so no revision is ever lost.
type Repository struct {
	backend  storage.Backend
	archiver *storage.Archiver
	logger   *logging.Logger
}

// NewRepository creates a repository over a backend
func NewRepository(backend storage.Backend, logger *logging.Logger) *Repository {
	return &Repository{
		backend:  backend,
		archiver: storage.NewArchiver(backend),
		logger:   logger,
	}
}

// SaveFacts persists one extraction window's raw facts as JSON blobs
func (r *Repository) SaveFacts(repo string, facts model.FreshFacts) error {
	blobs := map[string]interface{}{
		commitsBlob:  facts.Commits,
		pullsBlob:    facts.PullRequests,
		releasesBlob: facts.Releases,
	}
	for name, v := range blobs {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.New(errors.StorageFailure, fmt.Sprintf("failed to encode %s", name), err)
		}
		if err := r.backend.Write(path.Join(repo, name), data); err != nil {
			return errors.New(errors.StorageFailure, fmt.Sprintf("failed to write %s", name), err)
		}
	}
	return nil
}

// LoadFacts reads previously extracted facts. Missing blobs come back empty:
// a repo that never had a GitHub extraction simply has no pull requests yet.
func (r *Repository) LoadFacts(repo string) (model.FreshFacts, error) {
	var facts model.FreshFacts
	if err := r.loadJSON(path.Join(repo, commitsBlob), &facts.Commits); err != nil {
		return facts, err
	}
	if err := r.loadJSON(path.Join(repo, pullsBlob), &facts.PullRequests); err != nil {
		return facts, err
	}
	if err := r.loadJSON(path.Join(repo, releasesBlob), &facts.Releases); err != nil {
		return facts, err
	}
	return facts, nil
}

func (r *Repository) loadJSON(blobPath string, v interface{}) error {
	if !r.backend.Exists(blobPath) {
		return nil
	}
	data, err := r.backend.Read(blobPath)
	if err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to read %s", blobPath), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.DatasetUnreadable, fmt.Sprintf("failed to decode %s", blobPath), err)
	}
	return nil
}

// HasDataset reports whether a master dataset exists for the repo
func (r *Repository) HasDataset(repo string) bool {
	return r.backend.Exists(path.Join(repo, datasetBlob))
}

// LoadDataset reads the master dataset. A repo with no dataset yet returns
// an empty one; an unreadable dataset aborts, because merging fresh facts
// into a partial read would silently drop annotations.
func (r *Repository) LoadDataset(repo string) (*model.Dataset, []RejectedRow, error) {
	blobPath := path.Join(repo, datasetBlob)
	if !r.backend.Exists(blobPath) {
		return model.NewDataset(), nil, nil
	}

	data, err := r.backend.Read(blobPath)
	if err != nil {
		return nil, nil, errors.New(errors.DatasetUnreadable, fmt.Sprintf("failed to read dataset for %s", repo), err)
	}
	return Decode(data)
}

// SaveDataset archives the current revision, then atomically replaces the
// master dataset and refreshes metadata.
func (r *Repository) SaveDataset(repo string, ds *model.Dataset, runID string) error {
	blobPath := path.Join(repo, datasetBlob)

	if r.backend.Exists(blobPath) {
		prev, err := r.backend.Read(blobPath)
		if err != nil {
			return errors.New(errors.StorageFailure, fmt.Sprintf("failed to read prior dataset for %s", repo), err)
		}
		archived, err := r.archiver.Archive(path.Join(repo, archiveDir), "dataset", prev)
		if err != nil {
			return errors.New(errors.StorageFailure, fmt.Sprintf("failed to archive prior dataset for %s", repo), err)
		}
		r.logger.Debug("Archived prior dataset revision", map[string]interface{}{
			"repo": repo,
			"path": archived,
		})
	}

	data, err := Encode(ds)
	if err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to encode dataset for %s", repo), err)
	}
	if err := r.backend.Write(blobPath, data); err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to write dataset for %s", repo), err)
	}

	meta := Metadata{
		Repo:        repo,
		Rows:        ds.Len(),
		LastSavedAt: time.Now().UTC(),
		LastRunID:   runID,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.New(errors.StorageFailure, "failed to encode metadata", err)
	}
	if err := r.backend.Write(path.Join(repo, metadataBlob), metaData); err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to write metadata for %s", repo), err)
	}

	r.logger.Info("Saved dataset", map[string]interface{}{
		"repo": repo,
		"rows": ds.Len(),
	})
	return nil
}

// SaveRejects persists the quarantined rows from the latest run. An empty
// list clears the previous run's rejects.
func (r *Repository) SaveRejects(repo string, rejects []RejectedRow) error {
	blobPath := path.Join(repo, rejectsBlob)
	if len(rejects) == 0 {
		if err := r.backend.Delete(blobPath); err != nil {
			return errors.New(errors.StorageFailure, fmt.Sprintf("failed to clear rejects for %s", repo), err)
		}
		return nil
	}

	data, err := json.MarshalIndent(rejects, "", "  ")
	if err != nil {
		return errors.New(errors.StorageFailure, "failed to encode rejects", err)
	}
	if err := r.backend.Write(blobPath, data); err != nil {
		return errors.New(errors.StorageFailure, fmt.Sprintf("failed to write rejects for %s", repo), err)
	}
	return nil
}

// LoadRejects reads the quarantined rows from the latest run, if any
func (r *Repository) LoadRejects(repo string) ([]RejectedRow, error) {
	var rejects []RejectedRow
	if err := r.loadJSON(path.Join(repo, rejectsBlob), &rejects); err != nil {
		return nil, err
	}
	return rejects, nil
}

// LoadMetadata reads a repo's bookkeeping record
func (r *Repository) LoadMetadata(repo string) (*Metadata, error) {
	blobPath := path.Join(repo, metadataBlob)
	if !r.backend.Exists(blobPath) {
		return nil, os.ErrNotExist
	}
	var meta Metadata
	if err := r.loadJSON(blobPath, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListRepos returns the names of repos that have any stored data
func (r *Repository) ListRepos() ([]string, error) {
	paths, err := r.backend.List("")
	if err != nil {
		return nil, errors.New(errors.StorageFailure, "failed to list repos", err)
	}

	seen := make(map[string]bool)
	var repos []string
	for _, p := range paths {
		repo, _, ok := strings.Cut(p, "/")
		if !ok || seen[repo] {
			continue
		}
		seen[repo] = true
		repos = append(repos, repo)
	}
	return repos, nil
}

// ListArchives returns archived dataset revisions for a repo, oldest first
func (r *Repository) ListArchives(repo string) ([]string, error) {
	paths, err := r.backend.List(path.Join(repo, archiveDir))
	if err != nil {
		return nil, errors.New(errors.StorageFailure, fmt.Sprintf("failed to list archives for %s", repo), err)
	}
	return paths, nil
}

// RestoreArchive decodes an archived dataset revision
func (r *Repository) RestoreArchive(archivePath string) (*model.Dataset, []RejectedRow, error) {
	data, err := r.archiver.Restore(archivePath)
	if err != nil {
		return nil, nil, errors.New(errors.StorageFailure, fmt.Sprintf("failed to restore %s", archivePath), err)
	}
	return Decode(data)
}

// PruneArchives deletes archived revisions older than the retention window.
// A zero or negative retention keeps everything.
func (r *Repository) PruneArchives(repo string, retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	archives, err := r.ListArchives(repo)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-retention)
	pruned := 0
	for _, p := range archives {
		ts, ok := archiveTimestamp(p)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := r.backend.Delete(p); err != nil {
			return pruned, errors.New(errors.StorageFailure, fmt.Sprintf("failed to prune %s", p), err)
		}
		pruned++
	}

	if pruned > 0 {
		r.logger.Info("Pruned archived revisions", map[string]interface{}{
			"repo":   repo,
			"pruned": pruned,
		})
	}
	return pruned, nil
}

// archiveTimestamp extracts the timestamp from an archive blob name of the
// form dataset-<timestamp>.zst
func archiveTimestamp(p string) (time.Time, bool) {
	name := path.Base(p)
	name = strings.TrimSuffix(name, storage.ArchiveSuffix)
	_, stamp, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse("20060102T150405Z", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
