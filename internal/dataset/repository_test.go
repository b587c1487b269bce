package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dorametrics/internal/logging"
	"dorametrics/internal/model"
	"dorametrics/internal/storage"
)

func setupRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewLocalBackend(dir, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return NewRepository(backend, logging.NewDiscardLogger()), dir
}

func TestSaveAndLoadFacts(t *testing.T) {
	repo, _ := setupRepository(t)

	merged := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	facts := model.FreshFacts{
		Commits: []model.Commit{sampleRecord("fact1").Commit},
		PullRequests: []model.PullRequest{{
			Number:    7,
			Title:     "Teach the resolver about prereleases",
			State:     model.PRMerged,
			CreatedAt: merged.Add(-24 * time.Hour),
			UpdatedAt: merged,
			MergedAt:  &merged,
			Commits:   []string{"fact1"},
		}},
		Releases: []model.Release{{
			TagName:   "v2.0.0",
			CreatedAt: merged.Add(time.Hour),
			CommitSHA: "fact1",
		}},
	}

	if err := repo.SaveFacts("svc", facts); err != nil {
		t.Fatalf("SaveFacts failed: %v", err)
	}

	loaded, err := repo.LoadFacts("svc")
	if err != nil {
		t.Fatalf("LoadFacts failed: %v", err)
	}
	if len(loaded.Commits) != 1 || loaded.Commits[0].SHA != "fact1" {
		t.Errorf("commits not preserved: %+v", loaded.Commits)
	}
	if len(loaded.PullRequests) != 1 || loaded.PullRequests[0].Number != 7 {
		t.Errorf("pull requests not preserved: %+v", loaded.PullRequests)
	}
	if len(loaded.Releases) != 1 || loaded.Releases[0].TagName != "v2.0.0" {
		t.Errorf("releases not preserved: %+v", loaded.Releases)
	}
}

func TestLoadFactsMissingRepoIsEmpty(t *testing.T) {
	repo, _ := setupRepository(t)

	facts, err := repo.LoadFacts("never-extracted")
	if err != nil {
		t.Fatalf("LoadFacts failed: %v", err)
	}
	if len(facts.Commits)+len(facts.PullRequests)+len(facts.Releases) != 0 {
		t.Errorf("expected empty facts, got %+v", facts)
	}
}

func TestLoadDatasetMissingIsEmpty(t *testing.T) {
	repo, _ := setupRepository(t)

	if repo.HasDataset("svc") {
		t.Error("HasDataset should be false before any save")
	}
	ds, rejects, err := repo.LoadDataset("svc")
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if ds.Len() != 0 || len(rejects) != 0 {
		t.Errorf("expected empty dataset, got %d rows, %d rejects", ds.Len(), len(rejects))
	}
}

func TestSaveDatasetRoundTrip(t *testing.T) {
	repo, _ := setupRepository(t)

	ds := model.NewDataset()
	if err := ds.Append(sampleRecord("r1")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDataset("svc", ds, "run-1"); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	loaded, rejects, err := repo.LoadDataset("svc")
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if len(rejects) != 0 || loaded.Len() != 1 || loaded.Get("r1") == nil {
		t.Fatalf("round trip lost data: rows=%d rejects=%d", loaded.Len(), len(rejects))
	}

	meta, err := repo.LoadMetadata("svc")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if meta.Rows != 1 || meta.LastRunID != "run-1" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestSaveDatasetArchivesPriorRevision(t *testing.T) {
	repo, _ := setupRepository(t)

	first := model.NewDataset()
	if err := first.Append(sampleRecord("v1only")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDataset("svc", first, "run-1"); err != nil {
		t.Fatal(err)
	}

	second := first.Clone()
	if err := second.Append(sampleRecord("v2extra")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDataset("svc", second, "run-2"); err != nil {
		t.Fatal(err)
	}

	archives, err := repo.ListArchives("svc")
	if err != nil {
		t.Fatalf("ListArchives failed: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archived revision, got %d: %v", len(archives), archives)
	}

	restored, rejects, err := repo.RestoreArchive(archives[0])
	if err != nil {
		t.Fatalf("RestoreArchive failed: %v", err)
	}
	if len(rejects) != 0 || restored.Len() != 1 || restored.Get("v1only") == nil {
		t.Errorf("archived revision does not match the first save: rows=%d", restored.Len())
	}
	if restored.Get("v2extra") != nil {
		t.Error("archive contains the second revision's row")
	}
}

func TestLoadDatasetCorruptAborts(t *testing.T) {
	repo, dir := setupRepository(t)

	path := filepath.Join(dir, "svc", "dataset.csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not,a,dataset\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := repo.LoadDataset("svc")
	if err == nil {
		t.Fatal("expected error for corrupt dataset")
	}
	if !strings.Contains(err.Error(), "DATASET_UNREADABLE") {
		t.Errorf("expected DATASET_UNREADABLE, got %v", err)
	}
}

func TestSaveRejectsLifecycle(t *testing.T) {
	repo, _ := setupRepository(t)

	rejects := []RejectedRow{{Line: 3, Code: "MALFORMED_ROW", Reason: "bad timestamp"}}
	if err := repo.SaveRejects("svc", rejects); err != nil {
		t.Fatalf("SaveRejects failed: %v", err)
	}

	loaded, err := repo.LoadRejects("svc")
	if err != nil {
		t.Fatalf("LoadRejects failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Line != 3 {
		t.Errorf("rejects not preserved: %+v", loaded)
	}

	// A clean run clears the previous run's rejects
	if err := repo.SaveRejects("svc", nil); err != nil {
		t.Fatalf("SaveRejects(nil) failed: %v", err)
	}
	loaded, err = repo.LoadRejects("svc")
	if err != nil {
		t.Fatalf("LoadRejects after clear failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("rejects not cleared: %+v", loaded)
	}
}

func TestListRepos(t *testing.T) {
	repo, _ := setupRepository(t)

	for _, name := range []string{"svc-b", "svc-a"} {
		ds := model.NewDataset()
		if err := ds.Append(sampleRecord("x" + name)); err != nil {
			t.Fatal(err)
		}
		if err := repo.SaveDataset(name, ds, ""); err != nil {
			t.Fatal(err)
		}
	}

	repos, err := repo.ListRepos()
	if err != nil {
		t.Fatalf("ListRepos failed: %v", err)
	}
	if len(repos) != 2 || repos[0] != "svc-a" || repos[1] != "svc-b" {
		t.Errorf("unexpected repos: %v", repos)
	}
}

func TestPruneArchives(t *testing.T) {
	repo, dir := setupRepository(t)

	ds := model.NewDataset()
	if err := ds.Append(sampleRecord("p")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDataset("svc", ds, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDataset("svc", ds, ""); err != nil {
		t.Fatal(err)
	}

	// Plant an old archive alongside the fresh one
	old := filepath.Join(dir, "svc", "archive", "dataset-20200101T000000Z.zst")
	compressed, err := storage.Compress([]byte("old revision"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(old, compressed, 0o644); err != nil {
		t.Fatal(err)
	}

	pruned, err := repo.PruneArchives("svc", 30*24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("PruneArchives failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned archive, got %d", pruned)
	}

	archives, err := repo.ListArchives("svc")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range archives {
		if strings.Contains(a, "20200101") {
			t.Errorf("old archive survived pruning: %v", archives)
		}
	}
	if len(archives) != 1 {
		t.Errorf("fresh archive should survive, got %v", archives)
	}
}
