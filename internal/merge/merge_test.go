package merge

import (
	"reflect"
	"testing"
	"time"

	"dorametrics/internal/associate"
	"dorametrics/internal/deploy"
	"dorametrics/internal/logging"
	"dorametrics/internal/model"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestMerger() *Merger {
	return NewMerger(logging.NewDiscardLogger())
}

func commit(sha string, at time.Time) model.Commit {
	return model.Commit{SHA: sha, AuthoredAt: at, CommittedAt: at, Message: "change " + sha}
}

// associateAndResolve runs the real association and resolution stages so
// merge tests exercise the pipeline the way production does.
func associateAndResolve(t *testing.T, prior *model.Dataset, facts model.FreshFacts) (*associate.Result, *deploy.Result) {
	t.Helper()
	assoc := associate.NewAssociator([]string{"hotfix"}, logging.NewDiscardLogger()).
		Associate(facts.Commits, facts.PullRequests)

	// The resolver needs the post-merge commit universe; approximate it with
	// prior plus fresh, which is exactly what the merged dataset will hold
	universe := prior.Clone()
	for _, c := range facts.Commits {
		if universe.Get(c.SHA) == nil {
			_ = universe.Append(&model.AnnotationRecord{Commit: c, Source: model.SourceMachine})
		}
	}
	deps := deploy.NewResolver(logging.NewDiscardLogger()).Resolve(facts.Releases, universe)
	return assoc, deps
}

func freshWindow() model.FreshFacts {
	mergedAt := epoch.Add(3 * time.Hour)
	publishedAt := epoch.Add(5 * time.Hour)
	return model.FreshFacts{
		Commits: []model.Commit{
			commit("c1", epoch),
			commit("c2", epoch.Add(time.Hour)),
		},
		PullRequests: []model.PullRequest{{
			Number:   1,
			State:    model.PRMerged,
			MergedAt: &mergedAt,
			Commits:  []string{"c1", "c2"},
		}},
		Releases: []model.Release{{
			TagName:     "v1.0.0",
			CreatedAt:   publishedAt,
			PublishedAt: &publishedAt,
			CommitSHA:   "c2",
		}},
	}
}

func TestMergeInsertsNewRows(t *testing.T) {
	m := newTestMerger()
	prior := model.NewDataset()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, prior, facts)

	next, summary := m.Merge(prior, facts, assoc, deps)

	if summary.Added != 2 || summary.Updated != 0 || summary.Retained != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	rec := next.Get("c1")
	if rec == nil || rec.PRNumber == nil || *rec.PRNumber != 1 {
		t.Fatalf("c1 not associated: %+v", rec)
	}
	if rec.Source != model.SourceMachine {
		t.Errorf("new row source = %s, want machine", rec.Source)
	}
	// c1 ships via PR #1's deployment even though the release targets c2
	if rec.DeployedAt == nil || !rec.DeployedAt.Equal(epoch.Add(5*time.Hour)) {
		t.Errorf("c1 deployment coverage missing: %v", rec.DeployedAt)
	}
	if rec.DeploymentTag != "v1.0.0" {
		t.Errorf("c1 deployment tag = %q", rec.DeploymentTag)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()

	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	first, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	assoc2, deps2 := associateAndResolve(t, first, facts)
	second, summary := m.Merge(first, facts, assoc2, deps2)

	if summary.Added != 0 {
		t.Errorf("second merge added rows: %+v", summary)
	}
	if !reflect.DeepEqual(first.Rows(), second.Rows()) {
		t.Error("second merge with identical facts changed the dataset")
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)

	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)
	snapshot := prior.Clone()

	moreFacts := freshWindow()
	moreFacts.Commits = append(moreFacts.Commits, commit("c3", epoch.Add(2*time.Hour)))
	assoc2, deps2 := associateAndResolve(t, prior, moreFacts)
	_, _ = m.Merge(prior, moreFacts, assoc2, deps2)

	if !reflect.DeepEqual(prior.Rows(), snapshot.Rows()) {
		t.Error("merge mutated its prior dataset input")
	}
}

func TestMergePreservesManualFields(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	// A human flags c1 as a hotfix and leaves a note
	yes := true
	rec := prior.Get("c1")
	rec.ManualIsHotfix = &yes
	rec.ManualNotes = "incident INC-114"
	rec.Source = model.SourceHuman

	assoc2, deps2 := associateAndResolve(t, prior, facts)
	next, _ := m.Merge(prior, facts, assoc2, deps2)

	got := next.Get("c1")
	if got.ManualIsHotfix == nil || !*got.ManualIsHotfix {
		t.Error("manual hotfix flag lost across merge")
	}
	if got.ManualNotes != "incident INC-114" {
		t.Errorf("manual notes lost: %q", got.ManualNotes)
	}
	if got.Source != model.SourceHuman {
		t.Errorf("source downgraded to %s", got.Source)
	}
	// Machine fields without an override still refresh
	if got.PRNumber == nil || *got.PRNumber != 1 {
		t.Errorf("PR association should refresh alongside manual fields: %+v", got.PRNumber)
	}
}

func TestMergeRefreshesPRAssociationLearnedLater(t *testing.T) {
	m := newTestMerger()

	// First window: the PR is still open, c1 is orphaned
	open := freshWindow()
	open.PullRequests[0].State = model.PROpen
	open.PullRequests[0].MergedAt = nil
	open.Releases = nil

	assoc, deps := associateAndResolve(t, model.NewDataset(), open)
	prior, _ := m.Merge(model.NewDataset(), open, assoc, deps)
	if !prior.Get("c1").Orphaned {
		t.Fatal("setup: c1 should be orphaned while the PR is open")
	}

	// Hand-edit in between, then the PR merges
	yes := true
	prior.Get("c1").ManualIsHotfix = &yes

	merged := freshWindow()
	assoc2, deps2 := associateAndResolve(t, prior, merged)
	next, _ := m.Merge(prior, merged, assoc2, deps2)

	got := next.Get("c1")
	if got.Orphaned || got.PRNumber == nil || *got.PRNumber != 1 {
		t.Errorf("association did not refresh after merge: %+v", got)
	}
	if got.ManualIsHotfix == nil || !*got.ManualIsHotfix {
		t.Error("manual hotfix flag lost while association refreshed")
	}
}

func TestMergeRetainsRowsOutsideWindow(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	// Next window contains only a new commit; c1 and c2 fell out
	newer := model.FreshFacts{Commits: []model.Commit{commit("c9", epoch.Add(30 * 24 * time.Hour))}}
	assoc2, deps2 := associateAndResolve(t, prior, newer)
	next, summary := m.Merge(prior, newer, assoc2, deps2)

	if next.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", next.Len())
	}
	if summary.Retained != 2 {
		t.Errorf("expected 2 retained rows, got %d", summary.Retained)
	}
	old := next.Get("c1")
	if old == nil || old.PRNumber == nil || *old.PRNumber != 1 {
		t.Errorf("out-of-window row was not retained unchanged: %+v", old)
	}
}

func TestMergeNeverShrinksDataset(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	ds, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	windows := []model.FreshFacts{
		{}, // empty window
		{Commits: []model.Commit{commit("c3", epoch.Add(10 * time.Hour))}},
		facts, // full re-extraction
	}
	for i, w := range windows {
		before := ds.Len()
		a, d := associateAndResolve(t, ds, w)
		ds, _ = m.Merge(ds, w, a, d)
		if ds.Len() < before {
			t.Fatalf("window %d shrank the dataset: %d -> %d", i, before, ds.Len())
		}
	}
}

func TestMergeManualDeploymentOwnsDeploymentFields(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	yes := true
	manualAt := epoch.Add(48 * time.Hour)
	rec := prior.Get("c2")
	rec.ManualIsDeployment = &yes
	rec.ManualDeployedAt = &manualAt

	assoc2, deps2 := associateAndResolve(t, prior, facts)
	next, _ := m.Merge(prior, facts, assoc2, deps2)

	got := next.Get("c2")
	if got.EffectiveDeployedAt() == nil || !got.EffectiveDeployedAt().Equal(manualAt) {
		t.Errorf("manual deployment time not honored: %v", got.EffectiveDeployedAt())
	}
}

func TestImportReplacesRowsWholesale(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	// Hand-edited export: c1 gains manual fields and loses its PR number
	yes := true
	edited := model.NewDataset()
	editedRec := *prior.Get("c1")
	editedRec.PRNumber = nil
	editedRec.ManualIsHotfix = &yes
	editedRec.ManualNotes = "edited in spreadsheet"
	_ = edited.Append(&editedRec)

	next := m.Import(prior, edited)

	if next.Len() != prior.Len() {
		t.Fatalf("import changed row count: %d -> %d", prior.Len(), next.Len())
	}
	got := next.Get("c1")
	if got.PRNumber != nil {
		t.Error("import should replace machine fields wholesale")
	}
	if got.ManualIsHotfix == nil || !*got.ManualIsHotfix {
		t.Error("imported manual field missing")
	}
	if got.Source != model.SourceHuman {
		t.Errorf("imported row with manual edits should be human-sourced, got %s", got.Source)
	}
	if next.Get("c2") == nil {
		t.Error("untouched prior row lost on import")
	}
}

func TestImportThenMergePreservesImportedEdits(t *testing.T) {
	m := newTestMerger()
	facts := freshWindow()
	assoc, deps := associateAndResolve(t, model.NewDataset(), facts)
	prior, _ := m.Merge(model.NewDataset(), facts, assoc, deps)

	yes := true
	edited := model.NewDataset()
	editedRec := *prior.Get("c1")
	editedRec.ManualIsHotfix = &yes
	_ = edited.Append(&editedRec)

	imported := m.Import(prior, edited)

	assoc2, deps2 := associateAndResolve(t, imported, facts)
	next, _ := m.Merge(imported, facts, assoc2, deps2)

	got := next.Get("c1")
	if got.ManualIsHotfix == nil || !*got.ManualIsHotfix {
		t.Error("imported manual edit lost on subsequent merge")
	}
	if got.PRNumber == nil || *got.PRNumber != 1 {
		t.Errorf("PR association should still refresh after import: %+v", got.PRNumber)
	}
}
