package incremental

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/logging"
	"dorametrics/internal/storage"
)

func setupTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewLocalBackend(dir, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return NewTracker(backend, logging.NewDiscardLogger()), dir
}

func TestLoadMissingWatermarkIsEmpty(t *testing.T) {
	tracker, _ := setupTracker(t)

	w, err := tracker.Load("svc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if w.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", w.SchemaVersion, SchemaVersion)
	}
	if _, ok := w.Since("main"); ok {
		t.Error("fresh watermark should have no branch positions")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tracker, _ := setupTracker(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWatermark()
	w.Advance("main", "abc123", ts)

	if err := tracker.Save("svc", w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := tracker.Load("svc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mark, ok := loaded.Since("main")
	if !ok || mark.LastSHA != "abc123" || !mark.LastTimestamp.Equal(ts) {
		t.Errorf("round trip lost position: %+v (ok=%v)", mark, ok)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on save")
	}
}

func TestAdvanceNeverMovesBackward(t *testing.T) {
	w := NewWatermark()
	newer := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)

	w.Advance("main", "new", newer)
	w.Advance("main", "old", older)

	mark, _ := w.Since("main")
	if mark.LastSHA != "new" || !mark.LastTimestamp.Equal(newer) {
		t.Errorf("watermark regressed: %+v", mark)
	}

	// Equal timestamps do not regress either
	w.Advance("main", "same-time", newer)
	mark, _ = w.Since("main")
	if mark.LastSHA != "new" {
		t.Errorf("equal timestamp replaced the position: %+v", mark)
	}
}

func TestBranchesTrackedIndependently(t *testing.T) {
	w := NewWatermark()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	w.Advance("main", "m1", ts)
	w.Advance("release/2.0", "r1", ts.Add(time.Hour))

	main, _ := w.Since("main")
	rel, _ := w.Since("release/2.0")
	if main.LastSHA != "m1" || rel.LastSHA != "r1" {
		t.Errorf("branches interfered: main=%+v release=%+v", main, rel)
	}
}

func TestLoadCorruptWatermarkAborts(t *testing.T) {
	tracker, dir := setupTracker(t)

	p := filepath.Join(dir, "svc", "watermark.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := tracker.Load("svc")
	if err == nil {
		t.Fatal("expected error for corrupt watermark")
	}
	var derr *errors.DoraError
	if !errors.As(err, &derr) || derr.Code != errors.WatermarkCorrupt {
		t.Errorf("expected WATERMARK_CORRUPT, got %v", err)
	}
	if !errors.IsRunFatal(err) {
		t.Error("corrupt watermark must be run-fatal")
	}
}

func TestLoadWrongSchemaVersionAborts(t *testing.T) {
	tracker, dir := setupTracker(t)

	p := filepath.Join(dir, "svc", "watermark.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(`{"schema_version": 99, "branches": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := tracker.Load("svc")
	if err == nil || !strings.Contains(err.Error(), "schema version") {
		t.Errorf("expected schema version error, got %v", err)
	}
}

func TestResetForcesFullExtraction(t *testing.T) {
	tracker, _ := setupTracker(t)

	w := NewWatermark()
	w.Advance("main", "abc", time.Now())
	if err := tracker.Save("svc", w); err != nil {
		t.Fatal(err)
	}

	if err := tracker.Reset("svc"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	loaded, err := tracker.Load("svc")
	if err != nil {
		t.Fatalf("Load after reset failed: %v", err)
	}
	if _, ok := loaded.Since("main"); ok {
		t.Error("reset did not clear the branch position")
	}

	// Resetting a repo with no watermark is not an error
	if err := tracker.Reset("never-tracked"); err != nil {
		t.Errorf("Reset on missing watermark failed: %v", err)
	}
}
