package dataset

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/model"
)

func sampleRecord(sha string) *model.AnnotationRecord {
	authored := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	committed := authored.Add(5 * time.Minute)
	pr := 42
	deployed := committed.Add(2 * time.Hour)
	hotfix := true

	return &model.AnnotationRecord{
		Commit: model.Commit{
			SHA:            sha,
			AuthorName:     "Ada Lovelace",
			AuthorEmail:    "ada@example.com",
			AuthoredAt:     authored,
			CommitterName:  "Ada Lovelace",
			CommitterEmail: "ada@example.com",
			CommittedAt:    committed,
			Message:        "Fix rounding in period bucketing",
			FilesChanged:   []string{"internal/metrics/periods.go", "internal/metrics/periods_test.go"},
			Additions:      31,
			Deletions:      4,
		},
		PRNumber:       &pr,
		DeployedAt:     &deployed,
		DeploymentTag:  "v1.4.2",
		ManualIsHotfix: &hotfix,
		ManualNotes:    "confirmed with on-call",
		Source:         model.SourceMachine,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ds := model.NewDataset()
	if err := ds.Append(sampleRecord("aaa111")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	plain := sampleRecord("bbb222")
	plain.PRNumber = nil
	plain.DeployedAt = nil
	plain.DeploymentTag = ""
	plain.ManualIsHotfix = nil
	plain.ManualNotes = ""
	plain.Orphaned = true
	if err := ds.Append(plain); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := Encode(ds)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, rejects, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(rejects) != 0 {
		t.Fatalf("expected no rejects, got %d: %+v", len(rejects), rejects)
	}
	if decoded.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", decoded.Len())
	}

	got := decoded.Get("aaa111")
	if got == nil {
		t.Fatal("row aaa111 missing after round trip")
	}
	if got.PRNumber == nil || *got.PRNumber != 42 {
		t.Errorf("PRNumber not preserved: %v", got.PRNumber)
	}
	if got.DeployedAt == nil || !got.DeployedAt.Equal(*sampleRecord("aaa111").DeployedAt) {
		t.Errorf("DeployedAt not preserved: %v", got.DeployedAt)
	}
	if got.ManualIsHotfix == nil || !*got.ManualIsHotfix {
		t.Errorf("ManualIsHotfix not preserved: %v", got.ManualIsHotfix)
	}
	if got.ManualNotes != "confirmed with on-call" {
		t.Errorf("ManualNotes not preserved: %q", got.ManualNotes)
	}
	if len(got.Commit.FilesChanged) != 2 {
		t.Errorf("FilesChanged not preserved: %v", got.Commit.FilesChanged)
	}

	gotPlain := decoded.Get("bbb222")
	if gotPlain == nil {
		t.Fatal("row bbb222 missing after round trip")
	}
	if gotPlain.PRNumber != nil || gotPlain.DeployedAt != nil || gotPlain.ManualIsHotfix != nil {
		t.Error("unset optional fields came back set")
	}
	if !gotPlain.Orphaned {
		t.Error("Orphaned flag lost in round trip")
	}
}

func TestEncodePreservesInsertionOrder(t *testing.T) {
	ds := model.NewDataset()
	shas := []string{"ccc", "aaa", "bbb"}
	for _, sha := range shas {
		if err := ds.Append(sampleRecord(sha)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := Encode(ds)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	for i, sha := range shas {
		if !strings.HasPrefix(lines[i+1], sha+",") {
			t.Errorf("row %d: expected SHA %s first, got %q", i, sha, lines[i+1])
		}
	}
}

func TestEncodeFlattensMultilineMessages(t *testing.T) {
	ds := model.NewDataset()
	rec := sampleRecord("abc")
	rec.Commit.Message = "Fix bug\n\nLong body with\nseveral lines"
	if err := ds.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := Encode(ds)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Errorf("multiline message leaked into CSV:\n%s", data)
	}

	decoded, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := decoded.Get("abc").Commit.Message; got != "Fix bug Long body with several lines" {
		t.Errorf("unexpected flattened message: %q", got)
	}
}

func TestDecodeQuarantinesMalformedRows(t *testing.T) {
	good := sampleRecord("good1")
	ds := model.NewDataset()
	if err := ds.Append(good); err != nil {
		t.Fatal(err)
	}
	data, err := Encode(ds)
	if err != nil {
		t.Fatal(err)
	}

	// Append a row with a broken committed_at and a row with too few fields
	badTime := strings.Replace(
		strings.Replace(string(data), "good1", "bad-time", 1),
		good.Commit.CommittedAt.UTC().Format(time.RFC3339), "not-a-timestamp", 1)
	// badTime now only has the mutated row; rebuild with both
	lines := strings.SplitN(string(data), "\n", 2)
	mutated := strings.SplitN(badTime, "\n", 2)
	combined := lines[0] + "\n" + lines[1] + mutated[1] + "short,row\n"

	decoded, rejects, err := Decode([]byte(combined))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Len() != 1 {
		t.Fatalf("expected 1 valid row, got %d", decoded.Len())
	}
	if decoded.Get("good1") == nil {
		t.Error("valid row was not kept")
	}
	if len(rejects) != 2 {
		t.Fatalf("expected 2 rejects, got %d: %+v", len(rejects), rejects)
	}
	for _, rej := range rejects {
		if rej.Code != errors.MalformedRow {
			t.Errorf("expected MALFORMED_ROW, got %s", rej.Code)
		}
		if rej.Line < 2 {
			t.Errorf("reject line should be past the header, got %d", rej.Line)
		}
	}
}

func TestDecodeQuarantinesDuplicateSHA(t *testing.T) {
	ds := model.NewDataset()
	if err := ds.Append(sampleRecord("dup")); err != nil {
		t.Fatal(err)
	}
	data, err := Encode(ds)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.SplitN(string(data), "\n", 2)
	doubled := lines[0] + "\n" + lines[1] + lines[1]

	decoded, rejects, err := Decode([]byte(doubled))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Len() != 1 {
		t.Fatalf("expected 1 row after dedup, got %d", decoded.Len())
	}
	if len(rejects) != 1 || rejects[0].Code != errors.DuplicateKey {
		t.Fatalf("expected one DUPLICATE_KEY reject, got %+v", rejects)
	}
}

func TestDecodeRejectsHeaderDrift(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"renamed column", strings.Replace(strings.Join(Columns, ","), "sha", "hash", 1) + "\n"},
		{"missing column", strings.Join(Columns[:len(Columns)-1], ",") + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var derr *errors.DoraError
			if !errors.As(err, &derr) || derr.Code != errors.DatasetUnreadable {
				t.Errorf("expected DATASET_UNREADABLE, got %v", err)
			}
		})
	}
}

func TestDecodeAcceptsHandEditedTimestamps(t *testing.T) {
	header := strings.Join(Columns, ",")
	row := func(deployedAt string) string {
		return fmt.Sprintf("abc,Ada,ada@example.com,2024-03-01T10:00:00Z,Ada,ada@example.com,2024-03-01T10:05:00Z,msg,,1,0,,false,false,%s,v1,,,,,,,machine", deployedAt)
	}

	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2024-03-01T12:00:00Z", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"spreadsheet", "2024-03-01 12:00:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"date only", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, rejects, err := Decode([]byte(header + "\n" + row(tt.value) + "\n"))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(rejects) != 0 {
				t.Fatalf("unexpected rejects: %+v", rejects)
			}
			got := ds.Get("abc").DeployedAt
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("deployed_at = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLenientBool(t *testing.T) {
	truthy := []string{"true", "Yes", "y", "1", "X", " TRUE "}
	for _, s := range truthy {
		if b := parseLenientBool(s); b == nil || !*b {
			t.Errorf("parseLenientBool(%q) should be true", s)
		}
	}
	falsy := []string{"false", "No", "n", "0"}
	for _, s := range falsy {
		if b := parseLenientBool(s); b == nil || *b {
			t.Errorf("parseLenientBool(%q) should be false", s)
		}
	}
	unset := []string{"", "  ", "maybe"}
	for _, s := range unset {
		if parseLenientBool(s) != nil {
			t.Errorf("parseLenientBool(%q) should be unset", s)
		}
	}
}
