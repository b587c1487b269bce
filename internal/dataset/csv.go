// Package dataset persists the master dataset and extracted-fact blobs.
// The master dataset's durable form is a CSV table, one row per commit SHA,
// with a fixed column for every AnnotationRecord field. It round-trips
// losslessly through export → hand edit → import.
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dorametrics/internal/errors"
	"dorametrics/internal/model"
)

// Columns is the fixed CSV header, in order. Import rejects files whose
// header does not match exactly: silent column drift corrupts annotations.
var Columns = []string{
	"sha",
	"author_name",
	"author_email",
	"authored_at",
	"committer_name",
	"committer_email",
	"committed_at",
	"message",
	"files_changed",
	"additions",
	"deletions",
	"pr_number",
	"pr_is_hotfix",
	"orphaned",
	"deployed_at",
	"deployment_tag",
	"manual_is_deployment",
	"manual_deployed_at",
	"manual_is_hotfix",
	"manual_failed",
	"manual_resolved_at",
	"manual_notes",
	"source",
}

// listSeparator joins multi-value cells (file lists) inside a single column
const listSeparator = "|"

// RejectedRow is a quarantined import row: kept, reported, never merged
type RejectedRow struct {
	Line   int              `json:"line"`
	Code   errors.ErrorCode `json:"code"`
	Reason string           `json:"reason"`
	Raw    []string         `json:"raw"`
}

// Encode renders a dataset as CSV bytes
func Encode(ds *model.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range ds.Rows() {
		row := []string{
			rec.Commit.SHA,
			rec.Commit.AuthorName,
			rec.Commit.AuthorEmail,
			formatTime(rec.Commit.AuthoredAt),
			rec.Commit.CommitterName,
			rec.Commit.CommitterEmail,
			formatTime(rec.Commit.CommittedAt),
			flattenMessage(rec.Commit.Message),
			strings.Join(rec.Commit.FilesChanged, listSeparator),
			strconv.Itoa(rec.Commit.Additions),
			strconv.Itoa(rec.Commit.Deletions),
			formatIntPtr(rec.PRNumber),
			formatBool(rec.PRIsHotfix),
			formatBool(rec.Orphaned),
			formatTimePtr(rec.DeployedAt),
			rec.DeploymentTag,
			formatBoolPtr(rec.ManualIsDeployment),
			formatTimePtr(rec.ManualDeployedAt),
			formatBoolPtr(rec.ManualIsHotfix),
			formatBoolPtr(rec.ManualFailed),
			formatTimePtr(rec.ManualResolvedAt),
			rec.ManualNotes,
			string(rec.Source),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row %s: %w", rec.Commit.SHA, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses CSV bytes into a dataset. Malformed rows and duplicate SHAs
// are quarantined into the rejects list; only a broken header or unreadable
// CSV structure fails the whole decode.
func Decode(data []byte) (*model.Dataset, []RejectedRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // row length checked per row so bad rows quarantine

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, errors.New(errors.DatasetUnreadable, "dataset CSV is not parseable", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New(errors.DatasetUnreadable, "dataset CSV has no header", nil)
	}

	if err := checkHeader(records[0]); err != nil {
		return nil, nil, err
	}

	ds := model.NewDataset()
	var rejects []RejectedRow

	for i, row := range records[1:] {
		line := i + 2 // 1-based, after header

		rec, err := decodeRow(row)
		if err != nil {
			rejects = append(rejects, RejectedRow{
				Line:   line,
				Code:   errors.MalformedRow,
				Reason: err.Error(),
				Raw:    row,
			})
			continue
		}

		if ds.Get(rec.Commit.SHA) != nil {
			rejects = append(rejects, RejectedRow{
				Line:   line,
				Code:   errors.DuplicateKey,
				Reason: fmt.Sprintf("commit SHA %s already present", rec.Commit.SHA),
				Raw:    row,
			})
			continue
		}

		_ = ds.Append(rec)
	}

	return ds, rejects, nil
}

func checkHeader(header []string) error {
	if len(header) != len(Columns) {
		return errors.New(errors.DatasetUnreadable,
			fmt.Sprintf("dataset header has %d columns, expected %d", len(header), len(Columns)), nil)
	}
	for i, col := range Columns {
		// Hand edits in spreadsheet tools sometimes prepend a BOM
		if strings.TrimPrefix(header[i], "\uFEFF") != col {
			return errors.New(errors.DatasetUnreadable,
				fmt.Sprintf("dataset header column %d is %q, expected %q", i+1, header[i], col), nil)
		}
	}
	return nil
}

func decodeRow(row []string) (*model.AnnotationRecord, error) {
	if len(row) != len(Columns) {
		return nil, fmt.Errorf("row has %d fields, expected %d", len(row), len(Columns))
	}

	sha := strings.TrimSpace(row[0])
	if sha == "" {
		return nil, fmt.Errorf("empty commit SHA")
	}

	authoredAt, err := parseTime(row[3])
	if err != nil {
		return nil, fmt.Errorf("authored_at: %w", err)
	}
	committedAt, err := parseTime(row[6])
	if err != nil {
		return nil, fmt.Errorf("committed_at: %w", err)
	}

	additions, err := parseInt(row[9])
	if err != nil {
		return nil, fmt.Errorf("additions: %w", err)
	}
	deletions, err := parseInt(row[10])
	if err != nil {
		return nil, fmt.Errorf("deletions: %w", err)
	}

	prNumber, err := parseIntPtr(row[11])
	if err != nil {
		return nil, fmt.Errorf("pr_number: %w", err)
	}

	deployedAt, err := parseTimePtr(row[14])
	if err != nil {
		return nil, fmt.Errorf("deployed_at: %w", err)
	}
	manualDeployedAt, err := parseTimePtr(row[17])
	if err != nil {
		return nil, fmt.Errorf("manual_deployed_at: %w", err)
	}
	manualResolvedAt, err := parseTimePtr(row[20])
	if err != nil {
		return nil, fmt.Errorf("manual_resolved_at: %w", err)
	}

	source := model.RecordSource(strings.TrimSpace(row[22]))
	switch source {
	case model.SourceMachine, model.SourceHuman:
	case "":
		source = model.SourceMachine
	default:
		return nil, fmt.Errorf("source: unknown value %q", row[22])
	}

	prIsHotfix := false
	if b := parseLenientBool(row[12]); b != nil {
		prIsHotfix = *b
	}
	orphaned := false
	if b := parseLenientBool(row[13]); b != nil {
		orphaned = *b
	}

	rec := &model.AnnotationRecord{
		Commit: model.Commit{
			SHA:            sha,
			AuthorName:     row[1],
			AuthorEmail:    row[2],
			AuthoredAt:     authoredAt,
			CommitterName:  row[4],
			CommitterEmail: row[5],
			CommittedAt:    committedAt,
			Message:        row[7],
			FilesChanged:   splitList(row[8]),
			Additions:      additions,
			Deletions:      deletions,
		},
		PRNumber:           prNumber,
		PRIsHotfix:         prIsHotfix,
		Orphaned:           orphaned,
		DeployedAt:         deployedAt,
		DeploymentTag:      row[15],
		ManualIsDeployment: parseLenientBool(row[16]),
		ManualDeployedAt:   manualDeployedAt,
		ManualIsHotfix:     parseLenientBool(row[18]),
		ManualFailed:       parseLenientBool(row[19]),
		ManualResolvedAt:   manualResolvedAt,
		ManualNotes:        row[21],
		Source:             source,
	}
	return rec, nil
}

// flattenMessage keeps commit messages single-line inside the CSV so
// spreadsheet edits stay row-aligned
func flattenMessage(msg string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(msg, "\n", " ")), " ")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatIntPtr(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return formatBool(*b)
}

// timeFormats accepted on import, most specific first. Hand-edited files
// rarely come back in clean RFC3339.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseIntPtr(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// parseLenientBool accepts the spellings people actually type into
// spreadsheets. Empty and unrecognized values mean "unset".
func parseLenientBool(s string) *bool {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "true", "yes", "y", "1", "x":
		t := true
		return &t
	case "false", "no", "n", "0":
		f := false
		return &f
	default:
		return nil
	}
}
