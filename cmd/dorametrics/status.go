package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dorametrics/internal/report"

	"github.com/spf13/cobra"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace and per-repo state",
	Long:  "Lists every tracked repository with dataset size, last run, and watermark positions",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(statusCmd)
}

// repoStatus is the per-repo slice of the status document
type repoStatus struct {
	Name        string            `json:"name" yaml:"name"`
	Rows        int               `json:"rows" yaml:"rows"`
	Quarantined int               `json:"quarantined" yaml:"quarantined"`
	LastSavedAt *time.Time        `json:"last_saved_at,omitempty" yaml:"last_saved_at,omitempty"`
	LastRunID   string            `json:"last_run_id,omitempty" yaml:"last_run_id,omitempty"`
	Watermarks  map[string]string `json:"watermarks,omitempty" yaml:"watermarks,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(statusFormat)
	if err != nil {
		return err
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	names, err := ws.repos.ListRepos()
	if err != nil {
		return err
	}

	statuses := make([]repoStatus, 0, len(names))
	for _, name := range names {
		st := repoStatus{Name: name}

		if meta, metaErr := ws.repos.LoadMetadata(name); metaErr == nil {
			st.Rows = meta.Rows
			t := meta.LastSavedAt
			st.LastSavedAt = &t
			st.LastRunID = meta.LastRunID
		} else if !errors.Is(metaErr, os.ErrNotExist) {
			return metaErr
		}

		if rejects, rejErr := ws.repos.LoadRejects(name); rejErr == nil {
			st.Quarantined = len(rejects)
		}

		mark, markErr := ws.tracker.Load(name)
		if markErr != nil {
			return markErr
		}
		for branch, pos := range mark.Branches {
			if st.Watermarks == nil {
				st.Watermarks = make(map[string]string)
			}
			st.Watermarks[branch] = fmt.Sprintf("%s @ %s",
				shortSHA(pos.LastSHA), pos.LastTimestamp.Format(time.RFC3339))
		}

		statuses = append(statuses, st)
	}

	if format != report.FormatTable {
		doc := map[string]interface{}{"storage": ws.cfg.StoragePath, "repos": statuses}
		return report.RenderValue(os.Stdout, doc, format)
	}

	if len(statuses) == 0 {
		fmt.Println("No repositories tracked yet. Run 'dorametrics update' first.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tROWS\tQUARANTINED\tLAST RUN\tWATERMARKS")
	for _, st := range statuses {
		saved := "-"
		if st.LastSavedAt != nil {
			saved = st.LastSavedAt.Format("2006-01-02 15:04")
		}
		marks := "-"
		if len(st.Watermarks) > 0 {
			marks = fmt.Sprintf("%d branch(es)", len(st.Watermarks))
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", st.Name, st.Rows, st.Quarantined, saved, marks)
	}
	return tw.Flush()
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
