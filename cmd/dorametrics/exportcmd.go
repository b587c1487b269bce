package main

import (
	"fmt"
	"os"

	"dorametrics/internal/dataset"

	"github.com/spf13/cobra"
)

var (
	exportRepo string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the dataset as CSV for hand editing",
	Long: `Writes the master dataset as a CSV spreadsheet. Edit the manual_*
columns in any spreadsheet tool, then bring the file back with
'dorametrics import'. Machine columns you change will be overwritten on the
next merge; manual columns stick.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportRepo, "repo", "", "Declared repo name (from DORA.toml)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(exportRepo)
	if err != nil {
		return err
	}

	ds, _, err := ws.repos.LoadDataset(tgt.Name)
	if err != nil {
		return err
	}

	data, err := dataset.Encode(ds)
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOut, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d rows to %s\n", ds.Len(), exportOut)
	return nil
}
