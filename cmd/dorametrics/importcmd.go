package main

import (
	"fmt"
	"os"

	"dorametrics/internal/dataset"
	"dorametrics/internal/merge"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var importRepo string

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a hand-edited CSV back into the dataset",
	Long: `Replaces dataset rows with the rows from an exported, hand-edited CSV.
Every row in the file replaces its stored counterpart wholesale; rows the
file does not mention are kept. Malformed rows and duplicate SHAs are
quarantined for repair instead of aborting the import. The prior dataset
revision is archived first.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importRepo, "repo", "", "Declared repo name (from DORA.toml)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(importRepo)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	imported, rejects, err := dataset.Decode(data)
	if err != nil {
		return err
	}

	prior, _, err := ws.repos.LoadDataset(tgt.Name)
	if err != nil {
		return err
	}

	next := merge.NewMerger(ws.logger).Import(prior, imported)

	runID := "import-" + uuid.New().String()
	if err := ws.repos.SaveDataset(tgt.Name, next, runID); err != nil {
		return err
	}
	if err := ws.repos.SaveRejects(tgt.Name, rejects); err != nil {
		return err
	}

	fmt.Printf("Imported %d rows into %s (%d total)\n", imported.Len(), tgt.Name, next.Len())
	if len(rejects) > 0 {
		fmt.Printf("%d rows quarantined; run 'dorametrics validate' for details\n", len(rejects))
	}
	return nil
}
