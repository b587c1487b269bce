package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetRepo string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the extraction watermark",
	Long: `Deletes the watermark so the next run re-extracts from the beginning
of history. The dataset is untouched; re-extracted commits merge back into
their existing rows and manual annotations survive.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetRepo, "repo", "", "Declared repo name (from DORA.toml)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(resetRepo)
	if err != nil {
		return err
	}

	if err := ws.tracker.Reset(tgt.Name); err != nil {
		return err
	}

	fmt.Printf("Watermark reset for %s; the next run re-extracts full history\n", tgt.Name)
	return nil
}
