package main

import (
	"fmt"
	"time"

	"dorametrics/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	archiveRepo      string
	archivePruneDays int
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage archived dataset revisions",
	Long: `Every dataset save archives the prior revision as a compressed
snapshot. These subcommands list snapshots, restore one as the current
dataset, and prune old ones.`,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived dataset revisions",
	RunE:  runArchiveList,
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore <archive-path>",
	Short: "Restore an archived revision as the current dataset",
	Long: `Replaces the current dataset with an archived revision. The revision
being replaced is archived first, so a restore is itself reversible.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveRestore,
}

var archivePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives older than the retention window",
	RunE:  runArchivePrune,
}

func init() {
	archiveCmd.PersistentFlags().StringVar(&archiveRepo, "repo", "", "Declared repo name (from DORA.toml)")
	archivePruneCmd.Flags().IntVar(&archivePruneDays, "days", 0, "Keep archives newer than this many days (default: retention.days from config)")
	archiveCmd.AddCommand(archiveListCmd, archiveRestoreCmd, archivePruneCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(archiveRepo)
	if err != nil {
		return err
	}

	archives, err := ws.repos.ListArchives(tgt.Name)
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		fmt.Printf("No archives for %s\n", tgt.Name)
		return nil
	}
	for _, a := range archives {
		fmt.Println(a)
	}
	return nil
}

func runArchiveRestore(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(archiveRepo)
	if err != nil {
		return err
	}

	ds, rejects, err := ws.repos.RestoreArchive(args[0])
	if err != nil {
		return err
	}

	runID := "restore-" + uuid.New().String()
	if err := ws.repos.SaveDataset(tgt.Name, ds, runID); err != nil {
		return err
	}
	if err := ws.repos.SaveRejects(tgt.Name, rejects); err != nil {
		return err
	}

	fmt.Printf("Restored %d rows to %s from %s\n", ds.Len(), tgt.Name, args[0])
	return nil
}

func runArchivePrune(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	tgt, err := ws.resolveTarget(archiveRepo)
	if err != nil {
		return err
	}

	days := pruneRetentionDays(ws.cfg, cmd.Flags().Changed("days"), archivePruneDays)
	if days <= 0 {
		fmt.Println("Retention is unlimited (0 days); nothing to prune")
		return nil
	}

	retention := time.Duration(days) * 24 * time.Hour
	removed, err := ws.repos.PruneArchives(tgt.Name, retention, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Printf("Pruned %d archive(s) older than %d days\n", removed, days)
	return nil
}

// pruneRetentionDays picks the prune window: the --days flag when set,
// otherwise the workspace retention config. Zero means keep forever.
func pruneRetentionDays(cfg *config.Config, flagSet bool, flagDays int) int {
	if flagSet {
		return flagDays
	}
	return cfg.Retention.Days
}
