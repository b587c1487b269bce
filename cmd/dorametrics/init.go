package main

import (
	"fmt"
	"os"
	"path/filepath"

	"dorametrics/internal/config"

	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a dorametrics workspace",
	Long:  "Creates a .dora/ directory with default configuration in the current directory",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	configPath := filepath.Join(cwd, config.ConfigDir, "config.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil && !initForce {
		// Re-running init in an initialized workspace is a no-op, not an error
		fmt.Println("Workspace already initialized.")
		fmt.Printf("Configuration at: %s\n", configPath)
		fmt.Println("\nRun 'dorametrics init --force' to overwrite it with defaults.")
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Println("Workspace initialized.")
	fmt.Printf("Configuration written to: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the extraction block (owner, repo, branch) or add a DORA.toml")
	fmt.Println("  2. Export GITHUB_TOKEN for pull request and release extraction")
	fmt.Println("  3. Run 'dorametrics update' to build the dataset")
	return nil
}
