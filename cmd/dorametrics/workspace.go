package main

import (
	"fmt"
	"os"
	"path/filepath"

	"dorametrics/internal/config"
	"dorametrics/internal/dataset"
	"dorametrics/internal/incremental"
	"dorametrics/internal/logging"
	"dorametrics/internal/project"
	"dorametrics/internal/storage"
)

// workspace bundles everything a command needs: the loaded configuration,
// the storage-backed dataset repository, and the watermark tracker.
type workspace struct {
	root    string
	cfg     *config.Config
	logger  *logging.Logger
	repos   *dataset.Repository
	tracker *incremental.Tracker
}

// openWorkspace loads config from the current directory and opens storage
func openWorkspace() (*workspace, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		storagePath = filepath.Join(root, storagePath)
	}
	backend, err := storage.NewLocalBackend(storagePath, logger)
	if err != nil {
		return nil, err
	}

	return &workspace{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		repos:   dataset.NewRepository(backend, logger),
		tracker: incremental.NewTracker(backend, logger),
	}, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	format := logging.HumanFormat
	if cfg.Logging.Format == "json" {
		format = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
}

// target is one repository to operate on, resolved from DORA.toml when the
// workspace declares repos, otherwise from config defaults.
type target struct {
	Name         string
	Owner        string
	Repo         string
	Path         string
	Branch       string
	HotfixLabels []string
}

// resolveTarget picks the repository a command operates on. With a DORA.toml
// present the name must match a declaration (or be omitted when only one is
// declared); without one the config's extraction block is the single target.
func (ws *workspace) resolveTarget(name string) (*target, error) {
	if declPath := project.FindDeclarations(ws.root); declPath != "" {
		decls, err := project.ParseDeclarations(declPath)
		if err != nil {
			return nil, err
		}

		var decl *project.RepoDeclaration
		switch {
		case name != "":
			decl = decls.Lookup(name)
			if decl == nil {
				return nil, fmt.Errorf("repo %q is not declared in %s", name, project.DeclarationFile)
			}
		case len(decls.Repos) == 1:
			decl = &decls.Repos[0]
		default:
			return nil, fmt.Errorf("%d repos declared in %s, pass --repo", len(decls.Repos), project.DeclarationFile)
		}

		t := &target{
			Name:         decl.Name,
			Owner:        decl.Owner,
			Repo:         decl.Repo,
			Path:         decl.Path,
			Branch:       decl.Branch,
			HotfixLabels: decl.HotfixLabels,
		}
		if t.Path == "" {
			t.Path = ws.root
		}
		if len(t.HotfixLabels) == 0 {
			t.HotfixLabels = ws.cfg.Extraction.HotfixLabels
		}
		return t, nil
	}

	t := &target{
		Name:         name,
		Owner:        ws.cfg.Extraction.Owner,
		Repo:         ws.cfg.Extraction.Repo,
		Path:         ws.root,
		Branch:       ws.cfg.Extraction.Branch,
		HotfixLabels: ws.cfg.Extraction.HotfixLabels,
	}
	if t.Name == "" {
		if t.Repo != "" {
			t.Name = t.Repo
		} else {
			t.Name = "default"
		}
	}
	return t, nil
}

// githubToken reads the API token from the environment; configuration files
// never hold credentials.
func githubToken() string {
	return os.Getenv("GITHUB_TOKEN")
}
