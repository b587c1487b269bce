// Package project parses DORA.toml, the optional declaration file listing
// the repositories a workspace tracks. Declarations let one workspace hold
// datasets for several repositories with per-repo extraction settings.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DeclarationFile is the default filename for repository declarations
const DeclarationFile = "DORA.toml"

// RepoDeclaration represents one declared repository in DORA.toml
type RepoDeclaration struct {
	// Name is the dataset name used as the storage path prefix
	Name string `toml:"name"`

	// Owner and Repo are the GitHub coordinates
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`

	// Path is the local clone to extract commits from
	Path string `toml:"path,omitempty"`

	// Branch to analyze (default: main)
	Branch string `toml:"branch,omitempty"`

	// HotfixLabels override the workspace-level hotfix label set
	HotfixLabels []string `toml:"hotfix_labels,omitempty"`
}

// DeclarationsFile represents the root structure of DORA.toml
type DeclarationsFile struct {
	// Version is the schema version
	Version int `toml:"version"`

	// Repos is the list of declared repositories
	Repos []RepoDeclaration `toml:"repo"`
}

// ParseDeclarations parses a DORA.toml file from the given path
func ParseDeclarations(filePath string) (*DeclarationsFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var f DeclarationsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}

	for i := range f.Repos {
		if f.Repos[i].Branch == "" {
			f.Repos[i].Branch = "main"
		}
	}

	return &f, nil
}

// FindDeclarations locates DORA.toml starting at root, or returns "" if absent
func FindDeclarations(root string) string {
	p := filepath.Join(root, DeclarationFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Lookup returns the declaration with the given name, or nil
func (f *DeclarationsFile) Lookup(name string) *RepoDeclaration {
	for i := range f.Repos {
		if f.Repos[i].Name == name {
			return &f.Repos[i]
		}
	}
	return nil
}

func (f *DeclarationsFile) validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported DORA.toml version %d", f.Version)
	}

	seen := make(map[string]bool)
	for i, r := range f.Repos {
		if r.Name == "" {
			return fmt.Errorf("repo %d: name is required", i)
		}
		if strings.ContainsAny(r.Name, "/\\") {
			return fmt.Errorf("repo %q: name must not contain path separators", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("repo %q declared twice", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
