// Package manifest handles tern.toml project configuration and the CBOR
// lock index that pins resolved package hashes.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestFileName is the project configuration file.
const ManifestFileName = "tern.toml"

// Manifest represents a tern.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Packages     Packages              `toml:"packages"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the tern.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Packages configures where compiled packages are found.
type Packages struct {
	Paths []string `toml:"paths"`
	Store string   `toml:"store"`
	Entry string   `toml:"entry"`
}

// Dependency represents a single project dependency.
type Dependency struct {
	MinVersion string `toml:"min-version"`
	MaxVersion string `toml:"max-version"`
	Path       string `toml:"path"`
}

// Load parses a tern.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Project.Name == "" {
		return nil, fmt.Errorf("%s: project.name is required", path)
	}

	// Defaults
	if len(m.Packages.Paths) == 0 {
		m.Packages.Paths = []string{"pkg"}
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a tern.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, ManifestFileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SearchPaths returns absolute paths for the configured package
// directories, with dependency path entries appended.
func (m *Manifest) SearchPaths() []string {
	paths := make([]string, 0, len(m.Packages.Paths)+len(m.Dependencies))
	for _, p := range m.Packages.Paths {
		paths = append(paths, m.resolve(p))
	}
	for _, dep := range m.Dependencies {
		if dep.Path != "" {
			paths = append(paths, m.resolve(dep.Path))
		}
	}
	return paths
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// StorePath returns the absolute package store path, or "" if unset.
func (m *Manifest) StorePath() string {
	if m.Packages.Store == "" {
		return ""
	}
	return m.resolve(m.Packages.Store)
}
