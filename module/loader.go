package module

import (
	"os"
	"path/filepath"
	"sort"
)

// Loader discovers modules on the filesystem.
//
// A module is a directory directly under one of the search paths that
// contains a meta.json manifest. Earlier search paths win on name
// collisions, matching the precedence of user over system directories.
type Loader struct {
	paths []string
}

// Info is the discovery record for one module.
type Info struct {
	// Name from the manifest.
	Name string

	// Dir is the module directory.
	Dir string

	// Script is the absolute path of the module's main script.
	Script string

	// Meta is the parsed manifest.
	Meta *Meta
}

// NewLoader creates a loader over the given search paths.
func NewLoader(paths ...string) *Loader {
	return &Loader{paths: paths}
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds all modules in the search paths, sorted by name.
// Missing search paths are skipped; a directory with a malformed
// manifest is skipped and reported in the second return value.
func (l *Loader) Discover() ([]*Info, []error) {
	found := make(map[string]*Info)
	var problems []error

	for _, base := range l.paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			// Missing search paths are not an error.
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(base, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, MetaFile)); err != nil {
				continue
			}

			meta, err := LoadMeta(dir)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			if _, exists := found[meta.Name]; exists {
				continue
			}
			found[meta.Name] = &Info{
				Name:   meta.Name,
				Dir:    dir,
				Script: filepath.Join(dir, meta.Main),
				Meta:   meta,
			}
		}
	}

	infos := make([]*Info, 0, len(found))
	for _, info := range found {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos, problems
}
