package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MetaFile is the manifest each module directory must carry.
const MetaFile = "meta.json"

// DefaultMain is the script file used when a manifest does not name one.
const DefaultMain = "module.lua"

// Type says which contract a module implements.
type Type string

// Module types.
const (
	// TypeDriver modules own state-source instances.
	TypeDriver Type = "driver"

	// TypeFunction modules own state-sink instances.
	TypeFunction Type = "function"
)

// Meta describes one module: its registry name, which contract it
// implements, and the script that implements it.
type Meta struct {
	// Name is the unique name the manager dispatches on.
	Name string `json:"name"`

	// Type is "driver" or "function".
	Type Type `json:"type"`

	// Main is the script path relative to the module directory.
	// Defaults to module.lua.
	Main string `json:"main"`
}

// Manifest validation errors.
var (
	ErrMissingMetaName = errors.New("meta: name is required")
	ErrBadMetaType     = errors.New("meta: type must be driver or function")
)

// LoadMeta reads and validates the manifest in a module directory.
func LoadMeta(dir string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetaFile, err)
	}

	if meta.Main == "" {
		meta.Main = DefaultMain
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Validate checks the manifest fields.
func (m *Meta) Validate() error {
	if m.Name == "" {
		return ErrMissingMetaName
	}
	switch m.Type {
	case TypeDriver, TypeFunction:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrBadMetaType, m.Type)
	}
}
