package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ManifestFile is the package file describing a plugin.
const ManifestFile = "manifest.json"

// Manifest describes a plugin package: identity metadata, the Lua entry
// point, and the capability tokens the plugin requests.
type Manifest struct {
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Description string       `json:"description"`
	Author      string       `json:"author"`
	Main        string       `json:"main"` // relative path to the Lua entry point
	Permissions []Permission `json:"permissions"`

	// path is the package directory the manifest was loaded from.
	path string
}

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot read manifest: %v", err), err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot parse manifest: %v", err), err: err}
	}

	m.path = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads the manifest.json inside a package directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// applyDefaults fills optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "main.lua"
	}
}

// Validate checks the manifest fields against the package contract.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if !namePattern.MatchString(m.Name) {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q must be lowercase alphanumeric with hyphens", m.Name)}
	}
	if m.Version == "" {
		return &ValidationError{Field: "version", Reason: "required"}
	}
	if !semverPattern.MatchString(m.Version) {
		return &ValidationError{Field: "version", Reason: fmt.Sprintf("%q is not valid semver", m.Version)}
	}
	if filepath.Ext(m.Main) != ".lua" {
		return &ValidationError{Field: "main", Reason: fmt.Sprintf("%q must be a .lua file", m.Main)}
	}
	if filepath.IsAbs(m.Main) {
		return &ValidationError{Field: "main", Reason: "must be relative to the package directory"}
	}

	seen := make(map[Permission]bool, len(m.Permissions))
	for _, perm := range m.Permissions {
		if !validPermissions[perm] {
			return &ValidationError{Field: "permissions", Reason: fmt.Sprintf("unknown token %q", perm)}
		}
		if seen[perm] {
			return &ValidationError{Field: "permissions", Reason: fmt.Sprintf("duplicate token %q", perm)}
		}
		seen[perm] = true
	}
	return nil
}

// Path returns the package directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the Lua entry point.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// String returns "name vVersion".
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
