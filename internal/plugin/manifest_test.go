package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadManifest(t *testing.T) {
	dir := writeManifest(t, `{
		"name": "smart-notify",
		"version": "1.2.3",
		"description": "notifies on important files",
		"author": "someone",
		"main": "init.lua",
		"permissions": ["notify", "analyze-file"]
	}`)

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir failed: %v", err)
	}
	if m.Name != "smart-notify" {
		t.Errorf("name = %q", m.Name)
	}
	if m.Main != "init.lua" {
		t.Errorf("main = %q", m.Main)
	}
	if m.Path() != dir {
		t.Errorf("path = %q, want %q", m.Path(), dir)
	}
	if m.MainPath() != filepath.Join(dir, "init.lua") {
		t.Errorf("main path = %q", m.MainPath())
	}
	if len(m.Permissions) != 2 {
		t.Errorf("permissions = %v", m.Permissions)
	}
}

func TestLoadManifestDefaultsMain(t *testing.T) {
	dir := writeManifest(t, `{"name": "minimal", "version": "0.1.0"}`)

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir failed: %v", err)
	}
	if m.Main != "main.lua" {
		t.Errorf("main should default to main.lua, got %q", m.Main)
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifestFromDir(t.TempDir())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    string
	}{
		{"missing name", `{"version": "1.0.0"}`, "name"},
		{"uppercase name", `{"name": "MyPlugin", "version": "1.0.0"}`, "name"},
		{"name with spaces", `{"name": "my plugin", "version": "1.0.0"}`, "name"},
		{"missing version", `{"name": "ok"}`, "version"},
		{"bad version", `{"name": "ok", "version": "v1"}`, "version"},
		{"non-lua main", `{"name": "ok", "version": "1.0.0", "main": "main.py"}`, "main"},
		{"absolute main", `{"name": "ok", "version": "1.0.0", "main": "/etc/main.lua"}`, "main"},
		{"unknown permission", `{"name": "ok", "version": "1.0.0", "permissions": ["format-disk"]}`, "permissions"},
		{"duplicate permission", `{"name": "ok", "version": "1.0.0", "permissions": ["notify", "notify"]}`, "permissions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, tt.manifest)
			_, err := LoadManifestFromDir(dir)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestManifestValidNames(t *testing.T) {
	for _, name := range []string{"a", "ab", "smart-notify", "plugin2", "a1-b2"} {
		dir := writeManifest(t, `{"name": "`+name+`", "version": "1.0.0"}`)
		if _, err := LoadManifestFromDir(dir); err != nil {
			t.Errorf("name %q should be valid: %v", name, err)
		}
	}
}

func TestManifestPrereleaseVersion(t *testing.T) {
	dir := writeManifest(t, `{"name": "ok", "version": "2.0.0-beta.1+build.5"}`)
	if _, err := LoadManifestFromDir(dir); err != nil {
		t.Errorf("prerelease semver should be valid: %v", err)
	}
}
