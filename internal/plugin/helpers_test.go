package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// testLogger returns a quiet logger for tests.
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// writePluginDir creates a plugin package in a temp directory with the
// given manifest fields and main.lua body.
func writePluginDir(t *testing.T, name string, permissions []Permission, script string) string {
	t.Helper()

	dir := t.TempDir()
	manifest := fmt.Sprintf(`{
		"name": %q,
		"version": "1.0.0",
		"description": "test plugin",
		"author": "tester",
		"main": "main.lua",
		"permissions": [%s]
	}`, name, permissionJSON(permissions))

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// rewritePluginScript replaces a package's main.lua in place.
func rewritePluginScript(t *testing.T, dir, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
}

func permissionJSON(perms []Permission) string {
	out := ""
	for i, p := range perms {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", string(p))
	}
	return out
}

// notification is one recorded ShowNotification call.
type notification struct {
	Title string
	Body  string
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) ShowNotification(ctx context.Context, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{Title: title, Body: body})
	return nil
}

func (f *fakeNotifier) notifications() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}

// fakeAnalyzer returns a canned analysis.
type fakeAnalyzer struct {
	analysis Analysis
	err      error
}

func (f *fakeAnalyzer) AnalyzeFile(ctx context.Context, path string) (Analysis, error) {
	if f.err != nil {
		return Analysis{}, f.err
	}
	a := f.analysis
	if a.Path == "" {
		a.Path = path
	}
	return a, nil
}

// fakeSearcher returns canned hits.
type fakeSearcher struct {
	hits []SearchHit
	err  error
}

func (f *fakeSearcher) SearchFiles(ctx context.Context, query string) ([]SearchHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func testAPI() (HostAPI, *fakeNotifier) {
	notifier := &fakeNotifier{}
	api := HostAPI{
		Notifier: notifier,
		Analyzer: &fakeAnalyzer{analysis: Analysis{Importance: 0.9, Category: "document", Summary: "quarterly report"}},
		Searcher: &fakeSearcher{hits: []SearchHit{{Path: "/notes/a.md", Score: 0.8, Snippet: "..."}}},
	}
	return api, notifier
}

// fakeStore is an in-memory Store for manager tests.
type fakeStore struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{plugins: make(map[string]Plugin)}
}

func (s *fakeStore) SavePlugin(ctx context.Context, p Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[p.ID] = p.Clone()
	s.saves++
	return nil
}

func (s *fakeStore) DeletePlugin(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plugins, id)
	return nil
}

func (s *fakeStore) ListPlugins(ctx context.Context) ([]Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *fakeStore) get(id string) (Plugin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plugins[id]
	return p, ok
}
