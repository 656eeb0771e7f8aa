package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fathomhq/fathom/internal/plugin"
)

// MemoryStore keeps the plugin table in memory. Nothing survives a
// restart; use it for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plugins: make(map[string]plugin.Plugin)}
}

// SavePlugin upserts one plugin record.
func (s *MemoryStore) SavePlugin(ctx context.Context, p plugin.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[p.ID] = p.Clone()
	return nil
}

// DeletePlugin removes one plugin record.
func (s *MemoryStore) DeletePlugin(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plugins, id)
	return nil
}

// ListPlugins returns every stored plugin, oldest install first.
func (s *MemoryStore) ListPlugins(ctx context.Context) ([]plugin.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]plugin.Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstalledAt.Equal(out[j].InstalledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].InstalledAt.Before(out[j].InstalledAt)
	})
	return out, nil
}
