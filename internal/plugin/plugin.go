package plugin

import (
	"context"
	"time"
)

// Permission is a capability token granting access to one host API
// operation.
type Permission string

// Known capability tokens.
const (
	PermissionNotify      Permission = "notify"
	PermissionAnalyzeFile Permission = "analyze-file"
	PermissionSearchFiles Permission = "search-files"
)

// validPermissions are the tokens a manifest may request.
var validPermissions = map[Permission]bool{
	PermissionNotify:      true,
	PermissionAnalyzeFile: true,
	PermissionSearchFiles: true,
}

// Hook is a named domain event the host dispatches to interested plugins.
// The set of hooks is fixed; the loader probes which handlers a plugin
// script actually exports.
type Hook string

// Domain hooks. The Lua handler carries the same name as the hook.
const (
	HookFileProcessed Hook = "onFileProcessed"
	HookSearchStarted Hook = "onSearchStarted"
)

// Hooks returns all dispatchable hooks.
func Hooks() []Hook {
	return []Hook{HookFileProcessed, HookSearchStarted}
}

// RuntimeInfo is the mutable health record of an installed plugin.
type RuntimeInfo struct {
	Status         Status
	ExecutionCount int64
	ErrorCount     int64
	LastError      string
}

// Plugin is one installed extension. The Registry exclusively owns plugin
// state; accessors hand out copies.
type Plugin struct {
	ID          string
	Name        string
	Version     string
	Author      string
	Description string

	// Path is the installed package directory (manifest + Lua source).
	Path string

	Enabled     bool
	Permissions []Permission
	Hooks       []Hook

	InstalledAt time.Time
	LastUpdated time.Time

	Runtime RuntimeInfo
}

// Clone returns a deep copy of the plugin.
func (p *Plugin) Clone() Plugin {
	c := *p
	if p.Permissions != nil {
		c.Permissions = make([]Permission, len(p.Permissions))
		copy(c.Permissions, p.Permissions)
	}
	if p.Hooks != nil {
		c.Hooks = make([]Hook, len(p.Hooks))
		copy(c.Hooks, p.Hooks)
	}
	return c
}

// HasHook reports whether the plugin exports a handler for the hook.
func (p *Plugin) HasHook(h Hook) bool {
	for _, hook := range p.Hooks {
		if hook == h {
			return true
		}
	}
	return false
}

// HasPermission reports whether the token was granted at install time.
func (p *Plugin) HasPermission(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// HookInvocationResult is the ephemeral outcome of one handler invocation.
// It is folded into the plugin's RuntimeInfo by the Monitor and returned to
// the dispatching caller for aggregation.
type HookInvocationResult struct {
	PluginID   string
	PluginName string
	Hook       Hook
	Success    bool
	Data       map[string]interface{}
	Err        error
	Duration   time.Duration
}

// Host API surface exposed to plugins under capability gating. The real
// application wires its notification surface and its scanning/search
// pipelines in; tests wire fakes.

// Notifier is the visual notification surface, unlocked by "notify".
type Notifier interface {
	ShowNotification(ctx context.Context, title, body string) error
}

// Analysis is the result of analyzing a single file.
type Analysis struct {
	Path       string
	Importance float64
	Category   string
	Summary    string
}

// Analyzer is the file analysis pipeline, unlocked by "analyze-file".
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string) (Analysis, error)
}

// SearchHit is one result from the file search pipeline.
type SearchHit struct {
	Path    string
	Score   float64
	Snippet string
}

// Searcher is the file search pipeline, unlocked by "search-files".
type Searcher interface {
	SearchFiles(ctx context.Context, query string) ([]SearchHit, error)
}

// HostAPI bundles the host services a capability gate can expose. Nil
// fields behave like a service that is unavailable.
type HostAPI struct {
	Notifier Notifier
	Analyzer Analyzer
	Searcher Searcher
}

// Store persists the plugin table across restarts. Implementations live in
// the store subpackage; NopStore satisfies tests that do not care.
type Store interface {
	SavePlugin(ctx context.Context, p Plugin) error
	DeletePlugin(ctx context.Context, id string) error
	ListPlugins(ctx context.Context) ([]Plugin, error)
}

// NopStore is a Store that remembers nothing.
type NopStore struct{}

func (NopStore) SavePlugin(context.Context, Plugin) error      { return nil }
func (NopStore) DeletePlugin(context.Context, string) error    { return nil }
func (NopStore) ListPlugins(context.Context) ([]Plugin, error) { return nil, nil }
