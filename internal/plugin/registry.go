package plugin

import (
	"sync"
	"time"
)

// Registry is the authoritative table of installed plugins. It is the only
// holder of mutable plugin state; every accessor hands out copies, and the
// Manager façade is the only writer besides the Monitor.
//
// Mutations are atomic with respect to dispatch: a dispatch captures its
// target snapshot under the read lock and then runs against the captured
// hosts, so an enable/disable/remove that lands mid-dispatch affects the
// next dispatch, not the one in flight.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry

	// order preserves registration order for deterministic dispatch and
	// merge semantics.
	order []string
}

// registryEntry pairs the plugin record with its live host. host is nil
// for inert entries (restored while disabled, or failed to load).
type registryEntry struct {
	plugin *Plugin
	host   *Host
}

// dispatchTarget is one plugin captured in a dispatch snapshot.
type dispatchTarget struct {
	id   string
	name string
	host *Host
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// Register adds a plugin, optionally with its live host. A duplicate id
// fails with a ValidationError and leaves the registry unchanged.
func (r *Registry) Register(p *Plugin, h *Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[p.ID]; exists {
		return &ValidationError{Field: "id", Reason: "already registered", err: ErrDuplicateID}
	}
	r.entries[p.ID] = &registryEntry{plugin: p, host: h}
	r.order = append(r.order, p.ID)
	return nil
}

// Get returns a copy of the plugin record.
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return Plugin{}, &NotFoundError{ID: id}
	}
	return e.plugin.Clone(), nil
}

// List returns copies of all plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		if e, exists := r.entries[id]; exists {
			out = append(out, e.plugin.Clone())
		}
	}
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetEnabled toggles a plugin. Enabling resets the error counters and
// returns the plugin to StatusLoaded; this is the only path that resets
// ErrorCount. Disabling sets StatusDisabled, which excludes the plugin
// from every subsequent dispatch snapshot.
func (r *Registry) SetEnabled(id string, enabled bool) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return Plugin{}, &NotFoundError{ID: id}
	}

	e.plugin.Enabled = enabled
	e.plugin.LastUpdated = time.Now()
	if enabled {
		e.plugin.Runtime.Status = StatusLoaded
		e.plugin.Runtime.ErrorCount = 0
		e.plugin.Runtime.LastError = ""
	} else {
		e.plugin.Runtime.Status = StatusDisabled
	}
	return e.plugin.Clone(), nil
}

// Remove deletes the entry and returns the owned plugin and host for
// teardown. Removal is the dispatch barrier: snapshots taken after Remove
// never include the plugin, while a snapshot already captured holds a
// reference on the host, so even a dispatch whose invocation has not
// started yet finishes before the host shuts down.
func (r *Registry) Remove(id string) (*Plugin, *Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return nil, nil, &NotFoundError{ID: id}
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e.plugin, e.host, nil
}

// attachHost binds a live host to an entry (re-enable, reload) and
// applies the load outcome: the exported hook set plus the status and
// last error the instantiation folded into the plugin copy. A failed
// fresh load stays visible instead of being masked by the enable stamp.
func (r *Registry) attachHost(id string, h *Host, hooks []Hook, status Status, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return &NotFoundError{ID: id}
	}
	e.host = h
	e.plugin.Hooks = hooks
	e.plugin.Runtime.Status = status
	e.plugin.Runtime.LastError = lastErr
	e.plugin.LastUpdated = time.Now()
	return nil
}

// hostOf returns the live host for an id, or nil.
func (r *Registry) hostOf(id string) *Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, exists := r.entries[id]; exists {
		return e.host
	}
	return nil
}

// snapshot captures the enabled plugins exporting the hook, in
// registration order. Each captured host carries a dispatch reference;
// the dispatcher releases it once the invocation completes.
func (r *Registry) snapshot(hook Hook) []dispatchTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []dispatchTarget
	for _, id := range r.order {
		e, exists := r.entries[id]
		if !exists {
			continue
		}
		p := e.plugin
		if !p.Enabled || p.Runtime.Status == StatusDisabled || e.host == nil {
			continue
		}
		if !p.HasHook(hook) {
			continue
		}
		e.host.acquire()
		targets = append(targets, dispatchTarget{id: p.ID, name: p.Name, host: e.host})
	}
	return targets
}

// recordOutcome folds a hook invocation result into the plugin's runtime
// info. ExecutionCount always increments; ErrorCount only ever increases
// here and is reset solely by SetEnabled(id, true).
func (r *Registry) recordOutcome(id string, res HookInvocationResult) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return Plugin{}, &NotFoundError{ID: id}
	}

	rt := &e.plugin.Runtime
	rt.ExecutionCount++
	if res.Success {
		if rt.Status != StatusDisabled {
			rt.Status = StatusRunning
		}
	} else {
		rt.ErrorCount++
		if res.Err != nil {
			rt.LastError = res.Err.Error()
		}
		if rt.Status != StatusDisabled {
			rt.Status = StatusError
		}
	}
	return e.plugin.Clone(), nil
}

// recordDenial folds an ungranted capability call into the plugin's
// runtime info as an error outcome.
func (r *Registry) recordDenial(id string, err error) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return Plugin{}, &NotFoundError{ID: id}
	}
	rt := &e.plugin.Runtime
	rt.ErrorCount++
	if err != nil {
		rt.LastError = err.Error()
	}
	return e.plugin.Clone(), nil
}
