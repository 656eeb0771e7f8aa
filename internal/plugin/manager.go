package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a Manager.
type Options struct {
	// MaxConcurrentInvocations caps in-flight plugin calls per dispatch.
	MaxConcurrentInvocations int

	// InvocationTimeout is the per-call hook budget.
	InvocationTimeout time.Duration

	// BreakerThreshold is the failure count that trips the circuit
	// breaker; BreakerWindow is its trailing window.
	BreakerThreshold int
	BreakerWindow    time.Duration

	// ListMergeFields are the dispatch result fields merged by
	// concatenation. Defaults to suggestion/suggestions.
	ListMergeFields []string

	// Metrics receives runtime metrics when non-nil.
	Metrics *Metrics

	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentInvocations: DefaultMaxConcurrentInvocations,
		InvocationTimeout:        DefaultInvocationTimeout,
		BreakerThreshold:         DefaultBreakerThreshold,
		BreakerWindow:            DefaultBreakerWindow,
	}
}

// Manager is the administrative façade over the plugin runtime. The
// external UI consumes Install/Uninstall/SetEnabled/List; the host's
// pipelines consume Dispatch. It composes the registry, loader,
// dispatcher and monitor, and persists every plugin mutation through the
// Store.
//
// Administrative mutations serialize on the manager's lock. A dispatch
// that captured its snapshot before a mutation completes against the
// pre-mutation state; the next dispatch sees the new state.
type Manager struct {
	opts  Options
	log   *logrus.Logger
	store Store

	registry   *Registry
	loader     *Loader
	monitor    *Monitor
	dispatcher *Dispatcher

	mu     sync.Mutex
	closed bool
}

// NewManager wires the runtime together. api carries the host services
// plugins may be granted; store persists the plugin table (use NopStore
// to opt out).
func NewManager(api HostAPI, store Store, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if store == nil {
		store = NopStore{}
	}

	registry := NewRegistry()
	monitor := NewMonitor(registry, opts.Logger, opts.Metrics, opts.BreakerThreshold, opts.BreakerWindow)
	loader := NewLoader(api, monitor.RecordDenial, opts.Logger)
	dispatcher := NewDispatcher(registry, monitor, opts.Logger,
		opts.MaxConcurrentInvocations, opts.InvocationTimeout, opts.ListMergeFields)

	m := &Manager{
		opts:       opts,
		log:        opts.Logger,
		store:      store,
		registry:   registry,
		loader:     loader,
		monitor:    monitor,
		dispatcher: dispatcher,
	}
	monitor.SetPersist(m.persistRuntime)
	return m
}

// persistRuntime saves monitor-driven runtime_info mutations. Failures
// are logged, not fatal; the in-memory registry stays authoritative.
func (m *Manager) persistRuntime(p Plugin) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SavePlugin(ctx, p); err != nil {
		m.log.WithField("plugin", p.Name).WithError(err).Error("failed to persist plugin state")
	}
}

// Install validates and instantiates the plugin package at dir and
// registers it. A script or initialize() failure still installs the
// plugin, with StatusError and LastError set, so the UI can surface and
// remove it.
func (m *Manager) Install(ctx context.Context, dir string) (Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Plugin{}, ErrManagerClosed
	}

	p, host, err := m.loader.Install(ctx, dir)
	if err != nil {
		return Plugin{}, err
	}

	if err := m.registry.Register(p, host); err != nil {
		host.Close()
		return Plugin{}, err
	}
	if err := m.store.SavePlugin(ctx, p.Clone()); err != nil {
		m.log.WithField("plugin", p.Name).WithError(err).Error("failed to persist install")
	}
	m.updateInstalledGauge()

	m.log.WithFields(logrus.Fields{
		"plugin":  p.Name,
		"version": p.Version,
		"status":  p.Runtime.Status.String(),
	}).Info("plugin installed")
	return p.Clone(), nil
}

// Uninstall removes the plugin. The registry entry goes first, which is
// the dispatch barrier: a dispatch whose snapshot already holds the host
// finishes its invocation even if it has not started yet, but no later
// dispatch includes the plugin. Close defers the actual teardown until
// those references drain. cleanup() errors are logged only.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	p, host, err := m.registry.Remove(id)
	if err != nil {
		return err
	}
	m.monitor.Reset(id)

	if host != nil {
		if cerr := host.Cleanup(ctx); cerr != nil {
			m.log.WithField("plugin", p.Name).WithError(cerr).Warn("plugin cleanup failed")
		}
		host.Close()
	}

	if err := m.store.DeletePlugin(ctx, id); err != nil {
		m.log.WithField("plugin", p.Name).WithError(err).Error("failed to remove persisted plugin")
	}
	m.updateInstalledGauge()

	m.log.WithField("plugin", p.Name).Info("plugin uninstalled")
	return nil
}

// SetEnabled toggles dispatch for a plugin. Re-enabling resets the error
// counters and the breaker window, and re-instantiates the plugin if it
// was restored inert.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	var pending *Host
	var pendingPlugin Plugin
	if enabled && m.registry.hostOf(id) == nil {
		// Restored while disabled, or never instantiated; bring the
		// code back up before flipping the flag.
		rec, err := m.registry.Get(id)
		if err != nil {
			return err
		}
		host, err := m.loader.Attach(ctx, &rec)
		if err != nil {
			return fmt.Errorf("cannot re-enable %q: %w", rec.Name, err)
		}
		pending, pendingPlugin = host, rec
	}

	p, err := m.registry.SetEnabled(id, enabled)
	if err != nil {
		if pending != nil {
			pending.Close()
		}
		return err
	}
	if enabled {
		m.monitor.Reset(id)
	}
	if pending != nil {
		// Applied after the enable stamp so a script that now fails to
		// load surfaces as StatusError with its message instead of a
		// clean slate.
		rt := pendingPlugin.Runtime
		if err := m.registry.attachHost(id, pending, pendingPlugin.Hooks, rt.Status, rt.LastError); err != nil {
			pending.Close()
			return err
		}
		if p, err = m.registry.Get(id); err != nil {
			return err
		}
	}

	if err := m.store.SavePlugin(ctx, p); err != nil {
		m.log.WithField("plugin", p.Name).WithError(err).Error("failed to persist toggle")
	}
	m.log.WithFields(logrus.Fields{"plugin": p.Name, "enabled": enabled}).Info("plugin toggled")
	return nil
}

// Get returns a copy of one plugin record.
func (m *Manager) Get(id string) (Plugin, error) {
	return m.registry.Get(id)
}

// List returns copies of all plugin records in registration order.
func (m *Manager) List() []Plugin {
	return m.registry.List()
}

// Dispatch fans the hook out to every enabled handler. Plugin failures
// never propagate to the caller; the host operation that emitted the
// event continues regardless of plugin health.
func (m *Manager) Dispatch(ctx context.Context, hook Hook, payload map[string]interface{}) *DispatchResult {
	return m.dispatcher.Dispatch(ctx, hook, payload)
}

// Restore reloads the persisted plugin table on startup. Enabled plugins
// are re-instantiated; disabled ones are registered inert and stay that
// way until an operator toggles them. A plugin whose package no longer
// loads comes back with StatusError, visible to the UI.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	persisted, err := m.store.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("cannot load plugin table: %w", err)
	}

	for _, stored := range persisted {
		p := stored.Clone()

		if !p.Enabled || p.Runtime.Status == StatusDisabled {
			entry := p
			if err := m.registry.Register(&entry, nil); err != nil {
				m.log.WithField("plugin", p.Name).WithError(err).Error("failed to restore plugin")
			}
			continue
		}

		entry := p
		host, err := m.loader.Attach(ctx, &entry)
		if err != nil {
			entry.Runtime.Status = StatusError
			entry.Runtime.LastError = err.Error()
			host = nil
			m.log.WithField("plugin", p.Name).WithError(err).Warn("plugin failed to restore")
		}
		if rerr := m.registry.Register(&entry, host); rerr != nil {
			if host != nil {
				host.Close()
			}
			m.log.WithField("plugin", p.Name).WithError(rerr).Error("failed to restore plugin")
			continue
		}
		if err := m.store.SavePlugin(ctx, entry.Clone()); err != nil {
			m.log.WithField("plugin", p.Name).WithError(err).Error("failed to persist restored state")
		}
	}
	m.updateInstalledGauge()

	m.log.WithField("count", m.registry.Count()).Info("plugin table restored")
	return nil
}

// Reload re-instantiates a plugin whose package changed on disk, keeping
// its id, grant and enabled flag. Used by the package directory watcher.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	p, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	old := m.registry.hostOf(id)
	host, err := m.loader.Attach(ctx, &p)
	if err != nil {
		return fmt.Errorf("cannot reload %q: %w", p.Name, err)
	}
	if err := m.registry.attachHost(id, host, p.Hooks, p.Runtime.Status, p.Runtime.LastError); err != nil {
		host.Close()
		return err
	}
	if old != nil {
		if cerr := old.Cleanup(ctx); cerr != nil {
			m.log.WithField("plugin", p.Name).WithError(cerr).Warn("plugin cleanup failed")
		}
		old.Close()
	}

	updated, err := m.registry.Get(id)
	if err == nil {
		if serr := m.store.SavePlugin(ctx, updated); serr != nil {
			m.log.WithField("plugin", p.Name).WithError(serr).Error("failed to persist reload")
		}
	}
	m.log.WithField("plugin", p.Name).Info("plugin reloaded")
	return nil
}

// PluginIDForPath maps an installed package directory back to a plugin
// id. Used by the watcher to translate filesystem events.
func (m *Manager) PluginIDForPath(dir string) (string, bool) {
	for _, p := range m.registry.List() {
		if p.Path == dir {
			return p.ID, true
		}
	}
	return "", false
}

// Close runs cleanup() on every live plugin and releases their states.
// The persisted table is untouched; Restore brings everything back.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	for _, p := range m.registry.List() {
		host := m.registry.hostOf(p.ID)
		if host == nil {
			continue
		}
		if err := host.Cleanup(ctx); err != nil {
			m.log.WithField("plugin", p.Name).WithError(err).Warn("plugin cleanup failed")
		}
		host.Close()
	}
	m.log.Info("plugin manager closed")
	return nil
}

// updateInstalledGauge refreshes the installed-plugins gauge.
func (m *Manager) updateInstalledGauge() {
	if m.opts.Metrics != nil {
		m.opts.Metrics.PluginsInstalled.Set(float64(m.registry.Count()))
	}
}
