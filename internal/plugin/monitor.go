package plugin

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerWindow    = time.Minute
)

// Monitor records invocation outcomes into the registry and runs the
// per-plugin circuit breaker.
//
// The breaker counts failures in a trailing window. When a plugin's
// failure count reaches the threshold, the monitor force-disables it
// through the registry: dispatch stops delivering to it immediately, and
// there is no automatic resume. A human operator re-enables through the
// administrative façade, which also resets the window.
type Monitor struct {
	registry *Registry
	log      *logrus.Logger
	metrics  *Metrics

	threshold int
	window    time.Duration

	// persist, when set, receives the updated plugin record after every
	// mutation so runtime_info survives restarts.
	persist func(Plugin)

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewMonitor creates a monitor over the registry. metrics may be nil.
func NewMonitor(registry *Registry, log *logrus.Logger, metrics *Metrics, threshold int, window time.Duration) *Monitor {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if window <= 0 {
		window = DefaultBreakerWindow
	}
	return &Monitor{
		registry:  registry,
		log:       log,
		metrics:   metrics,
		threshold: threshold,
		window:    window,
		failures:  make(map[string][]time.Time),
	}
}

// SetPersist installs the persistence callback.
func (m *Monitor) SetPersist(fn func(Plugin)) {
	m.persist = fn
}

// Record folds an invocation outcome into the plugin's runtime info and
// evaluates the breaker. Outcomes for a plugin removed mid-flight are
// dropped; its registry entry no longer exists to account against.
func (m *Monitor) Record(res HookInvocationResult) {
	p, err := m.registry.recordOutcome(res.PluginID, res)
	if err != nil {
		return
	}

	if m.metrics != nil {
		m.metrics.InvocationsTotal.WithLabelValues(res.PluginName, string(res.Hook), outcomeLabel(res)).Inc()
		m.metrics.InvocationDuration.WithLabelValues(string(res.Hook)).Observe(res.Duration.Seconds())
	}

	if res.Success {
		m.save(p)
		return
	}
	m.noteFailure(res.PluginID, p)
}

// RecordDenial folds an ungranted capability call into the plugin's
// runtime info as an error outcome and feeds the breaker. A plugin that
// hammers a denied capability is failing just as surely as one that
// throws.
func (m *Monitor) RecordDenial(pluginID string, err error) {
	p, rerr := m.registry.recordDenial(pluginID, err)
	if rerr != nil {
		return
	}
	if m.metrics != nil {
		m.metrics.DenialsTotal.WithLabelValues(p.Name).Inc()
	}
	m.noteFailure(pluginID, p)
}

// Reset clears a plugin's failure window. Called on explicit re-enable
// and on uninstall.
func (m *Monitor) Reset(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, pluginID)
}

// noteFailure appends to the trailing window and trips the breaker at the
// threshold.
func (m *Monitor) noteFailure(pluginID string, p Plugin) {
	now := time.Now()

	m.mu.Lock()
	recent := m.failures[pluginID][:0]
	for _, t := range m.failures[pluginID] {
		if now.Sub(t) <= m.window {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.failures[pluginID] = recent
	tripped := len(recent) >= m.threshold
	if tripped {
		delete(m.failures, pluginID)
	}
	m.mu.Unlock()

	if !tripped {
		m.save(p)
		return
	}

	disabled, err := m.registry.SetEnabled(pluginID, false)
	if err != nil {
		return
	}
	// SetEnabled(false) preserves counters; only explicit re-enable
	// resets them.
	m.log.WithFields(logrus.Fields{
		"plugin":      disabled.Name,
		"error_count": disabled.Runtime.ErrorCount,
		"last_error":  disabled.Runtime.LastError,
	}).Warn("circuit breaker tripped; plugin disabled")
	if m.metrics != nil {
		m.metrics.BreakerTripsTotal.WithLabelValues(disabled.Name).Inc()
	}
	m.save(disabled)
}

// save pushes the updated record to the persistence callback.
func (m *Monitor) save(p Plugin) {
	if m.persist != nil {
		m.persist(p)
	}
}
