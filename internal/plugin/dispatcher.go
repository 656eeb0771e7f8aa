package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher defaults.
const (
	DefaultMaxConcurrentInvocations = 4
	DefaultInvocationTimeout        = 5 * time.Second
)

// defaultListFields are the result fields merged by concatenation instead
// of last-wins. The upstream search UI treats suggestions as accumulating.
var defaultListFields = []string{"suggestion", "suggestions"}

// Dispatcher fans a hook out to every enabled plugin that exports a
// handler for it.
//
// Fan-out runs on a bounded worker pool so N slow plugins cannot starve
// the host; within the pool, plugins run concurrently with no ordering
// guarantee between them, while each plugin's own invocations stay
// serialized by its host. Every invocation is isolated: a handler error,
// panic or timeout becomes a failed HookInvocationResult and never aborts
// dispatch to the siblings, and never propagates to the triggering host
// operation.
type Dispatcher struct {
	registry *Registry
	monitor  *Monitor
	log      *logrus.Logger

	maxConcurrent int
	timeout       time.Duration
	listFields    map[string]bool
}

// NewDispatcher creates a dispatcher over the registry. Outcomes of every
// invocation are recorded through the monitor.
func NewDispatcher(registry *Registry, monitor *Monitor, log *logrus.Logger, maxConcurrent int, timeout time.Duration, listFields []string) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentInvocations
	}
	if timeout <= 0 {
		timeout = DefaultInvocationTimeout
	}
	if listFields == nil {
		listFields = defaultListFields
	}
	fields := make(map[string]bool, len(listFields))
	for _, f := range listFields {
		fields[f] = true
	}
	return &Dispatcher{
		registry:      registry,
		monitor:       monitor,
		log:           log,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		listFields:    fields,
	}
}

// DispatchResult aggregates one dispatch cycle.
type DispatchResult struct {
	Hook    Hook
	EventID string

	// Results holds one entry per snapshotted plugin, in registration
	// order, regardless of individual failures.
	Results []HookInvocationResult

	// Merged is the deterministic fold of all successful result data.
	// Scalar fields: last registered plugin wins. List fields (see
	// configuration): values concatenate in registration order, scalars
	// coerced to single elements.
	Merged map[string]interface{}
}

// Succeeded returns how many invocations succeeded.
func (r *DispatchResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Dispatch resolves the snapshot of enabled plugins handling the hook and
// invokes each through its gated view. The snapshot is taken once at
// dispatch start; registry mutations that land afterwards affect the next
// dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, hook Hook, payload map[string]interface{}) *DispatchResult {
	targets := d.registry.snapshot(hook)

	result := &DispatchResult{
		Hook:    hook,
		EventID: uuid.NewString(),
		Results: make([]HookInvocationResult, len(targets)),
	}
	hookCtx := map[string]interface{}{
		"event_id":  result.EventID,
		"hook":      string(hook),
		"timestamp": time.Now().Unix(),
	}

	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			defer target.host.release()
			res := d.invoke(ctx, target, hook, hookCtx, payload)
			result.Results[i] = res
			d.monitor.Record(res)
			return nil
		})
	}
	_ = g.Wait()

	result.Merged = d.merge(result.Results)
	return result
}

// invoke runs one handler with its timeout budget and classifies the
// outcome. Panics inside the Lua bridge are already recovered by the
// executor; this is the containment boundary for everything else.
func (d *Dispatcher) invoke(ctx context.Context, target dispatchTarget, hook Hook, hookCtx, payload map[string]interface{}) HookInvocationResult {
	res := HookInvocationResult{
		PluginID:   target.id,
		PluginName: target.name,
		Hook:       hook,
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	out, err := target.host.Invoke(cctx, hook, hookCtx, payload)
	res.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Err = &TimeoutError{Plugin: target.name, Hook: hook, Budget: d.timeout}
		} else {
			res.Err = &RuntimeError{Plugin: target.name, Hook: hook, Err: err}
		}
		d.log.WithFields(logrus.Fields{
			"plugin": target.name,
			"hook":   hook,
		}).WithError(res.Err).Debug("hook invocation failed")
		return res
	}

	res.Success = true
	if out == nil {
		return res
	}

	if ok, isBool := out["success"].(bool); isBool && !ok {
		res.Success = false
		res.Err = handlerError(target.name, hook, out)
	}
	if msg, isStr := out["error"].(string); isStr && msg != "" {
		res.Success = false
		res.Err = &RuntimeError{Plugin: target.name, Hook: hook, Err: errors.New(msg)}
	}
	if res.Success {
		if data, isMap := out["data"].(map[string]interface{}); isMap {
			res.Data = data
		}
	}
	return res
}

// handlerError builds the error for a handler that reported failure
// without raising one.
func handlerError(pluginName string, hook Hook, out map[string]interface{}) error {
	msg := "handler reported failure"
	if s, ok := out["error"].(string); ok && s != "" {
		msg = s
	}
	return &RuntimeError{Plugin: pluginName, Hook: hook, Err: errors.New(msg)}
}

// isTimeout reports whether the error is an invocation timeout.
func isTimeout(err error) bool {
	return errors.Is(err, ErrInvocationTimeout)
}

// merge folds successful result data in registration order. The policy is
// deterministic so the upstream UI always observes a single unambiguous
// value: scalar fields take the last registered plugin's value, list
// fields concatenate contributions in registration order.
func (d *Dispatcher) merge(results []HookInvocationResult) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, res := range results {
		if !res.Success || res.Data == nil {
			continue
		}
		for key, value := range res.Data {
			if d.listFields[key] {
				merged[key] = appendList(merged[key], value)
			} else {
				merged[key] = value
			}
		}
	}
	return merged
}

// appendList concatenates a contribution onto an accumulated list field,
// coercing scalars into single elements.
func appendList(existing, value interface{}) []interface{} {
	var list []interface{}
	switch v := existing.(type) {
	case nil:
	case []interface{}:
		list = v
	default:
		list = []interface{}{v}
	}
	switch v := value.(type) {
	case []interface{}:
		return append(list, v...)
	default:
		return append(list, v)
	}
}
