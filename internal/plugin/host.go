package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/fathomhq/fathom/internal/plugin/lua"
)

// lifecycle entry points a plugin script may export.
const (
	fnInitialize = "initialize"
	fnCleanup    = "cleanup"
)

// closeGrace is how long Close waits for the executor goroutine to drain
// before abandoning the Lua state to the runtime's garbage collector. A
// handler stuck in a busy loop cannot be preempted.
const closeGrace = 3 * time.Second

// Host owns one plugin's sandboxed Lua state and serializes every
// operation on it through an executor goroutine. That single queue is what
// makes each plugin non-reentrant: a second hook invocation queues behind
// the first instead of interleaving with it. Different plugins' hosts are
// fully independent and run concurrently.
type Host struct {
	id   string
	name string

	manifest *Manifest
	gate     *Gate
	state    *plua.State
	exec     *plua.Executor
	log      *logrus.Entry

	hooks map[Hook]bool

	// refMu guards the dispatch reference count. A snapshot holds one
	// reference per captured target; Close after Remove defers the actual
	// executor shutdown until the last holder releases, so an in-flight
	// dispatch finishes against an uninstalled plugin.
	refMu    sync.Mutex
	refs     int
	retired  bool
	shutOnce sync.Once
}

// NewHost creates a host with a fresh sandboxed state. Call Load before
// anything else.
func NewHost(id string, m *Manifest, gate *Gate, log *logrus.Logger) *Host {
	state := plua.NewState()
	return &Host{
		id:       id,
		name:     m.Name,
		manifest: m,
		gate:     gate,
		state:    state,
		exec:     plua.NewExecutor(state, 16),
		log:      log.WithField("plugin", m.Name),
		hooks:    make(map[Hook]bool),
	}
}

// ID returns the plugin id this host executes for.
func (h *Host) ID() string { return h.id }

// Name returns the plugin name.
func (h *Host) Name() string { return h.name }

// Load installs the gated host API, executes the plugin's entry point and
// probes which hook handlers the script exported. The fixed hook set is
// probed once here; dispatch never inspects the script again.
func (h *Host) Load(ctx context.Context) error {
	return h.exec.Do(ctx, func(L *lua.LState) error {
		h.gate.bind(ctx)
		defer h.gate.unbind()
		h.gate.Install(L)
		if err := L.DoFile(h.manifest.MainPath()); err != nil {
			return err
		}
		for _, hook := range Hooks() {
			if L.GetGlobal(string(hook)).Type() == lua.LTFunction {
				h.hooks[hook] = true
			}
		}
		return nil
	})
}

// Hooks returns the handlers the script exported, in the fixed hook order.
func (h *Host) Hooks() []Hook {
	var out []Hook
	for _, hook := range Hooks() {
		if h.hooks[hook] {
			out = append(out, hook)
		}
	}
	return out
}

// HasHook reports whether the script exported a handler for the hook.
func (h *Host) HasHook(hook Hook) bool {
	return h.hooks[hook]
}

// Initialize runs the optional initialize() lifecycle entry point.
func (h *Host) Initialize(ctx context.Context) error {
	return h.callOptional(ctx, fnInitialize)
}

// Cleanup runs the optional cleanup() lifecycle entry point. It queues
// behind any in-flight hook invocation, so an uninstall lets the current
// call finish first.
func (h *Host) Cleanup(ctx context.Context) error {
	return h.callOptional(ctx, fnCleanup)
}

// callOptional calls a global function if the script exported one.
func (h *Host) callOptional(ctx context.Context, name string) error {
	return h.exec.Do(ctx, func(L *lua.LState) error {
		fn := L.GetGlobal(name)
		if fn.Type() != lua.LTFunction {
			return nil
		}
		h.gate.bind(ctx)
		defer h.gate.unbind()
		L.Push(fn)
		return L.PCall(0, 0, nil)
	})
}

// Invoke calls the hook handler with the event context and payload and
// returns the handler's result table as a Go map. The context bounds the
// wait, not the Lua code: on expiry Invoke returns the context error
// while the queued call still runs to completion on the executor
// goroutine. Host calls the handler makes do derive from the context, so
// an abandoned handler's pending fathom.* calls fail fast instead of
// running on a detached clock. Plugin-side cleanup after an abandoned
// call is the plugin author's responsibility.
func (h *Host) Invoke(ctx context.Context, hook Hook, hookCtx, payload map[string]interface{}) (map[string]interface{}, error) {
	if !h.hooks[hook] {
		return nil, fmt.Errorf("no handler for hook %s", hook)
	}

	var out map[string]interface{}
	err := h.exec.Do(ctx, func(L *lua.LState) error {
		fn := L.GetGlobal(string(hook))
		if fn.Type() != lua.LTFunction {
			return fmt.Errorf("handler %s disappeared", hook)
		}

		h.gate.bind(ctx)
		defer h.gate.unbind()

		top := L.GetTop()
		L.Push(fn)
		L.Push(plua.ToLua(L, hookCtx))
		L.Push(plua.ToLua(L, payload))
		if err := L.PCall(2, lua.MultRet, nil); err != nil {
			return err
		}

		nret := L.GetTop() - top
		if nret > 0 {
			out = plua.ToGoMap(L.Get(top + 1))
			L.Pop(nret)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// acquire takes a dispatch reference. Held references keep the executor
// open across Close.
func (h *Host) acquire() {
	h.refMu.Lock()
	h.refs++
	h.refMu.Unlock()
}

// release drops a dispatch reference, shutting the host down if Close ran
// while the reference was held.
func (h *Host) release() {
	h.refMu.Lock()
	h.refs--
	shut := h.retired && h.refs == 0
	h.refMu.Unlock()
	if shut {
		h.shutdown()
	}
}

// Close retires the host. With no dispatch references held it shuts down
// immediately; otherwise the last release shuts it down, so an invocation
// whose snapshot predates the removal still completes. Safe to call more
// than once.
func (h *Host) Close() {
	h.refMu.Lock()
	h.retired = true
	busy := h.refs > 0
	h.refMu.Unlock()
	if busy {
		return
	}
	h.shutdown()
}

// shutdown stops the executor and releases the Lua state. Queued calls
// fail; the call in flight gets closeGrace to finish. If it does not, the
// state is leaked rather than closed underneath running plugin code.
func (h *Host) shutdown() {
	h.shutOnce.Do(func() {
		h.exec.Close()
		select {
		case <-h.exec.Stopped():
			h.state.Close()
		case <-time.After(closeGrace):
			h.log.Warn("plugin did not stop in time; abandoning its state")
		}
	})
}
