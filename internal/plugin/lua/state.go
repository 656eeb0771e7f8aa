package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// safeModules are the built-in modules a plugin may require.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// State wraps a sandboxed gopher-lua state.
//
// State performs no locking of its own: after NewState returns, all access
// must be serialized through an Executor. Close may only be called once the
// executor has stopped.
type State struct {
	L      *lua.LState
	closed bool
}

// NewState creates a new Lua state with only safe libraries opened and the
// sandbox restrictions installed.
func NewState() *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	// Base gives print, type, pairs, pcall and friends. io, os, debug and
	// package are intentionally never opened; plugins reach the host only
	// through the gated fathom module.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s := &State{L: L}
	s.harden()
	return s
}

// harden removes the escape hatches the base library leaves behind.
func (s *State) harden() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	// require only resolves the whitelisted built-ins, which are already
	// open as globals. The package library is never loaded, so there is no
	// path-based module resolution to escape through.
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available to plugins", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}

// LState returns the underlying gopher-lua state. Callers must hold the
// executor goroutine.
func (s *State) LState() *lua.LState {
	return s.L
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	return s.closed
}

// Close releases the Lua state. Safe to call more than once.
func (s *State) Close() {
	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}
