// Package plugin implements the fathom plugin runtime: installing Lua
// extensions, exposing a capability-gated host API to them, dispatching
// domain hooks with isolation and timeouts, and tracking per-plugin health
// so one misbehaving extension cannot destabilize the host.
//
// The Manager is the administrative façade consumed by the UI layer. It
// composes the Registry (authoritative plugin table), Loader (manifest
// validation and instantiation), Dispatcher (hook fan-out) and Monitor
// (outcome accounting and circuit breaker). Plugin code runs in sandboxed
// Lua states; see the lua subpackage.
package plugin
