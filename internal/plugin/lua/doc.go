// Package lua provides the sandboxed Lua execution substrate for fathom
// plugins.
//
// Every plugin owns a single Lua state created by NewState. The state opens
// only the safe standard libraries and strips everything that could reach
// outside the sandbox (io, os, debug, dofile, load). Host functionality is
// injected separately, through the capability gate in the plugin package.
//
// gopher-lua states are not goroutine-safe. All access to a state after
// creation must go through its Executor, which serializes operations on a
// single owning goroutine. This also gives plugin invocations their queuing
// behavior: a second call queues behind the first instead of interleaving.
package lua
