package plugin

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// HostModule is the name of the Lua table the gate installs.
const HostModule = "fathom"

// defaultHostCallTimeout bounds a single host API call made from inside a
// plugin handler. The call runs synchronously on the plugin's executor
// goroutine, so it also consumes the hook's own budget.
const defaultHostCallTimeout = 5 * time.Second

// DenialReporter receives ungranted capability calls so they can be
// recorded as error outcomes.
type DenialReporter func(pluginID string, err error)

// Gate is the per-plugin restricted view of the host API. It is built once
// at load time from the plugin's granted permission set and is immutable
// afterwards; changing permissions requires reinstall with re-consent.
//
// The plugin never sees the unrestricted HostAPI: each gated function
// closes over the gate, checks its own token, and either forwards to the
// host service or returns nil plus an error to the calling script. Denials
// never crash the caller; they are reported and surface to Lua as an
// ordinary error return.
type Gate struct {
	pluginID   string
	pluginName string
	granted    map[Permission]bool
	api        HostAPI
	report     DenialReporter

	callTimeout time.Duration

	// invCtx is the context of the invocation currently running on the
	// plugin's executor goroutine. Gate functions only ever run inside
	// that invocation, on the same goroutine, so no locking is needed.
	invCtx context.Context
}

// NewGate builds a gate for one plugin.
func NewGate(pluginID, pluginName string, perms []Permission, api HostAPI, report DenialReporter) *Gate {
	granted := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	return &Gate{
		pluginID:    pluginID,
		pluginName:  pluginName,
		granted:     granted,
		api:         api,
		report:      report,
		callTimeout: defaultHostCallTimeout,
	}
}

// Has reports whether the token was granted.
func (g *Gate) Has(perm Permission) bool {
	return g.granted[perm]
}

// Install registers the fathom module into the Lua state. Must run on the
// state's executor goroutine.
func (g *Gate) Install(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "showNotification", L.NewFunction(g.showNotification))
	L.SetField(mod, "analyzeFile", L.NewFunction(g.analyzeFile))
	L.SetField(mod, "searchFiles", L.NewFunction(g.searchFiles))
	L.SetGlobal(HostModule, mod)
}

// deny records the denial and pushes (nil, message) for the Lua caller.
func (g *Gate) deny(L *lua.LState, perm Permission) int {
	err := &PermissionError{Plugin: g.pluginName, Permission: perm}
	if g.report != nil {
		g.report(g.pluginID, err)
	}
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// fail pushes (nil, message) for a host-side error.
func (g *Gate) fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// bind sets the invocation context host calls derive from; unbind clears
// it. Both must run on the executor goroutine.
func (g *Gate) bind(ctx context.Context) { g.invCtx = ctx }
func (g *Gate) unbind()                  { g.invCtx = nil }

// callCtx derives the context for one host call: the invocation's own
// context capped by the per-call timeout, so a cancelled or timed-out
// hook takes its pending host calls down with it.
func (g *Gate) callCtx() (context.Context, context.CancelFunc) {
	base := g.invCtx
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, g.callTimeout)
}

// showNotification implements fathom.showNotification(title, body).
// Requires "notify".
func (g *Gate) showNotification(L *lua.LState) int {
	title := L.CheckString(1)
	body := L.OptString(2, "")

	if !g.granted[PermissionNotify] {
		return g.deny(L, PermissionNotify)
	}
	if g.api.Notifier == nil {
		return g.fail(L, errNoService("notification"))
	}

	ctx, cancel := g.callCtx()
	defer cancel()
	if err := g.api.Notifier.ShowNotification(ctx, title, body); err != nil {
		return g.fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// analyzeFile implements fathom.analyzeFile(path). Requires
// "analyze-file". Returns a table {path, importance, category, summary}.
func (g *Gate) analyzeFile(L *lua.LState) int {
	path := L.CheckString(1)

	if !g.granted[PermissionAnalyzeFile] {
		return g.deny(L, PermissionAnalyzeFile)
	}
	if g.api.Analyzer == nil {
		return g.fail(L, errNoService("analysis"))
	}

	ctx, cancel := g.callCtx()
	defer cancel()
	analysis, err := g.api.Analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return g.fail(L, err)
	}

	tbl := L.NewTable()
	L.SetField(tbl, "path", lua.LString(analysis.Path))
	L.SetField(tbl, "importance", lua.LNumber(analysis.Importance))
	L.SetField(tbl, "category", lua.LString(analysis.Category))
	L.SetField(tbl, "summary", lua.LString(analysis.Summary))
	L.Push(tbl)
	return 1
}

// searchFiles implements fathom.searchFiles(query). Requires
// "search-files". Returns an array of {path, score, snippet} tables.
func (g *Gate) searchFiles(L *lua.LState) int {
	query := L.CheckString(1)

	if !g.granted[PermissionSearchFiles] {
		return g.deny(L, PermissionSearchFiles)
	}
	if g.api.Searcher == nil {
		return g.fail(L, errNoService("search"))
	}

	ctx, cancel := g.callCtx()
	defer cancel()
	hits, err := g.api.Searcher.SearchFiles(ctx, query)
	if err != nil {
		return g.fail(L, err)
	}

	out := L.NewTable()
	for i, hit := range hits {
		tbl := L.NewTable()
		L.SetField(tbl, "path", lua.LString(hit.Path))
		L.SetField(tbl, "score", lua.LNumber(hit.Score))
		L.SetField(tbl, "snippet", lua.LString(hit.Snippet))
		out.RawSetInt(i+1, tbl)
	}
	L.Push(out)
	return 1
}

func errNoService(name string) error {
	return fmt.Errorf("%s service is not available", name)
}
