// Package store persists the installed plugin table.
//
// The SQLite implementation backs the real application; the in-memory
// implementation backs tests and ephemeral setups. Both satisfy
// plugin.Store.
package store
