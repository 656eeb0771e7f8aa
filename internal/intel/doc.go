// Package intel provides the host-side file intelligence services exposed
// to plugins: analysis, search and notifications. The plugin runtime only
// sees them through the plugin.HostAPI interfaces.
package intel
