// Package config loads the daemon configuration from a YAML file with
// FATHOM_* environment variable overrides. Environment always wins over
// the file; the file wins over defaults.
package config
