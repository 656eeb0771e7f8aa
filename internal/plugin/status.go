package plugin

// Status represents the runtime state of an installed plugin.
type Status int

const (
	// StatusLoaded - plugin code is loaded and initialized.
	StatusLoaded Status = iota

	// StatusRunning - plugin has handled at least one hook since load.
	StatusRunning

	// StatusError - initialization or a hook invocation failed.
	StatusError

	// StatusDisabled - plugin is excluded from dispatch, either by an
	// administrative toggle or by the circuit breaker.
	StatusDisabled
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back to a Status. Unknown
// strings map to StatusError so a corrupt row is visible, not silently
// runnable.
func ParseStatus(s string) Status {
	switch s {
	case "loaded":
		return StatusLoaded
	case "running":
		return StatusRunning
	case "disabled":
		return StatusDisabled
	default:
		return StatusError
	}
}
