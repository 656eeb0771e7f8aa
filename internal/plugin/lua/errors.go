package lua

import "errors"

// ErrExecutorClosed is returned when operating on a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")
