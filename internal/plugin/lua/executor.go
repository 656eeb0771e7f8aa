package lua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// call is a single queued Lua operation.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all operations on one Lua state through a single
// goroutine.
//
// gopher-lua states are not goroutine-safe, so every state operation after
// creation is marshalled through the executor's queue. The queue also gives
// plugin invocations their ordering guarantee: a second call for the same
// plugin waits behind the first instead of running concurrently with it.
//
// A caller that stops waiting (context timeout) abandons only the wait; the
// queued operation still runs to completion on the executor goroutine. The
// runtime does not preempt plugin code.
type Executor struct {
	state *State
	queue chan *call

	closed  atomic.Bool
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an executor for the given state and starts its worker
// goroutine.
func NewExecutor(state *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 16
	}
	e := &Executor{
		state:   state,
		queue:   make(chan *call, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// run processes queued calls until Close. It owns the Lua state.
func (e *Executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case c := <-e.queue:
			err := e.execute(c)
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		}
	}
}

// execute runs a single call with panic recovery. A panic inside plugin
// code or the bridge becomes an error instead of taking down the host.
func (e *Executor) execute(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = errors.New("lua panic")
			}
		}
	}()
	return c.fn(e.state.LState())
}

// drain fails any calls still queued after shutdown began.
func (e *Executor) drain() {
	for {
		select {
		case c := <-e.queue:
			select {
			case c.result <- ErrExecutorClosed:
			default:
			}
			close(c.result)
		default:
			return
		}
	}
}

// Do runs fn on the executor goroutine and waits for it to finish or for
// the context to expire. On context expiry the call itself is not cancelled;
// only the wait is abandoned.
func (e *Executor) Do(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}

// Close stops the executor. Queued calls fail with ErrExecutorClosed; the
// call in flight finishes first. Close does not wait; use Stopped.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// Stopped returns a channel closed once the worker goroutine has exited and
// the Lua state may be released.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stopped
}
