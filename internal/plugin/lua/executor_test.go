package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	s := NewState()
	e := NewExecutor(s, 8)
	t.Cleanup(func() {
		e.Close()
		select {
		case <-e.Stopped():
			s.Close()
		case <-time.After(2 * time.Second):
			t.Log("executor did not stop, leaking state")
		}
	})
	return e
}

func TestExecutorDo(t *testing.T) {
	e := newTestExecutor(t)

	var got string
	err := e.Do(context.Background(), func(L *lua.LState) error {
		if err := L.DoString(`result = "hello"`); err != nil {
			return err
		}
		got = L.GetGlobal("result").String()
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestExecutorPropagatesError(t *testing.T) {
	e := newTestExecutor(t)

	want := errors.New("boom")
	err := e.Do(context.Background(), func(L *lua.LState) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	e := newTestExecutor(t)

	err := e.Do(context.Background(), func(L *lua.LState) error {
		panic("plugin went sideways")
	})
	if err == nil {
		t.Fatal("expected error from panicking call")
	}

	// The executor must still be usable afterwards.
	if err := e.Do(context.Background(), func(L *lua.LState) error { return nil }); err != nil {
		t.Errorf("executor unusable after panic: %v", err)
	}
}

func TestExecutorSerializesCalls(t *testing.T) {
	e := newTestExecutor(t)

	const n = 20
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Queue everything from one goroutine so queue order is deterministic,
	// then verify execution preserved it.
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(L *lua.LState) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(order) != n {
		t.Fatalf("executed %d calls, want %d", len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("call %d ran out of order (got %d)", i, v)
		}
	}
}

func TestExecutorTimeoutAbandonsWaitOnly(t *testing.T) {
	e := newTestExecutor(t)

	release := make(chan struct{})
	ran := make(chan struct{})

	// Occupy the worker.
	go func() {
		_ = e.Do(context.Background(), func(L *lua.LState) error {
			<-release
			return nil
		})
	}()

	// Give the blocker time to be picked up.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Do(ctx, func(L *lua.LState) error {
		close(ran)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}

	close(release)

	// The abandoned call still runs once the worker frees up.
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned call never executed")
	}
}

func TestExecutorClose(t *testing.T) {
	s := NewState()
	e := NewExecutor(s, 4)

	e.Close()
	select {
	case <-e.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	s.Close()

	if !e.IsClosed() {
		t.Error("executor should report closed")
	}
	if err := e.Do(context.Background(), func(L *lua.LState) error { return nil }); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("got %v, want ErrExecutorClosed", err)
	}
}
