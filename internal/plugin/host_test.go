package plugin

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestHost(t *testing.T, script string, perms ...Permission) *Host {
	t.Helper()

	dir := writePluginDir(t, "host-test", perms, script)
	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	api, _ := testAPI()
	gate := NewGate("p1", manifest.Name, perms, api, nil)
	host := NewHost("p1", manifest, gate, testLogger())
	t.Cleanup(host.Close)

	if err := host.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return host
}

func TestHostProbesHooks(t *testing.T) {
	host := newTestHost(t, `
		function onFileProcessed(ctx, data)
			return { success = true }
		end
	`)

	if !host.HasHook(HookFileProcessed) {
		t.Error("onFileProcessed should be probed")
	}
	if host.HasHook(HookSearchStarted) {
		t.Error("onSearchStarted was not exported")
	}
	hooks := host.Hooks()
	if len(hooks) != 1 || hooks[0] != HookFileProcessed {
		t.Errorf("hooks = %v", hooks)
	}
}

func TestHostInvoke(t *testing.T) {
	host := newTestHost(t, `
		function onFileProcessed(ctx, data)
			return {
				success = true,
				data = {
					seen = data.path,
					event = ctx.event_id,
				},
			}
		end
	`)

	out, err := host.Invoke(context.Background(), HookFileProcessed,
		map[string]interface{}{"event_id": "ev-1"},
		map[string]interface{}{"path": "/notes/a.md"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	data, _ := out["data"].(map[string]interface{})
	if data == nil {
		t.Fatalf("out = %#v", out)
	}
	if data["seen"] != "/notes/a.md" || data["event"] != "ev-1" {
		t.Errorf("data = %#v", data)
	}
}

func TestHostInvokeHandlerError(t *testing.T) {
	host := newTestHost(t, `
		function onFileProcessed(ctx, data)
			error("handler exploded")
		end
	`)

	_, err := host.Invoke(context.Background(), HookFileProcessed, nil, nil)
	if err == nil {
		t.Fatal("expected error from raising handler")
	}

	// The host must survive a handler failure.
	if !host.HasHook(HookFileProcessed) {
		t.Error("hook set lost after failure")
	}
}

func TestHostInvokeUnexportedHook(t *testing.T) {
	host := newTestHost(t, `x = 1`)

	if _, err := host.Invoke(context.Background(), HookFileProcessed, nil, nil); err == nil {
		t.Fatal("expected error for unexported hook")
	}
}

func TestHostLifecycle(t *testing.T) {
	host := newTestHost(t, `
		state = "loaded"
		function initialize()
			state = "initialized"
		end
		function cleanup()
			state = "cleaned"
		end
		function onFileProcessed(ctx, data)
			return { success = true, data = { state = state } }
		end
	`)

	ctx := context.Background()
	if err := host.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	out, err := host.Invoke(ctx, HookFileProcessed, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := out["data"].(map[string]interface{})
	if data["state"] != "initialized" {
		t.Errorf("state = %v", data["state"])
	}

	if err := host.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
}

func TestHostLifecycleOptional(t *testing.T) {
	host := newTestHost(t, `function onFileProcessed(ctx, data) return { success = true } end`)

	ctx := context.Background()
	if err := host.Initialize(ctx); err != nil {
		t.Errorf("missing initialize should be a no-op: %v", err)
	}
	if err := host.Cleanup(ctx); err != nil {
		t.Errorf("missing cleanup should be a no-op: %v", err)
	}
}

// stallNotifier blocks until the call's context ends and reports the
// error it observed.
type stallNotifier struct {
	got chan error
}

func (n *stallNotifier) ShowNotification(ctx context.Context, title, body string) error {
	<-ctx.Done()
	n.got <- ctx.Err()
	return ctx.Err()
}

func TestHostCallInheritsInvocationContext(t *testing.T) {
	dir := writePluginDir(t, "host-ctx", []Permission{PermissionNotify}, `
		function onFileProcessed(ctx, data)
			fathom.showNotification("stuck", "")
			return { success = true }
		end
	`)
	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	notifier := &stallNotifier{got: make(chan error, 1)}
	gate := NewGate("p1", manifest.Name, []Permission{PermissionNotify}, HostAPI{Notifier: notifier}, nil)
	host := NewHost("p1", manifest, gate, testLogger())
	t.Cleanup(host.Close)
	if err := host.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := host.Invoke(ctx, HookFileProcessed, nil, nil); err == nil {
		t.Fatal("expected the invocation to fail with its context")
	}

	// The notifier's context ends with the invocation, not after a
	// detached five second clock.
	select {
	case gotErr := <-notifier.got:
		if !errors.Is(gotErr, context.DeadlineExceeded) {
			t.Errorf("notifier saw %v, want deadline exceeded", gotErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("host call kept running past the invocation deadline")
	}
}

func TestHostSandboxInPlugin(t *testing.T) {
	// The script loads, but touching a blocked library from a handler
	// raises at invocation time.
	host := newTestHost(t, `
		function onFileProcessed(ctx, data)
			os.execute("true")
			return { success = true }
		end
	`)

	if _, err := host.Invoke(context.Background(), HookFileProcessed, nil, nil); err == nil {
		t.Fatal("blocked library call should fail the invocation")
	}
}
