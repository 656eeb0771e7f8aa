package plugin

import (
	"errors"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/fathomhq/fathom/internal/plugin/lua"
)

func newGateState(t *testing.T, perms []Permission, api HostAPI, report DenialReporter) *lua.LState {
	t.Helper()
	s := plua.NewState()
	t.Cleanup(s.Close)

	g := NewGate("p1", "tester", perms, api, report)
	g.Install(s.LState())
	return s.LState()
}

func TestGateGrantedNotify(t *testing.T) {
	api, notifier := testAPI()
	L := newGateState(t, []Permission{PermissionNotify}, api, nil)

	if err := L.DoString(`ok, err = fathom.showNotification("title", "body")`); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("ok") != lua.LTrue {
		t.Errorf("ok = %v, err = %v", L.GetGlobal("ok"), L.GetGlobal("err"))
	}
	sent := notifier.notifications()
	if len(sent) != 1 || sent[0].Title != "title" || sent[0].Body != "body" {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestGateDeniesUngrantedCall(t *testing.T) {
	api, notifier := testAPI()

	var reported []error
	report := func(pluginID string, err error) {
		if pluginID != "p1" {
			t.Errorf("denial attributed to %q", pluginID)
		}
		reported = append(reported, err)
	}

	// Only analyze-file granted; notify must be denied.
	L := newGateState(t, []Permission{PermissionAnalyzeFile}, api, report)

	if err := L.DoString(`ok, err = fathom.showNotification("nope")`); err != nil {
		t.Fatalf("denial must not raise: %v", err)
	}
	if L.GetGlobal("ok") != lua.LNil {
		t.Error("denied call should return nil first")
	}
	msg := L.GetGlobal("err").String()
	if !strings.Contains(msg, string(PermissionNotify)) {
		t.Errorf("error %q should name the missing token", msg)
	}

	if len(reported) != 1 {
		t.Fatalf("reported %d denials, want 1", len(reported))
	}
	if !errors.Is(reported[0], ErrPermissionDenied) {
		t.Errorf("reported error %v should match ErrPermissionDenied", reported[0])
	}

	// The host service must never have been reached.
	if len(notifier.notifications()) != 0 {
		t.Error("denied call reached the notifier")
	}
}

func TestGateAnalyzeFile(t *testing.T) {
	api, _ := testAPI()
	L := newGateState(t, []Permission{PermissionAnalyzeFile}, api, nil)

	if err := L.DoString(`
		a, err = fathom.analyzeFile("/notes/report.md")
		importance = a and a.importance or -1
		category = a and a.category or ""
	`); err != nil {
		t.Fatal(err)
	}
	if got := float64(L.GetGlobal("importance").(lua.LNumber)); got != 0.9 {
		t.Errorf("importance = %v", got)
	}
	if got := L.GetGlobal("category").String(); got != "document" {
		t.Errorf("category = %q", got)
	}
}

func TestGateSearchFiles(t *testing.T) {
	api, _ := testAPI()
	L := newGateState(t, []Permission{PermissionSearchFiles}, api, nil)

	if err := L.DoString(`
		hits, err = fathom.searchFiles("report")
		count = hits and #hits or 0
		first = hits and hits[1].path or ""
	`); err != nil {
		t.Fatal(err)
	}
	if got := int(L.GetGlobal("count").(lua.LNumber)); got != 1 {
		t.Errorf("count = %d", got)
	}
	if got := L.GetGlobal("first").String(); got != "/notes/a.md" {
		t.Errorf("first = %q", got)
	}
}

func TestGateServiceError(t *testing.T) {
	api := HostAPI{Analyzer: &fakeAnalyzer{err: errors.New("index unavailable")}}
	L := newGateState(t, []Permission{PermissionAnalyzeFile}, api, nil)

	if err := L.DoString(`a, err = fathom.analyzeFile("/x")`); err != nil {
		t.Fatalf("service error must not raise: %v", err)
	}
	if L.GetGlobal("a") != lua.LNil {
		t.Error("failed call should return nil first")
	}
	if got := L.GetGlobal("err").String(); !strings.Contains(got, "index unavailable") {
		t.Errorf("err = %q", got)
	}
}

func TestGateMissingService(t *testing.T) {
	L := newGateState(t, []Permission{PermissionNotify}, HostAPI{}, nil)

	if err := L.DoString(`ok, err = fathom.showNotification("x")`); err != nil {
		t.Fatal(err)
	}
	if got := L.GetGlobal("err").String(); !strings.Contains(got, "not available") {
		t.Errorf("err = %q", got)
	}
}
