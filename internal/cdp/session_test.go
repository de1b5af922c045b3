package cdp

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// targetsHandler answers Target.getTargets with the given infos and
// attach/enable calls with canned results.
func targetsHandler(infos func() []map[string]any) func(call fakeCall, reply replyFunc) {
	return func(call fakeCall, reply replyFunc) {
		switch call.Method {
		case "Target.getTargets":
			reply(map[string]any{"targetInfos": infos()}, nil)
		case "Target.attachToTarget":
			reply(map[string]any{"sessionId": "sess-1"}, nil)
		default:
			reply(map[string]any{}, nil)
		}
	}
}

func TestGetPageSession_AttachesAndEnablesDomains(t *testing.T) {
	fs := newFakeServer(t)
	fs.setHandler(targetsHandler(func() []map[string]any {
		return []map[string]any{
			{"targetId": "t-iframe", "type": "iframe", "url": "https://example.com/ad"},
			{"targetId": "t-other", "type": "page", "url": "https://other.test/"},
			{"targetId": "t-page", "type": "page", "url": "https://example.com/editor"},
		}
	}))

	c := fs.dial(t)

	s, err := GetPageSession(c, "example.com")
	if err != nil {
		t.Fatalf("GetPageSession failed: %v", err)
	}
	if s.ID != "sess-1" {
		t.Errorf("session id %q, want sess-1", s.ID)
	}
	// The iframe matches the substring but is not a page; the first
	// page-type match wins.
	if s.TargetID != "t-page" {
		t.Errorf("attached to %q, want t-page", s.TargetID)
	}

	var attach fakeCall
	enabled := map[string]string{}
	for _, call := range fs.recorded() {
		switch call.Method {
		case "Target.attachToTarget":
			attach = call
		case "Page.enable", "Runtime.enable", "DOM.enable":
			enabled[call.Method] = call.SessionID
		}
	}
	if attach.Params["targetId"] != "t-page" {
		t.Errorf("attach requested target %v", attach.Params["targetId"])
	}
	if attach.Params["flatten"] != true {
		t.Errorf("attach must request flat mode, params: %v", attach.Params)
	}
	for _, domain := range []string{"Page.enable", "Runtime.enable", "DOM.enable"} {
		if enabled[domain] != "sess-1" {
			t.Errorf("%s called with session %q, want sess-1", domain, enabled[domain])
		}
	}
}

func TestGetPageSession_NoMatch(t *testing.T) {
	fs := newFakeServer(t)
	fs.setHandler(targetsHandler(func() []map[string]any {
		return []map[string]any{
			{"targetId": "t-1", "type": "page", "url": "https://unrelated.test/"},
		}
	}))

	c := fs.dial(t)

	_, err := GetPageSession(c, "example.com")
	if !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("got %v, want ErrPageNotFound", err)
	}
	if !strings.Contains(err.Error(), "page not found: example.com") {
		t.Errorf("error %q does not name the pattern", err)
	}

	if len(fs.methods("Target.attachToTarget")) != 0 {
		t.Error("attach was called despite no matching target")
	}
}

func TestWaitForNewTab_ReturnsOnlyUnknownTargets(t *testing.T) {
	fs := newFakeServer(t)

	var mu sync.Mutex
	polls := 0
	fs.setHandler(targetsHandler(func() []map[string]any {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		infos := []map[string]any{
			{"targetId": "t-known", "type": "page", "url": "https://example.com/editor"},
		}
		if n >= 3 {
			infos = append(infos, map[string]any{
				"targetId": "t-new", "type": "page", "url": "https://example.com/published/42",
			})
		}
		return infos
	}))

	c := fs.dial(t)

	known := map[string]bool{"t-known": true}
	id, err := WaitForNewTab(c, known, "example.com", 10*time.Second)
	if err != nil {
		t.Fatalf("WaitForNewTab failed: %v", err)
	}
	if id != "t-new" {
		t.Errorf("got target %q, want t-new", id)
	}
}

func TestWaitForNewTab_Timeout(t *testing.T) {
	fs := newFakeServer(t)
	fs.setHandler(targetsHandler(func() []map[string]any {
		return []map[string]any{
			{"targetId": "t-known", "type": "page", "url": "https://example.com/editor"},
		}
	}))

	c := fs.dial(t)

	_, err := WaitForNewTab(c, map[string]bool{"t-known": true}, "example.com", 100*time.Millisecond)
	var wt *WaitTimeoutError
	if !errors.As(err, &wt) {
		t.Fatalf("got %v, want WaitTimeoutError", err)
	}
	if !strings.Contains(err.Error(), "new tab") {
		t.Errorf("timeout error %q does not describe the wait", err)
	}
}

func TestKnownTargetIDs(t *testing.T) {
	fs := newFakeServer(t)
	fs.setHandler(targetsHandler(func() []map[string]any {
		return []map[string]any{
			{"targetId": "t-1", "type": "page", "url": "https://a.test/"},
			{"targetId": "t-2", "type": "iframe", "url": "https://b.test/"},
		}
	}))

	c := fs.dial(t)

	known, err := KnownTargetIDs(c)
	if err != nil {
		t.Fatalf("KnownTargetIDs failed: %v", err)
	}
	if len(known) != 2 || !known["t-1"] || !known["t-2"] {
		t.Errorf("known set %v, want t-1 and t-2", known)
	}
}
