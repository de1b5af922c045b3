package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeCall is one command the fake endpoint received.
type fakeCall struct {
	ID        int64
	Method    string
	Params    map[string]any
	SessionID string
}

// replyFunc completes one call with a result or a protocol error. It may be
// invoked from any goroutine, which lets tests reply out of order or not at
// all.
type replyFunc func(result any, perr *ProtocolError)

// fakeServer is an in-process debug endpoint: a websocket server that
// records every call and answers through a pluggable handler.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	calls   []fakeCall
	handler func(call fakeCall, reply replyFunc)
	ws      *websocket.Conn

	writeMu sync.Mutex
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t}
	fs.handler = func(call fakeCall, reply replyFunc) {
		reply(map[string]any{}, nil)
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) dial(t *testing.T) *Conn {
	t.Helper()
	c, err := Dial(fs.wsURL())
	if err != nil {
		t.Fatalf("failed to dial fake server: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// setHandler swaps the call handler.
func (fs *fakeServer) setHandler(h func(call fakeCall, reply replyFunc)) {
	fs.mu.Lock()
	fs.handler = h
	fs.mu.Unlock()
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.ws = ws
	fs.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var m struct {
			ID        int64          `json:"id"`
			Method    string         `json:"method"`
			Params    map[string]any `json:"params"`
			SessionID string         `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		call := fakeCall{ID: m.ID, Method: m.Method, Params: m.Params, SessionID: m.SessionID}

		fs.mu.Lock()
		fs.calls = append(fs.calls, call)
		handler := fs.handler
		fs.mu.Unlock()

		handler(call, func(result any, perr *ProtocolError) {
			resp := map[string]any{"id": call.ID}
			if perr != nil {
				resp["error"] = perr
			} else {
				resp["result"] = result
			}
			fs.write(resp)
		})
	}
}

// closeClient severs the transport to the connected client without a close
// handshake. httptest's CloseClientConnections stops tracking hijacked
// connections, so it never reaches the websocket.
func (fs *fakeServer) closeClient() {
	fs.mu.Lock()
	ws := fs.ws
	fs.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// pushEvent emits an unsolicited event to the client.
func (fs *fakeServer) pushEvent(method string, params any) {
	fs.write(map[string]any{"method": method, "params": params})
}

func (fs *fakeServer) write(v any) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	fs.mu.Lock()
	ws := fs.ws
	fs.mu.Unlock()
	if ws == nil {
		fs.t.Errorf("fake server write before client connected")
		return
	}
	if err := ws.WriteJSON(v); err != nil {
		// Client may have gone away mid-test; not a failure by itself.
		fs.t.Logf("fake server write: %v", err)
	}
}

// recorded returns a snapshot of the calls received so far.
func (fs *fakeServer) recorded() []fakeCall {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]fakeCall(nil), fs.calls...)
}

// methods returns just the method names of recorded calls, optionally
// filtered by prefix.
func (fs *fakeServer) methods(prefix string) []string {
	var out []string
	for _, c := range fs.recorded() {
		if strings.HasPrefix(c.Method, prefix) {
			out = append(out, c.Method)
		}
	}
	return out
}

// waitCalls blocks until at least n calls were received.
func (fs *fakeServer) waitCalls(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(fs.recorded()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fake server never received %d calls (got %d)", n, len(fs.recorded()))
}
