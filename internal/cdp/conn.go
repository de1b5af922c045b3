// Package cdp is a minimal Chrome DevTools Protocol client: one websocket
// connection multiplexing concurrent calls and events, target/session
// management, and synthesized input primitives. It speaks the wire protocol
// directly and covers only the domains inkpress needs.
package cdp

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/inkpress/inkpress/internal/logging"
)

// DefaultCallTimeout bounds calls that pass no explicit timeout.
const DefaultCallTimeout = 30 * time.Second

const handshakeTimeout = 10 * time.Second

// message is the single wire shape: outbound calls carry id/method/params,
// inbound responses carry id and result or error, inbound events carry
// method/params and no id.
type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
}

// CallOpts adjusts a single call.
type CallOpts struct {
	SessionID string        // scope the call to an attached session
	Timeout   time.Duration // 0 means DefaultCallTimeout
}

// EventHandler receives the params of one protocol event.
type EventHandler func(params json.RawMessage)

// Subscription is the handle returned by On, used to unsubscribe.
type Subscription struct {
	event string
	fn    EventHandler
}

// Conn owns one duplex channel to the browser. It correlates responses to
// calls by id and fans events out to subscribers. Any number of calls may be
// outstanding concurrently; response order on the wire is irrelevant.
type Conn struct {
	ws  *websocket.Conn
	url string

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *message
	closed  bool

	subMu sync.Mutex
	subs  map[string][]*Subscription

	writeMu sync.Mutex

	defaultTimeout time.Duration

	done chan struct{}
}

// Dial connects to a browser debug websocket endpoint and starts the read
// loop. The caller owns the returned Conn and must Close it.
func Dial(wsURL string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:             ws,
		url:            wsURL,
		pending:        make(map[int64]chan *message),
		subs:           make(map[string][]*Subscription),
		defaultTimeout: DefaultCallTimeout,
		done:           make(chan struct{}),
	}
	go c.readLoop()

	L_debug("cdp: connected", "url", wsURL)
	return c, nil
}

// URL returns the websocket endpoint this connection was dialed against.
func (c *Conn) URL() string { return c.url }

// SetDefaultTimeout overrides the per-call timeout used when CallOpts.Timeout
// is zero.
func (c *Conn) SetDefaultTimeout(d time.Duration) {
	c.defaultTimeout = d
}

// Call sends a browser-scoped command and waits for its correlated response.
func (c *Conn) Call(method string, params any) (json.RawMessage, error) {
	return c.CallWith(CallOpts{}, method, params)
}

// CallWith sends a command with explicit options and waits for its correlated
// response. The result is the raw result object; a protocol error response
// surfaces as *ProtocolError, no response within the budget as
// *CallTimeoutError, and connection shutdown as ErrConnectionClosed.
func (c *Conn) CallWith(opts CallOpts, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		raw = data
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	id := c.nextID.Add(1)
	ch := make(chan *message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(message{ID: id, Method: method, Params: raw, SessionID: opts.SessionID})
	if err != nil {
		c.forget(id)
		return nil, err
	}

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return callResult(resp)
	case <-timer.C:
		// The response may have raced the timer; prefer it if it arrived.
		if c.forget(id) {
			return nil, &CallTimeoutError{Method: method, Timeout: timeout}
		}
		select {
		case resp := <-ch:
			return callResult(resp)
		case <-c.done:
			return nil, ErrConnectionClosed
		}
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

func callResult(resp *message) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// forget removes a pending entry, reporting whether it was still registered.
func (c *Conn) forget(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// On registers a handler for a named event. Handlers for the same event run
// in registration order; a panicking handler is logged and skipped without
// disturbing the others. The returned handle removes exactly this
// registration via Off.
func (c *Conn) On(event string, fn EventHandler) *Subscription {
	sub := &Subscription{event: event, fn: fn}
	c.subMu.Lock()
	c.subs[event] = append(c.subs[event], sub)
	c.subMu.Unlock()
	return sub
}

// Off removes a subscription. Removing one that is already gone is a no-op.
func (c *Conn) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := c.subs[sub.event]
	for i, s := range subs {
		if s == sub {
			c.subs[sub.event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close shuts the connection down. Every still-pending call fails with
// ErrConnectionClosed exactly once and the pending table is cleared.
// Safe to call more than once.
func (c *Conn) Close() error {
	return c.shutdown(nil)
}

func (c *Conn) shutdown(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	n := len(c.pending)
	c.pending = make(map[int64]chan *message)
	c.mu.Unlock()

	// Waiting callers observe done and fail uniformly.
	close(c.done)

	err := c.ws.Close()
	if err != nil {
		// Best effort - the transport may already be gone.
		L_debug("cdp: websocket close", "error", err)
	}

	if cause != nil {
		L_warn("cdp: connection lost", "error", cause, "pendingFailed", n)
	} else {
		L_debug("cdp: connection closed", "pendingFailed", n)
	}
	return nil
}

// readLoop parses every inbound message once and routes it: an id means a
// response for some pending call, a method without an id means an event.
// Responses for ids nobody is waiting on (timed out calls) are dropped.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Shutdown initiated locally.
			default:
				c.shutdown(err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			L_warn("cdp: discarding unparseable message", "error", err)
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
			continue
		}

		if msg.Method != "" {
			c.dispatch(msg.Method, msg.Params)
		}
	}
}

func (c *Conn) dispatch(event string, params json.RawMessage) {
	c.subMu.Lock()
	subs := append([]*Subscription(nil), c.subs[event]...)
	c.subMu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					L_error("cdp: event handler panicked", "event", event, "panic", r)
				}
			}()
			sub.fn(params)
		}()
	}
}
