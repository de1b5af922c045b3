package cdp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const newTabPollInterval = 500 * time.Millisecond

// Target is a debuggable browser context (one tab or page), discovered via
// enumeration.
type Target struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// Session binds a Conn to one attached target. All DOM/Runtime/Input-scoped
// calls must go through a Session; it holds a non-owning reference to the
// Conn and becomes useless once the target closes.
type Session struct {
	conn     *Conn
	ID       string
	TargetID string
}

// Conn returns the connection this session rides on.
func (s *Session) Conn() *Conn { return s.conn }

// Call sends a command scoped to this session.
func (s *Session) Call(method string, params any) (json.RawMessage, error) {
	return s.conn.CallWith(CallOpts{SessionID: s.ID}, method, params)
}

// CallWith sends a session-scoped command with an explicit timeout.
func (s *Session) CallWith(timeout time.Duration, method string, params any) (json.RawMessage, error) {
	return s.conn.CallWith(CallOpts{SessionID: s.ID, Timeout: timeout}, method, params)
}

// ListTargets enumerates the browser's current targets.
func ListTargets(c *Conn) ([]Target, error) {
	result, err := c.Call("Target.getTargets", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		TargetInfos []Target `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	return resp.TargetInfos, nil
}

// KnownTargetIDs snapshots the current target id set, for use with
// WaitForNewTab before triggering an action that opens a popup.
func KnownTargetIDs(c *Conn) (map[string]bool, error) {
	targets, err := ListTargets(c)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(targets))
	for _, t := range targets {
		known[t.TargetID] = true
	}
	return known, nil
}

// Attach attaches a flat-mode session to a target.
func Attach(c *Conn, targetID string) (*Session, error) {
	result, err := c.Call("Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to target %s: %w", targetID, err)
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse session id: %w", err)
	}
	return &Session{conn: c, ID: resp.SessionID, TargetID: targetID}, nil
}

// GetPageSession finds the first page-type target whose URL contains
// urlSubstring, attaches to it, and enables the Page, Runtime and DOM
// domains. Callers may assume those domains are ready on the returned
// session.
func GetPageSession(c *Conn, urlSubstring string) (*Session, error) {
	targets, err := ListTargets(c)
	if err != nil {
		return nil, err
	}

	var match *Target
	for i, t := range targets {
		if t.Type == "page" && strings.Contains(t.URL, urlSubstring) {
			match = &targets[i]
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, urlSubstring)
	}

	s, err := Attach(c, match.TargetID)
	if err != nil {
		return nil, err
	}

	for _, domain := range []string{"Page.enable", "Runtime.enable", "DOM.enable"} {
		if _, err := s.Call(domain, nil); err != nil {
			return nil, fmt.Errorf("failed to enable %s: %w", strings.TrimSuffix(domain, ".enable"), err)
		}
	}

	return s, nil
}

// WaitForNewTab polls target enumeration until a page-type target appears
// that is absent from known and whose URL contains urlSubstring, and returns
// its id. New-tab creation is not an event this layer subscribes to, so this
// is a plain polling loop.
func WaitForNewTab(c *Conn, known map[string]bool, urlSubstring string, timeout time.Duration) (string, error) {
	var found string
	err := Poll(fmt.Sprintf("new tab matching %q", urlSubstring), timeout, newTabPollInterval, func() (bool, error) {
		targets, err := ListTargets(c)
		if err != nil {
			return false, err
		}
		for _, t := range targets {
			if t.Type == "page" && !known[t.TargetID] && strings.Contains(t.URL, urlSubstring) {
				found = t.TargetID
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return found, nil
}
