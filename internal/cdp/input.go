package cdp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	. "github.com/inkpress/inkpress/internal/logging"
)

const (
	// clickHoldDelay separates the synthesized mouse-down and mouse-up so the
	// page sees a press, not an instantaneous pair.
	clickHoldDelay = 80 * time.Millisecond
	// lineDelay paces multi-line typing to look like a human at a keyboard.
	lineDelay = 50 * time.Millisecond
	// loadWaitTimeout bounds the wait for the load event after navigation.
	loadWaitTimeout = 15 * time.Second
)

// Evaluate runs an expression in page context and returns its value
// marshaled by the browser. A script-level exception surfaces as an error,
// never as a silent undefined. This is the universal escape hatch for
// reading page state.
func (s *Session) Evaluate(expression string) (any, error) {
	result, err := s.Call("Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Type  string `json:"type"`
			Value any    `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse evaluate result: %w", err)
	}

	if resp.ExceptionDetails != nil {
		detail := resp.ExceptionDetails.Text
		if resp.ExceptionDetails.Exception != nil && resp.ExceptionDetails.Exception.Description != "" {
			detail = resp.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("script exception: %s", detail)
	}

	return resp.Result.Value, nil
}

// Navigate loads a URL in the session's page and waits for the load event,
// up to a bounded budget. A page that never fires load is tolerated with a
// warning; the caller's own readiness polls take over from there.
func (s *Session) Navigate(url string) error {
	loaded := make(chan struct{}, 1)
	sub := s.conn.On("Page.loadEventFired", func(json.RawMessage) {
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	defer s.conn.Off(sub)

	if _, err := s.Call("Page.navigate", map[string]any{"url": url}); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	select {
	case <-loaded:
	case <-time.After(loadWaitTimeout):
		L_warn("cdp: load event did not fire", "url", url, "waited", loadWaitTimeout)
	}
	return nil
}

// elementCenter resolves a selector in the page, scrolls the element to the
// viewport center, and returns its bounding-box center.
func (s *Session) elementCenter(selector string) (x, y float64, err error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		el.scrollIntoView({block: 'center', inline: 'center'});
		const r = el.getBoundingClientRect();
		return {x: r.left + r.width / 2, y: r.top + r.height / 2};
	})()`, selector)

	value, err := s.Evaluate(script)
	if err != nil {
		return 0, 0, err
	}
	if value == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	box, ok := value.(map[string]any)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected element box shape: %T", value)
	}
	x, _ = box["x"].(float64)
	y, _ = box["y"].(float64)
	return x, y, nil
}

// ClickElement clicks the center of the element matching selector by
// synthesizing a mouse press and release at its coordinates. At the protocol
// level this is indistinguishable from a real pointing device. Fails with
// ErrElementNotFound, and synthesizes nothing, when no element matches.
func (s *Session) ClickElement(selector string) error {
	x, y, err := s.elementCenter(selector)
	if err != nil {
		return err
	}

	L_debug("cdp: click", "selector", selector, "x", x, "y", y)

	if err := s.dispatchMouse("mousePressed", x, y); err != nil {
		return err
	}
	time.Sleep(clickHoldDelay)
	return s.dispatchMouse("mouseReleased", x, y)
}

func (s *Session) dispatchMouse(kind string, x, y float64) error {
	_, err := s.Call("Input.dispatchMouseEvent", map[string]any{
		"type":       kind,
		"x":          x,
		"y":          y,
		"button":     "left",
		"clickCount": 1,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", kind, err)
	}
	return nil
}

// TypeText types text into the focused element. Each non-empty line goes in
// as one text insertion; an Enter key press pair is synthesized between
// lines and never after the last, so input with L lines produces exactly
// L-1 Enter pairs regardless of empty lines.
func (s *Session) TypeText(text string) error {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			if _, err := s.Call("Input.insertText", map[string]any{"text": line}); err != nil {
				return fmt.Errorf("failed to insert text: %w", err)
			}
		}
		if i < len(lines)-1 {
			if err := s.pressKey("Enter", "Enter", 13, 0); err != nil {
				return err
			}
		}
		time.Sleep(lineDelay)
	}
	return nil
}

// PasteShortcut synthesizes the platform paste chord: Cmd+V where the
// launching platform is macOS, Ctrl+V elsewhere. Clipboard contents are the
// operator's business.
func (s *Session) PasteShortcut() error {
	var modifiers int
	if runtime.GOOS == "darwin" {
		modifiers = 4 // Meta
	} else {
		modifiers = 2 // Ctrl
	}
	return s.pressKey("v", "KeyV", 86, modifiers)
}

// pressKey synthesizes one key-down/key-up pair.
func (s *Session) pressKey(key, code string, virtualKeyCode, modifiers int) error {
	for _, kind := range []string{"keyDown", "keyUp"} {
		_, err := s.Call("Input.dispatchKeyEvent", map[string]any{
			"type":                  kind,
			"key":                   key,
			"code":                  code,
			"windowsVirtualKeyCode": virtualKeyCode,
			"nativeVirtualKeyCode":  virtualKeyCode,
			"modifiers":             modifiers,
		})
		if err != nil {
			return fmt.Errorf("failed to dispatch %s %s: %w", key, kind, err)
		}
	}
	return nil
}

// WaitFor polls expression until it evaluates to true. The expression should
// yield a boolean; evaluation errors are treated as "not yet" and retried
// within the budget.
func (s *Session) WaitFor(what, expression string, timeout, interval time.Duration) error {
	return Poll(what, timeout, interval, func() (bool, error) {
		value, err := s.Evaluate(expression)
		if err != nil {
			return false, err
		}
		ok, _ := value.(bool)
		return ok, nil
	})
}

// CaptureScreenshot grabs a PNG of the session's page, used as a debug
// artifact when a publish run fails.
func (s *Session) CaptureScreenshot() ([]byte, error) {
	result, err := s.Call("Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse screenshot: %w", err)
	}
	return base64.StdEncoding.DecodeString(resp.Data)
}
