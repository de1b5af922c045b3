package cdp

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the failure classes callers branch on with errors.Is.
var (
	// ErrConnectionClosed is returned for every call still pending when the
	// connection shuts down, and for calls attempted afterwards.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrElementNotFound is returned by bridge operations whose selector
	// matched nothing. Distinct from transport failures so callers can retry
	// or fall back to an alternate selector.
	ErrElementNotFound = errors.New("element not found")

	// ErrPageNotFound is returned when no page target matches the requested
	// URL substring.
	ErrPageNotFound = errors.New("page not found")

	// ErrBrowserNotFound is returned when no browser executable could be
	// located via the environment override or the platform candidate list.
	ErrBrowserNotFound = errors.New("no browser executable found")
)

// ProtocolError is an error reported by the browser for a specific call.
// Caller-recoverable; the connection stays usable.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// CallTimeoutError is returned when a call received no response within its
// budget. The connection stays usable; a late response is discarded.
type CallTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("call %s timed out after %s", e.Method, e.Timeout)
}

// WaitTimeoutError is returned by Poll when its budget is exhausted. LastErr
// carries the most recent check failure, if any, for diagnosis.
type WaitTimeoutError struct {
	What    string
	Timeout time.Duration
	LastErr error
}

func (e *WaitTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("timed out after %s waiting for %s (last error: %v)", e.Timeout, e.What, e.LastErr)
	}
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.What)
}

func (e *WaitTimeoutError) Unwrap() error { return e.LastErr }
