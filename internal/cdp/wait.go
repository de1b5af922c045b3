package cdp

import (
	"errors"
	"time"
)

// Poll runs check every interval until it reports done, the connection dies,
// or the timeout budget is exhausted. Check errors do not abort the wait;
// the most recent one is carried in the returned WaitTimeoutError. The one
// exception is a closed connection, which is terminal and surfaces
// immediately. Every polling wait in inkpress (debug endpoint, new tab,
// login, element readiness) is a call site of this function.
func Poll(what string, timeout, interval time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		done, err := check()
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return err
			}
			lastErr = err
		} else if done {
			return nil
		}

		if time.Now().After(deadline) {
			return &WaitTimeoutError{What: what, Timeout: timeout, LastErr: lastErr}
		}
		time.Sleep(interval)
	}
}
