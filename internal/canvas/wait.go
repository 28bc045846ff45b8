package canvas

import (
	"context"
	"time"
)

const (
	// DefaultInitTimeout bounds WaitForInitialization when no timeout is given.
	DefaultInitTimeout = 5 * time.Second
	initPollInterval   = 100 * time.Millisecond
)

// WaitForInitialization polls the initialization flag until it is set, the
// timeout elapses, or ctx is done. A timeout returns false and is not an
// error; callers retry or proceed with a partially loaded canvas.
func (s *Store) WaitForInitialization(ctx context.Context, timeout time.Duration) bool {
	if s.Initialized() {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(initPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return s.Initialized()
		case <-ticker.C:
			if s.Initialized() {
				return true
			}
		}
	}
}
