// ABOUTME: Holder for the privileged admin session
// ABOUTME: Mutex-guarded lazy initialization, retried after failures

package session

import (
	"context"
	"sync"
)

// Elevated holds the single privileged admin session, constructed lazily
// on first use. Unlike a sync.Once guard it retries after a failed
// initialization, so a homeserver hiccup at startup does not poison the
// holder for the process lifetime.
type Elevated struct {
	open func(ctx context.Context) (*Session, error)

	mu      sync.Mutex
	session *Session
}

// NewElevated creates a holder around the given opener.
func NewElevated(open func(ctx context.Context) (*Session, error)) *Elevated {
	return &Elevated{open: open}
}

// Get returns the admin session, constructing it on first call.
func (e *Elevated) Get(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return e.session, nil
	}
	session, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	e.session = session
	return session, nil
}

// Close disposes the held session, if any.
func (e *Elevated) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
}
