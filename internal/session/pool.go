// ABOUTME: Bounded TTL cache of authenticated sessions keyed by identity
// ABOUTME: Sliding expiry, least-remaining-TTL eviction, background sweep

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

// ErrPoolMisconfigured is returned for pool capacities below two: one slot
// for the acting identity plus at least one for a counterpart.
var ErrPoolMisconfigured = errors.New("pool capacity must be at least 2")

// Pool defaults.
const (
	DefaultTTL           = 15 * time.Minute
	defaultSweepInterval = 2 * time.Second
)

// Opener creates an authenticated session for an identity. The pool calls
// it on cache miss; credential resolution failures propagate to the
// Acquire caller.
type Opener func(ctx context.Context, identity id.UserID) (*Session, error)

// PoolConfig configures a session pool.
type PoolConfig struct {
	Capacity      int
	TTL           time.Duration // defaults to DefaultTTL
	SweepInterval time.Duration // defaults to 2s
	Open          Opener
	Logger        *slog.Logger
}

// poolEntry pairs a session with its absolute expiry.
type poolEntry struct {
	session   *Session
	expiresOn time.Time
}

// Pool is a bounded cache of live sessions. It is the only component that
// creates and destroys sessions for ordinary users. Eviction removes the
// entry closest to expiry; references already handed out stay valid, the
// evicted session merely stops being reusable.
type Pool struct {
	mu       sync.Mutex
	entries  map[id.UserID]*poolEntry
	capacity int
	ttl      time.Duration
	open     Opener
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// NewPool creates a pool and starts its background sweep.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Capacity < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrPoolMisconfigured, cfg.Capacity)
	}
	if cfg.Open == nil {
		return nil, errors.New("pool requires an opener")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pool{
		entries:  make(map[id.UserID]*poolEntry),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		open:     cfg.Open,
		logger:   cfg.Logger.With("component", "pool"),
		done:     make(chan struct{}),
	}
	go p.sweep(cfg.SweepInterval)
	return p, nil
}

// Acquire returns the live session for an identity, minting one on miss.
// A hit refreshes the entry's expiry without recreating the session. When
// autoStart is set, freshly minted sessions have their sync loop started.
func (p *Pool) Acquire(ctx context.Context, identity id.UserID, autoStart bool) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidIdentity)
	}

	p.mu.Lock()
	if entry, ok := p.entries[identity]; ok {
		entry.expiresOn = time.Now().Add(p.ttl)
		p.mu.Unlock()
		return entry.session, nil
	}
	p.mu.Unlock()

	// Credential resolution is a network round trip; run it unlocked.
	session, err := p.open(ctx, identity)
	if err != nil {
		return nil, err
	}
	if autoStart {
		session.Start()
	}

	p.mu.Lock()
	if entry, ok := p.entries[identity]; ok {
		// Another acquire for the same identity won the race.
		entry.expiresOn = time.Now().Add(p.ttl)
		p.mu.Unlock()
		session.Close()
		return entry.session, nil
	}
	var evicted *poolEntry
	var evictedIdentity id.UserID
	if len(p.entries) >= p.capacity {
		evictedIdentity, evicted = p.oldestLocked()
		delete(p.entries, evictedIdentity)
	}
	p.entries[identity] = &poolEntry{
		session:   session,
		expiresOn: time.Now().Add(p.ttl),
	}
	p.mu.Unlock()

	if evicted != nil {
		p.logger.Debug("evicted session for capacity",
			"identity", evictedIdentity.String(),
			"expires_on", evicted.expiresOn)
		evicted.session.Close()
	}
	p.logger.Debug("session acquired", "identity", identity.String(), "auto_start", autoStart)
	return session, nil
}

// Release removes an identity's entry and disposes its session. Idempotent;
// disposal problems are logged, never returned.
func (p *Pool) Release(identity id.UserID) {
	p.mu.Lock()
	entry, ok := p.entries[identity]
	if ok {
		delete(p.entries, identity)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	entry.session.Close()
	p.logger.Debug("session released", "identity", identity.String())
}

// Len returns the number of live entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close releases every entry and stops the sweep. Safe to call twice.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	entries := p.entries
	p.entries = make(map[id.UserID]*poolEntry)
	p.mu.Unlock()

	for identity, entry := range entries {
		entry.session.Close()
		p.logger.Debug("session released on pool close", "identity", identity.String())
	}
}

// oldestLocked picks the entry with the smallest expiresOn. Must be called
// with mu held and a non-empty map.
func (p *Pool) oldestLocked() (id.UserID, *poolEntry) {
	var oldestIdentity id.UserID
	var oldest *poolEntry
	for identity, entry := range p.entries {
		if oldest == nil || entry.expiresOn.Before(oldest.expiresOn) {
			oldestIdentity = identity
			oldest = entry
		}
	}
	return oldestIdentity, oldest
}

// sweep periodically releases expired entries.
func (p *Pool) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepExpired()
		case <-p.done:
			return
		}
	}
}

// sweepExpired releases every entry whose expiry has passed.
func (p *Pool) sweepExpired() {
	now := time.Now()

	p.mu.Lock()
	var expired []*poolEntry
	var identities []id.UserID
	for identity, entry := range p.entries {
		if entry.expiresOn.Before(now) {
			expired = append(expired, entry)
			identities = append(identities, identity)
			delete(p.entries, identity)
		}
	}
	p.mu.Unlock()

	for i, entry := range expired {
		entry.session.Close()
		p.logger.Debug("expired session swept", "identity", identities[i].String())
	}
}
