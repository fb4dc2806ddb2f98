// ABOUTME: Circuit breaker with failure counting and exponential backoff
// ABOUTME: CLOSED -> OPEN on threshold, HALF_OPEN probe after the timeout

package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State names one breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// OpenError is returned when a call fails fast because the circuit is
// open. RetryAfter is the remaining cooldown.
type OpenError struct {
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// Config tunes a breaker instance.
type Config struct {
	// FailureThreshold opens the circuit once this many consecutive
	// failures accumulate on a final attempt.
	FailureThreshold int
	// InitialResetTimeout is the first cooldown; it doubles on every
	// final-attempt failure while the circuit stays unhealthy.
	InitialResetTimeout time.Duration
	// MaxResetTimeout caps the doubling.
	MaxResetTimeout time.Duration
	Logger          *slog.Logger
}

// Snapshot is an observability view of the breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	ResetTimeout        time.Duration
	RetryIn             time.Duration // zero unless open
}

// Breaker protects one logical remote resource. State is mutated only
// inside Do, serialized by the instance mutex.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	resetTimeout time.Duration
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.InitialResetTimeout <= 0 {
		cfg.InitialResetTimeout = time.Second
	}
	if cfg.MaxResetTimeout <= 0 {
		cfg.MaxResetTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "breaker")
	return &Breaker{
		cfg:          cfg,
		state:        StateClosed,
		resetTimeout: cfg.InitialResetTimeout,
	}
}

// Do runs one bounded-retry attempt of op through the breaker. attempt is
// 1-based; maxAttempts marks which failure is final for this logical call.
// Retried attempts against an open circuit fail fast with *OpenError
// before reaching the remote side. A success closes the circuit and resets
// the backoff; a final-attempt failure doubles the cooldown (capped) and
// opens the circuit once the failure threshold is met. The underlying
// error is returned unchanged.
func (b *Breaker) Do(ctx context.Context, attempt, maxAttempts int, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		elapsed := time.Since(b.lastFailure)
		if attempt > 1 && elapsed < b.resetTimeout {
			err := &OpenError{RetryAfter: b.resetTimeout - elapsed}
			b.mu.Unlock()
			return err
		}
		if elapsed >= b.resetTimeout {
			b.state = StateHalfOpen
			b.cfg.Logger.Debug("circuit half-open, probing")
		}
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != StateClosed {
			b.cfg.Logger.Info("circuit closed after successful probe")
		}
		b.state = StateClosed
		b.failures = 0
		b.resetTimeout = b.cfg.InitialResetTimeout
		return nil
	}

	b.failures++
	b.lastFailure = time.Now()
	if attempt >= maxAttempts {
		b.resetTimeout = min(b.resetTimeout*2, b.cfg.MaxResetTimeout)
		if b.failures >= b.cfg.FailureThreshold {
			if b.state != StateOpen {
				b.cfg.Logger.Warn("circuit opened",
					"consecutive_failures", b.failures,
					"reset_timeout", b.resetTimeout)
			}
			b.state = StateOpen
		}
	}
	return err
}

// Snapshot returns the current state for logging and diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		ResetTimeout:        b.resetTimeout,
	}
	if b.state == StateOpen {
		if remaining := b.resetTimeout - time.Since(b.lastFailure); remaining > 0 {
			snap.RetryIn = remaining
		}
	}
	return snap
}
