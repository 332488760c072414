// Package resilience keeps failing detector sources from restarting in a
// tight loop.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open)
// that counts consecutive failed runs. [Backoff] spaces the restarts that
// the breaker still allows.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Allow] while the breaker is open and the
// reset timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal state; restarts are allowed.
	StateClosed State = iota

	// StateOpen means too many consecutive runs failed. Restarts are refused
	// until the reset timeout elapses.
	StateOpen

	// StateHalfOpen allows a single probe restart. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a label used in log messages, usually the detector name.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets one
	// probe through. Default: 30s.
	ResetTimeout time.Duration
}

// Breaker implements the circuit breaker pattern over explicit outcome
// reports rather than wrapped calls, because a detector run can last
// arbitrarily long.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced
// with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether another attempt may start. An open breaker whose
// timeout has elapsed moves to half-open and admits exactly one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

// Success records a healthy attempt and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		slog.Info("breaker closed", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed attempt. A failed probe re-opens the breaker at
// once.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.failures++

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.probing = false
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
	case b.state == StateClosed && b.failures >= b.maxFailures:
		b.state = StateOpen
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// RetryAfter returns how long until an open breaker admits a probe. It is
// zero when the breaker is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	return max(0, b.resetTimeout-b.now().Sub(b.lastFailure))
}

// State returns the current [State]. An open breaker whose timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next
// [Breaker.Allow].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the number of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Backoff returns the delay before restart attempt n (1-based): base doubled
// per attempt, capped at limit.
func Backoff(n int, base, limit time.Duration) time.Duration {
	if n <= 1 {
		return min(base, limit)
	}
	d := base
	for range n - 1 {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
