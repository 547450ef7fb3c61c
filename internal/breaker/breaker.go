// Package breaker provides a circuit breaker used to guard every outbound
// call the engine makes. One instance protects exactly one downstream
// dependency; instances are injected, never shared, so unrelated
// dependencies cannot poison each other's failure state.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the circuit is open and no fallback is supplied
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half_open
	// required to close the circuit again.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before the next call
	// is allowed through as a half_open probe.
	OpenTimeout time.Duration

	// MonitoringWindow bounds how long a failure counts against the
	// consecutive-failure total. A failure older than the window resets
	// the counter instead of accumulating indefinitely.
	MonitoringWindow time.Duration
}

// DefaultSettings returns the settings used for notification dispatch
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// Breaker is a circuit breaker protecting a single downstream dependency.
// Safe for concurrent use.
type Breaker struct {
	name     string
	settings Settings

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
	now         func() time.Time
}

// New creates a Breaker for the named dependency
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings().SuccessThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultSettings().OpenTimeout
	}
	if settings.MonitoringWindow <= 0 {
		settings.MonitoringWindow = DefaultSettings().MonitoringWindow
	}
	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Name returns the protected dependency's name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state, accounting for an elapsed open
// timeout (an open circuit past its timeout reports half_open).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Do executes primary through the circuit. While the circuit is open the
// primary is never invoked: the fallback runs immediately if supplied,
// otherwise ErrOpen is returned without touching the network. On a primary
// failure the fallback (if any) is attempted as well; the failure still
// counts against the circuit. The returned bool reports whether the
// fallback produced the outcome.
func (b *Breaker) Do(ctx context.Context, primary, fallback func(context.Context) error) (bool, error) {
	if !b.allow() {
		if fallback != nil {
			return true, fallback(ctx)
		}
		return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	err := primary(ctx)
	if err != nil {
		b.recordFailure()
		if fallback != nil {
			if ferr := fallback(ctx); ferr != nil {
				return true, fmt.Errorf("primary failed (%v); fallback failed: %w", err, ferr)
			}
			return true, nil
		}
		return false, err
	}

	b.recordSuccess()
	return false, nil
}

// allow reports whether a call may proceed, transitioning open → half_open
// once the open timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.settings.OpenTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		// A failed probe reopens immediately and resets the success count.
		b.state = StateOpen
		b.openedAt = now
		b.successes = 0
		b.failures = 0
		return
	}

	// Failures outside the monitoring window no longer count as consecutive.
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.settings.MonitoringWindow {
		b.failures = 0
	}

	b.failures++
	b.lastFailure = now

	if b.failures >= b.settings.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
		b.failures = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// Incremented and compared under the same lock so concurrent probes
		// cannot each close the circuit on a single success.
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}
