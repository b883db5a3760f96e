package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dealmatch/matchengine/pkg/apperrors"
)

// circuitState is the breaker's current disposition toward the provider.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	// Threshold is how many consecutive failures trip the circuit.
	Threshold int
	// ResetAfter is how long the circuit stays open before probing again.
	ResetAfter time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures and probes again
// after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// BreakeredLookup wraps a Lookup with a circuit breaker. When the provider
// fails repeatedly, calls fail fast as transient errors so the queue
// requeues items instead of burning attempts against a dead endpoint.
type BreakeredLookup struct {
	inner Lookup

	mu               sync.Mutex
	state            circuitState
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
}

func NewBreakeredLookup(inner Lookup, cfg BreakerConfig) *BreakeredLookup {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultBreakerConfig().Threshold
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = DefaultBreakerConfig().ResetAfter
	}
	return &BreakeredLookup{
		inner:      inner,
		state:      circuitClosed,
		threshold:  cfg.Threshold,
		resetAfter: cfg.ResetAfter,
	}
}

var _ Lookup = (*BreakeredLookup)(nil)

func (b *BreakeredLookup) Enrich(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}

	result, err := b.inner.Enrich(ctx, req)
	if err != nil {
		// Permanent errors describe the entity, not the provider; they
		// carry no signal about provider health.
		if apperrors.IsTransient(err) {
			b.recordFailure()
		}
		return nil, err
	}

	b.recordSuccess()
	return result, nil
}

// allow admits the call, or fails fast while the circuit is open. An open
// circuit transitions to half-open after the reset window, letting one
// probe through.
func (b *BreakeredLookup) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		if time.Since(b.lastFailure) > b.resetAfter {
			b.state = circuitHalfOpen
			return nil
		}
		return apperrors.AsTransient(fmt.Errorf(
			"provider circuit open after %d consecutive failures", b.consecutiveFails))
	case circuitHalfOpen:
		// A probe is already in flight.
		return apperrors.AsTransient(fmt.Errorf("provider circuit half-open, probe in flight"))
	default:
		return apperrors.AsTransient(fmt.Errorf("provider circuit in unknown state %v", b.state))
	}
}

func (b *BreakeredLookup) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = circuitClosed
}

func (b *BreakeredLookup) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	b.lastFailure = time.Now()

	if b.state == circuitHalfOpen || b.consecutiveFails >= b.threshold {
		b.state = circuitOpen
		return
	}
}

// State reports the breaker's current state for tests and introspection.
func (b *BreakeredLookup) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
