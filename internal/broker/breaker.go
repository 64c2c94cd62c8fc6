package broker

import (
	"sync"
	"time"

	"pairbot/internal/errors"
)

// breakerState is the state of the bridge circuit breaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker sheds load from a failing bridge. After failureThreshold
// consecutive failures the circuit opens and requests are rejected with
// ErrBridgeTripped until cooldown passes; the next request then probes the
// bridge, and a single success closes the circuit again.
//
// A rejected request reads as a query failure upstream, which the monitor
// already treats as "no evidence of absence", so an open circuit never
// triggers a false manual-close detection.
type breaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
}

func newBreaker(failureThreshold int, cooldown time.Duration) *breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// allow reports whether a request may proceed.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.lastFailure) < b.cooldown {
			return errors.ErrBridgeTripped
		}
		b.state = breakerHalfOpen
	}
	return nil
}

// record feeds the outcome of a request back into the circuit.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = breakerClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == breakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = breakerOpen
	}
}

// reset closes the circuit, for a fresh session.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}
