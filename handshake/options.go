package handshake

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
)

// DefaultRetries is how many times a transient network failure during a
// handshake phase is retried.
const DefaultRetries = 2

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithPersistence installs the store channel and session state is saved to
// and hydrated from.
func WithPersistence(p Persistence) Option {
	return func(o *Orchestrator) {
		o.persist = p
	}
}

// WithRetry sets the number of retries after a network failure. Zero
// disables retries.
func WithRetry(n uint64) Option {
	return func(o *Orchestrator) {
		o.retries = n
	}
}

// WithBackOff sets the retry schedule. The function is called once per
// phase attempt.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(o *Orchestrator) {
		o.newBackOff = fn
	}
}

// WithMetrics sets the counters the orchestrator increments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}
