package channel

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/jmcleod/ironlink/protocol"
)

// Option configures an Establisher.
type Option func(*Establisher)

// WithClock sets the clock used for timestamps and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(e *Establisher) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Establisher) {
		e.logger = l
	}
}

// WithEndpoints overrides the endpoint layout.
func WithEndpoints(ep protocol.Endpoints) Option {
	return func(e *Establisher) {
		e.endpoints = ep
	}
}
