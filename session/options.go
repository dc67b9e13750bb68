package session

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/jmcleod/ironlink/protocol"
)

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithClock sets the clock used for request timestamps.
func WithClock(c clock.Clock) Option {
	return func(n *Negotiator) {
		n.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = l
	}
}

// WithEndpoints overrides the endpoint layout.
func WithEndpoints(ep protocol.Endpoints) Option {
	return func(n *Negotiator) {
		n.endpoints = ep
	}
}
