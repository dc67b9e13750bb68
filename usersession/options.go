package usersession

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jmcleod/ironlink/protocol"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed.
const DefaultRefreshMargin = 5 * time.Minute

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for expiry and the refresh timer.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithEndpoints overrides the endpoint layout.
func WithEndpoints(ep protocol.Endpoints) Option {
	return func(s *Service) {
		s.endpoints = ep
	}
}

// WithRefreshMargin sets how long before expiry the token is refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(s *Service) {
		s.margin = d
	}
}

// WithRefreshTimeout bounds a background refresh. Default: 30s.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.refreshTimeout = d
	}
}

// WithOnChange registers fn to be called after every login, refresh and
// logout. fn receives nil when auth state is cleared.
func WithOnChange(fn func(*Token)) Option {
	return func(s *Service) {
		s.onChange = fn
	}
}
