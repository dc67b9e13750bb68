package server

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
)

const (
	DefaultSessionTTL   = 15 * time.Minute
	DefaultUserTokenTTL = time.Hour
	DefaultClockSkew    = 5 * time.Minute
	DefaultChallengeTTL = 2 * time.Minute
	DefaultCapacity     = 4096
)

// PasswordParams tunes the argon2id cost used for user passwords.
type PasswordParams = util.Argon2idParams

// DefaultPasswordParams returns the production argon2id cost.
func DefaultPasswordParams() PasswordParams {
	return util.DefaultArgon2idParams()
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for expiry and skew checks.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithEndpoints overrides the protocol paths.
func WithEndpoints(ep protocol.Endpoints) Option {
	return func(s *Server) {
		s.endpoints = ep
	}
}

// WithChannelTTL sets how long an opened channel lives.
func WithChannelTTL(d time.Duration) Option {
	return func(s *Server) {
		s.channelTTL = d
	}
}

// WithSessionTTL sets the node session lifetime. Sessions never outlive
// their channel.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		s.sessionTTL = d
	}
}

// WithUserTokenTTL sets the lifetime of issued user tokens.
func WithUserTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.userTokenTTL = d
	}
}

// WithClockSkew sets the accepted distance between a request timestamp and
// the server clock.
func WithClockSkew(d time.Duration) Option {
	return func(s *Server) {
		s.skew = d
	}
}

// WithJWTSecret sets the HS256 secret for user tokens. Default: random per
// Server, so tokens do not survive a restart.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) {
		s.jwtSecret = util.CopyBytes(secret)
	}
}

// WithPasswordParams sets the argon2id cost for AddUser.
func WithPasswordParams(p PasswordParams) Option {
	return func(s *Server) {
		s.passwordParams = p
	}
}

// WithCapacity bounds the number of live channels, pending challenges and
// remembered client nonces.
func WithCapacity(n int) Option {
	return func(s *Server) {
		s.capacity = n
	}
}

// WithRegisterer registers the request counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = reg
	}
}
