// Package usersession adds human-user login, token lifetime tracking and
// proactive refresh on top of the handshake orchestrator.
package usersession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/ironlink/handshake"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
	"github.com/jmcleod/ironlink/transport"
)

// Orchestrator is the part of handshake.Orchestrator the service uses.
type Orchestrator interface {
	EnsureSession(ctx context.Context) (*handshake.Handle, error)
	Invoke(ctx context.Context, method, path string, payload, out any, opts ...handshake.InvokeOption) error
	Reset(ctx context.Context) error
}

var _ Orchestrator = (*handshake.Orchestrator)(nil)

// Service owns the user token. It reads, but never mutates, the
// orchestrator's channel and session.
type Service struct {
	orch           Orchestrator
	clock          clock.Clock
	logger         *slog.Logger
	endpoints      protocol.Endpoints
	margin         time.Duration
	refreshTimeout time.Duration
	onChange       func(*Token)

	refreshes singleflight.Group

	mu    sync.Mutex
	token *Token
	timer *clock.Timer
	// gen changes whenever token is replaced or cleared, so a late refresh
	// or timer cannot resurrect state.
	gen uint64
}

// New returns a Service over orch.
func New(orch Orchestrator, opts ...Option) *Service {
	s := &Service{
		orch:           orch,
		clock:          clock.New(),
		logger:         slog.New(slog.DiscardHandler),
		endpoints:      protocol.DefaultEndpoints(),
		margin:         DefaultRefreshMargin,
		refreshTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "usersession")
	return s
}

// IsAuthenticated reports whether a token is held and unexpired.
func (s *Service) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Valid(s.clock.Now())
}

// Token returns a copy of the current token.
func (s *Service) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// User returns the identity of the logged-in user.
func (s *Service) User() (User, bool) {
	t, ok := s.Token()
	return t.User, ok
}

// Login authenticates username inside the secure channel and schedules a
// refresh before the token expires.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	username = util.Normalize(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidCredentials)
	}
	if _, err := s.orch.EnsureSession(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	// Base64 here is obfuscation inside an already encrypted payload.
	req := protocol.UserLoginRequest{Username: username, Password: util.B64Encode([]byte(password))}
	var raw json.RawMessage
	if err := s.orch.Invoke(ctx, http.MethodPost, s.endpoints.UserLogin, req, &raw); err != nil {
		if code := transport.StatusCode(err); code == http.StatusForbidden || code == http.StatusBadRequest {
			s.logger.Info("login refused", "status", code)
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	t, err := parseTokenResponse(raw)
	if err != nil {
		return nil, err
	}
	if !t.Valid(s.clock.Now()) {
		return nil, fmt.Errorf("%w: token already expired", ErrInvalidTokenResponse)
	}
	if t.User.Login == "" {
		t.User.Login = username
	}

	s.set(t)
	s.logger.Info("user logged in", "login", t.User.Login, "expires_at", t.ExpiresAt)
	out := *t
	return &out, nil
}

// Refresh exchanges the current token for a new one. Concurrent calls share
// one request. Any failure clears all auth state.
func (s *Service) Refresh(ctx context.Context) (*Token, error) {
	v, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*Token)
	return &out, nil
}

func (s *Service) refresh(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	cur, gen := s.token, s.gen
	s.mu.Unlock()
	if cur == nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRefreshFailed, ErrNotAuthenticated)
	}

	t, err := s.exchange(ctx, cur)
	if err != nil {
		s.logger.Warn("token refresh failed, clearing auth state", "error", err)
		s.clearIf(gen)
		return nil, fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
	}
	// Identity stays with the session.
	t.User = cur.User

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: auth state changed during refresh", ErrTokenRefreshFailed)
	}
	s.mu.Unlock()
	s.set(t)
	s.logger.Debug("token refreshed", "expires_at", t.ExpiresAt)
	return t, nil
}

func (s *Service) exchange(ctx context.Context, cur *Token) (*Token, error) {
	if !cur.Valid(s.clock.Now()) {
		return nil, ErrNotAuthenticated
	}
	var raw json.RawMessage
	err := s.orch.Invoke(ctx, http.MethodPost, s.endpoints.UserRefreshToken,
		protocol.UserRefreshRequest{Token: cur.Value}, &raw, handshake.WithBearer(cur.Value))
	if err != nil {
		return nil, err
	}
	t, err := parseTokenResponse(raw)
	if err != nil {
		return nil, err
	}
	if !t.Valid(s.clock.Now()) {
		return nil, fmt.Errorf("%w: token already expired", ErrInvalidTokenResponse)
	}
	return t, nil
}

// Logout revokes the node session server side when possible, then clears
// local state whatever the outcome. The revoke error, if any, is returned
// for diagnostics only.
func (s *Service) Logout(ctx context.Context) error {
	err := s.orch.Reset(ctx)
	if err != nil {
		s.logger.Warn("server-side revoke failed", "error", err)
	}
	s.clear()
	s.logger.Info("user logged out")
	return err
}

// Restore installs a token saved by an earlier process and schedules its
// refresh. An expired token is refused.
func (s *Service) Restore(t Token) error {
	if !t.Valid(s.clock.Now()) {
		return ErrNotAuthenticated
	}
	s.set(&t)
	return nil
}

// Close stops the refresh timer without touching the server.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *Service) set(t *Token) {
	s.mu.Lock()
	s.token = t
	s.gen++
	s.scheduleLocked(t)
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		cp := *t
		fn(&cp)
	}
}

func (s *Service) clear() {
	s.mu.Lock()
	s.clearLocked()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

// clearIf clears only if nothing replaced the token since gen.
func (s *Service) clearIf(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

func (s *Service) clearLocked() {
	s.stopTimerLocked()
	s.token = nil
	s.gen++
}

func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// scheduleLocked replaces the refresh timer for t.
func (s *Service) scheduleLocked(t *Token) {
	s.stopTimerLocked()
	remaining := t.ExpiresAt.Sub(s.clock.Now())
	delay := remaining - s.margin
	if delay <= 0 {
		delay = remaining / 2
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.onTimer(gen) })
}

func (s *Service) onTimer(gen uint64) {
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()
	if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrNotAuthenticated) {
		s.logger.Warn("scheduled refresh failed", "error", err)
	}
}
