// Package server is a reference responder for the IronLink protocol. It
// answers every handshake phase, issues user tokens and serves encrypted
// application routes registered with Handle. It keeps all state in memory
// and is meant for tests and local development.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
)

const maxBodyBytes = 1 << 20

//go:embed openapi.yaml
var openapiSpec []byte

// Server holds the responder's registry and runtime state.
type Server struct {
	clock          clock.Clock
	logger         *slog.Logger
	endpoints      protocol.Endpoints
	channelTTL     time.Duration
	sessionTTL     time.Duration
	userTokenTTL   time.Duration
	skew           time.Duration
	jwtSecret      []byte
	passwordParams PasswordParams
	capacity       int
	registerer     prometheus.Registerer

	registry *registry
	state    *state
	limiter  *loginRateLimiter
	requests *prometheus.CounterVec
	router   chi.Router
}

// New creates a Server with an empty registry.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		clock:          clock.New(),
		logger:         slog.New(slog.DiscardHandler),
		endpoints:      protocol.DefaultEndpoints(),
		channelTTL:     protocol.DefaultChannelTTL,
		sessionTTL:     DefaultSessionTTL,
		userTokenTTL:   DefaultUserTokenTTL,
		skew:           DefaultClockSkew,
		passwordParams: DefaultPasswordParams(),
		capacity:       DefaultCapacity,
		registry:       newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	if len(s.jwtSecret) == 0 {
		secret, err := util.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		s.jwtSecret = secret
	}
	st, err := newState(s.capacity)
	if err != nil {
		return nil, fmt.Errorf("creating responder state: %w", err)
	}
	s.state = st
	s.limiter = newLoginRateLimiter(s.clock)
	s.requests = newRequestCounter(s.registerer)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(s.countRequests)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ep := s.endpoints
	r.Post(ep.ChannelOpen, s.openChannel)
	r.Post(ep.NodeIdentify, s.sealed(false, s.identify))
	r.Post(ep.NodeChallenge, s.sealed(false, s.challenge))
	r.Post(ep.NodeAuthenticate, s.sealed(false, s.authenticate))
	r.Post(ep.SessionRenew, s.sealed(true, s.renewSession))
	r.Post(ep.SessionRevoke, s.sealed(false, s.revokeSession))
	r.Post(ep.UserLogin, s.sealed(true, s.userLogin))
	r.Post(ep.UserRefreshToken, s.sealed(true, s.userRefresh))
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request is an authenticated application call.
type Request struct {
	NodeID       string
	Capabilities []string
	// User is set when the call carried a valid bearer user token.
	User   *User
	Header http.Header
	Body   json.RawMessage
}

// Decode unmarshals the decrypted body into v.
func (r *Request) Decode(v any) error {
	if len(r.Body) == 0 {
		return NewError(http.StatusBadRequest, "empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return NewError(http.StatusBadRequest, "invalid payload: %v", err)
	}
	return nil
}

// Can reports whether the calling node holds capability.
func (r *Request) Can(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

// HandlerFunc serves an encrypted application route. The returned value
// is sealed under the channel key; a nil value answers with no body.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle registers fn for POST path. Calls need a live channel and node
// session; requests and responses are encrypted. Handle must not be called
// once the server is serving.
func (s *Server) Handle(path string, fn HandlerFunc) {
	s.router.Post(path, s.sealed(true, func(r *http.Request, c *call) (any, error) {
		req := &Request{
			NodeID:       c.session.nodeID,
			Capabilities: slices.Clone(c.session.capabilities),
			Header:       r.Header.Clone(),
			Body:         c.body,
		}
		if tok := bearerToken(r); tok != "" {
			u, err := s.verifyUserToken(tok)
			if err != nil {
				return nil, errBadUserToken
			}
			req.User = u
		}
		return fn(r.Context(), req)
	}))
}

// call is the decrypted context of a sealed request.
type call struct {
	channel *serverChannel
	session nodeSession
	body    []byte
}

func (c *call) decode(v any) error {
	if err := json.Unmarshal(c.body, v); err != nil {
		return NewError(http.StatusBadRequest, "invalid payload")
	}
	return nil
}

type sealedFunc func(r *http.Request, c *call) (any, error)

// sealed resolves the channel, decrypts the body, optionally requires a
// node session and seals whatever fn returns.
func (s *Server) sealed(needSession bool, fn sealedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := s.clock.Now()
		ch, ok := s.state.channel(r.Header.Get(protocol.HeaderChannelID), now)
		if !ok {
			mapError(w, errUnknownChannel)
			return
		}
		c := &call{channel: ch}

		if needSession {
			sess, ok := s.state.session(r.Header.Get(protocol.HeaderSessionToken), ch.id, now)
			if !ok {
				mapError(w, errNoSession)
				return
			}
			c.session = sess
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body")
			return
		}
		if len(raw) > 0 {
			var env protocol.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				mapError(w, errDecrypt)
				return
			}
			plain, err := protocol.OpenEnvelope(&env, ch.key)
			if err != nil {
				s.logger.Warn("request failed to decrypt", "channel_id", ch.id, "path", r.URL.Path)
				mapError(w, errDecrypt)
				return
			}
			c.body = plain
		}

		out, err := fn(r, c)
		if c.body != nil {
			util.WipeBytes(c.body)
		}
		if err != nil {
			mapError(w, err)
			return
		}
		if out == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, err := protocol.SealJSON(out, ch.key)
		if err != nil {
			s.logger.Error("sealing response", "channel_id", ch.id, "error", err)
			mapError(w, err)
			return
		}
		w.Header().Set("Content-Type", protocol.ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

// checkTimestamp rejects timestamps further than the skew window from now.
func (s *Server) checkTimestamp(raw string) error {
	t, err := protocol.ParseTimestamp(raw)
	if err != nil {
		return NewError(http.StatusBadRequest, "invalid timestamp")
	}
	d := s.clock.Now().Sub(t)
	if d > s.skew || d < -s.skew {
		return NewError(http.StatusBadRequest, "timestamp outside accepted window")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(protocol.HeaderAuthorization)
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
