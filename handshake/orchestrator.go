// Package handshake sequences channel establishment and node-session
// negotiation behind a single EnsureSession/Invoke entry point.
//
// The Orchestrator is the only owner of the current channel and node
// session. Concurrent callers share one in-flight handshake, and every
// failure discards both so the next attempt starts again from Phase 1.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/ironlink/channel"
	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/session"
	"github.com/jmcleod/ironlink/transport"
)

// Establisher runs Phase 1.
type Establisher interface {
	Open(ctx context.Context) (*channel.State, error)
}

// Negotiator runs Phases 2-4 and manages issued sessions.
type Negotiator interface {
	Negotiate(ctx context.Context, ch *channel.State) (*session.NodeSession, error)
	Renew(ctx context.Context, ch *channel.State, s *session.NodeSession) (*session.NodeSession, error)
	Revoke(ctx context.Context, ch *channel.State, s *session.NodeSession) error
}

var (
	_ Establisher = (*channel.Establisher)(nil)
	_ Negotiator  = (*session.Negotiator)(nil)
)

const flightKey = "handshake"

// Orchestrator is the handshake state machine.
type Orchestrator struct {
	client     transport.Client
	est        Establisher
	neg        Negotiator
	clock      clock.Clock
	logger     *slog.Logger
	persist    Persistence
	metrics    *Metrics
	retries    uint64
	newBackOff func() backoff.BackOff

	group singleflight.Group
	// opMu serializes everything that mutates ch/sess.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	ch       *channel.State
	sess     *session.NodeSession
	lastErr  error
	hydrated bool
	closed   bool
}

// New returns an Orchestrator in StateIdle. client carries Invoke traffic;
// est and neg run the handshake phases.
func New(client transport.Client, est Establisher, neg Negotiator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		est:        est,
		neg:        neg,
		clock:      clock.New(),
		logger:     slog.New(slog.DiscardHandler),
		retries:    DefaultRetries,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "handshake")
	return o
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a snapshot safe to log or display. It never includes key
// material or tokens.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{State: o.state, LastError: o.lastErr}
	if o.ch != nil {
		st.ChannelID = o.ch.ID
		st.ChannelExpiresAt = o.ch.ExpiresAt
	}
	if o.sess != nil {
		st.NodeID = o.sess.NodeID
		st.SessionExpiresAt = o.sess.ExpiresAt
		st.Capabilities = slices.Clone(o.sess.Capabilities)
	}
	return st
}

// Session returns a copy of the current node session.
func (o *Orchestrator) Session() (session.NodeSession, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.sess == nil {
		return session.NodeSession{}, false
	}
	s := *o.sess
	s.Capabilities = slices.Clone(s.Capabilities)
	return s, true
}

// Channel returns a copy of the current channel. The key is shared, stays
// owned by the orchestrator and is wiped on Reset, Close or any handshake
// failure.
func (o *Orchestrator) Channel() (channel.State, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.ch == nil {
		return channel.State{}, false
	}
	return *o.ch, true
}

func (o *Orchestrator) current() (*Handle, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == StateSessionReady && o.sess.Valid(o.clock.Now(), o.ch) {
		return &Handle{Channel: o.ch, Session: o.sess}, true
	}
	return nil, false
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// EnsureSession returns a valid channel and node session, running whichever
// phases are needed. It is a no-op when both are still valid.
func (o *Orchestrator) EnsureSession(ctx context.Context) (*Handle, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	if h, ok := o.current(); ok {
		return h, nil
	}

	// The handshake is not canceled with the caller: it completes or fails
	// for everyone who joined it. A canceled caller only stops waiting.
	hctx := context.WithoutCancel(ctx)
	res := o.group.DoChan(flightKey, func() (any, error) {
		return o.handshake(hctx)
	})
	select {
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) handshake(ctx context.Context) (*Handle, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.isClosed() {
		return nil, ErrClosed
	}
	if err := o.hydrate(ctx); err != nil {
		o.logger.Warn("hydration failed, starting fresh", "error", err)
	}

	o.mu.RLock()
	ch, sess := o.ch, o.sess
	o.mu.RUnlock()

	reopened := false
	if !ch.Valid(o.clock.Now()) {
		if ch != nil {
			o.logger.Info("channel expired", "channel_id", ch.ID)
		}
		var err error
		if ch, err = o.reopen(ctx); err != nil {
			return nil, o.fail(ctx, err)
		}
		sess, reopened = nil, true
	}

	if !sess.Valid(o.clock.Now(), ch) {
		var err error
		sess, err = o.negotiate(ctx, ch)
		// A 401 on a channel we did not just open means the server has
		// forgotten it. Start again from Phase 1 once.
		if err != nil && !reopened && transport.StatusCode(err) == http.StatusUnauthorized {
			o.logger.Info("server rejected channel, reopening", "channel_id", ch.ID)
			if ch, err = o.reopen(ctx); err == nil {
				sess, err = o.negotiate(ctx, ch)
			}
		}
		if err != nil {
			return nil, o.fail(ctx, err)
		}
		o.persistSession(ctx, sess)
	}

	o.mu.Lock()
	o.sess = sess
	o.state, o.lastErr = StateSessionReady, nil
	o.mu.Unlock()
	return &Handle{Channel: ch, Session: sess}, nil
}

// reopen discards the current channel and session and runs Phase 1.
func (o *Orchestrator) reopen(ctx context.Context) (*channel.State, error) {
	o.discard()
	ch, err := o.openChannel(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.ch, o.sess = ch, nil
	o.state, o.lastErr = StateChannelReady, nil
	o.mu.Unlock()
	o.persistChannel(ctx, ch)
	return ch, nil
}

func (o *Orchestrator) openChannel(ctx context.Context) (*channel.State, error) {
	var ch *channel.State
	err := o.retry(ctx, phaseChannel, func() error {
		var err error
		ch, err = o.est.Open(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("channel ready", "channel_id", ch.ID, "expires_at", ch.ExpiresAt)
	return ch, nil
}

func (o *Orchestrator) negotiate(ctx context.Context, ch *channel.State) (*session.NodeSession, error) {
	var s *session.NodeSession
	err := o.retry(ctx, phaseSession, func() error {
		var err error
		s, err = o.neg.Negotiate(ctx, ch)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session ready", "channel_id", ch.ID, "node_id", s.NodeID, "expires_at", s.ExpiresAt)
	return s, nil
}

// retry runs op, retrying only transport.ErrNetwork failures.
func (o *Orchestrator) retry(ctx context.Context, phase string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), o.retries), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			o.metrics.phase(phase, resultOK)
			return nil
		}
		o.metrics.phase(phase, resultFor(err))
		if errors.Is(err, transport.ErrNetwork) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		o.logger.Warn("retrying handshake phase", "phase", phase, "wait", wait, "error", err)
	})
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return resultDecryptError
	case transport.StatusCode(err) == http.StatusUnauthorized:
		return resultUnauthorized
	default:
		return resultError
	}
}

// fail moves to StateError, discarding channel, session and saved state.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.discard()
	o.mu.Lock()
	o.state, o.lastErr = StateError, err
	o.mu.Unlock()
	o.clearPersisted(ctx)
	o.logger.Warn("handshake failed",
		"error", err,
		"decryption_failed", errors.Is(err, crypto.ErrDecryptionFailed))
	return err
}

// discard wipes the channel key and forgets the session.
func (o *Orchestrator) discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ch.Destroy()
	o.ch, o.sess = nil, nil
}

// Hydrate loads saved state now instead of on the first EnsureSession.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.isClosed() {
		return ErrClosed
	}
	return o.hydrate(ctx)
}

// hydrate seeds ch/sess from Persistence once. Expired state is dropped.
func (o *Orchestrator) hydrate(ctx context.Context) error {
	o.mu.Lock()
	done := o.hydrated
	o.hydrated = true
	o.mu.Unlock()
	if done || o.persist == nil {
		return nil
	}

	ch, sess, err := o.persist.Load(ctx)
	if err != nil {
		o.clearPersisted(ctx)
		return fmt.Errorf("loading saved state: %w", err)
	}
	now := o.clock.Now()
	if !ch.Valid(now) {
		if ch != nil {
			o.logger.Info("discarding expired saved channel", "channel_id", ch.ID)
			ch.Destroy()
			o.clearPersisted(ctx)
		}
		return nil
	}
	if !sess.Valid(now, ch) {
		sess = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ch != nil {
		// Something already established newer state.
		ch.Destroy()
		return nil
	}
	o.ch, o.sess = ch, sess
	o.state = StateChannelReady
	if sess != nil {
		o.state = StateSessionReady
	}
	o.logger.Info("hydrated saved state", "channel_id", ch.ID, "state", o.state.String())
	return nil
}

func (o *Orchestrator) persistChannel(ctx context.Context, ch *channel.State) {
	if o.persist == nil {
		return
	}
	if err := o.persist.PersistChannel(ctx, ch); err != nil {
		o.logger.Warn("persisting channel failed", "channel_id", ch.ID, "error", err)
	}
}

func (o *Orchestrator) persistSession(ctx context.Context, s *session.NodeSession) {
	if o.persist == nil {
		return
	}
	if err := o.persist.PersistSession(ctx, s); err != nil {
		o.logger.Warn("persisting session failed", "channel_id", s.ChannelID, "error", err)
	}
}

func (o *Orchestrator) clearPersisted(ctx context.Context) {
	if o.persist == nil {
		return
	}
	if err := o.persist.Clear(ctx); err != nil {
		o.logger.Warn("clearing saved state failed", "error", err)
	}
}

// RenewSession extends the current node session.
func (o *Orchestrator) RenewSession(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.isClosed() {
		return ErrClosed
	}

	o.mu.RLock()
	ch, sess := o.ch, o.sess
	o.mu.RUnlock()
	if !sess.Valid(o.clock.Now(), ch) {
		return fmt.Errorf("renew: %w", session.ErrSessionExpired)
	}

	renewed, err := o.neg.Renew(ctx, ch, sess)
	if err != nil {
		o.metrics.phase(phaseRenew, resultFor(err))
		switch {
		case errors.Is(err, crypto.ErrDecryptionFailed):
			return o.fail(ctx, err)
		case errors.Is(err, session.ErrSessionExpired):
			o.mu.Lock()
			o.sess = nil
			o.state = StateChannelReady
			o.mu.Unlock()
		}
		return err
	}
	o.metrics.phase(phaseRenew, resultOK)

	o.mu.Lock()
	o.sess = renewed
	o.mu.Unlock()
	o.persistSession(ctx, renewed)
	o.logger.Debug("session renewed", "channel_id", ch.ID, "expires_at", renewed.ExpiresAt)
	return nil
}

// Reset revokes the current session server side when possible, then clears
// all local and saved state and returns to StateIdle. Local state is cleared
// even if revocation fails; the revocation error is returned.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	// Saved state from an earlier process is revoked too.
	if err := o.hydrate(ctx); err != nil {
		o.logger.Warn("hydration failed during reset", "error", err)
	}

	o.mu.RLock()
	ch, sess := o.ch, o.sess
	o.mu.RUnlock()

	var revokeErr error
	if sess.Valid(o.clock.Now(), ch) {
		if revokeErr = o.neg.Revoke(ctx, ch, sess); revokeErr != nil {
			o.logger.Warn("session revoke failed", "channel_id", ch.ID, "error", revokeErr)
		}
	}

	o.discard()
	o.mu.Lock()
	o.state, o.lastErr = StateIdle, nil
	o.hydrated = true
	o.mu.Unlock()
	o.clearPersisted(ctx)
	return revokeErr
}

// Close wipes in-memory state. Saved state is kept for the next process.
func (o *Orchestrator) Close() {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.discard()
	o.mu.Lock()
	o.closed = true
	o.state = StateIdle
	o.mu.Unlock()
}
