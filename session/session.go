// Package session runs Phases 2-4 of the handshake over an established
// channel: identification, challenge-response authentication and session
// issuance.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jmcleod/ironlink/channel"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
	"github.com/jmcleod/ironlink/transport"
)

// Signer proves possession of the node's private key.
type Signer interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
}

// Identity is the node presenting itself during Phase 2 and 3.
type Identity struct {
	NodeID         string
	CertificatePEM string
	Signer         Signer
}

// NodeSession is an authenticated node session layered on one channel.
type NodeSession struct {
	NodeID         string
	RegistrationID string
	Token          string
	Capabilities   []string
	ExpiresAt      time.Time
	ChannelID      string
}

// Valid reports whether the session and its parent channel are both usable.
// A session bound to a different channel is never valid.
func (s *NodeSession) Valid(now time.Time, ch *channel.State) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt) &&
		ch.Valid(now) && ch.ID == s.ChannelID
}

// Can reports whether the session carries capability c.
func (s *NodeSession) Can(c string) bool {
	return s != nil && slices.Contains(s.Capabilities, c)
}

// Negotiator runs the node-session phases.
type Negotiator struct {
	client    transport.Client
	identity  Identity
	clock     clock.Clock
	logger    *slog.Logger
	endpoints protocol.Endpoints
}

// NewNegotiator returns a Negotiator for identity.
func NewNegotiator(client transport.Client, identity Identity, opts ...Option) *Negotiator {
	n := &Negotiator{
		client:    client,
		identity:  identity,
		clock:     clock.New(),
		logger:    slog.New(slog.DiscardHandler),
		endpoints: protocol.DefaultEndpoints(),
	}
	for _, o := range opts {
		o(n)
	}
	n.logger = n.logger.With("component", "session", "node_id", identity.NodeID)
	return n
}

// Negotiate runs identify, challenge/authenticate and session issuance, in
// that order, over ch.
func (n *Negotiator) Negotiate(ctx context.Context, ch *channel.State) (*NodeSession, error) {
	if n.identity.NodeID == "" || n.identity.Signer == nil {
		return nil, errors.New("session: identity requires a node id and signer")
	}
	if !ch.Valid(n.clock.Now()) {
		return nil, fmt.Errorf("negotiating session: %w", ErrSessionExpired)
	}

	registrationID, err := n.Identify(ctx, ch)
	if err != nil {
		return nil, err
	}
	auth, err := n.Authenticate(ctx, ch)
	if err != nil {
		return nil, err
	}
	s, err := n.issue(ch, registrationID, auth)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("node session issued", "channel_id", ch.ID, "expires_at", s.ExpiresAt, "capabilities", len(s.Capabilities))
	return s, nil
}

// Identify performs Phase 2 and returns the registration id.
func (n *Negotiator) Identify(ctx context.Context, ch *channel.State) (string, error) {
	req := protocol.IdentifyRequest{
		ChannelID:   ch.ID,
		NodeID:      n.identity.NodeID,
		Certificate: n.identity.CertificatePEM,
		Timestamp:   protocol.FormatTimestamp(n.clock.Now()),
	}
	var resp protocol.IdentifyResponse
	if err := n.post(ctx, ch, n.endpoints.NodeIdentify, "", req, &resp); err != nil {
		if errors.Is(err, protocol.ErrInvalidStatus) {
			return "", fmt.Errorf("%w: %w", ErrIdentificationRejected, err)
		}
		return "", fmt.Errorf("identify: %w", err)
	}

	if !resp.IsKnown || resp.Status != protocol.StatusAuthorized || resp.RegistrationID == "" {
		n.logger.Warn("identification rejected", "known", resp.IsKnown, "status", resp.Status.String())
		return "", &IdentificationError{IsKnown: resp.IsKnown, Status: resp.Status, Message: resp.Message}
	}
	return resp.RegistrationID, nil
}

// Authenticate performs Phase 3: fetch a challenge, sign it and submit the
// signature.
func (n *Negotiator) Authenticate(ctx context.Context, ch *channel.State) (*protocol.AuthenticateResponse, error) {
	// One timestamp for the challenge, the signature and the authenticate
	// call. The server rebuilds the signed data from the request.
	ts := protocol.FormatTimestamp(n.clock.Now())

	var challenge protocol.ChallengeResponse
	creq := protocol.ChallengeRequest{ChannelID: ch.ID, NodeID: n.identity.NodeID, Timestamp: ts}
	if err := n.post(ctx, ch, n.endpoints.NodeChallenge, "", creq, &challenge); err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}
	if challenge.ChallengeData == "" {
		return nil, fmt.Errorf("%w: empty challenge", ErrAuthenticationRejected)
	}

	sig, err := n.identity.Signer.Sign(ctx, protocol.SignedData(challenge.ChallengeData, ch.ID, n.identity.NodeID, ts))
	if err != nil {
		return nil, fmt.Errorf("signing challenge: %w", err)
	}

	areq := protocol.AuthenticateRequest{
		ChannelID:     ch.ID,
		NodeID:        n.identity.NodeID,
		ChallengeData: challenge.ChallengeData,
		Signature:     util.B64Encode(sig),
		Timestamp:     ts,
	}
	var resp protocol.AuthenticateResponse
	if err := n.post(ctx, ch, n.endpoints.NodeAuthenticate, "", areq, &resp); err != nil {
		if transport.StatusCode(err) == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationRejected, err)
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !resp.Authenticated {
		n.logger.Warn("authentication rejected", "channel_id", ch.ID)
		return nil, fmt.Errorf("%w: server refused signature", ErrAuthenticationRejected)
	}
	return &resp, nil
}

// issue is Phase 4.
func (n *Negotiator) issue(ch *channel.State, registrationID string, auth *protocol.AuthenticateResponse) (*NodeSession, error) {
	if auth.SessionToken == "" {
		return nil, fmt.Errorf("%w: no session token issued", ErrAuthenticationRejected)
	}
	expiresAt, err := n.expiry(ch, auth.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &NodeSession{
		NodeID:         n.identity.NodeID,
		RegistrationID: registrationID,
		Token:          auth.SessionToken,
		Capabilities:   slices.Clone(auth.Capabilities),
		ExpiresAt:      expiresAt,
		ChannelID:      ch.ID,
	}, nil
}

// expiry parses a server expiry, falling back to and never exceeding the
// channel's own expiry.
func (n *Negotiator) expiry(ch *channel.State, raw string) (time.Time, error) {
	if raw == "" {
		return ch.ExpiresAt, nil
	}
	t, err := protocol.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("session expiry: %w", err)
	}
	if !t.After(n.clock.Now()) {
		return time.Time{}, fmt.Errorf("%w: issued already expired", ErrSessionExpired)
	}
	if t.After(ch.ExpiresAt) {
		t = ch.ExpiresAt
	}
	return t, nil
}

// Renew extends s. The returned session replaces s.
func (n *Negotiator) Renew(ctx context.Context, ch *channel.State, s *NodeSession) (*NodeSession, error) {
	if !s.Valid(n.clock.Now(), ch) {
		return nil, fmt.Errorf("renew: %w", ErrSessionExpired)
	}
	var resp protocol.SessionRenewResponse
	err := n.post(ctx, ch, n.endpoints.SessionRenew, s.Token, protocol.SessionRenewRequest{SessionToken: s.Token}, &resp)
	if err != nil {
		if transport.StatusCode(err) == http.StatusUnauthorized {
			return nil, fmt.Errorf("renew: %w: %w", ErrSessionExpired, err)
		}
		return nil, fmt.Errorf("renew: %w", err)
	}
	expiresAt, err := n.expiry(ch, resp.ExpiresAt)
	if err != nil {
		return nil, err
	}
	renewed := *s
	renewed.ExpiresAt = expiresAt
	if resp.SessionToken != "" {
		renewed.Token = resp.SessionToken
	}
	if resp.Capabilities != nil {
		renewed.Capabilities = slices.Clone(resp.Capabilities)
	}
	return &renewed, nil
}

// Revoke ends s server side.
func (n *Negotiator) Revoke(ctx context.Context, ch *channel.State, s *NodeSession) error {
	if s == nil || s.Token == "" {
		return nil
	}
	var resp protocol.SessionRevokeResponse
	if err := n.post(ctx, ch, n.endpoints.SessionRevoke, s.Token, protocol.SessionRevokeRequest{SessionToken: s.Token}, &resp); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	if !resp.Revoked {
		n.logger.Info("server did not confirm revocation", "channel_id", ch.ID)
	}
	return nil
}

func (n *Negotiator) post(ctx context.Context, ch *channel.State, path, token string, in, out any) error {
	body, err := protocol.SealJSON(in, ch.Key)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set(protocol.HeaderChannelID, ch.ID)
	if token != "" {
		header.Set(protocol.HeaderSessionToken, token)
	}
	resp, err := n.client.Do(ctx, &transport.Request{URL: path, Method: http.MethodPost, Header: header, Body: body})
	if err != nil {
		return err
	}
	return protocol.OpenJSON(resp.Data, ch.Key, out)
}
