package server

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"

	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/internal/uuid"
	"github.com/jmcleod/ironlink/pki"
	"github.com/jmcleod/ironlink/protocol"
)

// challengeSize is the number of random bytes in a Phase 3 challenge.
const challengeSize = 32

// openChannel answers Phase 1. It is the only plaintext exchange.
func (s *Server) openChannel(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChannelOpenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProtocolVersion != protocol.Version {
		writeError(w, http.StatusBadRequest, "unsupported protocol version")
		return
	}
	if !slices.Contains(req.SupportedCiphers, protocol.CipherAES256GCM) {
		writeError(w, http.StatusBadRequest, "no supported cipher")
		return
	}
	if err := s.checkTimestamp(req.Timestamp); err != nil {
		mapError(w, err)
		return
	}
	der, err := util.B64Decode(req.EphemeralPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ephemeral public key")
		return
	}
	peer, err := crypto.ParsePublicKeySPKI(der)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ephemeral public key")
		return
	}
	clientNonce, err := util.B64Decode(req.ClientNonce)
	if err != nil || len(clientNonce) != crypto.ClientNonceSize {
		writeError(w, http.StatusBadRequest, "client nonce must be 32 bytes of base64")
		return
	}
	now := s.clock.Now()
	if !s.state.rememberNonce(req.ClientNonce, now) {
		s.logger.Warn("client nonce replayed")
		writeError(w, http.StatusBadRequest, "client nonce already used")
		return
	}

	kp, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		mapError(w, err)
		return
	}
	spki, err := kp.PublicKeySPKI()
	if err != nil {
		mapError(w, err)
		return
	}
	serverNonce, err := util.RandomBytes(crypto.ServerNonceSize)
	if err != nil {
		mapError(w, err)
		return
	}
	key, err := crypto.DeriveSymmetricKey(kp, peer, clientNonce, serverNonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key agreement failed")
		return
	}

	ch := &serverChannel{id: uuid.New(), key: key, expiresAt: now.Add(s.channelTTL)}
	s.state.addChannel(ch)
	s.logger.Info("channel opened", "channel_id", ch.id, "expires_at", ch.expiresAt)

	writeJSON(w, http.StatusOK, protocol.ChannelOpenResponse{
		ChannelID:                ch.id,
		ServerEphemeralPublicKey: util.B64Encode(spki),
		ServerNonce:              util.B64Encode(serverNonce),
		ExpiresAt:                protocol.FormatTimestamp(ch.expiresAt),
	})
}

// identify answers Phase 2. Unknown nodes and certificate mismatches are
// reported as not known; the channel remembers an authorized node.
func (s *Server) identify(r *http.Request, c *call) (any, error) {
	var req protocol.IdentifyRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	if req.ChannelID != c.channel.id {
		return nil, errChannelMismatch
	}
	if err := s.checkTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	rec, ok := s.node(req.NodeID)
	if !ok {
		s.logger.Info("identify from unknown node", "node_id", req.NodeID)
		return protocol.IdentifyResponse{IsKnown: false, Status: protocol.StatusUnknown, Message: "unknown node"}, nil
	}
	cert, err := pki.ParseCertificatePEM(req.Certificate)
	if err != nil || pki.Fingerprint(cert) != rec.fingerprint {
		s.logger.Warn("identify with unregistered certificate", "node_id", req.NodeID)
		return protocol.IdentifyResponse{IsKnown: false, Status: protocol.StatusUnknown, Message: "certificate does not match registration"}, nil
	}
	if rec.Status != protocol.StatusAuthorized {
		s.logger.Info("identify from unauthorized node", "node_id", req.NodeID, "status", rec.Status.String())
		return protocol.IdentifyResponse{IsKnown: true, Status: rec.Status, Message: "node is " + rec.Status.String()}, nil
	}

	c.channel.setIdentified(rec.ID)
	return protocol.IdentifyResponse{IsKnown: true, Status: protocol.StatusAuthorized, RegistrationID: rec.RegistrationID}, nil
}

// challenge issues single-use random data for Phase 3.
func (s *Server) challenge(r *http.Request, c *call) (any, error) {
	var req protocol.ChallengeRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	if req.ChannelID != c.channel.id {
		return nil, errChannelMismatch
	}
	if req.NodeID == "" || c.channel.identifiedNode() != req.NodeID {
		return nil, errNotIdentified
	}
	if err := s.checkTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	raw, err := util.RandomBytes(challengeSize)
	if err != nil {
		return nil, err
	}
	data := util.B64Encode(raw)
	now := s.clock.Now()
	s.state.addChallenge(data, pendingChallenge{
		channelID: c.channel.id,
		nodeID:    req.NodeID,
		expiresAt: now.Add(DefaultChallengeTTL),
	})
	return protocol.ChallengeResponse{ChallengeData: data, ChallengeTimestamp: protocol.FormatTimestamp(now)}, nil
}

// authenticate verifies the Phase 3 signature and issues the Phase 4
// session.
func (s *Server) authenticate(r *http.Request, c *call) (any, error) {
	var req protocol.AuthenticateRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	if req.ChannelID != c.channel.id {
		return nil, errChannelMismatch
	}
	if req.NodeID == "" || c.channel.identifiedNode() != req.NodeID {
		return nil, errNotIdentified
	}
	if err := s.checkTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rejected := protocol.AuthenticateResponse{Authenticated: false}
	pending, ok := s.state.takeChallenge(req.ChallengeData, now)
	if !ok || pending.channelID != c.channel.id || pending.nodeID != req.NodeID {
		s.logger.Warn("authenticate with unknown challenge", "node_id", req.NodeID)
		return rejected, nil
	}
	rec, ok := s.node(req.NodeID)
	if !ok || rec.Status != protocol.StatusAuthorized {
		return rejected, nil
	}
	sig, err := util.B64Decode(req.Signature)
	if err != nil {
		return rejected, nil
	}
	signed := protocol.SignedData(req.ChallengeData, req.ChannelID, req.NodeID, req.Timestamp)
	if err := pki.VerifySignature(rec.cert.PublicKey, signed, sig); err != nil {
		s.logger.Warn("signature verification failed", "node_id", req.NodeID)
		return rejected, nil
	}

	sess := &nodeSession{
		token:        uuid.New(),
		nodeID:       rec.ID,
		channelID:    c.channel.id,
		capabilities: slices.Clone(rec.Capabilities),
		expiresAt:    minTime(now.Add(s.sessionTTL), c.channel.expiresAt),
	}
	s.state.addSession(sess, now)
	s.logger.Info("node authenticated", "node_id", rec.ID, "channel_id", c.channel.id)

	return protocol.AuthenticateResponse{
		Authenticated: true,
		SessionToken:  sess.token,
		Capabilities:  sess.capabilities,
		ExpiresAt:     protocol.FormatTimestamp(sess.expiresAt),
	}, nil
}

func (s *Server) renewSession(r *http.Request, c *call) (any, error) {
	var req protocol.SessionRenewRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	if req.SessionToken != c.session.token {
		return nil, NewError(http.StatusBadRequest, "session token mismatch")
	}
	expiresAt := minTime(s.clock.Now().Add(s.sessionTTL), c.channel.expiresAt)
	s.state.extendSession(c.session.token, expiresAt)
	return protocol.SessionRenewResponse{
		SessionToken: c.session.token,
		Capabilities: c.session.capabilities,
		ExpiresAt:    protocol.FormatTimestamp(expiresAt),
	}, nil
}

// revokeSession does not require the session to still be live; revoking
// an unknown token answers revoked=false.
func (s *Server) revokeSession(r *http.Request, c *call) (any, error) {
	var req protocol.SessionRevokeRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	revoked := s.state.revokeSession(req.SessionToken, c.channel.id)
	if revoked {
		s.logger.Info("session revoked", "channel_id", c.channel.id)
	}
	return protocol.SessionRevokeResponse{Revoked: revoked}, nil
}
