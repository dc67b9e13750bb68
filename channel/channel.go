// Package channel runs Phase 1 of the handshake: an ephemeral P-384 key
// exchange that yields a server-assigned channel id and a 256-bit key.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
	"github.com/jmcleod/ironlink/transport"
)

// State is one encrypted transport channel.
type State struct {
	ID        string
	Key       *crypto.SymmetricKey
	ExpiresAt time.Time
}

// Valid reports whether the channel may still be used for encryption.
func (s *State) Valid(now time.Time) bool {
	return s != nil && s.ID != "" && s.Key != nil && now.Before(s.ExpiresAt)
}

// Destroy wipes the channel key. The State must not be used afterwards.
func (s *State) Destroy() {
	if s != nil && s.Key != nil {
		s.Key.Destroy()
	}
}

// Establisher opens channels against a server.
type Establisher struct {
	client    transport.Client
	clock     clock.Clock
	logger    *slog.Logger
	endpoints protocol.Endpoints
}

// NewEstablisher returns an Establisher that talks through client.
func NewEstablisher(client transport.Client, opts ...Option) *Establisher {
	e := &Establisher{
		client:    client,
		clock:     clock.New(),
		logger:    slog.New(slog.DiscardHandler),
		endpoints: protocol.DefaultEndpoints(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "channel")
	return e
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrChannelEstablishmentFailed, fmt.Sprintf(format, args...))
}

// Open performs Phase 1. It never retries.
func (e *Establisher) Open(ctx context.Context) (*State, error) {
	kp, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}
	spki, err := kp.PublicKeySPKI()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}
	clientNonce, err := util.RandomBytes(crypto.ClientNonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}

	body, err := json.Marshal(protocol.ChannelOpenRequest{
		ProtocolVersion:    protocol.Version,
		EphemeralPublicKey: util.B64Encode(spki),
		SupportedCiphers:   []string{protocol.CipherAES256GCM},
		ClientNonce:        util.B64Encode(clientNonce),
		Timestamp:          protocol.FormatTimestamp(e.clock.Now()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}

	resp, err := e.client.Do(ctx, &transport.Request{
		URL:    e.endpoints.ChannelOpen,
		Method: http.MethodPost,
		Body:   body,
	})
	if err != nil {
		e.logger.Warn("channel open request failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}

	var out protocol.ChannelOpenResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, failed("malformed response: %v", err)
	}
	state, err := e.complete(kp, clientNonce, &out)
	if err != nil {
		e.logger.Warn("channel open response rejected", "error", err)
		return nil, err
	}
	e.logger.Debug("channel established", "channel_id", state.ID, "expires_at", state.ExpiresAt)
	return state, nil
}

func (e *Establisher) complete(kp *crypto.EphemeralKeyPair, clientNonce []byte, out *protocol.ChannelOpenResponse) (*State, error) {
	switch {
	case out.ChannelID == "":
		return nil, failed("response missing channelId")
	case out.ServerEphemeralPublicKey == "":
		return nil, failed("response missing serverEphemeralPublicKey")
	case out.ServerNonce == "":
		return nil, failed("response missing serverNonce")
	case out.ExpiresAt == "":
		return nil, failed("response missing expiresAt")
	}

	der, err := util.B64Decode(out.ServerEphemeralPublicKey)
	if err != nil {
		return nil, failed("server public key: %v", err)
	}
	peer, err := crypto.ParsePublicKeySPKI(der)
	if err != nil {
		return nil, failed("server public key: %v", err)
	}
	serverNonce, err := util.B64Decode(out.ServerNonce)
	if err != nil {
		return nil, failed("server nonce: %v", err)
	}
	if len(serverNonce) != crypto.ServerNonceSize {
		return nil, failed("server nonce must be %d bytes, got %d", crypto.ServerNonceSize, len(serverNonce))
	}
	expiresAt, err := protocol.ParseTimestamp(out.ExpiresAt)
	if err != nil {
		return nil, failed("expiresAt: %v", err)
	}
	if !expiresAt.After(e.clock.Now()) {
		return nil, failed("channel already expired at %s", out.ExpiresAt)
	}

	key, err := crypto.DeriveSymmetricKey(kp, peer, clientNonce, serverNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelEstablishmentFailed, err)
	}
	return &State{ID: out.ChannelID, Key: key, ExpiresAt: expiresAt}, nil
}
