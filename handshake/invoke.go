package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/protocol"
	"github.com/jmcleod/ironlink/session"
	"github.com/jmcleod/ironlink/transport"
)

// InvokeOption configures a single Invoke call.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	header http.Header
}

// WithHeader adds a plaintext request header.
func WithHeader(key, value string) InvokeOption {
	return func(o *invokeOptions) {
		o.header.Add(key, value)
	}
}

// WithBearer sets an Authorization bearer token.
func WithBearer(token string) InvokeOption {
	return func(o *invokeOptions) {
		o.header.Set(protocol.HeaderAuthorization, "Bearer "+token)
	}
}

// Invoke sends payload encrypted under the current channel to path and
// decrypts the answer into out. A nil payload sends no body; a nil out
// only authenticates the answer.
//
// When the server answers 401 the node session is renegotiated once and the
// call repeated. The call is also repeated once when a concurrent handshake
// replaced the channel it was using. A response that fails to decrypt
// discards the channel.
func (o *Orchestrator) Invoke(ctx context.Context, method, path string, payload, out any, opts ...InvokeOption) error {
	cfg := invokeOptions{header: http.Header{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	for attempt := 0; ; attempt++ {
		h, err := o.EnsureSession(ctx)
		if err != nil {
			o.metrics.invoke(resultError)
			return err
		}

		err = o.send(ctx, h, method, path, payload, out, cfg.header)
		switch {
		case err == nil:
			o.metrics.invoke(resultOK)
			return nil
		case errors.Is(err, crypto.ErrKeyDestroyed):
			// Another caller replaced the channel while this call held it.
			if attempt > 0 {
				o.metrics.invoke(resultError)
				return err
			}
			o.logger.Info("channel replaced during call, retrying", "path", path)
		case errors.Is(err, crypto.ErrDecryptionFailed):
			o.metrics.invoke(resultDecryptError)
			o.invalidate(ctx, h, err)
			return err
		case transport.StatusCode(err) == http.StatusUnauthorized:
			o.metrics.invoke(resultUnauthorized)
			if attempt > 0 {
				return fmt.Errorf("%w: %w", session.ErrSessionExpired, err)
			}
			o.logger.Info("server rejected session, renegotiating", "path", path)
			o.dropSession(h)
		default:
			o.metrics.invoke(resultError)
			return err
		}
	}
}

func (o *Orchestrator) send(ctx context.Context, h *Handle, method, path string, payload, out any, extra http.Header) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = protocol.SealJSON(payload, h.Channel.Key); err != nil {
			return err
		}
	}

	header := extra.Clone()
	header.Set(protocol.HeaderChannelID, h.Channel.ID)
	header.Set(protocol.HeaderSessionToken, h.Session.Token)

	resp, err := o.client.Do(ctx, &transport.Request{URL: path, Method: method, Header: header, Body: body})
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 {
		if out != nil {
			return fmt.Errorf("%s %s: empty response body", method, path)
		}
		return nil
	}
	return protocol.OpenJSON(resp.Data, h.Channel.Key, out)
}

// invalidate discards h's channel after a decryption failure, unless a
// newer channel already replaced it.
func (o *Orchestrator) invalidate(ctx context.Context, h *Handle, err error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.mu.RLock()
	same := o.ch == h.Channel
	o.mu.RUnlock()
	if same {
		o.fail(ctx, err)
	}
}

// dropSession forgets h's session so the next EnsureSession renegotiates
// it on the same channel.
func (o *Orchestrator) dropSession(h *Handle) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == h.Session {
		o.sess = nil
		o.state = StateChannelReady
	}
}
