// Package protocol defines the wire formats shared by the client and the
// reference responder: the encrypted envelope, every phase message, the
// typed identification status and the endpoint layout.
package protocol

import (
	"fmt"
	"time"
)

const (
	Version         = "1.0"
	CipherAES256GCM = "AES-256-GCM"

	HeaderChannelID     = "X-Channel-Id"
	HeaderSessionToken  = "X-Session-Token"
	HeaderRequestID     = "X-Request-Id"
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"

	ContentTypeJSON = "application/json"

	// DefaultChannelTTL is the lifetime the reference responder grants a channel.
	DefaultChannelTTL = 30 * time.Minute
)

// Endpoints names every path the protocol uses. All are POST.
type Endpoints struct {
	ChannelOpen      string
	NodeIdentify     string
	NodeChallenge    string
	NodeAuthenticate string
	UserLogin        string
	UserRefreshToken string
	SessionRenew     string
	SessionRevoke    string
}

// DefaultEndpoints returns the standard /api/v1 layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ChannelOpen:      "/api/v1/channel/open",
		NodeIdentify:     "/api/v1/node/identify",
		NodeChallenge:    "/api/v1/node/challenge",
		NodeAuthenticate: "/api/v1/node/authenticate",
		UserLogin:        "/api/v1/user/login",
		UserRefreshToken: "/api/v1/user/refresh-token",
		SessionRenew:     "/api/v1/session/renew",
		SessionRevoke:    "/api/v1/session/revoke",
	}
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp accepts FormatTimestamp output and any RFC 3339 value.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SignedData builds the byte string a node signs in Phase 3:
// challengeData ‖ channelId ‖ nodeId ‖ timestamp.
func SignedData(challengeData, channelID, nodeID, timestamp string) []byte {
	b := make([]byte, 0, len(challengeData)+len(channelID)+len(nodeID)+len(timestamp))
	b = append(b, challengeData...)
	b = append(b, channelID...)
	b = append(b, nodeID...)
	return append(b, timestamp...)
}
