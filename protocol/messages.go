package protocol

// ChannelOpenRequest is the only plaintext message.
type ChannelOpenRequest struct {
	ProtocolVersion    string   `json:"protocolVersion"`
	EphemeralPublicKey string   `json:"ephemeralPublicKey"`
	SupportedCiphers   []string `json:"supportedCiphers"`
	ClientNonce        string   `json:"clientNonce"`
	Timestamp          string   `json:"timestamp"`
}

type ChannelOpenResponse struct {
	ChannelID                string `json:"channelId"`
	ServerEphemeralPublicKey string `json:"serverEphemeralPublicKey"`
	ServerNonce              string `json:"serverNonce"`
	ExpiresAt                string `json:"expiresAt"`
}

type IdentifyRequest struct {
	ChannelID   string `json:"channelId"`
	NodeID      string `json:"nodeId"`
	Certificate string `json:"certificate"`
	Timestamp   string `json:"timestamp"`
}

type IdentifyResponse struct {
	IsKnown        bool           `json:"isKnown"`
	Status         IdentifyStatus `json:"status"`
	RegistrationID string         `json:"registrationId,omitempty"`
	Message        string         `json:"message,omitempty"`
}

type ChallengeRequest struct {
	ChannelID string `json:"channelId"`
	NodeID    string `json:"nodeId"`
	Timestamp string `json:"timestamp"`
}

type ChallengeResponse struct {
	ChallengeData      string `json:"challengeData"`
	ChallengeTimestamp string `json:"challengeTimestamp,omitempty"`
}

type AuthenticateRequest struct {
	ChannelID     string `json:"channelId"`
	NodeID        string `json:"nodeId"`
	ChallengeData string `json:"challengeData"`
	Signature     string `json:"signature"`
	Timestamp     string `json:"timestamp"`
}

type AuthenticateResponse struct {
	Authenticated bool     `json:"authenticated"`
	SessionToken  string   `json:"sessionToken,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	ExpiresAt     string   `json:"expiresAt,omitempty"`
}

type SessionRenewRequest struct {
	SessionToken string `json:"sessionToken"`
}

type SessionRenewResponse struct {
	SessionToken string   `json:"sessionToken,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ExpiresAt    string   `json:"expiresAt"`
}

type SessionRevokeRequest struct {
	SessionToken string `json:"sessionToken"`
}

type SessionRevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// UserLoginRequest carries the password base64-encoded inside the
// already encrypted channel.
type UserLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserRefreshRequest struct {
	Token string `json:"token"`
}

// UserTokenResponse is what the reference responder emits. Clients parse
// login responses leniently instead of through this type.
type UserTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// ErrorResponse is the plaintext body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
