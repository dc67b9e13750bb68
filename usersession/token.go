package usersession

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/ironlink/protocol"
)

// User is the identity carried in a token's claims.
type User struct {
	Subject string `json:"sub"`
	Login   string `json:"login"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Token is the human user's credential.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Valid reports whether the token is present and unexpired at now.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// Field spellings seen across backends.
var (
	tokenFields  = []string{"token", "Token", "accessToken", "access_token"}
	expiryFields = []string{"expiresAt", "expiration", "Expiration", "expires_at", "ExpiresAt"}
)

// parseTokenResponse extracts the token and the server-issued expiry. The
// expiry comes from the response body or, failing that, the token's exp
// claim.
func parseTokenResponse(raw []byte) (*Token, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, err)
	}

	t := &Token{}
	for _, f := range tokenFields {
		if v, ok := m[f].(string); ok && v != "" {
			t.Value = v
			break
		}
	}
	if t.Value == "" {
		return nil, fmt.Errorf("%w: no token field", ErrInvalidTokenResponse)
	}

	for _, f := range expiryFields {
		v, ok := m[f]
		if !ok || v == nil {
			continue
		}
		exp, err := parseExpiry(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTokenResponse, f, err)
		}
		t.ExpiresAt = exp
		break
	}

	user, exp, err := decodeClaims(t.Value)
	if err == nil {
		t.User = user
		if t.ExpiresAt.IsZero() {
			t.ExpiresAt = exp
		}
	}
	if t.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: no expiry", ErrInvalidTokenResponse)
	}
	return t, nil
}

func parseExpiry(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return unixTime(n), nil
		}
		return protocol.ParseTimestamp(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return unixTime(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return unixTime(int64(f)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

// unixTime accepts seconds or milliseconds since the epoch.
func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// decodeClaims reads identity and exp from a JWT without verifying it. The
// token was received over the authenticated channel; verification is the
// server's job.
func decodeClaims(token string) (User, time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return User{}, time.Time{}, err
	}
	var u User
	u.Subject, _ = claims.GetSubject()
	u.Login = stringClaim(claims, "login")
	if u.Login == "" {
		u.Login = stringClaim(claims, "preferred_username")
	}
	u.Email = stringClaim(claims, "email")
	u.Name = stringClaim(claims, "name")

	var exp time.Time
	if nd, err := claims.GetExpirationTime(); err == nil && nd != nil {
		exp = nd.UTC()
	}
	return u, exp, nil
}

func stringClaim(c jwt.MapClaims, name string) string {
	s, _ := c[name].(string)
	return s
}
