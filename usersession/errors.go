package usersession

import "errors"

var (
	// ErrTokenRefreshFailed is returned when a refresh fails. Auth state has
	// already been cleared when it is returned.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrNotAuthenticated is returned when an operation needs a user token
	// and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidCredentials is returned when the server refuses a login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidTokenResponse is returned when a login or refresh answer has
	// no usable token or server-issued expiry.
	ErrInvalidTokenResponse = errors.New("invalid token response")
)
