package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmcleod/ironlink/protocol"
)

// Error is an application error with the HTTP status it is answered with.
// Handlers registered with Handle return it to choose the status; any
// other error becomes a 500.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// NewError returns an *Error.
func NewError(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

var (
	errUnknownChannel  = NewError(http.StatusUnauthorized, "unknown or expired channel")
	errNoSession       = NewError(http.StatusUnauthorized, "invalid or expired session")
	errDecrypt         = NewError(http.StatusBadRequest, "decryption failed")
	errChannelMismatch = NewError(http.StatusBadRequest, "channel id mismatch")
	errNotIdentified   = NewError(http.StatusForbidden, "node not identified on this channel")
	errBadCredentials  = NewError(http.StatusForbidden, "invalid credentials")
	errBadUserToken    = NewError(http.StatusForbidden, "invalid user token")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", protocol.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	var e *Error
	if errors.As(err, &e) {
		writeError(w, e.Status, e.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
