package session

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironlink/protocol"
)

var (
	// ErrIdentificationRejected is returned when Phase 2 does not end with a
	// known, authorized node. It is terminal.
	ErrIdentificationRejected = errors.New("identification rejected")

	// ErrAuthenticationRejected is returned when the server refuses the
	// challenge signature. A fresh handshake may succeed.
	ErrAuthenticationRejected = errors.New("authentication rejected")

	// ErrSessionExpired is returned when the server no longer recognises a
	// session token.
	ErrSessionExpired = errors.New("session expired")
)

// IdentificationError carries the Phase 2 verdict.
type IdentificationError struct {
	IsKnown bool
	Status  protocol.IdentifyStatus
	Message string
}

func (e *IdentificationError) Error() string {
	msg := fmt.Sprintf("identification rejected: known=%t status=%s", e.IsKnown, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *IdentificationError) Unwrap() error { return ErrIdentificationRejected }
